package httpapi

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"moltpfp/internal/http/handlers"
	"moltpfp/internal/infra/geoip"
	"moltpfp/internal/middleware"
)

// Options carries the middleware settings of the proxy router.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
	// GeoIP tags access log lines with a country; nil disables it.
	GeoIP geoip.CountryResolver
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP(opts.TrustedProxies),
		chimw.Recoverer,
		middleware.Logger(app.Logger, opts.GeoIP),
		middleware.CORS(opts.AllowedOrigins),
	)
	r.NotFound(app.NotFound)
	r.MethodNotAllowed(app.MethodNotAllowed)

	r.Get("/health", app.Health)

	r.Route("/moltbook", func(r chi.Router) {
		r.Get("/verify/{username}", app.VerifyAgent)
		r.Get("/agent/{username}", app.Agent)
	})

	// /status is polled every couple of seconds and stays unlimited.
	r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/generate", app.Generate)
	r.Get("/status/{id}", app.Status)

	return r
}
