package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"moltpfp/internal/infra/geoip"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

// Logger writes one access line per request. When geo is non-nil the line is
// tagged with the client's country; lookup failures are ignored.
func Logger(l zerolog.Logger, geo geoip.CountryResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			ip := ClientIP(r)
			ev := l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Str("ip", ip)
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			if geo != nil {
				if country, err := geo.CountryCode(ip); err == nil && country != "" {
					ev = ev.Str("country", country)
				}
			}
			ev.Msg("http request")
		})
	}
}
