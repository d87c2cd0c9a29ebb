package middleware

import "net/http"

// CORS tags every response for browser clients. An Origin outside the
// allow-list is answered with the first allowed origin, so the browser
// rejects the response instead of the proxy. Preflight requests end here.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[origin] = struct{}{}
	}
	fallback := ""
	if len(allowedOrigins) > 0 {
		fallback = allowedOrigins[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if _, ok := allow[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
			} else if fallback != "" {
				h.Set("Access-Control-Allow-Origin", fallback)
			}
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
