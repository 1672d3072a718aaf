package middleware

import (
	"net/http"

	"iptv-gateway/work/logger"
)

// CORS allows browser front ends on other origins to call the API and
// answers preflight requests directly.
func CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")

		if r.Method == http.MethodOptions {
			logger.Debug("{middleware/cors - CORS} Preflight for %s", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// API wraps a JSON endpoint with CORS and gzip.
func API(next http.HandlerFunc) http.HandlerFunc {
	return CORS(GzipMiddleware(next))
}
