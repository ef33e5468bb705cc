package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/metrics"
)

// withOriginVerify rejects requests lacking the shared x-origin-verify
// header. CloudFront injects it, so direct API Gateway access is blocked.
// An empty secret disables the check.
func withOriginVerify(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-origin-verify") != secret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits per-request EMF metrics and an access log line.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		elapsed := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)

		metrics.New().
			Dimension("Endpoint", endpoint).
			Metric("RequestLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()

		log.Info().
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", sr.statusCode).
			Dur("duration", elapsed).
			Msg("API request")
	})
}

// normalizeEndpoint maps request paths to low-cardinality endpoint names.
func normalizeEndpoint(path string) string {
	switch {
	case path == "/api/health", path == "/api/upload-url", path == "/api/analysis":
		return path
	case strings.HasPrefix(path, analysisPrefix):
		rest := strings.Trim(strings.TrimPrefix(path, analysisPrefix), "/")
		if _, action, ok := strings.Cut(rest, "/"); ok {
			return analysisPrefix + "{id}/" + action
		}
		return analysisPrefix + "{id}"
	}
	return "other"
}
