package middleware

import (
	"net/http"
	"time"

	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"go.uber.org/zap"
)

// ObserveConfig configures the access log and request metrics middleware
type ObserveConfig struct {
	AccessLog bool
	Metrics   *metrics.Collector
	SkipPaths []string
}

// Observe logs one line per request and records request metrics. The route
// label comes from RequestInfo, so it must wrap the dispatcher.
func Observe(cfg ObserveConfig) Middleware {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := InfoFromContext(r.Context())
			if info == nil {
				info = &RequestInfo{}
				r = r.WithContext(WithInfo(r.Context(), info))
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)
			duration := time.Since(start)

			route := info.Route
			if route == "" {
				route = "unmatched"
			}
			cfg.Metrics.RecordRequest(route, sw.status, duration)

			if !cfg.AccessLog || skip[r.URL.Path] {
				return
			}
			fields := []zap.Field{
				zap.String("request_id", info.RequestID),
				zap.String("client_ip", info.ClientIP),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", sw.status),
				zap.Int64("body_bytes", sw.bytes),
				zap.Duration("response_time", duration),
			}
			if info.Country != "" {
				fields = append(fields, zap.String("country", info.Country))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}
			logging.Info("HTTP request", fields...)
		})
	}
}
