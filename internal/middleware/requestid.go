package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	Header      string
	Generator   func() string
	TrustHeader bool // reuse an incoming ID instead of generating one
}

// DefaultRequestIDConfig provides default request ID settings
var DefaultRequestIDConfig = RequestIDConfig{
	Header:      RequestIDHeader,
	Generator:   func() string { return uuid.New().String() },
	TrustHeader: true,
}

// RequestID creates a request ID middleware with default config
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig assigns a request ID, echoes it on the response and
// starts the RequestInfo for the request.
func RequestIDWithConfig(cfg RequestIDConfig) Middleware {
	if cfg.Header == "" {
		cfg.Header = RequestIDHeader
	}
	if cfg.Generator == nil {
		cfg.Generator = DefaultRequestIDConfig.Generator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestID string
			if cfg.TrustHeader {
				requestID = r.Header.Get(cfg.Header)
			}
			if requestID == "" {
				requestID = cfg.Generator()
			}

			w.Header().Set(cfg.Header, requestID)

			info := InfoFromContext(r.Context())
			if info == nil {
				info = &RequestInfo{}
				r = r.WithContext(WithInfo(r.Context(), info))
			}
			info.RequestID = requestID

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDFromRequest returns the request ID assigned to r, if any.
func RequestIDFromRequest(r *http.Request) string {
	if info := InfoFromContext(r.Context()); info != nil {
		return info.RequestID
	}
	return ""
}
