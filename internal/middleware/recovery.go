package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/wudi/mediaproxy/internal/errors"
	"github.com/wudi/mediaproxy/internal/logging"
	"go.uber.org/zap"
)

// TimestampFormat matches the millisecond UTC timestamps used in payloads.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// RecoveryConfig configures the recovery middleware
type RecoveryConfig struct {
	// Verbose includes the panic message and a timestamp in the 500 body.
	Verbose bool
	// Decorate sets headers every response must carry (CORS).
	Decorate func(h http.Header)
	// LogFunc is called when a panic occurs
	LogFunc func(r *http.Request, err interface{}, stack []byte)
	// Now is the clock used for timestamps
	Now func() time.Time
}

func defaultLogFunc(r *http.Request, err interface{}, stack []byte) {
	logging.Error("Panic recovered",
		zap.String("request_id", RequestIDFromRequest(r)),
		zap.String("path", r.URL.Path),
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// RecoveryWithConfig creates a recovery middleware. It writes a 500 unless
// the handler had already started its response, in which case the panic is
// only logged and the partial response is left alone.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	if cfg.LogFunc == nil {
		cfg.LogFunc = defaultLogFunc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				cfg.LogFunc(r, rec, debug.Stack())
				if sw.wroteHeader {
					return
				}

				proxyErr := errors.ErrInternalServer
				if cfg.Verbose {
					proxyErr = proxyErr.
						WithDetails(fmt.Sprintf("%v", rec)).
						WithTimestamp(cfg.Now().UTC().Format(TimestampFormat))
					if reqID := w.Header().Get(RequestIDHeader); reqID != "" {
						proxyErr = proxyErr.WithRequestID(reqID)
					}
				}
				if cfg.Decorate != nil {
					cfg.Decorate(w.Header())
				}
				proxyErr.WriteJSON(w)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
