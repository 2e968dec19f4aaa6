package geo

import (
	"net/http"
	"strings"

	"github.com/wudi/mediaproxy/internal/logging"
	"go.uber.org/zap"
)

// Unknown is reported when neither the platform header nor the database
// yields a country.
const Unknown = "unknown"

// Resolver reads the country from a CDN header and falls back to an
// optional database lookup on the client IP.
type Resolver struct {
	header   string
	provider Provider
}

// NewResolver creates a Resolver. provider may be nil.
func NewResolver(header string, provider Provider) *Resolver {
	return &Resolver{header: header, provider: provider}
}

// Country returns the upper-case country code for the request, or Unknown.
// The platform header is only read when headerTrusted is set; otherwise the
// database decides.
func (g *Resolver) Country(r *http.Request, clientIP string, headerTrusted bool) string {
	if headerTrusted && g.header != "" {
		if v := strings.TrimSpace(r.Header.Get(g.header)); v != "" {
			return strings.ToUpper(v)
		}
	}

	if g.provider != nil && clientIP != "" && clientIP != Unknown {
		code, err := g.provider.Country(clientIP)
		if err != nil {
			logging.Debug("geo lookup failed", zap.String("ip", clientIP), zap.Error(err))
		} else if code != "" {
			return strings.ToUpper(code)
		}
	}

	return Unknown
}

// Close releases the database, if any.
func (g *Resolver) Close() error {
	if g.provider == nil {
		return nil
	}
	return g.provider.Close()
}
