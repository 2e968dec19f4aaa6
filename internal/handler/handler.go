// Package handler implements the public request surface: the dispatcher
// and the image, API, health, root and admin status handlers.
package handler

import (
	"net/http"
	"time"

	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/geo"
	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"github.com/wudi/mediaproxy/internal/middleware"
	"github.com/wudi/mediaproxy/internal/realip"
	"github.com/wudi/mediaproxy/internal/respond"
	"github.com/wudi/mediaproxy/internal/router"
	"github.com/wudi/mediaproxy/internal/security"
	"github.com/wudi/mediaproxy/internal/upstream"
	"go.uber.org/zap"
)

// Route labels for requests that never reach the router.
const (
	RoutePreflight = "preflight"
	RouteBlocked   = "blocked"
)

// Options are the collaborators of a Handler. Router, Assembler, API and
// Images are required; the rest may be nil.
type Options struct {
	Config    *config.Config
	Router    *router.Router
	Assembler *respond.Assembler
	Security  *security.Filter
	Geo       *geo.Resolver
	ClientIP  *realip.Extractor
	API       *upstream.Client
	Images    *upstream.Client
	Metrics   *metrics.Collector
	Now       func() time.Time
}

// Handler dispatches public requests. It holds one configuration snapshot
// and is immutable after New.
type Handler struct {
	router    *router.Router
	respond   *respond.Assembler
	security  *security.Filter
	geo       *geo.Resolver
	clientIP  *realip.Extractor
	api       *upstream.Client
	images    *upstream.Client
	metrics   *metrics.Collector
	now       func() time.Time
	endpoints map[string]string

	apiBase      string
	imageBase    string
	userAgent    string
	publicOrigin string
	version      string
	platform     string
}

// New creates a Handler.
func New(opts Options) *Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	h := &Handler{
		router:       opts.Router,
		respond:      opts.Assembler,
		security:     opts.Security,
		geo:          opts.Geo,
		clientIP:     opts.ClientIP,
		api:          opts.API,
		images:       opts.Images,
		metrics:      opts.Metrics,
		now:          opts.Now,
		endpoints:    opts.Router.Endpoints(),
		apiBase:      cfg.Upstream.APIBase,
		imageBase:    cfg.Upstream.ImageBase,
		userAgent:    cfg.Upstream.UserAgent,
		publicOrigin: cfg.Server.PublicOrigin,
		version:      cfg.Server.Version,
		platform:     cfg.Server.Platform,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.geo == nil {
		h.geo = geo.NewResolver(cfg.Security.CountryHeader, nil)
	}
	return h
}

// ServeHTTP runs preflight, the security filter and the router, then hands
// the request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := middleware.InfoFromContext(r.Context())
	if info == nil {
		info = &middleware.RequestInfo{}
		r = r.WithContext(middleware.WithInfo(r.Context(), info))
	}

	clientIP := realip.Unknown
	if h.clientIP != nil {
		clientIP = h.clientIP.Extract(r)
	}
	country := h.geo.Country(r, clientIP, h.clientIP.Trusted(r))
	info.ClientIP = clientIP
	info.Country = country

	if r.Method == http.MethodOptions {
		info.Route = RoutePreflight
		h.respond.Preflight(w)
		return
	}

	if verdict := h.security.Check(r.UserAgent(), country); !verdict.Allowed {
		info.Route = RouteBlocked
		h.metrics.RecordSecurityBlock(string(verdict.Reason))
		logging.Info("request blocked",
			zap.String("request_id", info.RequestID),
			zap.String("client_ip", clientIP),
			zap.String("country", country),
			zap.String("reason", string(verdict.Reason)),
			zap.String("path", r.URL.Path),
		)
		h.respond.NotFound(w)
		return
	}

	d := h.router.Route(r.URL.EscapedPath())
	info.Route = d.Kind.String()

	switch d.Kind {
	case router.Health:
		h.serveHealth(w, r, clientIP)
	case router.Root:
		h.respond.Root(w)
	case router.AdminStatus:
		h.serveAdminStatus(w, r, clientIP, country)
	case router.ImageProxy:
		h.serveImage(w, r, d)
	case router.APIProxy:
		h.serveAPI(w, r, d)
	default:
		h.respond.NotFound(w)
	}
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(middleware.TimestampFormat)
}
