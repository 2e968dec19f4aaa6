// Package gateway assembles the proxy from configuration and runs it: the
// public handler graph, the operator admin listener and config reloads.
package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/geo"
	"github.com/wudi/mediaproxy/internal/handler"
	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"github.com/wudi/mediaproxy/internal/middleware"
	"github.com/wudi/mediaproxy/internal/realip"
	"github.com/wudi/mediaproxy/internal/respond"
	"github.com/wudi/mediaproxy/internal/router"
	"github.com/wudi/mediaproxy/internal/security"
	"github.com/wudi/mediaproxy/internal/tracing"
	"github.com/wudi/mediaproxy/internal/upstream"
	"go.uber.org/zap"
)

// retireDelay is how long a replaced state keeps its resources open so
// in-flight requests can finish with them.
var retireDelay = time.Minute

// Gateway serves public requests from the current handler graph. Process
// level collaborators (metrics, tracer) survive reloads; everything derived
// from the configuration is rebuilt and swapped atomically.
type Gateway struct {
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	state  atomic.Pointer[gatewayState]
	mu     sync.Mutex // serializes Reload
	closed bool
}

// gatewayState is one immutable configuration snapshot.
type gatewayState struct {
	config    *config.Config
	handler   http.Handler
	geo       *geo.Resolver
	transport *http.Transport
}

// New builds a Gateway for cfg. metrics and tracer may be nil.
func New(cfg *config.Config, m *metrics.Collector, t *tracing.Tracer) (*Gateway, error) {
	g := &Gateway{metrics: m, tracer: t}
	st, err := g.buildState(cfg)
	if err != nil {
		return nil, err
	}
	g.state.Store(st)
	return g, nil
}

// ServeHTTP dispatches to the current handler graph. A request keeps the
// graph it started with even if a reload happens meanwhile.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.state.Load().handler.ServeHTTP(w, r)
}

// Config returns the configuration currently being served.
func (g *Gateway) Config() *config.Config {
	return g.state.Load().config
}

func (g *Gateway) buildState(cfg *config.Config) (*gatewayState, error) {
	rt := router.Default()

	assembler, err := respond.New(cfg, rt.Rules())
	if err != nil {
		return nil, err
	}

	extractor, err := realip.New(cfg.ClientIP.Headers, cfg.ClientIP.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("client_ip: %w", err)
	}

	var provider geo.Provider
	if cfg.Security.GeoDatabase != "" {
		provider, err = geo.NewProvider(cfg.Security.GeoDatabase)
		if err != nil {
			return nil, fmt.Errorf("security.geo_database: %w", err)
		}
	}
	resolver := geo.NewResolver(cfg.Security.CountryHeader, provider)

	transport, err := upstream.NewTransport(upstream.MergeTransportConfig(upstream.DefaultTransportConfig, cfg.Upstream.Transport))
	if err != nil {
		resolver.Close()
		return nil, fmt.Errorf("upstream.transport: %w", err)
	}

	clientOpts := upstream.Options{Metrics: g.metrics, Tracer: g.tracer}
	h := handler.New(handler.Options{
		Config:    cfg,
		Router:    rt,
		Assembler: assembler,
		Security:  security.New(cfg.Security),
		Geo:       resolver,
		ClientIP:  extractor,
		API:       upstream.NewClient("api", transport, cfg.Upstream, clientOpts),
		Images:    upstream.NewClient("image", transport, cfg.Upstream, clientOpts),
		Metrics:   g.metrics,
	})

	// The outer recovery covers the middlewares themselves; the inner one
	// runs before Observe returns so handler panics are logged and counted.
	recovery := middleware.RecoveryConfig{
		Verbose:  cfg.Policy.Verbose(),
		Decorate: assembler.Decorate,
	}
	chain := middleware.NewBuilder().
		Use(middleware.RecoveryWithConfig(recovery)).
		Use(middleware.RequestID()).
		Use(g.tracer.Middleware()).
		Use(middleware.Observe(middleware.ObserveConfig{
			AccessLog: cfg.Logging.AccessLog,
			Metrics:   g.metrics,
		})).
		Use(middleware.RecoveryWithConfig(recovery)).
		Build()

	return &gatewayState{
		config:    cfg,
		handler:   chain.Then(h),
		geo:       resolver,
		transport: transport,
	}, nil
}

// Reload builds a graph for newCfg and swaps it in. On error the current
// graph stays in place.
func (g *Gateway) Reload(newCfg *config.Config) ReloadResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := ReloadResult{Timestamp: time.Now()}

	st, err := g.buildState(newCfg)
	if err != nil {
		result.Error = err.Error()
		g.metrics.RecordReload(false)
		return result
	}

	old := g.state.Swap(st)
	result.Success = true
	result.Changes = diffConfig(old.config, newCfg)
	g.metrics.RecordReload(true)

	if restart := restartRequired(old.config, newCfg); len(restart) > 0 {
		logging.Warn("configuration changes take effect after restart", zap.Strings("sections", restart))
	}

	time.AfterFunc(retireDelay, old.retire)
	return result
}

func (st *gatewayState) retire() {
	st.transport.CloseIdleConnections()
	if err := st.geo.Close(); err != nil {
		logging.Warn("failed to close geo database", zap.Error(err))
	}
}

// Close releases the resources of the current graph.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	st := g.state.Load()
	st.transport.CloseIdleConnections()
	return st.geo.Close()
}
