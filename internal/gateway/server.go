package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"github.com/wudi/mediaproxy/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server runs the public and admin listeners around a Gateway.
type Server struct {
	gateway    *Gateway
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	config     *config.Config // startup configuration; listeners are bound to it
	configPath string
	watcher    *config.Watcher
	startTime  time.Time

	public *http.Server
	admin  *http.Server

	ready atomic.Bool

	mu            sync.Mutex
	reloadHistory []historyEntry
}

// NewServer creates a server for cfg. configPath is the file reloads read
// from; empty disables reloading.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, nil)
	}

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	gw, err := New(cfg, collector, tracer)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	s := &Server{
		gateway:    gw,
		metrics:    collector,
		tracer:     tracer,
		config:     cfg,
		configPath: configPath,
		startTime:  time.Now(),
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			gw.Close()
			tracer.Close()
			return nil, fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(func(c *config.Config) { s.apply(c) })
		s.watcher = w
	}

	s.public = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           gw,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(logging.With(zap.String("listener", "public"))),
	}
	if cfg.Admin.Enabled {
		s.admin = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           s.adminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logging.With(zap.String("listener", "admin"))),
		}
	}

	return s, nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully. SIGHUP reloads the configuration.
func (s *Server) Run(ctx context.Context) error {
	publicLn, err := net.Listen("tcp", s.public.Addr)
	if err != nil {
		return fmt.Errorf("public listener: %w", err)
	}
	var adminLn net.Listener
	if s.admin != nil {
		adminLn, err = net.Listen("tcp", s.admin.Addr)
		if err != nil {
			publicLn.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
	}
	return s.Serve(ctx, publicLn, adminLn)
}

// Serve is Run over existing listeners. adminLn may be nil.
func (s *Server) Serve(ctx context.Context, publicLn, adminLn net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			logging.Warn("config file watching disabled", zap.String("path", s.configPath), zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Starting public listener", zap.String("address", publicLn.Addr().String()))
		return serve(s.public, publicLn)
	})
	if s.admin != nil && adminLn != nil {
		g.Go(func() error {
			logging.Info("Starting admin listener", zap.String("address", adminLn.Addr().String()))
			return serve(s.admin, adminLn)
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				logging.Info("Shutting down gracefully...")
				return s.Shutdown(s.config.Server.ShutdownTimeout)
			case <-hup:
				s.ReloadConfig()
			}
		}
	})

	s.ready.Store(true)
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits up to timeout for in-flight
// ones before releasing resources.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.ready.Store(false)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}

	var errs []error
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := s.public.Shutdown(ctx); err != nil {
		logging.Error("Public server shutdown error", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.gateway.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.tracer.Close(); err != nil {
		logging.Error("Tracer shutdown error", zap.Error(err))
	}

	logging.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// ReloadConfig re-reads the config file and swaps in the result.
func (s *Server) ReloadConfig() ReloadResult {
	if s.watcher == nil {
		return s.record(ReloadResult{
			Timestamp: time.Now(),
			Error:     "no config path configured",
		})
	}

	// On success the watcher hands the config to apply, which records it.
	cfg, err := s.watcher.Reload()
	if err != nil {
		s.metrics.RecordReload(false)
		logging.Error("Config reload failed", zap.Error(err))
		return s.record(ReloadResult{
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("config load failed: %v", err),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.reloadHistory) - 1; i >= 0; i-- {
		if s.reloadHistory[i].config == cfg {
			return s.reloadHistory[i].ReloadResult
		}
	}
	return ReloadResult{Timestamp: time.Now(), Success: true}
}

func (s *Server) apply(cfg *config.Config) {
	result := s.gateway.Reload(cfg)
	if result.Success {
		logging.Info("Config reloaded successfully", zap.Strings("changes", result.Changes))
	} else {
		logging.Error("Config reload failed", zap.String("error", result.Error))
	}
	s.mu.Lock()
	s.reloadHistory = appendReloadHistory(s.reloadHistory, historyEntry{ReloadResult: result, config: cfg})
	s.mu.Unlock()
}

func (s *Server) record(result ReloadResult) ReloadResult {
	s.mu.Lock()
	s.reloadHistory = appendReloadHistory(s.reloadHistory, historyEntry{ReloadResult: result})
	s.mu.Unlock()
	return result
}

// ReloadHistory returns the most recent reload results, oldest first.
func (s *Server) ReloadHistory() []ReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReloadResult, len(s.reloadHistory))
	for i, e := range s.reloadHistory {
		out[i] = e.ReloadResult
	}
	return out
}
