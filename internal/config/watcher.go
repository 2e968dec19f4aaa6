package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wudi/mediaproxy/internal/logging"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk and
// hands each valid result to the registered callbacks. Invalid files are
// logged and ignored so the last good configuration stays in effect.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	mu         sync.RWMutex
	reloadMu   sync.Mutex
	debounce   time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWatcher creates a watcher for configPath. It does nothing until Start
// or Reload is called.
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		done:       make(chan struct{}),
	}, nil
}

// OnChange registers a callback for config changes
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes
func (w *Watcher) Start() error {
	// Editors replace files via rename, so watch the directory.
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				if _, err := w.Reload(); err != nil {
					logging.Error("failed to reload config", zap.String("path", w.configPath), zap.Error(err))
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		}
	}
}

// Reload loads the file now and notifies callbacks on success. It is shared
// by the file watcher, SIGHUP and the admin reload endpoint.
func (w *Watcher) Reload() (*Config, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))

	for _, cb := range callbacks {
		cb(cfg)
	}
	return cfg, nil
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.watcher.Close()
}

