package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaproxy.yaml")
	writeConfig(t, path, "server:\n  version: \"1.0.0\"\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	var seen []string
	w.OnChange(func(c *Config) { seen = append(seen, c.Server.Version) })

	writeConfig(t, path, "server:\n  version: \"1.1.0\"\n")
	cfg, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.Server.Version != "1.1.0" {
		t.Errorf("expected reloaded version 1.1.0, got %q", cfg.Server.Version)
	}
	if len(seen) != 1 || seen[0] != "1.1.0" {
		t.Errorf("expected one callback with 1.1.0, got %v", seen)
	}

	// An invalid file is never handed to subscribers.
	writeConfig(t, path, "policy:\n  error_disclosure: loud\n")
	if cfg, err := w.Reload(); err == nil || cfg != nil {
		t.Fatalf("expected reload error for invalid config, got %v", cfg)
	}
	if len(seen) != 1 {
		t.Errorf("callbacks should not fire on failed reload, got %v", seen)
	}
}

func TestWatcherFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaproxy.yaml")
	writeConfig(t, path, "server:\n  platform: before\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.debounce = 20 * time.Millisecond

	changed := make(chan string, 4)
	w.OnChange(func(c *Config) { changed <- c.Server.Platform })

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeConfig(t, path, "server:\n  platform: after\n")

	select {
	case got := <-changed:
		if got != "after" {
			t.Errorf("expected platform after, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}
}
