package gateway

import (
	"reflect"
	"sort"
	"time"

	"github.com/wudi/mediaproxy/internal/config"
)

// ReloadResult represents the outcome of a config reload.
type ReloadResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
	Changes   []string  `json:"changes,omitempty"`
}

// maxReloadHistory bounds the results kept for the admin listener.
const maxReloadHistory = 50

// historyEntry is a reload result plus the config it applied, if any.
type historyEntry struct {
	ReloadResult
	config *config.Config
}

func appendReloadHistory(history []historyEntry, e historyEntry) []historyEntry {
	history = append(history, e)
	if len(history) > maxReloadHistory {
		history = history[len(history)-maxReloadHistory:]
	}
	return history
}

// sections maps config section names to accessors for change detection.
var sections = map[string]func(*config.Config) interface{}{
	"server":    func(c *config.Config) interface{} { return c.Server },
	"admin":     func(c *config.Config) interface{} { return c.Admin },
	"upstream":  func(c *config.Config) interface{} { return c.Upstream },
	"security":  func(c *config.Config) interface{} { return c.Security },
	"client_ip": func(c *config.Config) interface{} { return c.ClientIP },
	"cors":      func(c *config.Config) interface{} { return c.CORS },
	"policy":    func(c *config.Config) interface{} { return c.Policy },
	"logging":   func(c *config.Config) interface{} { return c.Logging },
	"metrics":   func(c *config.Config) interface{} { return c.Metrics },
	"tracing":   func(c *config.Config) interface{} { return c.Tracing },
}

// diffConfig lists the sections that differ between two configurations.
func diffConfig(oldCfg, newCfg *config.Config) []string {
	var changes []string
	for name, get := range sections {
		if !reflect.DeepEqual(get(oldCfg), get(newCfg)) {
			changes = append(changes, name+" changed")
		}
	}
	sort.Strings(changes)
	return changes
}

// restartRequired lists changed settings that are bound at startup.
func restartRequired(oldCfg, newCfg *config.Config) []string {
	var out []string
	if oldCfg.Server.Address != newCfg.Server.Address {
		out = append(out, "server.address")
	}
	if oldCfg.Admin != newCfg.Admin {
		out = append(out, "admin")
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		out = append(out, "logging")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	if !reflect.DeepEqual(oldCfg.Tracing, newCfg.Tracing) {
		out = append(out, "tracing")
	}
	return out
}
