// Package security decides whether a request is refused before routing.
package security

import (
	"strings"

	"github.com/wudi/mediaproxy/internal/config"
)

// Reason explains a block. It is logged and counted, never sent to clients.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonBot        Reason = "ua-bot"
	ReasonSuspicious Reason = "ua-suspicious"
	ReasonGeo        Reason = "geo-blocked"
)

// Verdict is the filter outcome for one request.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

var allow = Verdict{Allowed: true}

// Filter evaluates the user agent and country of a request. A nil or
// disabled Filter allows everything.
type Filter struct {
	enabled       bool
	botAllow      []string
	suspicious    []string
	browserMarker string
	blocked       map[string]bool
}

// New compiles a Filter from configuration.
func New(cfg config.SecurityConfig) *Filter {
	f := &Filter{
		enabled:       cfg.Enabled,
		botAllow:      cfg.BotAllow,
		browserMarker: cfg.BrowserMarker,
		blocked:       make(map[string]bool, len(cfg.BlockedCountries)),
	}
	for _, s := range cfg.SuspiciousAgents {
		if s = strings.ToLower(s); s != "" {
			f.suspicious = append(f.suspicious, s)
		}
	}
	for _, c := range cfg.BlockedCountries {
		f.blocked[strings.ToUpper(c)] = true
	}
	return f
}

// active reports whether the filter inspects requests.
func (f *Filter) active() bool {
	return f != nil && f.enabled
}

// Check evaluates ua and country. Bot-allow tokens and the browser marker
// are matched case-sensitively against the raw user agent.
func (f *Filter) Check(ua, country string) Verdict {
	if !f.active() {
		return allow
	}

	lower := strings.ToLower(ua)

	if strings.Contains(lower, "bot") && !containsAny(ua, f.botAllow) {
		return Verdict{Reason: ReasonBot}
	}

	if containsAny(lower, f.suspicious) && (f.browserMarker == "" || !strings.Contains(ua, f.browserMarker)) {
		return Verdict{Reason: ReasonSuspicious}
	}

	if len(f.blocked) > 0 && f.blocked[strings.ToUpper(country)] {
		return Verdict{Reason: ReasonGeo}
	}

	return allow
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
