// Package cachepolicy maps proxied paths to the Cache-Control directive
// emitted on their responses.
package cachepolicy

import (
	"strconv"
	"strings"
)

// TTLs in seconds.
const (
	ConfigurationTTL = 3600
	SearchTTL        = 300
	PopularTTL       = 1800
	DefaultTTL       = 600
	ImageTTL         = 604800
)

// Directive is a public Cache-Control value.
type Directive struct {
	MaxAge    int
	Immutable bool
}

// String renders the directive as a Cache-Control header value.
func (d Directive) String() string {
	s := "public, max-age=" + strconv.Itoa(d.MaxAge)
	if d.Immutable {
		s += ", immutable"
	}
	return s
}

var rules = []struct {
	substr string
	ttl    int
}{
	{"configuration", ConfigurationTTL},
	{"search", SearchTTL},
	{"popular", PopularTTL},
}

// TTL returns the max-age for an API sub-path. First matching substring wins.
func TTL(path string) int {
	for _, r := range rules {
		if strings.Contains(path, r.substr) {
			return r.ttl
		}
	}
	return DefaultTTL
}

// ForAPI returns the directive for an API sub-path.
func ForAPI(path string) Directive {
	return Directive{MaxAge: TTL(path)}
}

// ForImage returns the directive for successful image responses.
func ForImage() Directive {
	return Directive{MaxAge: ImageTTL, Immutable: true}
}
