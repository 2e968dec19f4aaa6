package geo

import (
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// mockProvider returns deterministic results for testing.
type mockProvider struct {
	results map[string]string
	closed  bool
}

func (m *mockProvider) Country(ip string) (string, error) {
	if ip == "bad" {
		return "", errors.New("invalid IP address")
	}
	return m.results[ip], nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		results: map[string]string{
			"1.2.3.4": "US",
			"5.6.7.8": "cn",
		},
	}
}

func TestResolverCountry(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		clientIP  string
		untrusted bool
		want      string
	}{
		{"header wins", "de", "1.2.3.4", false, "DE"},
		{"database fallback", "", "1.2.3.4", false, "US"},
		{"database upper-cased", "", "5.6.7.8", false, "CN"},
		{"not in database", "", "9.9.9.9", false, Unknown},
		{"lookup error", "", "bad", false, Unknown},
		{"unknown client", "", Unknown, false, Unknown},
		{"untrusted header ignored", "de", "1.2.3.4", true, "US"},
		{"untrusted header without database hit", "de", "9.9.9.9", true, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewResolver("CF-IPCountry", newMockProvider())
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("CF-IPCountry", tt.header)
			}
			if got := g.Country(r, tt.clientIP, !tt.untrusted); got != tt.want {
				t.Errorf("Country() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolverWithoutProvider(t *testing.T) {
	g := NewResolver("CF-IPCountry", nil)
	r := httptest.NewRequest("GET", "/", nil)
	if got := g.Country(r, "1.2.3.4", true); got != Unknown {
		t.Errorf("Country() = %q, want %q", got, Unknown)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestResolverClose(t *testing.T) {
	p := newMockProvider()
	if err := NewResolver("", p).Close(); err != nil {
		t.Fatal(err)
	}
	if !p.closed {
		t.Error("Close should close the provider")
	}
}

func TestNewProvider(t *testing.T) {
	dir := t.TempDir()

	_, err := NewProvider(filepath.Join(dir, "geo.csv"))
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
	if _, err := NewProvider(filepath.Join(dir, "missing.mmdb")); err == nil {
		t.Error("expected error for missing mmdb file")
	}
	if _, err := NewProvider(filepath.Join(dir, "missing.ipdb")); err == nil {
		t.Error("expected error for missing ipdb file")
	}
}
