package cachepolicy

import "testing"

func TestTTL(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"configuration", 3600},
		{"configuration/languages", 3600},
		{"search/movie", 300},
		{"movie/popular", 1800},
		{"search/popular", 300},
		{"configuration/search/popular", 3600},
		{"movie/550", 600},
		{"", 600},
		{"Search/movie", 600},
	}
	for _, tt := range tests {
		if got := TTL(tt.path); got != tt.want {
			t.Errorf("TTL(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestDirectiveString(t *testing.T) {
	if got := ForAPI("search/movie").String(); got != "public, max-age=300" {
		t.Errorf("ForAPI = %q", got)
	}
	if got := ForImage().String(); got != "public, max-age=604800, immutable" {
		t.Errorf("ForImage = %q", got)
	}
}
