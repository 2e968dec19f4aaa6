// Package geo resolves the country a request originates from.
package geo

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Provider maps an IP address to an ISO 3166-1 alpha-2 country code.
// An empty code with a nil error means the address is not in the database.
type Provider interface {
	Country(ip string) (string, error)
	Close() error
}

// NewProvider opens a database, choosing the reader by file extension.
func NewProvider(path string) (Provider, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mmdb":
		return openMMDB(path)
	case ".ipdb":
		return openIPDB(path)
	default:
		return nil, fmt.Errorf("unsupported geo database format: %s (expected .mmdb or .ipdb)", ext)
	}
}
