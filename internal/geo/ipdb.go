package geo

import (
	"fmt"

	"github.com/ipipdotnet/ipdb-go"
)

// ipdbProvider reads IPIP.net city databases.
type ipdbProvider struct {
	db *ipdb.City
}

func openIPDB(path string) (*ipdbProvider, error) {
	db, err := ipdb.NewCity(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ipdb: %w", err)
	}
	return &ipdbProvider{db: db}, nil
}

func (p *ipdbProvider) Country(ip string) (string, error) {
	info, err := p.db.FindInfo(ip, "EN")
	if err != nil {
		return "", fmt.Errorf("ipdb lookup failed: %w", err)
	}
	return info.CountryCode, nil
}

// Close is a no-op; ipdb-go holds the file in memory.
func (p *ipdbProvider) Close() error {
	return nil
}
