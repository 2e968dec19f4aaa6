package geo

import (
	"fmt"
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"
)

// mmdbProvider reads MaxMind GeoIP2/GeoLite2 Country or City databases.
type mmdbProvider struct {
	db *maxminddb.Reader
}

type mmdbCountry struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func openMMDB(path string) (*mmdbProvider, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmdb: %w", err)
	}
	return &mmdbProvider{db: db}, nil
}

func (p *mmdbProvider) Country(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid IP address: %w", err)
	}

	var record mmdbCountry
	if err := p.db.Lookup(addr).Decode(&record); err != nil {
		return "", fmt.Errorf("mmdb lookup failed: %w", err)
	}
	return record.Country.ISOCode, nil
}

func (p *mmdbProvider) Close() error {
	return p.db.Close()
}
