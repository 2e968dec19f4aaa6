package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/wudi/mediaproxy/internal/config"
)

// TransportConfig configures the HTTP transport
type TransportConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	InsecureSkipVerify    bool
	CAFile                string
	DisableKeepAlives     bool
	ForceHTTP2            bool
}

// DefaultTransportConfig provides default transport settings
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	MaxConnsPerHost:       0, // unlimited
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 0, // no timeout
	ExpectContinueTimeout: 1 * time.Second,
	ForceHTTP2:            true,
}

// MergeTransportConfig applies the non-zero values of o onto base.
func MergeTransportConfig(base TransportConfig, o config.TransportConfig) TransportConfig {
	if o.MaxIdleConns > 0 {
		base.MaxIdleConns = o.MaxIdleConns
	}
	if o.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = o.MaxIdleConnsPerHost
	}
	if o.MaxConnsPerHost > 0 {
		base.MaxConnsPerHost = o.MaxConnsPerHost
	}
	if o.IdleConnTimeout > 0 {
		base.IdleConnTimeout = o.IdleConnTimeout
	}
	if o.DialTimeout > 0 {
		base.DialTimeout = o.DialTimeout
	}
	if o.TLSHandshakeTimeout > 0 {
		base.TLSHandshakeTimeout = o.TLSHandshakeTimeout
	}
	if o.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = o.ResponseHeaderTimeout
	}
	if o.DisableKeepAlives {
		base.DisableKeepAlives = true
	}
	if o.InsecureSkipVerify {
		base.InsecureSkipVerify = true
	}
	if o.CAFile != "" {
		base.CAFile = o.CAFile
	}
	if o.ForceHTTP2 != nil {
		base.ForceHTTP2 = *o.ForceHTTP2
	}
	return base
}

// NewTransport creates an HTTP transport. An unreadable or empty CAFile is
// an error.
func NewTransport(cfg TransportConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}, nil
}
