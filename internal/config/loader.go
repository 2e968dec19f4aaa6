package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file. An empty path yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		if err := l.validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	normalize(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// normalize canonicalises values that are compared verbatim at request time.
func normalize(cfg *Config) {
	cfg.Server.PublicOrigin = strings.TrimRight(cfg.Server.PublicOrigin, "/")
	cfg.Upstream.APIBase = strings.TrimRight(cfg.Upstream.APIBase, "/")
	cfg.Upstream.ImageBase = strings.TrimRight(cfg.Upstream.ImageBase, "/")
	for i, c := range cfg.Security.BlockedCountries {
		cfg.Security.BlockedCountries[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	if cfg.Policy.ErrorDisclosure == "" {
		cfg.Policy.ErrorDisclosure = DisclosureUniform
	}
	if cfg.Upstream.Retry.MaxAttempts <= 0 {
		cfg.Upstream.Retry.MaxAttempts = 1
	}
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when admin is enabled")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == cfg.Server.Address {
		return fmt.Errorf("admin.address must differ from server.address")
	}

	if cfg.Server.PublicOrigin != "" {
		if err := validateBaseURL(cfg.Server.PublicOrigin); err != nil {
			return fmt.Errorf("server.public_origin: %w", err)
		}
	}
	if err := validateBaseURL(cfg.Upstream.APIBase); err != nil {
		return fmt.Errorf("upstream.api_base: %w", err)
	}
	if err := validateBaseURL(cfg.Upstream.ImageBase); err != nil {
		return fmt.Errorf("upstream.image_base: %w", err)
	}
	if cfg.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must be >= 0")
	}

	retry := cfg.Upstream.Retry
	if retry.MaxAttempts > 10 {
		return fmt.Errorf("upstream.retry.max_attempts must be <= 10, got %d", retry.MaxAttempts)
	}
	if retry.BackoffMultiplier != 0 && retry.BackoffMultiplier < 1 {
		return fmt.Errorf("upstream.retry.backoff_multiplier must be >= 1")
	}
	for _, s := range retry.RetryableStatuses {
		if s < 500 || s > 599 {
			return fmt.Errorf("upstream.retry.retryable_statuses: %d is not a 5xx status", s)
		}
	}

	switch cfg.Policy.ErrorDisclosure {
	case DisclosureUniform, DisclosureVerbose:
	default:
		return fmt.Errorf("policy.error_disclosure must be %q or %q, got %q",
			DisclosureUniform, DisclosureVerbose, cfg.Policy.ErrorDisclosure)
	}
	switch cfg.Policy.AdminAuthFailure {
	case "", AdminFailureUnauthorized, AdminFailureNotFound:
	default:
		return fmt.Errorf("policy.admin_auth_failure must be %q or %q, got %q",
			AdminFailureUnauthorized, AdminFailureNotFound, cfg.Policy.AdminAuthFailure)
	}

	for _, c := range cfg.Security.BlockedCountries {
		if len(c) != 2 {
			return fmt.Errorf("security.blocked_countries: %q is not an ISO 3166-1 alpha-2 code", c)
		}
	}
	if db := cfg.Security.GeoDatabase; db != "" {
		switch strings.ToLower(filepath.Ext(db)) {
		case ".mmdb", ".ipdb":
		default:
			return fmt.Errorf("security.geo_database: unsupported format %q (expected .mmdb or .ipdb)", db)
		}
	}

	for _, cidr := range cfg.ClientIP.TrustedProxies {
		if net.ParseIP(cidr) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("client_ip.trusted_proxies: %w", err)
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("query and fragment are not allowed")
	}
	return nil
}

// Redacted returns a copy safe to expose on the admin listener.
func (c *Config) Redacted() *Config {
	cp := *c
	if len(c.Tracing.Headers) > 0 {
		cp.Tracing.Headers = make(map[string]string, len(c.Tracing.Headers))
		for k := range c.Tracing.Headers {
			cp.Tracing.Headers[k] = "[REDACTED]"
		}
	}
	return &cp
}
