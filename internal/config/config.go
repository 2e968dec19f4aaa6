package config

import "time"

// Error disclosure policies.
const (
	DisclosureUniform = "uniform"
	DisclosureVerbose = "verbose"
)

// Admin auth failure overrides. Empty follows the error disclosure policy.
const (
	AdminFailureUnauthorized = "unauthorized"
	AdminFailureNotFound     = "not_found"
)

// Config represents the complete proxy configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Security SecurityConfig `yaml:"security"`
	ClientIP ClientIPConfig `yaml:"client_ip"`
	CORS     CORSConfig     `yaml:"cors"`
	Policy   PolicyConfig   `yaml:"policy"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig defines the public listener
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// PublicOrigin is the externally visible scheme://host used when rewriting
	// image base URLs. Empty derives it from each request.
	PublicOrigin string `yaml:"public_origin"`

	Version  string `yaml:"version"`
	Platform string `yaml:"platform"`
}

// AdminConfig defines the operator listener (metrics, health, reload)
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// UpstreamConfig defines the proxied image and API hosts
type UpstreamConfig struct {
	APIBase        string               `yaml:"api_base"`
	ImageBase      string               `yaml:"image_base"`
	UserAgent      string               `yaml:"user_agent"`
	Timeout        time.Duration        `yaml:"timeout"` // 0 = governed by the caller's context
	Transport      TransportConfig      `yaml:"transport"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TransportConfig holds upstream transport overrides. Zero values keep the defaults.
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	ForceHTTP2            *bool         `yaml:"force_http2"`
}

// RetryConfig bounds upstream attempts. MaxAttempts of 0 or 1 means a single attempt.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	RetryableStatuses []int         `yaml:"retryable_statuses"`
}

// CircuitBreakerConfig configures the optional upstream breaker
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	MaxRequests      uint32        `yaml:"max_requests"` // allowed in half-open
	Interval         time.Duration `yaml:"interval"`     // closed-state counter reset
	Timeout          time.Duration `yaml:"timeout"`      // open -> half-open
}

// SecurityConfig configures the user-agent and country filter
type SecurityConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BotAllow         []string `yaml:"bot_allow"`         // case-sensitive substrings exempting "bot" agents
	SuspiciousAgents []string `yaml:"suspicious_agents"` // case-insensitive substrings
	BrowserMarker    string   `yaml:"browser_marker"`    // exempts suspicious agents
	BlockedCountries []string `yaml:"blocked_countries"`
	CountryHeader    string   `yaml:"country_header"`
	GeoDatabase      string   `yaml:"geo_database"` // optional .mmdb or .ipdb file
}

// ClientIPConfig controls client address extraction
type ClientIPConfig struct {
	Headers        []string `yaml:"headers"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// CORSConfig holds the static CORS header values applied to every response
type CORSConfig struct {
	AllowOrigin    string   `yaml:"allow_origin"`
	AllowMethods   []string `yaml:"allow_methods"`
	AllowHeaders   []string `yaml:"allow_headers"`
	ResourcePolicy string   `yaml:"resource_policy"`
}

// PolicyConfig selects how failures are disclosed to clients
type PolicyConfig struct {
	ErrorDisclosure  string `yaml:"error_disclosure"`   // uniform | verbose
	AdminAuthFailure string `yaml:"admin_auth_failure"` // "" | unauthorized | not_found
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string            `yaml:"level"`
	Output    string            `yaml:"output"`
	AccessLog bool              `yaml:"access_log"`
	Rotation  LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// MetricsConfig configures the Prometheus registry
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// Verbose reports whether internal detail may be shown to clients.
func (p PolicyConfig) Verbose() bool {
	return p.ErrorDisclosure == DisclosureVerbose
}

// AdminUnauthorized reports whether an admin credential failure answers 401
// rather than the not-found response.
func (p PolicyConfig) AdminUnauthorized() bool {
	switch p.AdminAuthFailure {
	case AdminFailureUnauthorized:
		return true
	case AdminFailureNotFound:
		return false
	}
	return p.Verbose()
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       90 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			Version:           "2.0.0",
			Platform:          "mediaproxy",
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: "127.0.0.1:9090",
		},
		Upstream: UpstreamConfig{
			APIBase:   "https://api.tmdb.org",
			ImageBase: "https://image.tmdb.org",
			UserAgent: "Mozilla/5.0 (compatible; TMDB-Proxy/1.0)",
			Retry: RetryConfig{
				MaxAttempts: 1,
			},
		},
		Security: SecurityConfig{
			Enabled:          true,
			BotAllow:         []string{"googlebot"},
			SuspiciousAgents: []string{"curl", "wget", "python", "scrapy", "spider"},
			BrowserMarker:    "Mozilla",
			CountryHeader:    "CF-IPCountry",
		},
		ClientIP: ClientIPConfig{
			Headers: []string{"CF-Connecting-IP", "EO-Connecting-IP", "X-Forwarded-For"},
		},
		CORS: CORSConfig{
			AllowOrigin:    "*",
			AllowMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
			ResourcePolicy: "cross-origin",
		},
		Policy: PolicyConfig{
			ErrorDisclosure: DisclosureUniform,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Output:    "stdout",
			AccessLog: true,
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "mediaproxy",
		},
		Tracing: TracingConfig{
			ServiceName: "mediaproxy",
			SampleRate:  1.0,
		},
	}
}
