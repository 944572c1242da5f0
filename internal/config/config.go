// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webview-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	UserAgent string `kong:"name='user-agent',help='Custom User-Agent override (overrides config).',env='WEBVIEW_PROXY_USER_AGENT'"`
	Backend   string `kong:"help='HTTP backend: auto|multiplexed|classic (overrides config).',env='WEBVIEW_PROXY_BACKEND'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Transport TransportConfig `toml:"transport"`
	UserAgent UserAgentConfig `toml:"user_agent"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the engine bridge listener settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8765)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the bridge.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the user-adjustable interception settings. The booleans
// that default to true are pointers so an omitted key can be told apart from
// an explicit false.
type ProxyConfig struct {
	Enabled             *bool  `toml:"enabled"`
	ProxyMainDocument   *bool  `toml:"proxy_main_document"`
	DebugLogging        bool   `toml:"debug_logging"`
	RichAcceptLanguage  bool   `toml:"rich_accept_language"`
	RequestedWithMode   string `toml:"requested_with_mode"`
	UnhealthyTTLSeconds int    `toml:"unhealthy_ttl_seconds"`
	SniffMissingMIME    bool   `toml:"sniff_missing_mime"`
}

// TransportConfig holds outbound HTTP backend settings.
type TransportConfig struct {
	Backend            string `toml:"backend"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	IdleConnections    int    `toml:"idle_connections"`
	MaxConcurrent      int    `toml:"max_concurrent"`
	EnableHTTP3        *bool  `toml:"enable_http3"`
	InitTimeoutSeconds int    `toml:"init_timeout_seconds"`
	ChunkSizeBytes     int    `toml:"chunk_size_bytes"`
}

// UserAgentConfig describes the host the generated UA should claim.
type UserAgentConfig struct {
	ChromeVersion   string   `toml:"chrome_version"`
	AndroidVersion  string   `toml:"android_version"`
	DeviceModel     string   `toml:"device_model"`
	PlatformVersion string   `toml:"platform_version"`
	Architecture    string   `toml:"architecture"`
	Bitness         string   `toml:"bitness"`
	Model           string   `toml:"model"`
	Override        string   `toml:"override"`
	Languages       []string `toml:"languages"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webview-proxy/config.toml then configs/config.toml, and falls back to
// built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.UserAgent != "" {
		c.UserAgent.Override = cli.UserAgent
	}
	if cli.Backend != "" {
		c.Transport.Backend = cli.Backend
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Proxy.UnhealthyTTLSeconds < 0 {
		return fmt.Errorf("proxy.unhealthy_ttl_seconds must be non-negative; got %d", c.Proxy.UnhealthyTTLSeconds)
	}
	for name, v := range map[string]int{
		"transport.timeout_seconds":      c.Transport.TimeoutSeconds,
		"transport.idle_connections":     c.Transport.IdleConnections,
		"transport.max_concurrent":       c.Transport.MaxConcurrent,
		"transport.init_timeout_seconds": c.Transport.InitTimeoutSeconds,
		"transport.chunk_size_bytes":     c.Transport.ChunkSizeBytes,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}

	switch strings.ToLower(c.Transport.Backend) {
	case "", "auto", "multiplexed", "classic":
		// valid
	default:
		return fmt.Errorf("transport.backend must be one of: auto, multiplexed, classic; got %q", c.Transport.Backend)
	}

	switch strings.ToLower(c.Proxy.RequestedWithMode) {
	case "", "strip", "allowlist":
		// valid
	default:
		return fmt.Errorf("proxy.requested_with_mode must be one of: strip, allowlist; got %q", c.Proxy.RequestedWithMode)
	}

	if strings.ContainsAny(c.UserAgent.Override, "\r\n") {
		return fmt.Errorf("user_agent.override must be a single line")
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/v1", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8765
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 32 * 1024 * 1024 // 32 MB
	}
	if c.Proxy.Enabled == nil {
		c.Proxy.Enabled = boolPtr(true)
	}
	if c.Proxy.ProxyMainDocument == nil {
		c.Proxy.ProxyMainDocument = boolPtr(true)
	}
	if c.Proxy.RequestedWithMode == "" {
		c.Proxy.RequestedWithMode = "strip"
	}
	if c.Proxy.UnhealthyTTLSeconds == 0 {
		c.Proxy.UnhealthyTTLSeconds = 3600
	}
	if c.Transport.Backend == "" {
		c.Transport.Backend = "auto"
	}
	c.Transport.Backend = strings.ToLower(c.Transport.Backend)
	if c.Transport.TimeoutSeconds == 0 {
		c.Transport.TimeoutSeconds = 30
	}
	if c.Transport.IdleConnections == 0 {
		c.Transport.IdleConnections = 64
	}
	if c.Transport.MaxConcurrent == 0 {
		c.Transport.MaxConcurrent = 32
	}
	if c.Transport.EnableHTTP3 == nil {
		c.Transport.EnableHTTP3 = boolPtr(true)
	}
	if c.Transport.InitTimeoutSeconds == 0 {
		c.Transport.InitTimeoutSeconds = 5
	}
	if c.Transport.ChunkSizeBytes == 0 {
		c.Transport.ChunkSizeBytes = 32 * 1024
	}
	if len(c.UserAgent.Languages) == 0 {
		c.UserAgent.Languages = []string{"en-US"}
	}
	if c.UserAgent.Architecture == "" {
		c.UserAgent.Architecture = "arm"
	}
	if c.UserAgent.Bitness == "" {
		c.UserAgent.Bitness = "64"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func boolPtr(b bool) *bool { return &b }

// ProxyEnabled reports the global proxy switch.
func (p *ProxyConfig) ProxyEnabled() bool { return p.Enabled == nil || *p.Enabled }

// MainDocumentEnabled reports whether main-frame documents are proxied.
func (p *ProxyConfig) MainDocumentEnabled() bool {
	return p.ProxyMainDocument == nil || *p.ProxyMainDocument
}

// UnhealthyTTL returns the smart-bypass window.
func (p *ProxyConfig) UnhealthyTTL() time.Duration {
	return time.Duration(p.UnhealthyTTLSeconds) * time.Second
}

// HTTP3Enabled reports whether the multiplexed backend may use QUIC.
func (t *TransportConfig) HTTP3Enabled() bool { return t.EnableHTTP3 == nil || *t.EnableHTTP3 }

// Timeout returns the per-exchange response header timeout.
func (t *TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// InitTimeout bounds backend provider installation.
func (t *TransportConfig) InitTimeout() time.Duration {
	return time.Duration(t.InitTimeoutSeconds) * time.Second
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is writable by group or
// others; a writable config lets another user swap the UA override.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
