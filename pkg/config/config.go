// Package config handles application configuration from file, environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. HLSPROXY_SERVER_PORT.
const EnvPrefix = "HLSPROXY"

// Default configuration values.
const (
	defaultHost                  = "127.0.0.1"
	defaultReadTimeout           = 30 * time.Second
	defaultIdleTimeout           = 60 * time.Second
	defaultShutdownTimeout       = 5 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultRequestTimeout        = 120 * time.Second
	defaultReadIdleTimeout       = 30 * time.Second
	defaultUserAgent             = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Origin  OriginConfig  `mapstructure:"origin"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds the local proxy listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"` // 0 = OS-assigned
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OriginConfig holds settings for outbound requests to content origins.
type OriginConfig struct {
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	// RequestTimeout bounds a whole playlist fetch including the body.
	// Segment streams have no total limit.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ReadIdleTimeout aborts a segment whose origin sends nothing for this long.
	ReadIdleTimeout time.Duration `mapstructure:"read_idle_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`

	// UTLSDomains are URL substrings that get a browser TLS fingerprint.
	UTLSDomains     []string `mapstructure:"utls_domains"`
	GlobalProxies   []string `mapstructure:"global_proxies"`
	TransportRoutes string   `mapstructure:"transport_routes"`

	// Routes is TransportRoutes parsed by Load.
	Routes []TransportRoute `mapstructure:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables it
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hls-proxy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hls-proxy")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Origin.GlobalProxies = trimAll(cfg.Origin.GlobalProxies)
	cfg.Origin.UTLSDomains = trimAll(cfg.Origin.UTLSDomains)
	cfg.Origin.Routes = parseTransportRoutes(cfg.Origin.TransportRoutes)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("origin.dial_timeout", defaultDialTimeout)
	v.SetDefault("origin.tls_handshake_timeout", defaultTLSHandshakeTimeout)
	v.SetDefault("origin.response_header_timeout", defaultResponseHeaderTimeout)
	v.SetDefault("origin.request_timeout", defaultRequestTimeout)
	v.SetDefault("origin.read_idle_timeout", defaultReadIdleTimeout)
	v.SetDefault("origin.user_agent", defaultUserAgent)
	v.SetDefault("origin.utls_domains", []string{})
	v.SetDefault("origin.global_proxies", []string{})
	v.SetDefault("origin.transport_routes", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.addr", "")
}

// Default returns the configuration Load produces with no file and no environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 0 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 0 and %d", maxPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}

	if c.Origin.DialTimeout <= 0 || c.Origin.RequestTimeout <= 0 || c.Origin.ReadIdleTimeout <= 0 {
		return fmt.Errorf("origin timeouts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}

	return nil
}

// Address returns the listener address in host:port format.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// parseTransportRoutes parses the origin.transport_routes setting.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2, DIRECT=true}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func trimAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
