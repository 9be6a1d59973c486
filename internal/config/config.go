// Package config defines the gateway configuration model and YAML loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	// Server configures the main HTTPS listener.
	Server ServerConfig `yaml:"server"`

	// TLS configures certificate sourcing and session parameters.
	TLS TLSConfig `yaml:"tls"`

	// Redis configures the shared key-value store used by the device
	// flow and the distributed rate limiter.
	Redis RedisConfig `yaml:"redis"`

	// Auth configures token issuance and validation.
	Auth AuthConfig `yaml:"auth"`

	// DeviceFlow configures the OAuth2 device authorization grant.
	DeviceFlow DeviceFlowConfig `yaml:"deviceFlow"`

	// RateLimit configures per route class rate limits.
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// WebSocket configures the connection proxy.
	WebSocket WebSocketConfig `yaml:"websocket"`

	// Observability configures logging and the metrics listener.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the main listener.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// TLSConfig selects the certificate source and session parameters.
// Mode is one of "static", "acme" or "selfsigned".
type TLSConfig struct {
	Mode             string   `yaml:"mode"`
	CertFile         string   `yaml:"certFile"`
	KeyFile          string   `yaml:"keyFile"`
	MinVersion       string   `yaml:"minVersion"`
	CipherSuites     []string `yaml:"cipherSuites"`
	CurvePreferences []string `yaml:"curvePreferences"`
	ALPN             []string `yaml:"alpn"`

	// ACME settings, used when mode is "acme".
	ACME ACMEConfig `yaml:"acme"`

	// AllowDevelopment must be set for the selfsigned mode to be
	// selected; it is never implied.
	AllowDevelopment bool `yaml:"allowDevelopment"`
}

// ACMEConfig configures automatic certificate management.
type ACMEConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cacheDir"`
}

// RedisConfig configures the shared store connection.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	Issuer     string   `yaml:"issuer"`
	SigningKey string   `yaml:"signingKey"`
	AccessTTL  Duration `yaml:"accessTTL"`
}

// DeviceFlowConfig configures the device authorization grant.
type DeviceFlowConfig struct {
	VerificationURI string   `yaml:"verificationURI"`
	Expiry          Duration `yaml:"expiry"`
	PollInterval    Duration `yaml:"pollInterval"`
	AllowedClients  []string `yaml:"allowedClients"`
}

// RateLimitConfig holds per route class limits. Keys are route class
// names ("api", "device", ...) referenced by the HTTP wiring.
type RateLimitConfig struct {
	Enabled bool                      `yaml:"enabled"`
	Classes map[string]RateLimitClass `yaml:"classes"`
}

// RateLimitClass is the limit for one route class.
type RateLimitClass struct {
	Requests  int      `yaml:"requests"`
	Window    Duration `yaml:"window"`
	Algorithm string   `yaml:"algorithm"`
}

// WebSocketConfig configures the connection proxy.
type WebSocketConfig struct {
	IdleTimeout     Duration `yaml:"idleTimeout"`
	CleanupInterval Duration `yaml:"cleanupInterval"`
	MaxConnections  int      `yaml:"maxConnections"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	MetricsPort int    `yaml:"metricsPort"`
	MetricsPath string `yaml:"metricsPath"`
}

// Default returns a Config with usable development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8443",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		TLS: TLSConfig{
			Mode:             "selfsigned",
			MinVersion:       "TLS12",
			AllowDevelopment: true,
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
		},
		Auth: AuthConfig{
			Issuer:    "wearforce-gateway",
			AccessTTL: Duration(time.Hour),
		},
		DeviceFlow: DeviceFlowConfig{
			VerificationURI: "https://wearforce.example.com/device",
			Expiry:          Duration(600 * time.Second),
			PollInterval:    Duration(5 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Classes: map[string]RateLimitClass{
				"api":    {Requests: 100, Window: Duration(time.Minute), Algorithm: "sliding_window"},
				"device": {Requests: 30, Window: Duration(time.Minute), Algorithm: "fixed_window"},
			},
		},
		WebSocket: WebSocketConfig{
			IdleTimeout:     Duration(5 * time.Minute),
			CleanupInterval: Duration(30 * time.Second),
			MaxConnections:  10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
			MetricsPath: "/metrics",
		},
	}
}

// Validate checks the configuration for errors that must stop startup.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch c.TLS.Mode {
	case "static":
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls: static mode requires certFile and keyFile")
		}
	case "acme":
		if len(c.TLS.ACME.Domains) == 0 {
			return fmt.Errorf("tls: acme mode requires at least one domain")
		}
	case "selfsigned":
		if !c.TLS.AllowDevelopment {
			return fmt.Errorf("tls: selfsigned mode requires allowDevelopment")
		}
	case "":
		return fmt.Errorf("tls.mode is required")
	default:
		return fmt.Errorf("tls.mode %q is not one of static, acme, selfsigned", c.TLS.Mode)
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}

	if c.DeviceFlow.Expiry.Duration() <= 0 {
		return fmt.Errorf("deviceFlow.expiry must be positive")
	}
	if c.DeviceFlow.PollInterval.Duration() <= 0 {
		return fmt.Errorf("deviceFlow.pollInterval must be positive")
	}

	for name, class := range c.RateLimit.Classes {
		if class.Requests <= 0 {
			return fmt.Errorf("rateLimit.classes.%s.requests must be positive", name)
		}
		if class.Window.Duration() <= 0 {
			return fmt.Errorf("rateLimit.classes.%s.window must be positive", name)
		}
	}

	if c.WebSocket.MaxConnections < 0 {
		return fmt.Errorf("websocket.maxConnections cannot be negative")
	}

	return nil
}
