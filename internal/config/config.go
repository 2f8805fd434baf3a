package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rescp17/lanCall/pkg/negotiation"
	webrtcPkg "github.com/rescp17/lanCall/pkg/webrtc"
)

// Config holds all configuration for both sides of a call.
type Config struct {
	Client    *ClientConfig               `json:"client"`
	Server    *ServerConfig               `json:"server"`
	Transport *webrtcPkg.TransportConfig  `json:"transport"`
	Media     *webrtcPkg.MediaConstraints `json:"media"`
	LogLevel  string                      `json:"log_level"` // debug, info, warn or error
}

// ClientConfig configures the calling side.
type ClientConfig struct {
	BaseURL string        `json:"base_url"` // signaling endpoint, empty to discover
	Role    string        `json:"role"`     // offerer or answerer
	Timeout time.Duration `json:"timeout"`  // per request
}

// ServerConfig configures the reference endpoint.
type ServerConfig struct {
	Port          int           `json:"port"`
	Offer         bool          `json:"offer"`
	Announce      bool          `json:"announce"`
	GatherTimeout time.Duration `json:"gather_timeout"`
}

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultPort           = 8080
	DefaultGatherTimeout  = 10 * time.Second
)

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Client: &ClientConfig{
			Role:    negotiation.RoleOfferer.String(),
			Timeout: DefaultRequestTimeout,
		},
		Server: &ServerConfig{
			Port:          DefaultPort,
			Announce:      true,
			GatherTimeout: DefaultGatherTimeout,
		},
		Transport: webrtcPkg.DefaultTransportConfig(),
		Media:     webrtcPkg.DefaultMediaConstraints(),
		LogLevel:  "info",
	}
}

// Load reads a JSON file over the defaults. Fields missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.Client == nil {
		return errors.New("client section cannot be nil")
	}
	if c.Server == nil {
		return errors.New("server section cannot be nil")
	}
	if c.Transport == nil {
		return errors.New("transport section cannot be nil")
	}
	if c.Media == nil {
		return errors.New("media section cannot be nil")
	}
	if err := c.Client.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return level, nil
}

// Validate checks if the configuration values are valid
func (c *ClientConfig) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base_url must be http or https, got %q", c.BaseURL)
		}
		if !strings.HasSuffix(u.Path, "/") {
			return errors.New("base_url must end with a slash")
		}
	}
	if _, err := negotiation.ParseRole(c.Role); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Validate checks if the configuration values are valid
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.GatherTimeout <= 0 {
		return errors.New("gather_timeout must be positive")
	}
	return nil
}
