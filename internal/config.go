package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatAuto = "auto"
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Demos   DemosConfig       `yaml:"demos"`
	Cache   CacheConfig       `yaml:"cache"`
	Host    HostConfig        `yaml:"host"`
	Session SessionConfig     `yaml:"session"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Demos.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Host.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatAuto
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatAuto, LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DemosConfig points at the demos root.
type DemosConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the demos configuration.
func (c *DemosConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig holds the view cache database location.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// HostConfig bounds demo loads and script runs.
type HostConfig struct {
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`
}

// Validate validates the host configuration.
func (c *HostConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LoadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ScriptTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// SessionConfig controls idle session expiry.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IdleTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatAuto,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Demos: DemosConfig{
			Path:  "./demos",
			Watch: true,
		},
		Cache: CacheConfig{
			Path: "./leetlab.db",
		},
		Host: HostConfig{
			LoadTimeout:   10 * time.Second,
			ScriptTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
