package api

import "time"

// Config configures the operational HTTP API.
//
// The API exposes health probes and stat snapshots for the CLI and for
// dashboards. When Enabled is false no server is started.
type Config struct {
	// Enabled controls whether the API server is started.
	// A nil pointer means enabled: the ops surface is on by default.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the API endpoints.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// AuthSecret signs the bearer tokens guarding the stats routes.
	// Empty leaves the stats routes unauthenticated.
	AuthSecret string `mapstructure:"auth_secret" yaml:"auth_secret"`

	// ReadTimeout caps reading an entire request, body included.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout caps writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout caps keep-alive waits between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled returns whether the API server is enabled.
// Defaults to true if not explicitly set.
func (c *Config) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
