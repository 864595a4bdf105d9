// Package am holds inkpulse configuration ("I am").
//
// Configuration is read with Viper from TOML files and INKPULSE_* environment
// variables; see load.go for the precedence order.
package am

import "time"

// Config represents the inkpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	Actions  ActionsConfig  `mapstructure:"actions" toml:"actions" json:"actions" yaml:"actions"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// DatabaseConfig selects the schedule store backend.
// Driver "sqlite3" uses Path; driver "pgx" uses DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver" json:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" toml:"dsn" json:"dsn" yaml:"dsn"`
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// PulseConfig configures the dispatcher and the action pipeline
type PulseConfig struct {
	PollIntervalSeconds        int     `mapstructure:"poll_interval_seconds" toml:"poll_interval_seconds" json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	LeaseSeconds               int     `mapstructure:"lease_seconds" toml:"lease_seconds" json:"lease_seconds" yaml:"lease_seconds"`
	Workers                    int     `mapstructure:"workers" toml:"workers" json:"workers" yaml:"workers"`
	BatchSize                  int     `mapstructure:"batch_size" toml:"batch_size" json:"batch_size" yaml:"batch_size"`
	ActionTimeoutSeconds       int     `mapstructure:"action_timeout_seconds" toml:"action_timeout_seconds" json:"action_timeout_seconds" yaml:"action_timeout_seconds"`
	MaxFiringsPerSecond        float64 `mapstructure:"max_firings_per_second" toml:"max_firings_per_second" json:"max_firings_per_second" yaml:"max_firings_per_second"` // 0 = unlimited
	FailureThreshold           int     `mapstructure:"failure_threshold" toml:"failure_threshold" json:"failure_threshold" yaml:"failure_threshold"`                       // consecutive failures before degraded; 0 = off
	PersistenceRetryMaxSeconds int     `mapstructure:"persistence_retry_max_seconds" toml:"persistence_retry_max_seconds" json:"persistence_retry_max_seconds" yaml:"persistence_retry_max_seconds"`
}

// ActionsConfig points the HTTP action executors at the collaborator services
type ActionsConfig struct {
	ScrapeURL   string `mapstructure:"scrape_url" toml:"scrape_url" json:"scrape_url" yaml:"scrape_url"`
	GenerateURL string `mapstructure:"generate_url" toml:"generate_url" json:"generate_url" yaml:"generate_url"`
	SendURL     string `mapstructure:"send_url" toml:"send_url" json:"send_url" yaml:"send_url"`
	Token       string `mapstructure:"token" toml:"token" json:"-" yaml:"-"`

	// Refuse loopback and private-network endpoints, for deployments where
	// collaborator services are public
	BlockPrivateIPs bool `mapstructure:"block_private_ips" toml:"block_private_ips" json:"block_private_ips" yaml:"block_private_ips"`
}

// ServerConfig configures the HTTP control API
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig configures the global zap logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
	Level string `mapstructure:"level" toml:"level" json:"level" yaml:"level"`
}

// PollInterval returns the dispatcher poll interval
func (p PulseConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// LeaseDuration returns how long a claim is held before another dispatcher may take it
func (p PulseConfig) LeaseDuration() time.Duration {
	return time.Duration(p.LeaseSeconds) * time.Second
}

// ActionTimeout returns the per-action execution bound
func (p PulseConfig) ActionTimeout() time.Duration {
	return time.Duration(p.ActionTimeoutSeconds) * time.Second
}

// PersistenceRetryMax returns how long store errors are retried before giving up
func (p PulseConfig) PersistenceRetryMax() time.Duration {
	return time.Duration(p.PersistenceRetryMaxSeconds) * time.Second
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
