package am

import (
	"github.com/spf13/viper"
)

// Default values
const (
	DefaultServerPort   = 8787
	DefaultDatabasePath = "inkpulse.db"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", DefaultDatabasePath)

	// Pulse (dispatcher) defaults
	v.SetDefault("pulse.poll_interval_seconds", 30)
	v.SetDefault("pulse.lease_seconds", 600) // 10 minutes
	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.batch_size", 100)
	v.SetDefault("pulse.action_timeout_seconds", 120)
	v.SetDefault("pulse.max_firings_per_second", 0.0)
	v.SetDefault("pulse.failure_threshold", 0) // degraded policy off
	v.SetDefault("pulse.persistence_retry_max_seconds", 120)

	v.SetDefault("actions.block_private_ips", false)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds secrets and connection strings to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "INKPULSE_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("database.path", "INKPULSE_DATABASE_PATH")
	_ = v.BindEnv("actions.token", "INKPULSE_ACTIONS_TOKEN")
}

// GetDatabaseDSN returns the data source for the configured driver
func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == DriverPostgres {
		return c.Database.DSN
	}
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetDatabaseDriver returns the configured driver, defaulting to sqlite3
func (c *Config) GetDatabaseDriver() string {
	if c.Database.Driver == "" {
		return DriverSQLite
	}
	return c.Database.Driver
}
