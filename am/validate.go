package am

import "github.com/inkpulse/inkpulse/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.GetDatabaseDriver() {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver = \"pgx\"")
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Pulse.PollIntervalSeconds <= 0 {
		return errors.Newf("pulse.poll_interval_seconds must be > 0, got %d", c.Pulse.PollIntervalSeconds)
	}
	if c.Pulse.LeaseSeconds <= 0 {
		return errors.Newf("pulse.lease_seconds must be > 0, got %d", c.Pulse.LeaseSeconds)
	}
	if c.Pulse.Workers <= 0 {
		return errors.Newf("pulse.workers must be > 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.BatchSize <= 0 {
		return errors.Newf("pulse.batch_size must be > 0, got %d", c.Pulse.BatchSize)
	}
	if c.Pulse.ActionTimeoutSeconds <= 0 {
		return errors.Newf("pulse.action_timeout_seconds must be > 0, got %d", c.Pulse.ActionTimeoutSeconds)
	}
	if c.Pulse.LeaseSeconds <= c.Pulse.ActionTimeoutSeconds {
		return errors.WithHint(
			errors.Newf("pulse.lease_seconds (%d) must exceed pulse.action_timeout_seconds (%d)",
				c.Pulse.LeaseSeconds, c.Pulse.ActionTimeoutSeconds),
			"a lease shorter than one action lets another dispatcher re-fire a running job")
	}

	// 0 = unlimited / off
	if c.Pulse.MaxFiringsPerSecond < 0 {
		return errors.Newf("pulse.max_firings_per_second must be >= 0, got %f", c.Pulse.MaxFiringsPerSecond)
	}
	if c.Pulse.FailureThreshold < 0 {
		return errors.Newf("pulse.failure_threshold must be >= 0, got %d", c.Pulse.FailureThreshold)
	}
	if c.Pulse.PersistenceRetryMaxSeconds < 0 {
		return errors.Newf("pulse.persistence_retry_max_seconds must be >= 0, got %d", c.Pulse.PersistenceRetryMaxSeconds)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	return nil
}
