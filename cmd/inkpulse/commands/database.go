package commands

import (
	"database/sql"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/db"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// openDatabase opens and migrates the configured schedule store database
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	driver := cfg.GetDatabaseDriver()
	dsn := cfg.GetDatabaseDSN()

	database, err := db.Open(driver, dsn, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}

	if err := db.Migrate(database, driver, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run %s migrations", driver)
	}

	return database, nil
}

// openService loads config and returns a control service over the schedule store.
// The caller closes the returned database.
func openService() (*am.Config, *sql.DB, *schedule.Service, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store := schedule.NewStoreWithDriver(database, cfg.GetDatabaseDriver())
	return cfg, database, schedule.NewService(store, logger.Logger), nil
}
