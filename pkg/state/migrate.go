package state

import (
	"database/sql"
	"embed"

	kitlog "github.com/go-kit/kit/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed sql/*.sql
var migrations embed.FS

// MigrateUp attempts to run all up migrations against postgres. Migrations
// are embedded into the binary. It takes as parameters an sql.DB instance,
// and a logger instance.
func MigrateUp(db *sql.DB, logger kitlog.Logger) error {
	logger.Log("msg", "migrating DB up")

	m, err := getMigrator(db)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// MigrateDownAll attempts to run all down migrations against postgres. It
// takes as parameters an sql.DB instance, and a logger instance.
func MigrateDownAll(db *sql.DB, logger kitlog.Logger) error {
	logger.Log("msg", "migrating DB down all")

	m, err := getMigrator(db)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	err = m.Down()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

func getMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded migration source")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres migration driver")
	}

	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}
