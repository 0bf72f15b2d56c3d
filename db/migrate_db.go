/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"go.uber.org/zap"
)

const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

type loggerWrapper struct {
	*zap.SugaredLogger
}

func (lw loggerWrapper) Verbose() bool {
	return true
}

func (lw loggerWrapper) Printf(format string, v ...interface{}) {
	lw.Infof(format, v...)
}

// PerformDbMigration applies the export_jobs and notifications migrations
// found at pathToMigrationFiles. "down" rolls back a single step.
func PerformDbMigration(databaseConn *sql.DB, log *zap.SugaredLogger, pathToMigrationFiles string, direction string) error {
	log.Infow("starting spreadsheet export DB migration", "direction", direction, "source", pathToMigrationFiles)

	driver, err := postgres.WithInstance(databaseConn, &postgres.Config{})
	if err != nil {
		log.Errorw("unable to get postgres driver from database connection", "error", err)
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(pathToMigrationFiles, "postgres", driver)
	if err != nil {
		log.Errorw("unable to initialize database migration util", "error", err)
		return err
	}

	m.Log = loggerWrapper{log}

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Steps(-1)
	default:
		return fmt.Errorf("invalid migration direction %q", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("DB migration resulted in no changes")
	} else if err != nil {
		log.Errorw("DB migration resulted in an error", "error", err)
		return err
	}

	version, dirty, verr := m.Version()
	if verr == nil {
		log.Infow("DB migration finished", "version", version, "dirty", dirty)
	}

	return nil
}
