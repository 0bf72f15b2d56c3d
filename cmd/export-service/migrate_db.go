package main

import (
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/db"
)

func performDbMigration(cfg *config.ExportConfig, log *zap.SugaredLogger, direction string) error {
	log.Info("Starting Export Service DB migration")

	sqlDB, err := db.OpenPostgresDB(cfg)
	if err != nil {
		log.Errorw("Unable to initialize database connection", "error", err)
		return err
	}
	defer sqlDB.Close()

	return db.PerformDbMigration(sqlDB, log, "file://db/migrations", direction)
}
