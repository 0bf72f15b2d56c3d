package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/db"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

// runJanitor fails jobs stuck in processing once and exits.
func runJanitor(cfg *config.ExportConfig, log *zap.SugaredLogger) error {
	log.Info("Starting stuck export janitor")

	dbConnection, err := db.OpenDB(cfg)
	if err != nil {
		return err
	}

	exportsDB := &models.ExportDB{DB: dbConnection}
	n, err := jobs.NewJanitor(exportsDB, cfg.Queue, log).Sweep(context.Background())
	if err != nil {
		log.Errorw("stuck export janitor failed", "error", err)
		return err
	}
	log.Infow("stuck export janitor finished", "failed_jobs", n)
	return nil
}
