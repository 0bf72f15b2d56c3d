/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package db

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

// OpenDB opens the gorm handle shared by the repository, the query builder
// and the record streamer.
func OpenDB(cfg *config.ExportConfig) (*gorm.DB, error) {
	dsn := BuildPostgresDSN(cfg)

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if cfg.Debug {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	gdb, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return gdb, nil
}

func OpenPostgresDB(cfg *config.ExportConfig) (*sql.DB, error) {
	dsn := BuildPostgresDSN(cfg)
	return sql.Open("postgres", dsn)
}

func BuildPostgresDSN(cfg *config.ExportConfig) string {
	dbcfg := cfg.DBConfig

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbcfg.User,
		dbcfg.Password,
		dbcfg.Hostname,
		dbcfg.Port,
		dbcfg.Name,
		dbcfg.SSLCfg.SSLMode)

	if dbcfg.SSLCfg.RdsCa != nil && *dbcfg.SSLCfg.RdsCa != "" {
		dsn += fmt.Sprintf("&sslrootcert=%s", *dbcfg.SSLCfg.RdsCa)
	}

	return dsn
}
