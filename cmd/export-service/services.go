/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package main

import (
	"fmt"

	ckafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/columns"
	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/db"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/exports"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
	ekafka "github.com/redhatinsights/spreadsheet-export-service/kafka"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/notify"
	"github.com/redhatinsights/spreadsheet-export-service/query"
	"github.com/redhatinsights/spreadsheet-export-service/render"
	es3 "github.com/redhatinsights/spreadsheet-export-service/s3"
)

// services holds everything the api and worker commands share.
type services struct {
	DB       *gorm.DB
	ExportDB *models.ExportDB
	Registry *entities.Registry
	Resolver *columns.Resolver
	Pipeline *jobs.Pipeline
	Disk     es3.Disk
	Notifier notify.Notifier
	Queue    jobs.Queue
	// Source is nil when this process only produces jobs.
	Source jobs.Source

	producer *ckafka.Producer
	consumer *ckafka.Consumer
	redis    *redis.Client
}

func newRegistry(cfg *config.ExportConfig) *entities.Registry {
	registry := entities.NewRegistry(cfg.FallbackColumns)
	registry.MustRegister(models.ExportJobs{}, models.Notifications{})
	return registry
}

// buildServices wires the configured backends. consume opens the queue for
// reading as well.
func buildServices(cfg *config.ExportConfig, log *zap.SugaredLogger, consume bool) (*services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	gdb, err := db.OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &services{
		DB:       gdb,
		ExportDB: &models.ExportDB{DB: gdb},
		Registry: newRegistry(cfg),
		Resolver: columns.NewResolver(cfg.Columns, cfg.Messages),
	}
	s.Pipeline = &jobs.Pipeline{
		DB:       gdb,
		Registry: s.Registry,
		Builder:  query.NewBuilder(cfg.Filters, log),
		Resolver: s.Resolver,
		Renderer: render.NewRenderer(cfg.Dates, cfg.Messages),
		Limits:   cfg.Limits,
	}

	switch cfg.File.Disk {
	case "local":
		s.Disk = es3.NewLocalDisk(cfg.File.LocalRoot, cfg.File.PublicURL, log)
	default:
		s.Disk = es3.NewS3Disk(cfg, es3.NewClient(cfg), log)
	}

	needsProducer := cfg.Notifications.Channel == "kafka" || (cfg.Queue.Enabled && cfg.Queue.Connection == "kafka")
	var producer *ekafka.Producer
	if needsProducer {
		producer, s.producer, err = ekafka.NewProducer(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		log.Infof("created kafka producer: %s", s.producer.String())
	}

	var sink notify.Notifier
	switch cfg.Notifications.Channel {
	case "kafka":
		sink = notify.Multi{
			&ekafka.Notifier{Publisher: producer, Topic: cfg.KafkaConfig.NotificationsTopic},
			notify.Log{Log: log},
		}
	case "log":
		sink = notify.Log{Log: log}
	default:
		sink = notify.Database{Store: s.ExportDB}
	}
	s.Notifier = notify.NewFiltered(sink, cfg.Notifications, cfg.Messages)

	if !cfg.Queue.Enabled {
		return s, nil
	}
	switch cfg.Queue.Connection {
	case "kafka":
		s.Queue = &ekafka.Queue{Publisher: producer, Topic: cfg.KafkaConfig.ExportsTopic}
		if consume {
			var consumer *ekafka.Consumer
			consumer, s.consumer, err = ekafka.NewConsumer(cfg, log)
			if err != nil {
				return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
			}
			s.Source = consumer
		}
	case "redis":
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		q := jobs.NewRedisQueue(s.redis, cfg.Queue.Name, log)
		s.Queue = q
		if consume {
			s.Source = q
		}
	case "sync":
		// jobs stay in this process and are handled by an in-process worker
		q := jobs.NewMemoryQueue(cfg.Queue.Workers * 16)
		s.Queue = q
		s.Source = q
	default:
		return nil, fmt.Errorf("unknown queue connection %q", cfg.Queue.Connection)
	}
	return s, nil
}

func (s *services) exporter(cfg *config.ExportConfig, log *zap.SugaredLogger) *exports.Exporter {
	return &exports.Exporter{
		Pipeline:   s.Pipeline,
		Normalizer: filters.NewNormalizer(cfg.Filters, log),
		DB:         s.ExportDB,
		Queue:      s.Queue,
		Notifier:   s.Notifier,
		Limits:     cfg.Limits,
		QueueCfg:   cfg.Queue,
		File:       cfg.File,
		Log:        log,
	}
}

func (s *services) worker(cfg *config.ExportConfig, log *zap.SugaredLogger) *jobs.Worker {
	job := &jobs.ExportJob{
		Pipeline:  s.Pipeline,
		DB:        s.ExportDB,
		Disk:      s.Disk,
		Notifier:  s.Notifier,
		Directory: cfg.File.Directory,
		Log:       log,
	}
	runner := jobs.NewRunner(job, cfg.Queue, log)
	return jobs.NewWorker(s.Source, runner, cfg.Queue.Workers, cfg.Queue.RatePerSecond, log)
}

func (s *services) janitor(cfg *config.ExportConfig, log *zap.SugaredLogger) *jobs.Janitor {
	return jobs.NewJanitor(s.ExportDB, cfg.Queue, log)
}

// Close releases the backends in reverse order of creation.
func (s *services) Close(log *zap.SugaredLogger) {
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Errorw("failed to close kafka consumer", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Errorw("failed to close redis client", "error", err)
		}
	}
	if s.producer != nil {
		log.Info("flushing kafka producer")
		s.producer.Flush(1500) // 1.5 second timeout
		s.producer.Close()
		log.Info("closed kafka producer")
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
