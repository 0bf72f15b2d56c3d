/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package logger

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	middleware "github.com/go-chi/chi/v5/middleware"
	lc "github.com/redhatinsights/platform-go-middlewares/v2/logging/cloudwatch"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

var (
	log  *zap.SugaredLogger
	once sync.Once
)

// Get returns the process wide logger, building it from cfg on first use.
func Get(cfg *config.ExportConfig) *zap.SugaredLogger {
	once.Do(func() {
		log = New(cfg)
	})
	return log
}

// New builds a sugared logger configured by cfg. JSON is written to stdout
// and, when cloudwatch credentials are present, mirrored to cloudwatch.
func New(cfg *config.ExportConfig) *zap.SugaredLogger {
	tmpLogger := zap.NewExample()
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.EncoderConfig.TimeKey = "@timestamp"
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.9999Z")

	consoleOutput := zapcore.Lock(os.Stdout)
	consoleEncoder := zapcore.NewJSONEncoder(loggerConfig.EncoderConfig)
	if cfg.Debug {
		// use color and non-JSON logging in DEBUG mode
		loggerConfig.Development = true
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.LowercaseColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(loggerConfig.EncoderConfig)
	}

	var level zapcore.Level
	switch cfg.LogLevel {
	case "DEBUG":
		level = zapcore.DebugLevel
	case "WARN":
		level = zapcore.WarnLevel
	case "ERROR":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}
	loggerConfig.Level = zap.NewAtomicLevelAt(level)

	core := zapcore.NewTee(zapcore.NewCore(consoleEncoder, consoleOutput, loggerConfig.Level))

	// configure cloudwatch
	if cfg.Logging != nil && cfg.Logging.Region != "" {
		cred := credentials.NewStaticCredentials(cfg.Logging.AccessKeyID, cfg.Logging.SecretAccessKey, "")
		awsconf := aws.NewConfig().WithRegion(cfg.Logging.Region).WithCredentials(cred)
		batchLogWriter, err := lc.NewBatchWriterWithDuration(cfg.Logging.LogGroup, cfg.Hostname, awsconf, 10*time.Second)
		if err != nil {
			tmpLogger.Info(err.Error())
		} else {
			hook := zapcore.AddSync(batchLogWriter)
			core = zapcore.NewTee(
				zapcore.NewCore(consoleEncoder, consoleOutput, loggerConfig.Level),
				zapcore.NewCore(consoleEncoder, hook, loggerConfig.Level),
			)
		}
	}

	logger, err := loggerConfig.Build(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		tmpLogger.Info(err.Error())
		return tmpLogger.Sugar()
	}

	sugar := logger.Sugar()
	sugar.Infof("log level set to %s", cfg.LogLevel)
	return sugar
}

// SetResponseLogger is a middleware helper that accepts a configured zap.SugaredLogger
// and logs response information for each API response.
func SetResponseLogger(l *zap.SugaredLogger) func(next http.Handler) http.Handler {
	fn1 := func(next http.Handler) http.Handler {
		fn2 := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			defer func() {
				l.Infow("",
					"protocol", r.Proto,
					"request", r.Method,
					"path", r.URL.Path,
					"latency", time.Since(t1),
					"status", ww.Status(),
					"size", ww.BytesWritten(),
					"request_id", request_id.GetReqID(r.Context()),
					"user-agent", r.UserAgent(),
				)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn2)
	}
	return fn1
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func RequestIDField(requestID string) zap.Field {
	return zap.String("request_id", requestID)
}

func EntityField(entity string) zap.Field {
	return zap.String("entity", entity)
}

func JobUUIDField(jobUUID string) zap.Field {
	return zap.String("job_uuid", jobUUID)
}
