/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	clowder "github.com/redhatinsights/app-common-go/pkg/api/v1"
	"github.com/spf13/viper"
)

const (
	ExportTopic       string = "platform.export.spreadsheets"
	NotificationTopic string = "platform.export.notifications"
)

// ExportConfig represents the runtime configuration. It is built once by Get
// and handed to every component that needs it.
type ExportConfig struct {
	Hostname        string
	PublicPort      int
	MetricsPort     int
	PrivatePort     int
	Logging         *loggingConfig
	LogLevel        string
	Debug           bool
	DBConfig        dbConfig
	KafkaConfig     kafkaConfig
	RedisConfig     redisConfig
	StorageConfig   storageConfig
	OpenAPIFilePath string
	Psks            []string

	Limits        LimitsConfig
	Dates         DatesConfig
	File          FileConfig
	Columns       ColumnsConfig
	Filters       FiltersConfig
	Queue         QueueConfig
	Notifications NotificationsConfig
	Messages      Messages

	// FallbackColumns is used for entities that declare no export columns.
	FallbackColumns []FallbackColumn
	JanitorSchedule string
}

type dbConfig struct {
	User     string
	Password string
	Hostname string
	Port     string
	Name     string
	SSLCfg   dbSSLConfig
}

type dbSSLConfig struct {
	RdsCa   *string
	SSLMode string
}

type loggingConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	LogGroup        string
	Region          string
}

type kafkaConfig struct {
	KafkaBrokers       []string
	KafkaGroupID       string
	ExportsTopic       string
	NotificationsTopic string
	KafkaSSLConfig     kafkaSSLConfig
}

type kafkaSSLConfig struct {
	KafkaCA       string
	KafkaUsername string
	KafkaPassword string
	SASLMechanism string
	Protocol      string
}

type redisConfig struct {
	Addr     string
	Password string
	DB       int
}

type storageConfig struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// URLExpiry is the lifetime of presigned download links.
	URLExpiry time.Duration
}

// LimitsConfig bounds the size of an export and decides when it moves to
// the background.
type LimitsConfig struct {
	MaxRecords     int
	ChunkSize      int
	QueueThreshold int
}

// DatesConfig holds the cell formats for date values. Both are Go layouts.
type DatesConfig struct {
	DateFormat     string
	DateOnlyFormat string
}

type FileConfig struct {
	Extension      string
	Disk           string
	Directory      string
	NameFormat     string
	DatetimeFormat string
	LocalRoot      string
	PublicURL      string
}

type ColumnsConfig struct {
	MaxDefault    int
	MaxSelectable int
	MinRequired   int
}

type FiltersConfig struct {
	// DefaultFilters are compiled by the query builder itself.
	DefaultFilters []string
	// FallbackNames are re-read from the raw input when filter extraction fails.
	FallbackNames []string
	RangeAliases  []RangeAlias
}

// RangeAlias names a pair of keys that carry the bounds of a date range.
type RangeAlias struct {
	From  string
	Until string
}

type QueueConfig struct {
	Enabled       bool
	Connection    string
	Name          string
	Tries         int
	Timeout       time.Duration
	Backoff       time.Duration
	Workers       int
	RatePerSecond float64
}

type NotificationsConfig struct {
	Channel         string
	ShowSuccess     bool
	ShowNoData      bool
	ShowErrors      bool
	ShowQueued      bool
	ShowJobComplete bool
	ShowJobFailed   bool
}

// Messages are the user facing strings that end up inside spreadsheets.
type Messages struct {
	Language       string
	Yes            string
	No             string
	UndefinedTitle string
}

type FallbackColumn struct {
	Field string
	Title string
}

var (
	config *ExportConfig
	once   sync.Once
)

// Get returns the runtime configuration, building it on first use.
func Get() *ExportConfig {
	once.Do(func() {
		config = load()
	})
	return config
}

func load() *ExportConfig {
	options := viper.New()
	options.SetDefault("PublicPort", 8000)
	options.SetDefault("MetricsPort", 9000)
	options.SetDefault("PrivatePort", 10000)
	options.SetDefault("LogLevel", "INFO")
	options.SetDefault("Debug", false)
	options.SetDefault("OpenAPIFilePath", "./static/spec/openapi.json")
	options.SetDefault("psks", strings.Split(os.Getenv("EXPORTS_PSKS"), ","))

	// DB defaults
	options.SetDefault("Database", "pgsql")
	options.SetDefault("PGSQL_USER", "postgres")
	options.SetDefault("PGSQL_PASSWORD", "postgres")
	options.SetDefault("PGSQL_HOSTNAME", "localhost")
	options.SetDefault("PGSQL_PORT", "15433")
	options.SetDefault("PGSQL_DATABASE", "postgres")

	// kafka defaults
	options.SetDefault("KafkaExportsTopic", ExportTopic)
	options.SetDefault("KafkaNotificationsTopic", NotificationTopic)
	options.SetDefault("KafkaBrokers", strings.Split(os.Getenv("KAFKA_BROKERS"), ","))
	options.SetDefault("KafkaGroupID", "spreadsheet-export")

	// redis defaults
	options.SetDefault("RedisAddr", "localhost:6379")
	options.SetDefault("RedisDB", 0)

	// storage defaults
	options.SetDefault("MINIO_BUCKET", "exports-bucket")
	options.SetDefault("MINIO_HOST", "localhost")
	options.SetDefault("MINIO_PORT", "9099")
	options.SetDefault("MINIO_SSL", false)
	options.SetDefault("AWS_REGION", "us-east-1")
	options.SetDefault("AWS_ACCESS_KEY", "minio")
	options.SetDefault("AWS_SECRET_ACCESS_KEY", "minioadmin")
	options.SetDefault("StorageURLExpiry", 24*time.Hour)

	// export limits
	options.SetDefault("EXPORT_MAX_RECORDS", 2000)
	options.SetDefault("EXPORT_CHUNK_SIZE", 500)
	options.SetDefault("EXPORT_QUEUE_THRESHOLD", 2000)

	options.SetDefault("EXPORT_DATE_FORMAT", "DD/MM/YYYY HH:mm")
	options.SetDefault("EXPORT_DATE_ONLY_FORMAT", "DD/MM/YYYY")

	options.SetDefault("EXPORT_FILE_EXTENSION", "xlsx")
	options.SetDefault("EXPORT_FILE_DISK", "s3")
	options.SetDefault("EXPORT_FILE_DIRECTORY", "exports")
	options.SetDefault("EXPORT_FILE_NAME_FORMAT", "{resource}_{type}_{datetime}")
	options.SetDefault("EXPORT_FILE_DATETIME_FORMAT", "2006-01-02_15-04-05")
	options.SetDefault("EXPORT_FILE_LOCAL_ROOT", "./storage")
	options.SetDefault("EXPORT_FILE_PUBLIC_URL", "/storage")

	options.SetDefault("EXPORT_COLUMNS_MAX_DEFAULT", 5)
	options.SetDefault("EXPORT_COLUMNS_MAX_SELECTABLE", 20)
	options.SetDefault("EXPORT_COLUMNS_MIN_REQUIRED", 1)

	options.SetDefault("EXPORT_DEFAULT_FILTERS", []string{"created_at", "updated_at", "created_by"})
	options.SetDefault("EXPORT_FALLBACK_FILTERS", []string{"created_at", "updated_at", "created_by", "status", "owner_user_id"})

	options.SetDefault("EXPORT_QUEUE_ENABLED", true)
	options.SetDefault("EXPORT_QUEUE_CONNECTION", "kafka")
	options.SetDefault("EXPORT_QUEUE_NAME", "exports")
	options.SetDefault("EXPORT_QUEUE_TRIES", 3)
	options.SetDefault("EXPORT_QUEUE_TIMEOUT", 600*time.Second)
	options.SetDefault("EXPORT_QUEUE_BACKOFF", 5*time.Second)
	options.SetDefault("EXPORT_QUEUE_WORKERS", 4)
	options.SetDefault("EXPORT_QUEUE_RATE", 10.0)

	options.SetDefault("EXPORT_NOTIFICATIONS_CHANNEL", "database")
	options.SetDefault("EXPORT_NOTIFY_SUCCESS", true)
	options.SetDefault("EXPORT_NOTIFY_NO_DATA", true)
	options.SetDefault("EXPORT_NOTIFY_ERRORS", true)
	options.SetDefault("EXPORT_NOTIFY_QUEUED", true)
	options.SetDefault("EXPORT_NOTIFY_JOB_COMPLETE", true)
	options.SetDefault("EXPORT_NOTIFY_JOB_FAILED", true)

	options.SetDefault("EXPORT_LANGUAGE", "en")
	options.SetDefault("EXPORT_MESSAGE_YES", "Yes")
	options.SetDefault("EXPORT_MESSAGE_NO", "No")
	options.SetDefault("EXPORT_MESSAGE_UNDEFINED_TITLE", "Undefined Title")

	options.SetDefault("EXPORT_JANITOR_SCHEDULE", "@every 5m")

	options.AutomaticEnv()

	if options.GetBool("Debug") {
		options.Set("LogLevel", "DEBUG")
	}

	kubenv := viper.New()
	kubenv.AutomaticEnv()

	cfg := &ExportConfig{
		Hostname:        kubenv.GetString("Hostname"),
		PublicPort:      options.GetInt("PublicPort"),
		MetricsPort:     options.GetInt("MetricsPort"),
		PrivatePort:     options.GetInt("PrivatePort"),
		Debug:           options.GetBool("Debug"),
		LogLevel:        options.GetString("LogLevel"),
		OpenAPIFilePath: options.GetString("OpenAPIFilePath"),
		Psks:            options.GetStringSlice("psks"),
		Limits: LimitsConfig{
			MaxRecords:     options.GetInt("EXPORT_MAX_RECORDS"),
			ChunkSize:      options.GetInt("EXPORT_CHUNK_SIZE"),
			QueueThreshold: options.GetInt("EXPORT_QUEUE_THRESHOLD"),
		},
		Dates: DatesConfig{
			DateFormat:     GoLayout(options.GetString("EXPORT_DATE_FORMAT")),
			DateOnlyFormat: GoLayout(options.GetString("EXPORT_DATE_ONLY_FORMAT")),
		},
		File: FileConfig{
			Extension:      options.GetString("EXPORT_FILE_EXTENSION"),
			Disk:           options.GetString("EXPORT_FILE_DISK"),
			Directory:      options.GetString("EXPORT_FILE_DIRECTORY"),
			NameFormat:     options.GetString("EXPORT_FILE_NAME_FORMAT"),
			DatetimeFormat: options.GetString("EXPORT_FILE_DATETIME_FORMAT"),
			LocalRoot:      options.GetString("EXPORT_FILE_LOCAL_ROOT"),
			PublicURL:      options.GetString("EXPORT_FILE_PUBLIC_URL"),
		},
		Columns: ColumnsConfig{
			MaxDefault:    options.GetInt("EXPORT_COLUMNS_MAX_DEFAULT"),
			MaxSelectable: options.GetInt("EXPORT_COLUMNS_MAX_SELECTABLE"),
			MinRequired:   options.GetInt("EXPORT_COLUMNS_MIN_REQUIRED"),
		},
		Filters: FiltersConfig{
			DefaultFilters: options.GetStringSlice("EXPORT_DEFAULT_FILTERS"),
			FallbackNames:  options.GetStringSlice("EXPORT_FALLBACK_FILTERS"),
			RangeAliases:   DefaultRangeAliases(),
		},
		Queue: QueueConfig{
			Enabled:       options.GetBool("EXPORT_QUEUE_ENABLED"),
			Connection:    options.GetString("EXPORT_QUEUE_CONNECTION"),
			Name:          options.GetString("EXPORT_QUEUE_NAME"),
			Tries:         options.GetInt("EXPORT_QUEUE_TRIES"),
			Timeout:       options.GetDuration("EXPORT_QUEUE_TIMEOUT"),
			Backoff:       options.GetDuration("EXPORT_QUEUE_BACKOFF"),
			Workers:       options.GetInt("EXPORT_QUEUE_WORKERS"),
			RatePerSecond: options.GetFloat64("EXPORT_QUEUE_RATE"),
		},
		Notifications: NotificationsConfig{
			Channel:         options.GetString("EXPORT_NOTIFICATIONS_CHANNEL"),
			ShowSuccess:     options.GetBool("EXPORT_NOTIFY_SUCCESS"),
			ShowNoData:      options.GetBool("EXPORT_NOTIFY_NO_DATA"),
			ShowErrors:      options.GetBool("EXPORT_NOTIFY_ERRORS"),
			ShowQueued:      options.GetBool("EXPORT_NOTIFY_QUEUED"),
			ShowJobComplete: options.GetBool("EXPORT_NOTIFY_JOB_COMPLETE"),
			ShowJobFailed:   options.GetBool("EXPORT_NOTIFY_JOB_FAILED"),
		},
		Messages: Messages{
			Language:       options.GetString("EXPORT_LANGUAGE"),
			Yes:            options.GetString("EXPORT_MESSAGE_YES"),
			No:             options.GetString("EXPORT_MESSAGE_NO"),
			UndefinedTitle: options.GetString("EXPORT_MESSAGE_UNDEFINED_TITLE"),
		},
		FallbackColumns: DefaultFallbackColumns(),
		JanitorSchedule: options.GetString("EXPORT_JANITOR_SCHEDULE"),
	}

	database := options.GetString("database")

	if database == "pgsql" {
		cfg.DBConfig = dbConfig{
			User:     options.GetString("PGSQL_USER"),
			Password: options.GetString("PGSQL_PASSWORD"),
			Hostname: options.GetString("PGSQL_HOSTNAME"),
			Port:     options.GetString("PGSQL_PORT"),
			Name:     options.GetString("PGSQL_DATABASE"),
			SSLCfg: dbSSLConfig{
				SSLMode: "prefer",
			},
		}
	}

	cfg.KafkaConfig = kafkaConfig{
		KafkaBrokers:       options.GetStringSlice("KafkaBrokers"),
		KafkaGroupID:       options.GetString("KafkaGroupID"),
		ExportsTopic:       options.GetString("KafkaExportsTopic"),
		NotificationsTopic: options.GetString("KafkaNotificationsTopic"),
	}

	cfg.RedisConfig = redisConfig{
		Addr:     options.GetString("RedisAddr"),
		Password: options.GetString("RedisPassword"),
		DB:       options.GetInt("RedisDB"),
	}

	cfg.StorageConfig = storageConfig{
		Bucket:    options.GetString("MINIO_BUCKET"),
		Endpoint:  buildBaseHttpUrl(options.GetBool("MINIO_SSL"), options.GetString("MINIO_HOST"), options.GetInt("MINIO_PORT")),
		AccessKey: options.GetString("AWS_ACCESS_KEY"),
		SecretKey: options.GetString("AWS_SECRET_ACCESS_KEY"),
		UseSSL:    options.GetBool("MINIO_SSL"),
		Region:    options.GetString("AWS_REGION"),
		URLExpiry: options.GetDuration("StorageURLExpiry"),
	}

	if clowder.IsClowderEnabled() {
		ccfg := clowder.LoadedConfig

		cfg.PublicPort = *ccfg.PublicPort
		cfg.MetricsPort = ccfg.MetricsPort
		cfg.PrivatePort = *ccfg.PrivatePort

		cfg.DBConfig = dbConfig{
			User:     ccfg.Database.Username,
			Password: ccfg.Database.Password,
			Hostname: ccfg.Database.Hostname,
			Port:     fmt.Sprint(ccfg.Database.Port),
			Name:     ccfg.Database.Name,
			SSLCfg: dbSSLConfig{
				SSLMode: ccfg.Database.SslMode,
				RdsCa:   ccfg.Database.RdsCa,
			},
		}

		cfg.KafkaConfig.KafkaBrokers = clowder.KafkaServers
		if topic, ok := clowder.KafkaTopics[ExportTopic]; ok {
			cfg.KafkaConfig.ExportsTopic = topic.Name
		}
		if topic, ok := clowder.KafkaTopics[NotificationTopic]; ok {
			cfg.KafkaConfig.NotificationsTopic = topic.Name
		}
		broker := ccfg.Kafka.Brokers[0]
		if broker.Authtype != nil {
			caPath, err := ccfg.KafkaCa(broker)
			if err != nil {
				panic("Kafka CA failed to write")
			}
			cfg.KafkaConfig.KafkaSSLConfig = kafkaSSLConfig{
				KafkaUsername: *broker.Sasl.Username,
				KafkaPassword: *broker.Sasl.Password,
				SASLMechanism: "SCRAM-SHA-512",
				Protocol:      "sasl_ssl",
				KafkaCA:       caPath,
			}
		}

		bucket := cfg.StorageConfig.Bucket
		if b, ok := clowder.ObjectBuckets[bucket]; ok {
			cfg.StorageConfig.Bucket = b.RequestedName
		}
		if ccfg.ObjectStore != nil {
			store := ccfg.ObjectStore
			cfg.StorageConfig.Endpoint = buildBaseHttpUrl(store.Tls, store.Hostname, store.Port)
			cfg.StorageConfig.UseSSL = store.Tls
			if len(store.Buckets) > 0 && store.Buckets[0].AccessKey != nil {
				cfg.StorageConfig.AccessKey = *store.Buckets[0].AccessKey
				cfg.StorageConfig.SecretKey = *store.Buckets[0].SecretKey
			}
		}

		cfg.Logging = &loggingConfig{
			AccessKeyID:     ccfg.Logging.Cloudwatch.AccessKeyId,
			SecretAccessKey: ccfg.Logging.Cloudwatch.SecretAccessKey,
			LogGroup:        ccfg.Logging.Cloudwatch.LogGroup,
			Region:          ccfg.Logging.Cloudwatch.Region,
		}
	}

	return cfg
}

func buildBaseHttpUrl(tlsEnabled bool, hostname string, port int) string {
	protocol := "http"
	if tlsEnabled {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, hostname, port)
}

// DefaultFallbackColumns are used when an entity declares no export columns.
func DefaultFallbackColumns() []FallbackColumn {
	return []FallbackColumn{
		{Field: "id", Title: "ID"},
		{Field: "created_at", Title: "Created At"},
		{Field: "updated_at", Title: "Updated At"},
	}
}

func DefaultRangeAliases() []RangeAlias {
	return []RangeAlias{
		{From: "from", Until: "until"},
		{From: "created_from", Until: "created_until"},
		{From: "updated_from", Until: "updated_until"},
	}
}

// Validate reports configuration values that no export could work with.
func (c *ExportConfig) Validate() error {
	if c.Limits.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Limits.ChunkSize)
	}
	if c.Limits.MaxRecords <= 0 {
		return fmt.Errorf("max records must be positive, got %d", c.Limits.MaxRecords)
	}
	if c.Columns.MinRequired < 1 || c.Columns.MinRequired > c.Columns.MaxSelectable {
		return fmt.Errorf("invalid column bounds: min %d, max %d", c.Columns.MinRequired, c.Columns.MaxSelectable)
	}
	if c.Queue.Tries < 1 {
		return fmt.Errorf("queue tries must be at least 1, got %d", c.Queue.Tries)
	}
	switch c.Queue.Connection {
	case "kafka", "redis", "sync":
	default:
		return fmt.Errorf("unknown queue connection %q", c.Queue.Connection)
	}
	switch c.File.Disk {
	case "s3", "local":
	default:
		return fmt.Errorf("unknown file disk %q", c.File.Disk)
	}
	return nil
}
