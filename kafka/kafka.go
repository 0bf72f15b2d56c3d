package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
)

var (
	messagesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_service_kafka_produced",
		Help: "Number of messages produced to kafka",
	}, []string{"topic"})
	messagePublishElapsed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "export_service_publish_seconds",
		Help: "Number of seconds spent writing kafka messages",
	}, []string{"topic"})
	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_service_kafka_produce_failures",
		Help: "Number of times a message was failed to be produced",
	}, []string{"topic"})
	messagesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_service_kafka_consumed",
		Help: "Number of messages consumed from kafka",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesPublished)
	prometheus.MustRegister(messagePublishElapsed)
	prometheus.MustRegister(publishFailures)
	prometheus.MustRegister(messagesConsumed)
}

// MessageProducer is the part of *kafka.Producer the service uses.
type MessageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// Producer writes messages and waits for their delivery report.
type Producer struct {
	MessageProducer
	Log *zap.SugaredLogger
}

// ConfigMap builds the librdkafka settings shared by producers and
// consumers, adding SASL when the broker requires it.
func ConfigMap(cfg *config.ExportConfig) *kafka.ConfigMap {
	brokers := strings.Join(cfg.KafkaConfig.KafkaBrokers, ",")
	kcfg := &kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         cfg.Hostname,
	}
	if cfg.KafkaConfig.KafkaSSLConfig.SASLMechanism != "" {
		ssl := cfg.KafkaConfig.KafkaSSLConfig
		_ = kcfg.SetKey("security.protocol", ssl.Protocol)
		_ = kcfg.SetKey("sasl.mechanism", ssl.SASLMechanism)
		_ = kcfg.SetKey("ssl.ca.location", ssl.KafkaCA)
		_ = kcfg.SetKey("sasl.username", ssl.KafkaUsername)
		_ = kcfg.SetKey("sasl.password", ssl.KafkaPassword)
	}
	return kcfg
}

func NewProducer(cfg *config.ExportConfig, log *zap.SugaredLogger) (*Producer, *kafka.Producer, error) {
	log.Infow("kafka producer configuration values",
		"client.id", cfg.Hostname,
		"bootstrap.servers", strings.Join(cfg.KafkaConfig.KafkaBrokers, ","),
		"exports_topic", cfg.KafkaConfig.ExportsTopic,
		"notifications_topic", cfg.KafkaConfig.NotificationsTopic,
	)
	p, err := kafka.NewProducer(ConfigMap(cfg))
	if err != nil {
		return nil, nil, err
	}
	return &Producer{MessageProducer: p, Log: log}, p, nil
}

// Publish produces msg and blocks until the broker acknowledged it or ctx
// ends.
func (p *Producer) Publish(ctx context.Context, msg *kafka.Message) error {
	topic := *msg.TopicPartition.Topic
	start := time.Now()
	delivery := make(chan kafka.Event, 1)

	if err := p.Produce(msg, delivery); err != nil {
		publishFailures.With(prometheus.Labels{"topic": topic}).Inc()
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}

	select {
	case e := <-delivery:
		messagePublishElapsed.With(prometheus.Labels{"topic": topic}).Observe(time.Since(start).Seconds())
		ev, ok := e.(*kafka.Message)
		if !ok {
			publishFailures.With(prometheus.Labels{"topic": topic}).Inc()
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if ev.TopicPartition.Error != nil {
			publishFailures.With(prometheus.Labels{"topic": topic}).Inc()
			p.Log.Errorw("error publishing to kafka", "topic", topic, "error", ev.TopicPartition.Error)
			return ev.TopicPartition.Error
		}
		messagesPublished.With(prometheus.Labels{"topic": topic}).Inc()
		p.Log.Debugw("delivered message", "topic_partition", ev.TopicPartition.String())
		return nil
	case <-ctx.Done():
		publishFailures.With(prometheus.Labels{"topic": topic}).Inc()
		return ctx.Err()
	}
}
