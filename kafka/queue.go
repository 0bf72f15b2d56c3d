package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
)

const pollTimeout = time.Second

// Queue publishes export jobs on the exports topic.
type Queue struct {
	Publisher interface {
		Publish(ctx context.Context, msg *kafka.Message) error
	}
	Topic string
}

func (q *Queue) Enqueue(ctx context.Context, m jobs.Message) error {
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	msg := newMessage(q.Topic, m.JobUUID.String(), payload, KafkaHeader{RequestID: m.RequestID})
	if err := q.Publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", m.JobUUID, err)
	}
	return nil
}

// MessageReader is the part of *kafka.Consumer the service uses.
type MessageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// Consumer reads export jobs from the exports topic. Offsets are committed
// automatically, so a job is delivered at most once per consumer group;
// the janitor fails jobs lost to a crash.
type Consumer struct {
	Reader MessageReader
	Topic  string
	Log    *zap.SugaredLogger
}

func NewConsumer(cfg *config.ExportConfig, log *zap.SugaredLogger) (*Consumer, *kafka.Consumer, error) {
	kcfg := ConfigMap(cfg)
	_ = kcfg.SetKey("group.id", cfg.KafkaConfig.KafkaGroupID)
	_ = kcfg.SetKey("auto.offset.reset", "earliest")

	c, err := kafka.NewConsumer(kcfg)
	if err != nil {
		return nil, nil, err
	}
	topic := cfg.KafkaConfig.ExportsTopic
	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	log.Infow("kafka consumer subscribed", "topic", topic, "group.id", cfg.KafkaConfig.KafkaGroupID)
	return &Consumer{Reader: c, Topic: topic, Log: log}, c, nil
}

// Receive polls until a job arrives or ctx ends.
func (c *Consumer) Receive(ctx context.Context) (jobs.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return jobs.Message{}, err
		}
		msg, err := c.Reader.ReadMessage(pollTimeout)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			return jobs.Message{}, fmt.Errorf("failed to read from %s: %w", c.Topic, err)
		}
		messagesConsumed.With(prometheus.Labels{"topic": c.Topic}).Inc()

		m, err := jobs.Decode(msg.Value)
		if err != nil {
			return jobs.Message{}, err
		}
		if m.RequestID == "" {
			m.RequestID = headerValue(msg, "x-rh-insights-request-id")
		}
		return m, nil
	}
}
