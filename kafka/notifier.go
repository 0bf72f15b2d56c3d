package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/redhatinsights/spreadsheet-export-service/notify"
)

// Notifier publishes notifications on the notifications topic, keyed by
// owner.
type Notifier struct {
	Publisher interface {
		Publish(ctx context.Context, msg *kafka.Message) error
	}
	Topic string
}

type notificationEvent struct {
	notify.Notification
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	payload, err := json.Marshal(notificationEvent{
		Notification: note,
		Level:        note.Level(),
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	key := note.Owner.OrgID + "/" + note.Owner.UserID
	return n.Publisher.Publish(ctx, newMessage(n.Topic, key, payload, KafkaHeader{Event: string(note.Event)}))
}
