package kafka

import (
	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const application = "spreadsheet-export-service"

type KafkaHeader struct {
	Application string `json:"application"`
	RequestID   string `json:"x-rh-insights-request-id"`
	Event       string `json:"event"`
}

// ToHeader converts the KafkaHeader into a confluent kafka
// header
func (kh KafkaHeader) ToHeader() []kafka.Header {
	result := []kafka.Header{
		{Key: "application", Value: []byte(kh.Application)},
	}
	if kh.RequestID != "" {
		result = append(result, kafka.Header{Key: "x-rh-insights-request-id", Value: []byte(kh.RequestID)})
	}
	if kh.Event != "" {
		result = append(result, kafka.Header{Key: "event", Value: []byte(kh.Event)})
	}
	return result
}

// newMessage builds a message for topic keyed by key, so that all messages
// of one job or owner land on the same partition.
func newMessage(topic, key string, value []byte, header KafkaHeader) *kafka.Message {
	header.Application = application
	t := topic
	return &kafka.Message{
		Headers: header.ToHeader(),
		TopicPartition: kafka.TopicPartition{
			Topic:     &t,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: value,
	}
}

func headerValue(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
