// Package events publishes persisted chat messages to Kafka so other
// services can consume the conversation stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

// EventMessageSent is the value of the "event" header on every record.
const EventMessageSent = "message.sent"

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageEvent is the JSON record value.
type MessageEvent struct {
	MessageID         string    `json:"messageId"`
	Group             string    `json:"group"`
	SenderUsername    string    `json:"senderUsername"`
	RecipientUsername string    `json:"recipientUsername"`
	Content           string    `json:"content"`
	SentAt            time.Time `json:"sentAt"`
	Read              bool      `json:"read"`
	Timestamp         int64     `json:"timestamp"`
}

// KafkaPublisher implements messaging.Publisher. Records are keyed by
// conversation group so one conversation stays on one partition.
type KafkaPublisher struct {
	writer Writer
}

var _ messaging.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds an asynchronous kafka.Writer for topic. Delivery
// failures are reported to the log by the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka_delivery_failed", "topic", topic, "count", len(msgs), "error", err)
			}
		},
	}
	logger.Info("kafka_publisher_ready", "brokers", brokers, "topic", topic)
	return NewPublisher(w), nil
}

// NewPublisher wraps an existing writer.
func NewPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// PublishMessage implements messaging.Publisher.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, groupName string, m messaging.Message) error {
	value, err := json.Marshal(MessageEvent{
		MessageID:         m.ID,
		Group:             groupName,
		SenderUsername:    m.SenderUsername,
		RecipientUsername: m.RecipientUsername,
		Content:           m.Content,
		SentAt:            m.SentAt,
		Read:              m.ReadAt != nil,
		Timestamp:         m.SentAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(groupName),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(EventMessageSent)}},
		Time:    m.SentAt,
	})
}

// Close flushes pending records and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
