// Package events publishes conversation events to Kafka for the external
// notification collaborator. Publication always happens after persistence.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/models"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Producer{writer: w}
}

func (p *Producer) PublishMessageSent(ctx context.Context, m *models.Message) error {
	return p.publish(ctx, "message.sent", m)
}

func (p *Producer) PublishGroupEvent(ctx context.Context, m *models.Message) error {
	return p.publish(ctx, "group.updated", m)
}

func (p *Producer) publish(ctx context.Context, kind string, m *models.Message) error {
	value, err := json.Marshal(map[string]any{
		"kind":    kind,
		"message": m,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ConversationID),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error { return p.writer.Close() }
