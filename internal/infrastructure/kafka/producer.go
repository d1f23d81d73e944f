package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"chat-delivery/internal/rooms"

	"github.com/segmentio/kafka-go"
)

// Producer publishes room envelopes so sockets held by other processes see
// every broadcast.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
		// Optimize for low latency
		BatchSize:    1, // Send immediately, don't batch
		BatchTimeout: time.Millisecond,
		RequiredAcks: 1,     // Wait for leader acknowledgment only
		Async:        false, // Synchronous for immediate sending
	}
	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, env rooms.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		// Key by room so per-room ordering survives partitioning.
		Key:   []byte(env.Room),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("kafka: failed to publish envelope to topic %s: %v", p.topic, err)
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
