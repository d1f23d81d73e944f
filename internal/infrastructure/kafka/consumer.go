package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"chat-delivery/internal/rooms"

	"github.com/segmentio/kafka-go"
)

// Consumer feeds remote room envelopes into the local router. The consumer
// group id is unique per process: the room topic is a broadcast feed, and a
// shared group would partition it across instances instead of delivering
// every envelope to every instance.
type Consumer struct {
	reader *kafka.Reader
	router *rooms.Router
}

func NewConsumer(brokers []string, topic string, router *rooms.Router) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        "chat-delivery-" + router.Origin(),
		MinBytes:       1,                      // Read immediately, don't wait for batches
		MaxBytes:       10e6,                   // 10MB max
		CommitInterval: 100 * time.Millisecond, // Commit every 100ms instead of 1s
		StartOffset:    kafka.LastOffset,
		MaxWait:        100 * time.Millisecond, // Max wait 100ms for new data
	})
	return &Consumer{reader: reader, router: router}
}

func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered from panic in Kafka consumer goroutine: %v", r)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				log.Printf("Kafka room consumer stopping...")
				return
			default:
				m, err := c.reader.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Error reading Kafka message: %v", err)
					continue
				}
				c.handleMessage(m.Value)
			}
		}
	}()

	return nil
}

func (c *Consumer) handleMessage(value []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling room envelope: %v", r)
		}
	}()

	var env rooms.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		log.Printf("Error unmarshaling room envelope: %v", err)
		return
	}
	c.router.HandleEnvelope(env)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
