// Package webhooks delivers domain events to a configured HTTP endpoint,
// at least once per the retry policy and never more than that guarantees:
// after the attempts are exhausted the event is dropped, with no dead-letter
// persistence. Operators relying on webhooks must treat them as best effort.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"chat-delivery/internal/config"
	"chat-delivery/internal/metrics"

	"github.com/google/uuid"
)

// Event is one outbound webhook payload. The id stays stable across retry
// attempts so receivers can dedupe.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// DeliveryAttempt is the outcome of one POST; it only informs retry
// decisions and operator logs, it is never persisted.
type DeliveryAttempt struct {
	EventID    string
	Attempt    int
	StatusCode int // zero when no response was received
	Success    bool
	Err        error
}

type Dispatcher struct {
	cfg    config.WebhookConfig
	client *http.Client
	sleep  func(time.Duration)

	mu         sync.Mutex
	queue      []Event
	processing bool
	wg         sync.WaitGroup
}

func NewDispatcher(cfg config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  time.Sleep,
	}
}

// Emit queues one event and kicks the drain loop. It returns once queued;
// delivery happens asynchronously and callers must not assume it succeeded.
// With webhooks unconfigured or the type outside the allow-list, Emit is a
// complete no-op.
func (d *Dispatcher) Emit(eventType string, data map[string]interface{}) {
	if !d.shouldSend(eventType) {
		return
	}

	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	d.mu.Lock()
	d.queue = append(d.queue, event)
	kick := !d.processing
	if kick {
		d.processing = true
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if kick {
		go d.drain()
	}
}

// Wait blocks until the queue drains. Shutdown and tests use it; regular
// callers never should.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// QueueLen reports the number of undelivered events.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) shouldSend(eventType string) bool {
	if !d.cfg.Enabled || d.cfg.URL == "" || d.cfg.Secret == "" {
		return false
	}
	if len(d.cfg.Events) == 0 {
		return true
	}
	for _, allowed := range d.cfg.Events {
		if allowed == eventType {
			return true
		}
	}
	return false
}

// drain is the single in-flight delivery loop: one event at a time, in
// enqueue order, so a retry storm on one event cannot fan out.
func (d *Dispatcher) drain() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		event := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliverWithRetry(event)
	}
}

func (d *Dispatcher) deliverWithRetry(event Event) {
	attempts := d.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		result := d.deliver(event, attempt)
		if result.Success {
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		log.Printf("webhook: delivery attempt %d/%d for event %s (%s) failed: status=%d err=%v",
			attempt, attempts, event.ID, event.Type, result.StatusCode, result.Err)
		if attempt < attempts {
			d.sleep(d.cfg.Backoff * (1 << (attempt - 1)))
		}
	}
	metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
	log.Printf("webhook: dropping event %s (%s) after %d attempts", event.ID, event.Type, attempts)
}

func (d *Dispatcher) deliver(event Event, attempt int) DeliveryAttempt {
	result := DeliveryAttempt{EventID: event.ID, Attempt: attempt}

	payload, err := json.Marshal(event)
	if err != nil {
		result.Err = err
		return result
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		result.Err = err
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(payload, d.cfg.Secret))
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Id", event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	return result
}
