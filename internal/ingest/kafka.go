// Package ingest consumes order-status events and turns each into an
// enqueued notification. It is the event-driven alternative to the HTTP
// enqueue endpoint; the storefront's checkout flow publishes here.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	kgo "github.com/segmentio/kafka-go"

	"storefront-notifier/internal/models"
	"storefront-notifier/internal/queue"
)

// OrderEvent is the wire format published by the order-status flow.
type OrderEvent struct {
	StoreID  string              `json:"store_id"`
	OrderID  string              `json:"order_id"`
	Kind     string              `json:"kind"`
	Priority *int                `json:"priority,omitempty"`
	Payload  models.OrderPayload `json:"payload"`
}

// Consumer reads order events from Kafka and enqueues notification jobs.
type Consumer struct {
	reader  *kgo.Reader
	manager *queue.Manager
}

func NewConsumer(brokers, topic, groupID string, manager *queue.Manager) *Consumer {
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        strings.Split(brokers, ","),
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	return &Consumer{reader: r, manager: manager}
}

func (c *Consumer) Close() error { return c.reader.Close() }

// Run consumes until the context is cancelled. Malformed events are committed
// and skipped so the partition never wedges; enqueue failures leave the
// message uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err
		}

		var event OrderEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Printf("ingest: skipping malformed event at offset %d: %v", m.Offset, err)
			_ = c.reader.CommitMessages(ctx, m)
			continue
		}

		priority := models.PriorityNormal
		if event.Priority != nil {
			priority = *event.Priority
		}
		job, err := c.manager.Enqueue(ctx, queue.EnqueueParams{
			StoreID:  event.StoreID,
			OrderID:  event.OrderID,
			Kind:     event.Kind,
			Payload:  event.Payload,
			Priority: priority,
		})
		if err != nil {
			log.Printf("ingest: enqueue for order %s: %v", event.OrderID, err)
			if isInvalid(err) {
				// Structurally bad event; redelivery cannot fix it.
				_ = c.reader.CommitMessages(ctx, m)
			}
			continue
		}

		log.Printf("ingest: enqueued job %s for order %s", job.ID, event.OrderID)
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("ingest: commit offset %d: %v", m.Offset, err)
		}
	}
}

func isInvalid(err error) bool {
	return strings.Contains(err.Error(), "required")
}
