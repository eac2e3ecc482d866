package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

// Publisher emits session lifecycle events to the livecart-events
// topic, keyed by cart_id for per-cart ordering. Publishing is
// fire-and-forget: failures are logged, never surfaced to sessions.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "livecart-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}
}

func (p *Publisher) Close() {
	if err := p.writer.Close(); err != nil {
		log.Printf("error closing kafka writer: %v", err)
	}
}

func (p *Publisher) SessionStarted(ctx context.Context, cartID, ownerID string) {
	p.publish(cartID, "session_started", map[string]interface{}{
		"cart_id":  cartID,
		"owner_id": ownerID,
	})
}

func (p *Publisher) SessionFlushed(ctx context.Context, cartID string, version int64) {
	p.publish(cartID, "session_flushed", map[string]interface{}{
		"cart_id": cartID,
		"version": version,
	})
}

func (p *Publisher) CollaboratorAdded(ctx context.Context, cartID, userID, grantedBy string) {
	p.publish(cartID, "collaborator_added", map[string]interface{}{
		"cart_id":    cartID,
		"user_id":    userID,
		"granted_by": grantedBy,
	})
}

func (p *Publisher) CollaboratorRevoked(ctx context.Context, cartID, userID string) {
	p.publish(cartID, "collaborator_revoked", map[string]interface{}{
		"cart_id": cartID,
		"user_id": userID,
	})
}

// publish writes asynchronously so callers holding session locks are
// never blocked on the broker.
func (p *Publisher) publish(cartID, eventType string, payload map[string]interface{}) {
	payload["occurred_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	value, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", eventType, err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(cartID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			log.Printf("failed to publish %s event for cart %s: %v", eventType, cartID, err)
		}
	}()
}
