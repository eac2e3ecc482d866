package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// SessionCloser is the slice of the registry the poller needs.
type SessionCloser interface {
	CloseOwnedBy(ctx context.Context, ownerID string)
}

// Poller consumes checkout completion events and ends live sessions for
// the purchasing user's carts: a cart that was just bought is no longer
// a meaningful room.
type Poller struct {
	registry SessionCloser
	reader   *kafka.Reader
}

func NewPoller(registry SessionCloser, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "checkout-outbox",
		GroupID:  "livecart-service",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{registry, reader}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.processMessage(ctx)
	}
}

func (p *Poller) Close() {
	err := p.reader.Close()
	if err != nil {
		fmt.Printf("error closing reader: %v\n", err)
	}
}

func (p *Poller) processMessage(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Printf("error reading message: %v\n", err)
		return
	}

	var payload map[string]interface{}
	if errUnMarshal := json.Unmarshal(m.Value, &payload); errUnMarshal != nil {
		fmt.Printf("error parsing message: %v\n", errUnMarshal)
		return
	}
	userID, ok := payload["user_id"].(string)
	if !ok {
		fmt.Println("missing or invalid user_id")
		return
	}

	p.registry.CloseOwnedBy(ctx, userID)
}
