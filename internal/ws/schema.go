package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omer3110/livecart-service/internal/domain"
)

const (
	messageMutate = "mutate"
	messageLeave  = "leave"
)

// inboundMessage is the versioned wire schema for client events.
// Required fields are pointers so "absent" and "zero" stay
// distinguishable during validation.
type inboundMessage struct {
	Type        string            `json:"type"`
	ProductID   string            `json:"product_id,omitempty"`
	Op          string            `json:"op,omitempty"`
	Value       *int              `json:"value,omitempty"`
	BaseVersion *int64            `json:"base_version,omitempty"`
	Name        string            `json:"name,omitempty"`
	Prices      []domain.PriceRef `json:"prices,omitempty"`
}

func decodeInbound(data []byte) (*inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.New("malformed JSON payload")
	}

	switch msg.Type {
	case messageLeave:
		return &msg, nil
	case messageMutate:
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	if msg.ProductID == "" {
		return nil, errors.New("mutate requires product_id")
	}
	if msg.BaseVersion == nil || *msg.BaseVersion < 0 {
		return nil, errors.New("mutate requires a non-negative base_version")
	}

	switch domain.Op(msg.Op) {
	case domain.OpSetQuantity:
		if msg.Value == nil || *msg.Value < 0 {
			return nil, errors.New("set_quantity requires a non-negative value")
		}
	case domain.OpRemove:
	default:
		return nil, fmt.Errorf("unknown op %q", msg.Op)
	}

	return &msg, nil
}

func (m *inboundMessage) intent() domain.MutationIntent {
	in := domain.MutationIntent{
		ProductID:   m.ProductID,
		Op:          domain.Op(m.Op),
		BaseVersion: *m.BaseVersion,
		Name:        m.Name,
		Prices:      m.Prices,
	}
	if m.Value != nil {
		in.Value = *m.Value
	}
	return in
}
