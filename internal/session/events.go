package session

import "github.com/omer3110/livecart-service/internal/domain"

type EventType string

const (
	EventJoined            EventType = "joined"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventSnapshotUpdated   EventType = "snapshot_updated"
	EventMutationRejected  EventType = "mutation_rejected"
	EventError             EventType = "error"
)

// Event is what the session fans out to participants. The transport
// serializes it as-is; the version field gives every participant a
// total order to detect missed updates.
type Event struct {
	Type           EventType            `json:"type"`
	UserID         string               `json:"user_id,omitempty"`
	Snapshot       *domain.CartSnapshot `json:"snapshot,omitempty"`
	Version        int64                `json:"version"`
	Reason         string               `json:"reason,omitempty"`
	Code           string               `json:"code,omitempty"`
	CurrentVersion int64                `json:"current_version,omitempty"`
}

// Conn is one participant's outbound half of the duplex channel. Send
// must not block the caller; an error marks the connection as too slow
// or already closed.
type Conn interface {
	Send(ev Event) error
	Close(reason string)
}
