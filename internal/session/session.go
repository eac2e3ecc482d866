package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/omer3110/livecart-service/internal/auth"
	"github.com/omer3110/livecart-service/internal/domain"
)

const gateCheckTimeout = 2 * time.Second

type Participant struct {
	UserID string
	ConnID string
	Role   domain.Role
	conn   Conn
}

// Session is one live room for one cart. The authoritative snapshot is
// owned by the run loop: intents for the same cart are applied one at a
// time in arrival order, which is what makes the version counter and
// last-writer-wins resolution well-defined. Membership is written only
// by the Registry.
type Session struct {
	cartID string
	gate   *auth.Gate

	mu           sync.RWMutex
	participants map[string]*Participant
	snapshot     *domain.CartSnapshot
	createdAt    time.Time
	lastActivity time.Time
	idleTimer    *time.Timer

	intents chan intentEnvelope
	done    chan struct{}
	once    sync.Once
	loopWG  sync.WaitGroup

	tombs tombstones
}

type intentEnvelope struct {
	intent domain.MutationIntent
	userID string
	conn   Conn
}

func newSession(cartID string, snapshot *domain.CartSnapshot, gate *auth.Gate) *Session {
	now := time.Now()
	s := &Session{
		cartID:       cartID,
		gate:         gate,
		participants: make(map[string]*Participant),
		snapshot:     snapshot,
		createdAt:    now,
		lastActivity: now,
		intents:      make(chan intentEnvelope, 64),
		done:         make(chan struct{}),
		tombs:        make(tombstones),
	}

	s.loopWG.Add(1)
	go s.run()
	return s
}

// run serializes all mutation application for this cart. An in-flight
// merge always completes before the loop observes shutdown.
func (s *Session) run() {
	defer s.loopWG.Done()
	for {
		select {
		case env := <-s.intents:
			s.apply(env)
		case <-s.done:
			// Drain anything already queued so accepted intents are
			// reflected in the flushed snapshot.
			for {
				select {
				case env := <-s.intents:
					s.apply(env)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) apply(env intentEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), gateCheckTimeout)
	defer cancel()

	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	// The gate is re-checked per intent, not only at join, so a grant
	// revoked mid-session stops mutations immediately.
	if !s.gate.CanMutate(ctx, snap, env.userID) {
		s.sendTo(env.conn, Event{
			Type:           EventMutationRejected,
			Reason:         "not authorized",
			CurrentVersion: snap.Version,
		})
		return
	}

	next, err := applyIntent(snap, s.tombs, env.intent)
	if err != nil {
		s.sendTo(env.conn, Event{
			Type:           EventMutationRejected,
			Reason:         err.Error(),
			CurrentVersion: snap.Version,
		})
		return
	}

	s.mu.Lock()
	s.snapshot = next
	s.lastActivity = time.Now()
	s.mu.Unlock()

	// Everyone gets the authoritative echo, the originator included:
	// its optimistic local state reconciles against this, it is never
	// assumed correct.
	s.broadcast(Event{
		Type:     EventSnapshotUpdated,
		Snapshot: next,
		Version:  next.Version,
	})
}

func (s *Session) submit(env intentEnvelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.intents <- env:
		return nil
	}
}

// attach registers a participant and emits the join events. Caller is
// the Registry, which serializes membership writes.
func (s *Session) attach(p *Participant) {
	s.mu.Lock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.participants[p.ConnID] = p
	snap := s.snapshot
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.sendTo(p.conn, Event{
		Type:     EventJoined,
		UserID:   p.UserID,
		Snapshot: snap,
		Version:  snap.Version,
	})
	s.broadcastExcept(p.ConnID, Event{
		Type:    EventParticipantJoined,
		UserID:  p.UserID,
		Version: snap.Version,
	})
}

// detach removes a participant and reports how many remain. Caller is
// the Registry.
func (s *Session) detach(connID string) (remaining int, removed bool) {
	s.mu.Lock()
	p, ok := s.participants[connID]
	if ok {
		delete(s.participants, connID)
	}
	remaining = len(s.participants)
	version := s.snapshot.Version
	s.mu.Unlock()

	if !ok {
		return remaining, false
	}

	s.broadcast(Event{
		Type:    EventParticipantLeft,
		UserID:  p.UserID,
		Version: version,
	})
	return remaining, true
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.loopWG.Wait()
}

// currentSnapshot is safe to call any time; after close it returns the
// final authoritative state.
func (s *Session) currentSnapshot() *domain.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Session) participantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// Participants returns the current membership for display purposes.
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

func (s *Session) connsOf(userID string) []Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conns []Conn
	for _, p := range s.participants {
		if p.UserID == userID {
			conns = append(conns, p.conn)
		}
	}
	return conns
}

func (s *Session) broadcast(ev Event) {
	s.broadcastExcept("", ev)
}

func (s *Session) broadcastExcept(skipConnID string, ev Event) {
	s.mu.RLock()
	targets := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.ConnID != skipConnID {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if err := p.conn.Send(ev); err != nil {
			// A slow or dead connection only loses its own delivery;
			// closing it routes through the normal leave path.
			log.Printf("session %s: dropping connection %s: %v", s.cartID, p.ConnID, err)
			p.conn.Close("slow consumer")
		}
	}
}

func (s *Session) sendTo(conn Conn, ev Event) {
	if err := conn.Send(ev); err != nil {
		log.Printf("session %s: send failed: %v", s.cartID, err)
	}
}
