package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omer3110/livecart-service/internal/auth"
	"github.com/omer3110/livecart-service/internal/cache"
	"github.com/omer3110/livecart-service/internal/domain"
	"github.com/omer3110/livecart-service/internal/identity"
	"github.com/omer3110/livecart-service/internal/repository"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotAuthorized = errors.New("not authorized to join this cart")
	ErrForbidden     = errors.New("only the cart owner may manage collaborators")
	ErrUnknownUser   = errors.New("unknown user")
	ErrSessionClosed = errors.New("session closed")
)

// EventPublisher receives session lifecycle notifications. Publishing
// failures never affect session state.
type EventPublisher interface {
	SessionStarted(ctx context.Context, cartID, ownerID string)
	SessionFlushed(ctx context.Context, cartID string, version int64)
	CollaboratorAdded(ctx context.Context, cartID, userID, grantedBy string)
	CollaboratorRevoked(ctx context.Context, cartID, userID string)
}

type Config struct {
	IdleTimeout   time.Duration
	FlushAttempts int
	FlushBackoff  time.Duration
}

func (c *Config) withDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.FlushAttempts <= 0 {
		c.FlushAttempts = 3
	}
	if c.FlushBackoff <= 0 {
		c.FlushBackoff = time.Second
	}
}

// Registry tracks live sessions keyed by cart identity. It is the only
// writer of session membership; every view of "who is connected" goes
// through it. Created once at process start and injected where needed.
type Registry struct {
	carts    repository.CartRepository
	grants   repository.GrantRepository
	identity identity.Resolver
	cache    cache.SnapshotCache
	gate     *auth.Gate
	events   EventPublisher
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	sfg     singleflight.Group
	flushWG sync.WaitGroup
}

func NewRegistry(
	carts repository.CartRepository,
	grants repository.GrantRepository,
	resolver identity.Resolver,
	snapshots cache.SnapshotCache,
	gate *auth.Gate,
	events EventPublisher,
	cfg Config,
) *Registry {
	cfg.withDefaults()
	return &Registry{
		carts:    carts,
		grants:   grants,
		identity: resolver,
		cache:    snapshots,
		gate:     gate,
		events:   events,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Handle is a participant's grip on its session: mutation submission
// and leaving, nothing else.
type Handle struct {
	registry *Registry
	session  *Session
	p        *Participant
}

func (h *Handle) CartID() string { return h.session.cartID }
func (h *Handle) UserID() string { return h.p.UserID }
func (h *Handle) ConnID() string { return h.p.ConnID }

func (h *Handle) Mutate(intent domain.MutationIntent) error {
	intent.CartID = h.session.cartID
	intent.SenderConnID = h.p.ConnID
	return h.session.submit(intentEnvelope{
		intent: intent,
		userID: h.p.UserID,
		conn:   h.p.conn,
	})
}

func (h *Handle) Leave() {
	h.registry.Leave(h.session.cartID, h.p.ConnID)
}

// Authorize answers whether a user may join a cart's session without
// attaching anything, for pre-upgrade HTTP checks.
func (r *Registry) Authorize(ctx context.Context, cartID, userID string) error {
	snap, err := r.lookupSnapshot(ctx, cartID)
	if err != nil {
		return err
	}
	if !r.gate.CanJoin(ctx, snap, userID) {
		return ErrNotAuthorized
	}
	return nil
}

// OpenOrJoin creates the session for the cart if none is live, seeding
// it from storage, or attaches the requester to the existing one. The
// returned handle is registered only after the gate admits the user: a
// denied join leaves no participant entry behind.
func (r *Registry) OpenOrJoin(ctx context.Context, cartID, userID string, conn Conn) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	sess, live := r.sessions[cartID]
	r.mu.Unlock()

	var snap *domain.CartSnapshot
	if live {
		snap = sess.currentSnapshot()
	} else {
		fetched, err := r.fetchSnapshot(ctx, cartID)
		if err != nil {
			return nil, err
		}
		snap = fetched
	}

	if !r.gate.CanJoin(ctx, snap, userID) {
		return nil, ErrNotAuthorized
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	sess, live = r.sessions[cartID]
	if !live {
		// Each session starts its own version sequence; participants
		// only compare versions within one session.
		seed := snap.Clone()
		seed.Version = 0
		sess = newSession(cartID, seed, r.gate)
		r.sessions[cartID] = sess
		r.events.SessionStarted(ctx, cartID, seed.OwnerID)
	}

	p := &Participant{
		UserID: userID,
		ConnID: uuid.New().String(),
		Role:   r.gate.Role(sess.currentSnapshot(), userID),
		conn:   conn,
	}
	sess.attach(p)
	r.mu.Unlock()

	return &Handle{registry: r, session: sess, p: p}, nil
}

// Leave removes the participant. When the room empties, an idle timer
// starts; if nobody rejoins before it fires, the session flushes its
// snapshot to storage and is discarded. Rejoining cancels the timer.
func (r *Registry) Leave(cartID, connID string) {
	r.mu.Lock()
	sess, ok := r.sessions[cartID]
	if !ok {
		r.mu.Unlock()
		return
	}

	remaining, removed := sess.detach(connID)
	if removed && remaining == 0 && !r.closed {
		sess.mu.Lock()
		if sess.idleTimer != nil {
			sess.idleTimer.Stop()
		}
		sess.idleTimer = time.AfterFunc(r.cfg.IdleTimeout, func() {
			r.reapIfIdle(cartID, sess)
		})
		sess.mu.Unlock()
	}
	r.mu.Unlock()
}

// AddCollaborator grants a user, looked up by username, access to the
// cart's sessions. Owner only. A live session honors the grant
// immediately because the gate reads grants on every check.
func (r *Registry) AddCollaborator(ctx context.Context, cartID, username, requesterID string) error {
	snap, err := r.lookupSnapshot(ctx, cartID)
	if err != nil {
		return err
	}
	if snap.OwnerID != requesterID {
		return ErrForbidden
	}

	userID, err := r.identity.ResolveUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrUnknownUser
		}
		return fmt.Errorf("resolve collaborator: %w", err)
	}

	grant := &domain.CollaboratorGrant{
		CartID:    cartID,
		UserID:    userID,
		Username:  username,
		GrantedBy: requesterID,
	}
	if err := r.grants.CreateGrant(ctx, grant); err != nil {
		return fmt.Errorf("create grant: %w", err)
	}

	r.events.CollaboratorAdded(ctx, cartID, userID, requesterID)
	return nil
}

// RevokeCollaborator removes the grant and force-disconnects any of the
// collaborator's live connections to that cart.
func (r *Registry) RevokeCollaborator(ctx context.Context, cartID, username, requesterID string) error {
	snap, err := r.lookupSnapshot(ctx, cartID)
	if err != nil {
		return err
	}
	if snap.OwnerID != requesterID {
		return ErrForbidden
	}

	userID, err := r.identity.ResolveUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrUnknownUser
		}
		return fmt.Errorf("resolve collaborator: %w", err)
	}

	if err := r.grants.RevokeGrant(ctx, cartID, userID); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}

	r.mu.Lock()
	sess, live := r.sessions[cartID]
	r.mu.Unlock()
	if live {
		for _, conn := range sess.connsOf(userID) {
			conn.Close("access revoked")
		}
	}

	r.events.CollaboratorRevoked(ctx, cartID, userID)
	return nil
}

// ListCollaborators returns the cart's active grants. Owner only.
func (r *Registry) ListCollaborators(ctx context.Context, cartID, requesterID string) ([]domain.CollaboratorGrant, error) {
	snap, err := r.lookupSnapshot(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if snap.OwnerID != requesterID {
		return nil, ErrForbidden
	}

	grants, err := r.grants.ListGrants(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// SessionFor exposes the live session for a cart, if any.
func (r *Registry) SessionFor(cartID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[cartID]
	return sess, ok
}

// CloseOwnedBy ends every live session for carts owned by the user,
// disconnecting participants and flushing snapshots. Used when a
// checkout consumes the user's carts.
func (r *Registry) CloseOwnedBy(ctx context.Context, ownerID string) {
	r.mu.Lock()
	var owned []*Session
	for _, sess := range r.sessions {
		if sess.currentSnapshot().OwnerID == ownerID {
			owned = append(owned, sess)
		}
	}
	for _, sess := range owned {
		delete(r.sessions, sess.cartID)
	}
	r.mu.Unlock()

	for _, sess := range owned {
		r.teardown(sess)
	}

	// The checkout consumed the user's carts upstream, so any cached
	// snapshot of theirs is stale, live session or not.
	ids, err := r.carts.ListCartIDsByOwner(ctx, ownerID)
	if err != nil {
		log.Printf("registry: listing carts for %s failed: %v", ownerID, err)
		return
	}
	for _, id := range ids {
		if errDel := r.cache.Delete(ctx, id); errDel != nil {
			log.Printf("registry: cache invalidate failed for cart %s: %v", id, errDel)
		}
	}
}

// Shutdown flushes every live session and waits for background flushes
// to finish.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		live = append(live, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range live {
		r.teardown(sess)
	}

	done := make(chan struct{})
	go func() {
		r.flushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("registry: shutdown context expired before all flushes finished")
	}
}

func (r *Registry) reapIfIdle(cartID string, sess *Session) {
	r.mu.Lock()
	current, ok := r.sessions[cartID]
	if !ok || current != sess || sess.participantCount() > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, cartID)
	r.mu.Unlock()

	r.teardown(sess)
}

// teardown stops the session loop and flushes the final snapshot off
// the hot path.
func (r *Registry) teardown(sess *Session) {
	sess.mu.Lock()
	if sess.idleTimer != nil {
		sess.idleTimer.Stop()
		sess.idleTimer = nil
	}
	conns := make([]Conn, 0, len(sess.participants))
	for _, p := range sess.participants {
		conns = append(conns, p.conn)
	}
	sess.mu.Unlock()

	for _, conn := range conns {
		conn.Close("session ended")
	}

	sess.close()

	snapshot := sess.currentSnapshot()
	r.flushWG.Add(1)
	go func() {
		defer r.flushWG.Done()
		r.flush(sess.cartID, snapshot)
	}()
}

// flush persists the final snapshot with bounded retries. The snapshot
// stays in hand until persistence succeeds or the retry budget is
// spent, at which point it is abandoned by policy and logged.
func (r *Registry) flush(cartID string, snapshot *domain.CartSnapshot) {
	backoff := r.cfg.FlushBackoff
	for attempt := 1; attempt <= r.cfg.FlushAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.carts.PersistCart(ctx, snapshot)
		cancel()
		if err == nil {
			if errDel := r.cache.Delete(context.Background(), cartID); errDel != nil {
				log.Printf("registry: cache invalidate failed for cart %s: %v", cartID, errDel)
			}
			r.events.SessionFlushed(context.Background(), cartID, snapshot.Version)
			return
		}

		log.Printf("registry: flush attempt %d for cart %s failed: %v", attempt, cartID, err)
		if attempt < r.cfg.FlushAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	log.Printf("registry: abandoning flush for cart %s after %d attempts", cartID, r.cfg.FlushAttempts)
}

// lookupSnapshot prefers the live session's authoritative snapshot and
// falls back to storage.
func (r *Registry) lookupSnapshot(ctx context.Context, cartID string) (*domain.CartSnapshot, error) {
	r.mu.Lock()
	sess, live := r.sessions[cartID]
	r.mu.Unlock()
	if live {
		return sess.currentSnapshot(), nil
	}
	return r.fetchSnapshot(ctx, cartID)
}

// fetchSnapshot loads a cart through the cache, collapsing concurrent
// misses for the same cart with singleflight.
func (r *Registry) fetchSnapshot(ctx context.Context, cartID string) (*domain.CartSnapshot, error) {
	v, err, _ := r.sfg.Do(cartID, func() (interface{}, error) {
		snap, err := r.cache.Get(ctx, cartID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("registry: cache get error: %v", err)
		}

		snap, err = r.carts.GetCart(ctx, cartID)
		if err != nil {
			return nil, err
		}

		go func() {
			if errSet := r.cache.Set(context.Background(), cartID, snap); errSet != nil {
				log.Printf("registry: cache set error: %v", errSet)
			}
		}()

		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CartSnapshot), nil
}
