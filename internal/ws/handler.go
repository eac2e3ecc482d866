package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/omer3110/livecart-service/internal/repository"
	"github.com/omer3110/livecart-service/internal/session"
)

type LiveCartHandler struct {
	registry *session.Registry
	upgrader websocket.Upgrader
	timeout  time.Duration
}

func NewLiveCartHandler(registry *session.Registry, timeout time.Duration) *LiveCartHandler {
	return &LiveCartHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced upstream by the gateway.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		timeout: timeout,
	}
}

type AddCollaboratorRequestDTO struct {
	CollaboratorUsername string `json:"collaborator_username"`
}

type CollaboratorDTO struct {
	Username  string    `json:"username"`
	GrantedAt time.Time `json:"granted_at"`
}

type ParticipantDTO struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type ParticipantsResponseDTO struct {
	Live         bool             `json:"live"`
	Participants []ParticipantDTO `json:"participants"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ServeLive is the "Live Mode" entry point: it upgrades to a websocket
// and joins (or opens) the cart's session. The owner's first connection
// activates live mode; collaborators attach to the same room.
func (h *LiveCartHandler) ServeLive(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cartID := chi.URLParam(r, "cart_id")
	if cartID == "" {
		respondError(w, http.StatusBadRequest, "invalid_cart_id", "cart_id is required")
		return
	}

	// Authorize before upgrading so a denied join is an ordinary HTTP
	// error and never creates a participant entry.
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	err := h.registry.Authorize(ctx, cartID, userID)
	cancel()
	if err != nil {
		handleRegistryError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed for cart %s: %v", cartID, err)
		return
	}

	c := newClient(conn)
	go c.writePump()

	handle, err := h.registry.OpenOrJoin(r.Context(), cartID, userID, c)
	if err != nil {
		// Lost a race with a revoke or a shutdown between the
		// pre-check and the join.
		c.Close(err.Error())
		return
	}

	h.readLoop(c, handle)
}

// readLoop owns the inbound half of the connection. Any exit path, an
// explicit leave included, routes through Handle.Leave: a connection is
// either registered or it is not.
func (h *LiveCartHandler) readLoop(c *client, handle *session.Handle) {
	defer func() {
		handle.Leave()
		c.Close("connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: connection %s dropped: %v", handle.ConnID(), err)
			}
			return
		}

		msg, err := decodeInbound(data)
		if err != nil {
			// Malformed payloads are rejected at the boundary and
			// never reach the merge engine.
			c.Send(session.Event{
				Type:   session.EventError,
				Code:   "schema_violation",
				Reason: err.Error(),
			})
			continue
		}

		switch msg.Type {
		case messageLeave:
			return
		case messageMutate:
			if err := handle.Mutate(msg.intent()); err != nil {
				return
			}
		}
	}
}

// AddCollaborator grants a user access to this cart's live sessions.
func (h *LiveCartHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cartID := chi.URLParam(r, "cart_id")

	var req AddCollaboratorRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.CollaboratorUsername == "" {
		respondError(w, http.StatusBadRequest, "invalid_username", "collaborator_username is required")
		return
	}

	if err := h.registry.AddCollaborator(ctx, cartID, req.CollaboratorUsername, userID); err != nil {
		handleRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"cart_id":               cartID,
		"collaborator_username": req.CollaboratorUsername,
	})
}

// RemoveCollaborator revokes a grant and disconnects the collaborator
// from any live session for the cart.
func (h *LiveCartHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cartID := chi.URLParam(r, "cart_id")
	username := chi.URLParam(r, "username")

	if err := h.registry.RevokeCollaborator(ctx, cartID, username, userID); err != nil {
		handleRegistryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ListCollaborators reports the cart's active grants to its owner.
func (h *LiveCartHandler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cartID := chi.URLParam(r, "cart_id")

	grants, err := h.registry.ListCollaborators(ctx, cartID, userID)
	if err != nil {
		handleRegistryError(w, err)
		return
	}

	resp := make([]CollaboratorDTO, 0, len(grants))
	for _, g := range grants {
		resp = append(resp, CollaboratorDTO{
			Username:  g.Username,
			GrantedAt: g.GrantedAt,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListParticipants reports who is connected to the cart's live session.
func (h *LiveCartHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cartID := chi.URLParam(r, "cart_id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	err := h.registry.Authorize(ctx, cartID, userID)
	cancel()
	if err != nil {
		handleRegistryError(w, err)
		return
	}

	resp := ParticipantsResponseDTO{Participants: []ParticipantDTO{}}
	if sess, ok := h.registry.SessionFor(cartID); ok {
		resp.Live = true
		for _, p := range sess.Participants() {
			resp.Participants = append(resp.Participants, ParticipantDTO{
				UserID: p.UserID,
				Role:   string(p.Role),
			})
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func getUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value("user_id").(string); ok {
		return userID
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: "",
	})
}

func handleRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotAuthorized):
		respondError(w, http.StatusForbidden, "not_authorized", "no access to this cart's session")
	case errors.Is(err, session.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "only the cart owner may manage collaborators")
	case errors.Is(err, session.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "unknown_user", "no user with that username")
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "cart_not_found", "cart does not exist")
	case errors.Is(err, repository.ErrGrantNotFound):
		respondError(w, http.StatusNotFound, "grant_not_found", "no such collaborator grant")
	case errors.Is(err, session.ErrSessionClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
