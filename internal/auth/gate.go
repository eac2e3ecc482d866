package auth

import (
	"context"
	"errors"
	"log"

	"github.com/omer3110/livecart-service/internal/domain"
	"github.com/omer3110/livecart-service/internal/repository"
)

// GrantReader is the slice of the grant store the gate needs.
type GrantReader interface {
	GetGrant(ctx context.Context, cartID, userID string) (*domain.CollaboratorGrant, error)
}

// Gate makes pure join/mutate decisions. It holds no session state and
// is re-checked on every mutation intent, so revoking a grant takes
// effect mid-session.
type Gate struct {
	grants GrantReader
}

func NewGate(grants GrantReader) *Gate {
	return &Gate{grants: grants}
}

func (g *Gate) CanJoin(ctx context.Context, snapshot *domain.CartSnapshot, userID string) bool {
	return g.allowed(ctx, snapshot, userID)
}

func (g *Gate) CanMutate(ctx context.Context, snapshot *domain.CartSnapshot, userID string) bool {
	return g.allowed(ctx, snapshot, userID)
}

// Role reports the role userID would hold in the cart's session.
func (g *Gate) Role(snapshot *domain.CartSnapshot, userID string) domain.Role {
	if snapshot.OwnerID == userID {
		return domain.RoleOwner
	}
	return domain.RoleCollaborator
}

func (g *Gate) allowed(ctx context.Context, snapshot *domain.CartSnapshot, userID string) bool {
	if userID == "" {
		return false
	}
	if snapshot.OwnerID == userID {
		return true
	}

	grant, err := g.grants.GetGrant(ctx, snapshot.CartID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrGrantNotFound) {
			log.Printf("gate: grant lookup failed for cart %s user %s: %v", snapshot.CartID, userID, err)
		}
		return false
	}

	return !grant.Revoked()
}
