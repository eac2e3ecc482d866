package repository

import (
	"context"

	"github.com/omer3110/livecart-service/internal/domain"
)

// CartRepository defines the interface for cart snapshot persistence.
// Consumers define this interface, not the MongoDB implementation.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (*domain.CartSnapshot, error)
	PersistCart(ctx context.Context, snapshot *domain.CartSnapshot) error
	ListCartIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// GrantRepository stores collaborator grants. A session only honors
// grants that have not been revoked.
type GrantRepository interface {
	CreateGrant(ctx context.Context, grant *domain.CollaboratorGrant) error
	GetGrant(ctx context.Context, cartID, userID string) (*domain.CollaboratorGrant, error)
	RevokeGrant(ctx context.Context, cartID, userID string) error
	ListGrants(ctx context.Context, cartID string) ([]domain.CollaboratorGrant, error)
}
