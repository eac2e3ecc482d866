package cache

import (
	"context"
	"errors"

	"github.com/omer3110/livecart-service/internal/domain"
)

type SnapshotCache interface {
	Get(ctx context.Context, cartID string) (*domain.CartSnapshot, error)
	Set(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error
	Delete(ctx context.Context, cartID string) error
}

var ErrCacheMiss = errors.New("cache miss")
