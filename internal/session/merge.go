package session

import (
	"errors"

	"github.com/omer3110/livecart-service/internal/domain"
)

var (
	ErrStaleMutation = errors.New("item removed concurrently")
	ErrUnknownOp     = errors.New("unknown mutation op")
)

// tombstone remembers a removed line item so a concurrent re-add can
// restore its display data, and the version the remover had observed
// when it deleted the item.
type tombstone struct {
	item       domain.LineItem
	removeBase int64
}

type tombstones map[string]tombstone

// applyIntent applies one mutation intent against the authoritative
// snapshot and returns the resulting snapshot. Conflict policy is
// last-writer-wins per field: a stale intent (baseVersion behind the
// current version) is re-applied against the current snapshot. The one
// exception: an intent targeting a product that was removed by a
// mutation based on a strictly newer version than the intent's own base
// fails with ErrStaleMutation, so an intentional delete is not
// resurrected by a writer who had fallen behind the deleter. Writers at
// the same base are concurrent and the last one wins. setQuantity with
// value <= 0 behaves exactly like remove, and removing an absent item
// is a no-op. Every accepted intent increments the version by 1.
func applyIntent(snap *domain.CartSnapshot, tombs tombstones, in domain.MutationIntent) (*domain.CartSnapshot, error) {
	if in.Op != domain.OpSetQuantity && in.Op != domain.OpRemove {
		return nil, ErrUnknownOp
	}

	if in.BaseVersion < snap.Version && snap.ItemIndex(in.ProductID) < 0 {
		if t, ok := tombs[in.ProductID]; ok && t.removeBase > in.BaseVersion {
			return nil, ErrStaleMutation
		}
	}

	next := snap.Clone()

	remove := in.Op == domain.OpRemove || in.Value <= 0
	if remove {
		if i := next.ItemIndex(in.ProductID); i >= 0 {
			tombs[in.ProductID] = tombstone{item: next.Items[i], removeBase: in.BaseVersion}
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
		}
	} else {
		upsertItem(next, tombs, in)
		delete(tombs, in.ProductID)
	}

	next.Version++
	return next, nil
}

func upsertItem(snap *domain.CartSnapshot, tombs tombstones, in domain.MutationIntent) {
	if i := snap.ItemIndex(in.ProductID); i >= 0 {
		snap.Items[i].Quantity = in.Value
		return
	}

	item := domain.LineItem{
		ProductID: in.ProductID,
		Name:      in.Name,
		Quantity:  in.Value,
		Prices:    in.Prices,
	}

	// Re-adding a removed product keeps its original display data
	// unless the intent carries fresh data.
	if t, ok := tombs[in.ProductID]; ok {
		if item.Name == "" {
			item.Name = t.item.Name
		}
		if len(item.Prices) == 0 {
			item.Prices = t.item.Prices
		}
	}

	snap.Items = append(snap.Items, item)
}
