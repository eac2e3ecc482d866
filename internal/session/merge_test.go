package session

import (
	"testing"

	"github.com/omer3110/livecart-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(items ...domain.LineItem) *domain.CartSnapshot {
	return &domain.CartSnapshot{
		CartID:  "c1",
		OwnerID: "owner",
		Name:    "groceries",
		Items:   items,
		Version: 0,
	}
}

func setQty(productID string, qty int, base int64) domain.MutationIntent {
	return domain.MutationIntent{
		CartID:      "c1",
		ProductID:   productID,
		Op:          domain.OpSetQuantity,
		Value:       qty,
		BaseVersion: base,
	}
}

func removeItem(productID string, base int64) domain.MutationIntent {
	return domain.MutationIntent{
		CartID:      "c1",
		ProductID:   productID,
		Op:          domain.OpRemove,
		BaseVersion: base,
	}
}

func TestApplyIntent_VersionIncrementsByOne(t *testing.T) {
	snap := snapshotWith()
	tombs := make(tombstones)

	intents := []domain.MutationIntent{
		setQty("p1", 2, 0),
		setQty("p2", 1, 1),
		setQty("p1", 5, 2),
		removeItem("p2", 3),
	}

	for i, in := range intents {
		next, err := applyIntent(snap, tombs, in)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), next.Version)
		snap = next
	}
}

func TestApplyIntent_RemoveAbsentIsNoop(t *testing.T) {
	snap := snapshotWith(domain.LineItem{ProductID: "p1", Quantity: 2})
	tombs := make(tombstones)

	next, err := applyIntent(snap, tombs, removeItem("p9", 0))
	require.NoError(t, err)

	assert.Equal(t, snap.Items, next.Items)
	assert.Equal(t, int64(1), next.Version)
}

func TestApplyIntent_SetQuantityZeroEqualsRemove(t *testing.T) {
	base := snapshotWith(domain.LineItem{ProductID: "p1", Quantity: 2})

	viaZero, err := applyIntent(base, make(tombstones), setQty("p1", 0, 0))
	require.NoError(t, err)
	viaRemove, err := applyIntent(base, make(tombstones), removeItem("p1", 0))
	require.NoError(t, err)

	assert.Equal(t, viaRemove.Items, viaZero.Items)
	assert.Equal(t, viaRemove.Version, viaZero.Version)
	assert.Empty(t, viaZero.Items)
}

func TestApplyIntent_DisjointProductsBothLand(t *testing.T) {
	// Two participants, both at version 0, touching different products.
	// Arrival order must not matter for the final contents.
	run := func(first, second domain.MutationIntent) *domain.CartSnapshot {
		snap := snapshotWith()
		tombs := make(tombstones)
		next, err := applyIntent(snap, tombs, first)
		require.NoError(t, err)
		next, err = applyIntent(next, tombs, second)
		require.NoError(t, err)
		return next
	}

	a := setQty("p1", 3, 0)
	b := setQty("p2", 7, 0)

	ab := run(a, b)
	ba := run(b, a)

	require.Equal(t, int64(2), ab.Version)
	require.Equal(t, int64(2), ba.Version)
	for _, snap := range []*domain.CartSnapshot{ab, ba} {
		require.Len(t, snap.Items, 2)
		assert.Equal(t, 3, snap.Items[snap.ItemIndex("p1")].Quantity)
		assert.Equal(t, 7, snap.Items[snap.ItemIndex("p2")].Quantity)
	}
}

func TestApplyIntent_StaleWriteReappliedLastWriterWins(t *testing.T) {
	snap := snapshotWith(domain.LineItem{ProductID: "p1", Quantity: 2})
	tombs := make(tombstones)

	next, err := applyIntent(snap, tombs, setQty("p1", 3, 0))
	require.NoError(t, err)

	// Behind the current version but the item still exists: the write
	// lands against the current snapshot.
	next, err = applyIntent(next, tombs, setQty("p1", 9, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, 9, next.Items[0].Quantity)
}

func TestApplyIntent_RejectsWriteBehindRemoval(t *testing.T) {
	snap := snapshotWith(domain.LineItem{ProductID: "p1", Name: "milk", Quantity: 2})
	tombs := make(tombstones)

	// Another participant advances the cart, then deletes p1 having
	// seen version 1.
	next, err := applyIntent(snap, tombs, setQty("p2", 1, 0))
	require.NoError(t, err)
	next, err = applyIntent(next, tombs, removeItem("p1", 1))
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Version)

	// A writer still at version 0 never saw the state the deleter
	// acted on; its write must not resurrect the item.
	_, err = applyIntent(next, tombs, setQty("p1", 7, 0))
	assert.ErrorIs(t, err, ErrStaleMutation)
	assert.Equal(t, int64(2), next.Version)
}

func TestApplyIntent_ConcurrentSameBaseReaddWins(t *testing.T) {
	// Remove and set issued from the same observed version are
	// concurrent peers: the later arrival wins and the item comes back
	// with its original display data.
	snap := snapshotWith(domain.LineItem{
		ProductID: "p1",
		Name:      "milk",
		Quantity:  3,
		Prices:    []domain.PriceRef{{BrandName: "acme", Price: 2.5}},
	})
	snap.Version = 1
	tombs := make(tombstones)

	next, err := applyIntent(snap, tombs, removeItem("p1", 1))
	require.NoError(t, err)
	require.Empty(t, next.Items)

	next, err = applyIntent(next, tombs, setQty("p1", 5, 1))
	require.NoError(t, err)

	require.Len(t, next.Items, 1)
	assert.Equal(t, 5, next.Items[0].Quantity)
	assert.Equal(t, "milk", next.Items[0].Name)
	assert.Equal(t, "acme", next.Items[0].Prices[0].BrandName)
}

func TestApplyIntent_UnknownOpRejected(t *testing.T) {
	snap := snapshotWith()
	_, err := applyIntent(snap, make(tombstones), domain.MutationIntent{
		ProductID:   "p1",
		Op:          domain.Op("merge"),
		BaseVersion: 0,
	})
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestApplyIntent_DoesNotMutateInput(t *testing.T) {
	snap := snapshotWith(domain.LineItem{ProductID: "p1", Quantity: 2})
	tombs := make(tombstones)

	_, err := applyIntent(snap, tombs, setQty("p1", 9, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, int64(0), snap.Version)
}

func TestApplyIntent_InsertKeepsOrder(t *testing.T) {
	snap := snapshotWith()
	tombs := make(tombstones)

	var err error
	for i, p := range []string{"p3", "p1", "p2"} {
		snap, err = applyIntent(snap, tombs, setQty(p, 1, int64(i)))
		require.NoError(t, err)
	}

	require.Len(t, snap.Items, 3)
	assert.Equal(t, "p3", snap.Items[0].ProductID)
	assert.Equal(t, "p1", snap.Items[1].ProductID)
	assert.Equal(t, "p2", snap.Items[2].ProductID)
}

// Walks the full collaboration script from the owner/collaborator
// example end to end.
func TestApplyIntent_CollaborationScript(t *testing.T) {
	snap := snapshotWith(domain.LineItem{ProductID: "p1", Name: "milk", Quantity: 2})
	tombs := make(tombstones)

	// Owner bumps quantity.
	snap, err := applyIntent(snap, tombs, setQty("p1", 3, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, 3, snap.Items[0].Quantity)

	// Collaborator removes the item at version 1.
	snap, err = applyIntent(snap, tombs, removeItem("p1", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Empty(t, snap.Items)

	// Owner, still at version 1, re-adds concurrently with the
	// removal; last writer wins.
	snap, err = applyIntent(snap, tombs, setQty("p1", 5, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 5, snap.Items[0].Quantity)
	assert.Equal(t, "milk", snap.Items[0].Name)
}
