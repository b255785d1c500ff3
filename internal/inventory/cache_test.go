package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/localstore"
)

func seededCache(t *testing.T) (*Cache, *localstore.Memory) {
	t.Helper()
	local := localstore.NewMemory()
	c := NewCache(local, nil)
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Replace(context.Background(), []domain.InventoryBatch{
		{ID: "A", ProductID: "P1", LocationID: "L1", Quantity: 3, ExpirationDate: &exp},
		{ID: "B", ProductID: "P1", LocationID: "L1", Quantity: 5},
	}))
	return c, local
}

func TestReservationHoldsStockUntilCommit(t *testing.T) {
	c, _ := seededCache(t)
	ctx := context.Background()

	r := c.Reserve([]domain.StockDemand{{ProductID: "P1", LocationID: "L1", Quantity: 4}})
	assert.Equal(t, 4, c.Available("P1", "L1"))
	assert.Equal(t, 8, c.TotalStock("P1", "L1"))

	results, err := c.Commit(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Allocations[0].BatchID)
	assert.Equal(t, 4, c.TotalStock("P1", "L1"))
	assert.Equal(t, 4, c.Available("P1", "L1"))

	_, err = c.Commit(ctx, r.ID)
	assert.ErrorIs(t, err, ErrUnknownReservation)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	c, _ := seededCache(t)

	r := c.Reserve([]domain.StockDemand{{ProductID: "P1", LocationID: "L1", Quantity: 8}})
	assert.Equal(t, 0, c.Available("P1", "L1"))

	assert.True(t, c.Release(r.ID))
	assert.False(t, c.Release(r.ID))
	assert.Equal(t, 8, c.Available("P1", "L1"))
	assert.Equal(t, 8, c.TotalStock("P1", "L1"))
}

func TestSweepDropsStaleReservations(t *testing.T) {
	c, _ := seededCache(t)
	now := time.Now().UTC()
	c.now = func() time.Time { return now }
	c.Reserve([]domain.StockDemand{{ProductID: "P1", LocationID: "L1", Quantity: 2}})

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, 0, c.Sweep(5*time.Minute))
	assert.Equal(t, 1, c.Sweep(time.Minute))
	assert.Equal(t, 8, c.Available("P1", "L1"))
}

func TestCommitPersistsLedgerLocally(t *testing.T) {
	c, local := seededCache(t)
	ctx := context.Background()

	r := c.Reserve([]domain.StockDemand{{ProductID: "P1", LocationID: "L1", Quantity: 4}})
	_, err := c.Commit(ctx, r.ID)
	require.NoError(t, err)

	restored := NewCache(local, nil)
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.Loaded())
	assert.Equal(t, 4, restored.TotalStock("P1", "L1"))

	var gone domain.InventoryBatch
	assert.ErrorIs(t, local.Get(ctx, localstore.CollectionInventory, "A", &gone), localstore.ErrNotFound)
}

func TestRemoveProductAndPut(t *testing.T) {
	c, _ := seededCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, domain.InventoryBatch{ID: "C", ProductID: "P2", LocationID: "L1", Quantity: 1}))
	require.NoError(t, c.RemoveProduct(ctx, "P1"))

	assert.Equal(t, 0, c.TotalStock("P1", "L1"))
	assert.Equal(t, 1, c.TotalStock("P2", "L1"))
}

func TestEmptyCacheIsNotLoaded(t *testing.T) {
	c := NewCache(localstore.NewMemory(), nil)
	require.NoError(t, c.Restore(context.Background()))
	assert.False(t, c.Loaded())
}

func TestRebaseKeepsOutstandingSalesDeducted(t *testing.T) {
	c, local := seededCache(t)
	ctx := context.Background()
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.Rebase(ctx, []domain.InventoryBatch{
		{ID: "A", ProductID: "P1", LocationID: "L1", Quantity: 3, ExpirationDate: &exp},
		{ID: "B", ProductID: "P1", LocationID: "L1", Quantity: 5},
	}, []domain.StockDemand{
		{ProductID: "P1", LocationID: "L1", Quantity: 4},
		{ProductID: "P9", LocationID: "L1", Quantity: 1},
	}))

	assert.Equal(t, 4, c.TotalStock("P1", "L1"))
	_, ok := c.Snapshot().Batch("A")
	assert.False(t, ok, "oldest batch consumed first")

	restored := NewCache(local, nil)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 4, restored.TotalStock("P1", "L1"))
}
