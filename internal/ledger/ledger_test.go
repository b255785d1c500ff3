package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/backend/internal/domain"
)

func date(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return &parsed
}

func batch(id string, qty int, exp *time.Time) domain.InventoryBatch {
	return domain.InventoryBatch{ID: id, ProductID: "P1", LocationID: "L1", Quantity: qty, ExpirationDate: exp}
}

func TestDeductFEFODropsDepletedBatch(t *testing.T) {
	l := New([]domain.InventoryBatch{
		batch("B", 5, date(t, "2025-06-01")),
		batch("A", 3, date(t, "2025-01-01")),
	})

	next, result := l.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 4})

	require.Equal(t, 0, result.Shortfall)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, "A", result.Allocations[0].BatchID)
	assert.Equal(t, 3, result.Allocations[0].Quantity)
	assert.Equal(t, 0, result.Allocations[0].Remaining)
	assert.Equal(t, "B", result.Allocations[1].BatchID)
	assert.Equal(t, 1, result.Allocations[1].Quantity)

	_, ok := next.Batch("A")
	assert.False(t, ok, "depleted batch must leave the active set")
	b, ok := next.Batch("B")
	require.True(t, ok)
	assert.Equal(t, 4, b.Quantity)
	assert.Equal(t, 4, next.TotalStock("P1", "L1"))
}

func TestDeductLeavesReceiverUntouched(t *testing.T) {
	l := New([]domain.InventoryBatch{batch("A", 3, date(t, "2025-01-01"))})

	next, _ := l.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 2})

	assert.Equal(t, 3, l.TotalStock("P1", "L1"))
	assert.Equal(t, 1, next.TotalStock("P1", "L1"))
}

func TestFEFOOrderingProperty(t *testing.T) {
	base := New([]domain.InventoryBatch{
		batch("D3", 7, date(t, "2025-03-01")),
		batch("D1", 2, date(t, "2025-01-01")),
		batch("D2", 4, date(t, "2025-02-01")),
	})

	t.Run("within first batch", func(t *testing.T) {
		next, _ := base.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 2})
		_, ok := next.Batch("D1")
		assert.False(t, ok)
		d2, _ := next.Batch("D2")
		d3, _ := next.Batch("D3")
		assert.Equal(t, 4, d2.Quantity)
		assert.Equal(t, 7, d3.Quantity)

		next, _ = base.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 1})
		d1, _ := next.Batch("D1")
		assert.Equal(t, 1, d1.Quantity)
	})

	t.Run("spills into second batch", func(t *testing.T) {
		next, _ := base.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 5})
		_, ok := next.Batch("D1")
		assert.False(t, ok)
		d2, _ := next.Batch("D2")
		d3, _ := next.Batch("D3")
		assert.Equal(t, 1, d2.Quantity)
		assert.Equal(t, 7, d3.Quantity)
	})
}

func TestUndatedBatchesSortLast(t *testing.T) {
	l := New([]domain.InventoryBatch{
		batch("forever", 5, nil),
		batch("dated", 5, date(t, "2030-01-01")),
	})

	candidates := l.Candidates("P1", "L1")
	require.Len(t, candidates, 2)
	assert.Equal(t, "dated", candidates[0].ID)
	assert.Equal(t, "forever", candidates[1].ID)
}

func TestDeductIsDeterministicOnTies(t *testing.T) {
	same := date(t, "2025-05-05")
	l := New([]domain.InventoryBatch{
		batch("first", 2, same),
		batch("second", 2, same),
		batch("third", 2, same),
	})

	for i := 0; i < 20; i++ {
		_, result := l.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 3})
		require.Len(t, result.Allocations, 2)
		assert.Equal(t, "first", result.Allocations[0].BatchID)
		assert.Equal(t, "second", result.Allocations[1].BatchID)
	}
}

func TestDeductOverDemandIsBestEffort(t *testing.T) {
	l := New([]domain.InventoryBatch{batch("A", 2, nil)})

	next, result := l.Deduct(domain.StockDemand{ProductID: "P1", LocationID: "L1", Quantity: 5})

	assert.Equal(t, 3, result.Shortfall)
	assert.Equal(t, 0, next.TotalStock("P1", "L1"))
	assert.Equal(t, 0, next.Len())
}

func TestTotalStockMatchesBatchSum(t *testing.T) {
	l := New([]domain.InventoryBatch{
		batch("A", 2, nil),
		batch("B", 3, nil),
		{ID: "C", ProductID: "P1", LocationID: "L2", Quantity: 10},
		{ID: "D", ProductID: "P2", LocationID: "L1", Quantity: 10},
		{ID: "E", ProductID: "P1", LocationID: "L1", Quantity: 0},
	})

	assert.Equal(t, 5, l.TotalStock("P1", "L1"))
	assert.Equal(t, 0, l.TotalStock("missing", "L1"))
	assert.Equal(t, 4, l.Len(), "zero quantity batches are not active")

	next, results := l.DeductAll([]domain.StockDemand{
		{ProductID: "P1", LocationID: "L1", Quantity: 4},
		{ProductID: "P2", LocationID: "L1", Quantity: 11},
	})
	require.Len(t, results, 2)
	for _, b := range next.Batches() {
		assert.GreaterOrEqual(t, b.Quantity, 0)
	}
	assert.Equal(t, 1, next.TotalStock("P1", "L1"))
	assert.Equal(t, 10, next.TotalStock("P1", "L2"))
	assert.Equal(t, 1, results[1].Shortfall)
}

func TestApplyDeductionValidatesAmount(t *testing.T) {
	l := New([]domain.InventoryBatch{batch("A", 2, nil)})

	_, err := l.ApplyDeduction("A", 3)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.ApplyDeduction("missing", 1)
	assert.ErrorIs(t, err, ErrUnknownBatch)

	next, err := l.ApplyDeduction("A", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, next.Len())
	assert.Equal(t, 2, l.TotalStock("P1", "L1"))
}

func TestApplyAdditionNeverMerges(t *testing.T) {
	exp := date(t, "2026-01-01")
	l := New([]domain.InventoryBatch{{ID: "A", ProductID: "P1", LocationID: "L1", Quantity: 2, CostCents: 100, ExpirationDate: exp}})

	next, added := l.ApplyAddition("P1", "L1", 3, 100, exp)

	assert.NotEqual(t, "A", added.ID)
	assert.Equal(t, 2, next.Len())
	assert.Equal(t, 5, next.TotalStock("P1", "L1"))
	assert.Equal(t, 1, l.Len())
}

func TestWithoutProduct(t *testing.T) {
	l := New([]domain.InventoryBatch{
		batch("A", 2, nil),
		{ID: "B", ProductID: "P2", LocationID: "L1", Quantity: 1},
	})

	next := l.WithoutProduct("P1")

	assert.Equal(t, 0, next.TotalStock("P1", "L1"))
	assert.Equal(t, 1, next.TotalStock("P2", "L1"))
}
