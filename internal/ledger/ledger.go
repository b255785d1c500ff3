// Package ledger holds inventory batches as an immutable value and implements
// first-expired-first-out depletion over them.
//
// Every operation returns a new Ledger and leaves the receiver untouched, so a
// caller can compute a change, hand it to the remote store, and only then
// publish it.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/xid"
)

var (
	ErrUnknownBatch  = errors.New("unknown batch")
	ErrInvalidAmount = errors.New("invalid deduction amount")
)

// Ledger is the active set of batches. Batches with quantity 0 are never part
// of it. The zero value is an empty ledger.
type Ledger struct {
	batches []domain.InventoryBatch
}

func New(batches []domain.InventoryBatch) Ledger {
	active := make([]domain.InventoryBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Quantity > 0 {
			active = append(active, cloneBatch(batch))
		}
	}
	return Ledger{batches: active}
}

func (l Ledger) Len() int {
	return len(l.batches)
}

func (l Ledger) Batches() []domain.InventoryBatch {
	return l.copyBatches()
}

func (l Ledger) Batch(id string) (domain.InventoryBatch, bool) {
	for _, batch := range l.batches {
		if batch.ID == id {
			return cloneBatch(batch), true
		}
	}
	return domain.InventoryBatch{}, false
}

// TotalStock sums the quantity of every batch of productID at locationID.
func (l Ledger) TotalStock(productID string, locationID string) int {
	total := 0
	for _, batch := range l.batches {
		if batch.ProductID == productID && batch.LocationID == locationID {
			total += batch.Quantity
		}
	}
	return total
}

// Candidates returns the batches of productID at locationID in the order a
// deduction would consume them.
func (l Ledger) Candidates(productID string, locationID string) []domain.InventoryBatch {
	order := fefoOrder(l.batches, productID, locationID)
	out := make([]domain.InventoryBatch, 0, len(order))
	for _, idx := range order {
		out = append(out, cloneBatch(l.batches[idx]))
	}
	return out
}

// ApplyDeduction takes amount units from one batch. The amount must not
// exceed the batch quantity. A batch that reaches zero leaves the ledger.
func (l Ledger) ApplyDeduction(batchID string, amount int) (Ledger, error) {
	idx := l.indexOf(batchID)
	if idx < 0 {
		return l, fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	if amount < 0 || amount > l.batches[idx].Quantity {
		return l, fmt.Errorf("%w: %d of %d in batch %s", ErrInvalidAmount, amount, l.batches[idx].Quantity, batchID)
	}

	work := l.copyBatches()
	work[idx].Quantity -= amount
	return Ledger{batches: compact(work)}, nil
}

// ApplyAddition records a new batch line. It never merges into an existing
// batch, even one with the same product, location, cost and expiration.
func (l Ledger) ApplyAddition(productID string, locationID string, quantity int, costCents int64, expiration *time.Time) (Ledger, domain.InventoryBatch) {
	batch := domain.InventoryBatch{
		ID:             xid.New("batch"),
		ProductID:      productID,
		LocationID:     locationID,
		Quantity:       quantity,
		CostCents:      costCents,
		ExpirationDate: cloneTime(expiration),
		CreatedAt:      time.Now().UTC(),
	}
	return l.Put(batch), batch
}

// Put inserts batch, or replaces the batch with the same ID. A batch with a
// quantity of zero or less is removed instead.
func (l Ledger) Put(batch domain.InventoryBatch) Ledger {
	work := l.copyBatches()
	if idx := l.indexOf(batch.ID); idx >= 0 {
		work[idx] = cloneBatch(batch)
	} else {
		work = append(work, cloneBatch(batch))
	}
	return Ledger{batches: compact(work)}
}

// WithoutProduct drops every batch of productID, at every location.
func (l Ledger) WithoutProduct(productID string) Ledger {
	work := make([]domain.InventoryBatch, 0, len(l.batches))
	for _, batch := range l.batches {
		if batch.ProductID != productID {
			work = append(work, cloneBatch(batch))
		}
	}
	return Ledger{batches: work}
}

// Deduct consumes demand.Quantity units in FEFO order. When the ledger holds
// less than requested it takes what exists and reports the rest as Shortfall.
func (l Ledger) Deduct(demand domain.StockDemand) (Ledger, domain.StockDeduction) {
	next, results := l.DeductAll([]domain.StockDemand{demand})
	return next, results[0]
}

// DeductAll applies several demands on a single copy of the ledger.
func (l Ledger) DeductAll(demands []domain.StockDemand) (Ledger, []domain.StockDeduction) {
	work := l.copyBatches()
	results := make([]domain.StockDeduction, 0, len(demands))
	for _, demand := range demands {
		results = append(results, deductFEFO(work, demand))
	}
	return Ledger{batches: compact(work)}, results
}

// CompareExpiration orders two expiration dates ascending. A nil date means
// the batch never expires and sorts after every dated batch.
func CompareExpiration(a *time.Time, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func deductFEFO(work []domain.InventoryBatch, demand domain.StockDemand) domain.StockDeduction {
	result := domain.StockDeduction{Demand: demand, Allocations: []domain.BatchAllocation{}}
	if demand.Quantity <= 0 {
		return result
	}

	remaining := demand.Quantity
	for _, idx := range fefoOrder(work, demand.ProductID, demand.LocationID) {
		if remaining == 0 {
			break
		}
		batch := &work[idx]
		if batch.Quantity <= 0 {
			continue
		}
		take := min(remaining, batch.Quantity)
		batch.Quantity -= take
		remaining -= take
		result.Allocations = append(result.Allocations, domain.BatchAllocation{
			BatchID:        batch.ID,
			Quantity:       take,
			Remaining:      batch.Quantity,
			CostCents:      batch.CostCents,
			ExpirationDate: cloneTime(batch.ExpirationDate),
		})
	}
	result.Shortfall = remaining
	return result
}

func fefoOrder(batches []domain.InventoryBatch, productID string, locationID string) []int {
	order := make([]int, 0, 4)
	for idx, batch := range batches {
		if batch.ProductID == productID && batch.LocationID == locationID {
			order = append(order, idx)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return CompareExpiration(batches[a].ExpirationDate, batches[b].ExpirationDate)
	})
	return order
}

func (l Ledger) indexOf(batchID string) int {
	for idx, batch := range l.batches {
		if batch.ID == batchID {
			return idx
		}
	}
	return -1
}

func (l Ledger) copyBatches() []domain.InventoryBatch {
	out := make([]domain.InventoryBatch, len(l.batches))
	for idx, batch := range l.batches {
		out[idx] = cloneBatch(batch)
	}
	return out
}

func compact(batches []domain.InventoryBatch) []domain.InventoryBatch {
	return slices.DeleteFunc(batches, func(batch domain.InventoryBatch) bool {
		return batch.Quantity <= 0
	})
}

func cloneBatch(src domain.InventoryBatch) domain.InventoryBatch {
	dup := src
	dup.ExpirationDate = cloneTime(src.ExpirationDate)
	return dup
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	dup := *src
	return &dup
}
