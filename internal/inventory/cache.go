// Package inventory owns the terminal's copy of the batch ledger. Stock
// leaves the ledger in two phases: a reservation holds units back from the
// cart guard, and a commit runs the FEFO deduction once the sale is accepted.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/metrics"
	"tiendapos/backend/internal/xid"
)

var ErrUnknownReservation = errors.New("unknown reservation")

type Reservation struct {
	ID        string               `json:"id"`
	Demands   []domain.StockDemand `json:"demands"`
	CreatedAt time.Time            `json:"created_at"`
}

type Cache struct {
	mu           sync.Mutex
	current      ledger.Ledger
	loaded       bool
	reservations map[string]Reservation
	local        localstore.Store
	logger       *slog.Logger
	now          func() time.Time
}

func NewCache(local localstore.Store, logger *slog.Logger) *Cache {
	if local == nil {
		local = localstore.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		reservations: make(map[string]Reservation),
		local:        local,
		logger:       logger.With("component", "inventory"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Restore loads the batches a previous run persisted locally.
func (c *Cache) Restore(ctx context.Context) error {
	batches, err := localstore.All[domain.InventoryBatch](ctx, c.local, localstore.CollectionInventory)
	if err != nil {
		return fmt.Errorf("restore inventory: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ledger.New(batches)
	c.loaded = c.loaded || len(batches) > 0
	return nil
}

// Replace swaps the whole ledger, typically with the remote store's batches.
func (c *Cache) Replace(ctx context.Context, batches []domain.InventoryBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx, ledger.New(batches))
}

// Rebase swaps the ledger for batches and deducts outstanding from it, the
// demands of sales this terminal recorded that batches do not reflect yet.
// Units short in batches are ignored.
func (c *Cache) Rebase(ctx context.Context, batches []domain.InventoryBatch, outstanding []domain.StockDemand) error {
	next, _ := ledger.New(batches).DeductAll(outstanding)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx, next)
}

// Loaded reports whether the cache ever received stock data. An empty but
// loaded cache means the terminal knows it holds no stock.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Cache) Snapshot() ledger.Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Cache) TotalStock(productID string, locationID string) int {
	return c.Snapshot().TotalStock(productID, locationID)
}

// Available is the stock minus the units held by open reservations.
func (c *Cache) Available(productID string, locationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	available := c.current.TotalStock(productID, locationID) - c.reservedLocked(productID, locationID)
	return max(0, available)
}

func (c *Cache) Reserve(demands []domain.StockDemand) Reservation {
	reservation := Reservation{
		ID:        xid.New("rsv"),
		Demands:   append([]domain.StockDemand(nil), demands...),
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.reservations[reservation.ID] = reservation
	metrics.ActiveReservations.Set(float64(len(c.reservations)))
	c.mu.Unlock()
	return reservation
}

// Commit deducts the reserved demands from the current ledger in FEFO order
// and drops the reservation.
func (c *Cache) Commit(ctx context.Context, reservationID string) ([]domain.StockDeduction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reservation, ok := c.reservations[reservationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	delete(c.reservations, reservationID)
	metrics.ActiveReservations.Set(float64(len(c.reservations)))

	return c.deductLocked(ctx, reservation.Demands), nil
}

// Release drops a reservation without touching stock. It reports whether the
// reservation was still open.
func (c *Cache) Release(reservationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.reservations[reservationID]
	delete(c.reservations, reservationID)
	metrics.ActiveReservations.Set(float64(len(c.reservations)))
	return ok
}

// Deduct runs a FEFO deduction right away, without a reservation.
func (c *Cache) Deduct(ctx context.Context, demands []domain.StockDemand) []domain.StockDeduction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deductLocked(ctx, demands)
}

// Put adds a batch or replaces the batch with the same ID.
func (c *Cache) Put(ctx context.Context, batch domain.InventoryBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx, c.current.Put(batch))
}

func (c *Cache) RemoveProduct(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx, c.current.WithoutProduct(productID))
}

// Sweep releases reservations older than ttl and returns how many it dropped.
func (c *Cache) Sweep(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	released := 0
	for id, reservation := range c.reservations {
		if reservation.CreatedAt.Before(cutoff) {
			delete(c.reservations, id)
			released++
		}
	}
	if released > 0 {
		c.logger.Warn("released stale reservations", "count", released, "ttl", ttl)
	}
	metrics.ActiveReservations.Set(float64(len(c.reservations)))
	return released
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, ttl time.Duration, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ttl)
		}
	}
}

func (c *Cache) deductLocked(ctx context.Context, demands []domain.StockDemand) []domain.StockDeduction {
	next, results := c.current.DeductAll(demands)
	for _, result := range results {
		if result.Shortfall > 0 {
			metrics.StockShortfall.Add(float64(result.Shortfall))
			c.logger.Warn("deduction exceeded cached stock",
				"product_id", result.Demand.ProductID,
				"location_id", result.Demand.LocationID,
				"shortfall", result.Shortfall,
			)
		}
	}
	if err := c.publish(ctx, next); err != nil {
		c.logger.Warn("failed to persist inventory", "error", err)
	}
	return results
}

func (c *Cache) reservedLocked(productID string, locationID string) int {
	reserved := 0
	for _, reservation := range c.reservations {
		for _, demand := range reservation.Demands {
			if demand.ProductID == productID && demand.LocationID == locationID {
				reserved += demand.Quantity
			}
		}
	}
	return reserved
}

// publish makes next the current ledger and mirrors the difference into the
// local store. The in-memory ledger is replaced even when persisting fails.
func (c *Cache) publish(ctx context.Context, next ledger.Ledger) error {
	prev := c.current
	c.current = next
	c.loaded = true

	before := make(map[string]domain.InventoryBatch, prev.Len())
	for _, batch := range prev.Batches() {
		before[batch.ID] = batch
	}

	var errs []error
	for _, batch := range next.Batches() {
		old, existed := before[batch.ID]
		delete(before, batch.ID)
		if existed && sameBatch(old, batch) {
			continue
		}
		if err := c.local.Put(ctx, localstore.CollectionInventory, batch.ID, batch); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range before {
		if err := c.local.Delete(ctx, localstore.CollectionInventory, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sameBatch(a domain.InventoryBatch, b domain.InventoryBatch) bool {
	if a.Quantity != b.Quantity || a.CostCents != b.CostCents || a.ProductID != b.ProductID || a.LocationID != b.LocationID {
		return false
	}
	return ledger.CompareExpiration(a.ExpirationDate, b.ExpirationDate) == 0 && (a.ExpirationDate == nil) == (b.ExpirationDate == nil)
}
