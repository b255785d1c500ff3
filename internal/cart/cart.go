package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/localstore"
)

// SessionKey is the local store key under which the open cart survives a
// restart of the terminal.
const SessionKey = "current_cart"

type StockSource interface {
	Available(productID string, locationID string) int
	Loaded() bool
}

// Cart is the line list of the checkout in progress. Every mutation is
// mirrored into the local store.
type Cart struct {
	mu         sync.Mutex
	lines      []domain.CartLine
	locationID string
	stock      StockSource
	local      localstore.Store
	logger     *slog.Logger
}

func New(locationID string, stock StockSource, local localstore.Store, logger *slog.Logger) *Cart {
	if local == nil {
		local = localstore.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cart{
		lines:      []domain.CartLine{},
		locationID: locationID,
		stock:      stock,
		local:      local,
		logger:     logger.With("component", "cart"),
	}
}

// Restore reloads the lines saved by an interrupted session. A missing
// snapshot leaves the cart empty.
func (c *Cart) Restore(ctx context.Context) error {
	var lines []domain.CartLine
	err := c.local.Get(ctx, localstore.CollectionCarts, SessionKey, &lines)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = slices.DeleteFunc(lines, func(line domain.CartLine) bool {
		return line.Quantity <= 0
	})
	return nil
}

// AddItem adds one unit of product. The add is rejected, with a warning in
// the log, when the cart already holds every unit available at the cart's
// location.
func (c *Cart) AddItem(ctx context.Context, product domain.Product) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(product.ID)
	inCart := 0
	if idx >= 0 {
		inCart = c.lines[idx].Quantity
	}

	if c.stock != nil && c.stock.Loaded() {
		available := c.stock.Available(product.ID, c.locationID)
		if inCart >= available {
			c.logger.Warn("add rejected by stock limit",
				"product_id", product.ID,
				"location_id", c.locationID,
				"in_cart", inCart,
				"available", available,
			)
			return false
		}
	}

	if idx >= 0 {
		c.lines[idx].Quantity++
	} else {
		c.lines = append(c.lines, domain.CartLine{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Quantity:   1,
		})
	}
	c.persistLocked(ctx)
	return true
}

// SetQuantity sets the exact quantity of a line already in the cart. A
// quantity of zero or less removes the line.
func (c *Cart) SetQuantity(ctx context.Context, productID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	if quantity <= 0 {
		c.lines = slices.Delete(c.lines, idx, idx+1)
	} else {
		c.lines[idx].Quantity = quantity
	}
	c.persistLocked(ctx)
}

func (c *Cart) RemoveItem(ctx context.Context, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	c.lines = slices.Delete(c.lines, idx, idx+1)
	c.persistLocked(ctx)
}

func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = []domain.CartLine{}
	c.persistLocked(ctx)
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) Subtotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Subtotal(c.lines)
}

func (c *Cart) LocationID() string {
	return c.locationID
}

// Subtotal sums price times quantity over lines.
func Subtotal(lines []domain.CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.PriceCents * int64(line.Quantity)
	}
	return total
}

func (c *Cart) indexOf(productID string) int {
	return slices.IndexFunc(c.lines, func(line domain.CartLine) bool {
		return line.ProductID == productID
	})
}

func (c *Cart) persistLocked(ctx context.Context) {
	if err := c.local.Put(ctx, localstore.CollectionCarts, SessionKey, c.lines); err != nil {
		c.logger.Warn("failed to persist cart", "error", err)
	}
}
