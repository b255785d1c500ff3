// Package alerts derives low-stock and near-expiry alerts from the catalog
// and the batch ledger.
package alerts

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
)

const DefaultExpiryAlertDays = 30

type Engine struct {
	cache      cache.Cache
	cacheTTL   time.Duration
	expiryDays int
	logger     *slog.Logger
}

func NewEngine(cacheStore cache.Cache, cacheTTL time.Duration, expiryDays int, logger *slog.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryAlertDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		expiryDays: expiryDays,
		logger:     logger.With("component", "alerts"),
	}
}

func (e *Engine) ExpiryDays() int {
	return e.expiryDays
}

// Evaluate returns the alerts for locationID, or for every location when it
// is empty. Low-stock alerts come first, then near-expiry alerts by date.
func (e *Engine) Evaluate(ctx context.Context, locationID string, products []domain.Product, l ledger.Ledger, now time.Time) []domain.Alert {
	today := truncateDay(now)
	cacheKey := buildCacheKey(locationID, products, l, today)
	var cached []domain.Alert
	if ok, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached
	} else if err != nil {
		e.logger.Warn("alert cache read failed", "error", err)
	}

	alerts := make([]domain.Alert, 0)
	alerts = append(alerts, lowStock(locationID, products, l)...)
	alerts = append(alerts, nearExpiry(locationID, products, l, today, e.expiryDays)...)

	if err := e.cache.Set(ctx, cacheKey, alerts, e.cacheTTL); err != nil {
		e.logger.Warn("alert cache write failed", "error", err)
	}
	return alerts
}

func lowStock(locationID string, products []domain.Product, l ledger.Ledger) []domain.Alert {
	result := make([]domain.Alert, 0)
	for _, product := range products {
		locations := make([]string, 0, len(product.MinStockThreshold))
		for loc := range product.MinStockThreshold {
			if locationID == "" || loc == locationID {
				locations = append(locations, loc)
			}
		}
		slices.Sort(locations)

		for _, loc := range locations {
			threshold := product.MinStockThreshold[loc]
			total := l.TotalStock(product.ID, loc)
			if threshold <= 0 || total >= threshold {
				continue
			}
			result = append(result, domain.Alert{
				Type:        domain.AlertLowStock,
				ProductID:   product.ID,
				ProductName: product.Name,
				LocationID:  loc,
				Quantity:    total,
				Threshold:   threshold,
			})
		}
	}
	slices.SortStableFunc(result, func(a, b domain.Alert) int {
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return result
}

// nearExpiry flags batches expiring after today and no later than
// today+days. Batches already expired are not reported.
func nearExpiry(locationID string, products []domain.Product, l ledger.Ledger, today time.Time, days int) []domain.Alert {
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	limit := today.AddDate(0, 0, days)

	result := make([]domain.Alert, 0)
	for _, batch := range l.Batches() {
		if batch.ExpirationDate == nil {
			continue
		}
		if locationID != "" && batch.LocationID != locationID {
			continue
		}
		exp := truncateDay(*batch.ExpirationDate)
		if !exp.After(today) || exp.After(limit) {
			continue
		}
		name, ok := names[batch.ProductID]
		if !ok {
			continue
		}
		result = append(result, domain.Alert{
			Type:           domain.AlertNearExpiry,
			ProductID:      batch.ProductID,
			ProductName:    name,
			LocationID:     batch.LocationID,
			BatchID:        batch.ID,
			Quantity:       batch.Quantity,
			ExpirationDate: batch.ExpirationDate,
			DaysLeft:       int(exp.Sub(today).Hours() / 24),
		})
	}
	slices.SortStableFunc(result, func(a, b domain.Alert) int {
		return ledger.CompareExpiration(a.ExpirationDate, b.ExpirationDate)
	})
	return result
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func buildCacheKey(locationID string, products []domain.Product, l ledger.Ledger, today time.Time) string {
	parts := make([]string, 0, len(products)+l.Len()+2)
	parts = append(parts, locationID, today.Format(time.DateOnly))
	for _, p := range products {
		thresholds := make([]string, 0, len(p.MinStockThreshold))
		for loc, threshold := range p.MinStockThreshold {
			thresholds = append(thresholds, fmt.Sprintf("%s=%d", loc, threshold))
		}
		slices.Sort(thresholds)
		parts = append(parts, p.ID+":"+strings.Join(thresholds, ","))
	}
	for _, b := range l.Batches() {
		exp := ""
		if b.ExpirationDate != nil {
			exp = b.ExpirationDate.Format(time.DateOnly)
		}
		parts = append(parts, fmt.Sprintf("%s:%s:%d:%s", b.ID, b.LocationID, b.Quantity, exp))
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pos:alerts:" + hex.EncodeToString(hash[:])
}
