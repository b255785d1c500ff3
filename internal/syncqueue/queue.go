// Package syncqueue keeps the sales completed while the terminal was offline
// and replays them against the remote store once it is reachable again.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/metrics"
	"tiendapos/backend/internal/xid"
)

type Submitter interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
}

// SyncedFunc receives the local id of a drained item and the sale the remote
// store recorded for it.
type SyncedFunc func(ctx context.Context, localID string, sale domain.Sale)

type Queue struct {
	local         localstore.Store
	submitter     Submitter
	logger        *slog.Logger
	submitTimeout time.Duration
	group         singleflight.Group
	now           func() time.Time

	mu       sync.RWMutex
	onSynced []SyncedFunc
}

func New(local localstore.Store, submitter Submitter, submitTimeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		local:         local,
		submitter:     submitter,
		logger:        logger.With("component", "syncqueue"),
		submitTimeout: submitTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) OnSynced(fn SyncedFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSynced = append(q.onSynced, fn)
}

// Enqueue stores sale as a pending item. The sale keeps its idempotency key,
// or gets one, so every later replay of it is recognizable remotely.
func (q *Queue) Enqueue(ctx context.Context, sale domain.Sale) (domain.PendingSale, error) {
	if sale.IdempotencyKey == "" {
		sale.IdempotencyKey = xid.IdempotencyKey()
	}
	sale.ID = ""
	sale.Offline = true

	pending := domain.PendingSale{
		LocalID:   xid.New("local"),
		Status:    domain.PendingStatus,
		CreatedAt: q.now(),
		Sale:      sale,
	}
	if err := q.local.Put(ctx, localstore.CollectionPendingSales, pending.LocalID, pending); err != nil {
		return domain.PendingSale{}, fmt.Errorf("enqueue pending sale: %w", err)
	}
	q.updateDepth(ctx)
	return pending, nil
}

// Pending lists the queued items, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]domain.PendingSale, error) {
	items, err := localstore.All[domain.PendingSale](ctx, q.local, localstore.CollectionPendingSales)
	if err != nil {
		return nil, fmt.Errorf("list pending sales: %w", err)
	}
	slices.SortStableFunc(items, func(a, b domain.PendingSale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.LocalID, b.LocalID)
	})
	return items, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	records, err := q.local.GetAll(ctx, localstore.CollectionPendingSales)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Drain submits every queued item. Items the remote store accepts leave the
// queue; the others stay for the next drain. Concurrent calls share one run.
func (q *Queue) Drain(ctx context.Context) (domain.DrainReport, error) {
	result, err, _ := q.group.Do("drain", func() (any, error) {
		return q.drain(ctx)
	})
	if err != nil {
		return domain.DrainReport{}, err
	}
	return result.(domain.DrainReport), nil
}

func (q *Queue) drain(ctx context.Context) (domain.DrainReport, error) {
	report := domain.DrainReport{SaleIDs: []string{}}
	items, err := q.Pending(ctx)
	if err != nil {
		return report, err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++

		created, err := q.submit(ctx, Strip(item))
		if err != nil {
			report.Failed++
			metrics.SyncItems.WithLabelValues("failed").Inc()
			q.logger.Warn("pending sale replay failed", "local_id", item.LocalID, "error", err)
			continue
		}

		if err := q.local.Delete(ctx, localstore.CollectionPendingSales, item.LocalID); err != nil {
			q.logger.Warn("synced sale left in queue", "local_id", item.LocalID, "sale_id", created.ID, "error", err)
		}
		report.Synced++
		report.SaleIDs = append(report.SaleIDs, created.ID)
		metrics.SyncItems.WithLabelValues("synced").Inc()
		q.notify(ctx, item.LocalID, *created)
	}

	q.updateDepth(ctx)
	if report.Attempted > 0 {
		q.logger.Info("drain finished", "attempted", report.Attempted, "synced", report.Synced, "failed", report.Failed)
	}
	return report, nil
}

func (q *Queue) submit(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if q.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.submitTimeout)
		defer cancel()
	}
	return q.submitter.CreateSale(ctx, sale)
}

func (q *Queue) notify(ctx context.Context, localID string, sale domain.Sale) {
	q.mu.RLock()
	callbacks := slices.Clone(q.onSynced)
	q.mu.RUnlock()
	for _, fn := range callbacks {
		fn(ctx, localID, sale)
	}
}

func (q *Queue) updateDepth(ctx context.Context) {
	if depth, err := q.Len(ctx); err == nil {
		metrics.SyncQueueDepth.Set(float64(depth))
	}
}

// Strip drops the local-only fields of a pending item and returns the sale
// to submit.
func Strip(pending domain.PendingSale) domain.Sale {
	sale := pending.Sale
	sale.ID = ""
	sale.Lines = slices.Clone(pending.Sale.Lines)
	return sale
}
