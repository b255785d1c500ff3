package pos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/backend/internal/connectivity"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/store/memory"
)

type countingRemote struct {
	*memory.Store
	createCalls atomic.Int32
	failCreate  atomic.Bool

	mu   sync.Mutex
	keys []string
}

func (r *countingRemote) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	r.createCalls.Add(1)
	r.mu.Lock()
	r.keys = append(r.keys, sale.IdempotencyKey)
	r.mu.Unlock()
	if r.failCreate.Load() {
		return nil, errors.New("remote rejected sale")
	}
	return r.Store.CreateSale(ctx, sale)
}

type fixture struct {
	remote  *countingRemote
	local   *localstore.Memory
	monitor *connectivity.Monitor
	session *Session
}

func newFixture(t *testing.T, online bool) fixture {
	t.Helper()
	ctx := context.Background()

	repo := memory.New()
	for _, p := range []domain.Product{
		{ID: "X", Name: "Producto X", PriceCents: 1000, Barcodes: []string{"750001"}},
		{ID: "Y", Name: "Producto Y", PriceCents: 500},
	} {
		_, err := repo.CreateProduct(ctx, p)
		require.NoError(t, err)
	}
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, b := range []domain.InventoryBatch{
		{ID: "bx", ProductID: "X", LocationID: "L1", Quantity: 5, CostCents: 600, ExpirationDate: &exp},
		{ID: "by", ProductID: "Y", LocationID: "L1", Quantity: 5, CostCents: 300},
	} {
		_, err := repo.CreateBatch(ctx, b)
		require.NoError(t, err)
	}

	remote := &countingRemote{Store: repo}
	local := localstore.NewMemory()
	monitor := connectivity.NewMonitor(true, nil)
	session := NewSession(Config{StoreID: "S1", LocationID: "L1", RemoteTimeout: time.Second}, Deps{
		Remote:  remote,
		Local:   local,
		Monitor: monitor,
	})
	require.NoError(t, session.Start(ctx))
	if !online {
		repo.SetOffline(true)
		monitor.Set(ctx, false)
	}
	return fixture{remote: remote, local: local, monitor: monitor, session: session}
}

func fillScenarioCart(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	for _, code := range []string{"X", "750001", "Y"} {
		added, err := s.AddItem(ctx, code)
		require.NoError(t, err)
		require.True(t, added)
	}
}

func TestCheckoutWithPercentageDiscount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	fillScenarioCart(t, f.session)

	require.NoError(t, f.session.SetDiscount(ctx, domain.Discount{Type: domain.DiscountPercentage, Value: 10}))
	f.session.SetNote(ctx, "mesa 4")
	assert.EqualValues(t, 2500, f.session.Cart().SubtotalCents)

	payment := domain.Payment{CashCents: 2250}
	quote := f.session.Quote(payment)
	assert.EqualValues(t, 2250, quote.TotalCents)
	assert.EqualValues(t, 0, quote.ChangeCents)

	result, err := f.session.Checkout(ctx, "cashier", payment)
	require.NoError(t, err)
	assert.False(t, result.Offline)
	assert.NotEmpty(t, result.Sale.ID)
	assert.EqualValues(t, 2250, result.Sale.TotalCents)
	assert.Equal(t, "mesa 4", result.Sale.Note)

	view := f.session.Cart()
	assert.Empty(t, view.Lines)
	assert.Equal(t, domain.DiscountNone, view.Discount.Type)
	assert.Empty(t, view.Note)
	require.Len(t, f.session.History(), 1)

	assert.Equal(t, 3, f.session.Available("X"))
	assert.Equal(t, 4, f.session.Available("Y"))
	remoteBatches, err := f.remote.ListBatches(ctx, domain.BatchFilter{ProductID: "X"})
	require.NoError(t, err)
	assert.Equal(t, 3, remoteBatches[0].Quantity)
}

func TestCheckoutOfflineQueuesWithoutRemoteCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	fillScenarioCart(t, f.session)

	result, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.NoError(t, err)
	assert.True(t, result.Offline)
	assert.NotEmpty(t, result.LocalID)
	assert.Zero(t, f.remote.createCalls.Load())

	pending, err := f.session.Queue().Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.LocalID, pending[0].LocalID)
	assert.Equal(t, 3, f.session.Available("X"), "offline sale still leaves the cached stock")
}

func TestReconnectDrainsQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	fillScenarioCart(t, f.session)

	result, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.NoError(t, err)
	require.True(t, result.Offline)

	f.remote.SetOffline(false)
	f.monitor.Set(ctx, true)

	n, err := f.session.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.EqualValues(t, 1, f.remote.createCalls.Load())

	sales, err := f.remote.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)

	history := f.session.History()
	require.Len(t, history, 1)
	assert.Equal(t, sales[0].ID, history[0].ID, "history carries the remote id after sync")
	assert.Equal(t, 3, f.session.Available("X"), "refresh after drain matches the remote stock")
}

func TestRemoteFailureReleasesReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	fillScenarioCart(t, f.session)
	f.remote.failCreate.Store(true)

	_, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.Error(t, err)
	assert.Equal(t, 5, f.session.Available("X"))
	assert.Len(t, f.session.Cart().Lines, 2, "cart is kept for a retry")

	f.remote.failCreate.Store(false)
	result, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Sale.ID)
	assert.Equal(t, 3, f.session.Available("X"))
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.session.Checkout(context.Background(), "cashier", domain.Payment{})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestAddItemRespectsStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	for range 5 {
		added, err := f.session.AddItem(ctx, "Y")
		require.NoError(t, err)
		require.True(t, added)
	}
	added, err := f.session.AddItem(ctx, "Y")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = f.session.AddItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestSetDiscountRejectsNegative(t *testing.T) {
	f := newFixture(t, true)
	err := f.session.SetDiscount(context.Background(), domain.Discount{Type: domain.DiscountAmount, Value: -5})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartRestoresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	fillScenarioCart(t, f.session)
	require.NoError(t, f.session.SetDiscount(ctx, domain.Discount{Type: domain.DiscountAmount, Value: 100}))

	restarted := NewSession(Config{StoreID: "S1", LocationID: "L1"}, Deps{
		Remote:  f.remote,
		Local:   f.local,
		Monitor: connectivity.NewMonitor(false, nil),
	})
	require.NoError(t, restarted.Start(ctx))

	view := restarted.Cart()
	assert.EqualValues(t, 2500, view.SubtotalCents)
	assert.Equal(t, domain.DiscountAmount, view.Discount.Type)
	assert.Equal(t, 5, restarted.Available("X"))
	_, ok := restarted.FindProduct("750001")
	assert.True(t, ok)
}

func TestStartReplaysSalesQueuedBeforeRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	added, err := f.session.AddItem(ctx, "X")
	require.NoError(t, err)
	require.True(t, added)
	result, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 1000})
	require.NoError(t, err)
	require.True(t, result.Offline)
	assert.Equal(t, 4, f.session.Available("X"))

	f.remote.SetOffline(false)
	restarted := NewSession(Config{StoreID: "S1", LocationID: "L1", RemoteTimeout: time.Second}, Deps{
		Remote:  f.remote,
		Local:   f.local,
		Monitor: connectivity.NewMonitor(true, nil),
	})
	require.NoError(t, restarted.Start(ctx))

	n, err := restarted.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.EqualValues(t, 1, f.remote.createCalls.Load())
	assert.Equal(t, 4, restarted.Available("X"))

	sales, err := f.remote.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	history := restarted.History()
	require.Len(t, history, 1)
	assert.Equal(t, sales[0].ID, history[0].ID)
}

func TestRefreshKeepsQueuedSalesDeducted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	for range 2 {
		added, err := f.session.AddItem(ctx, "X")
		require.NoError(t, err)
		require.True(t, added)
	}
	_, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2000})
	require.NoError(t, err)
	assert.Equal(t, 3, f.session.Available("X"))

	f.remote.failCreate.Store(true)
	f.remote.SetOffline(false)
	f.monitor.Set(ctx, true)

	n, err := f.session.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rejected replay stays queued")
	assert.Equal(t, 3, f.session.Available("X"), "queued sale stays off the shelf")
	for range 3 {
		added, err := f.session.AddItem(ctx, "X")
		require.NoError(t, err)
		require.True(t, added)
	}
	added, err := f.session.AddItem(ctx, "X")
	require.NoError(t, err)
	assert.False(t, added)
	f.session.RemoveItem(ctx, "X")

	f.remote.failCreate.Store(false)
	report, err := f.session.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, 3, f.session.Available("X"), "replayed sale is not deducted twice")
}

func TestSetNoteStartsNewCheckoutAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	fillScenarioCart(t, f.session)
	f.remote.failCreate.Store(true)

	_, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.Error(t, err)

	f.session.SetNote(ctx, "entregar en bodega")
	f.remote.failCreate.Store(false)
	result, err := f.session.Checkout(ctx, "cashier", domain.Payment{CashCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, "entregar en bodega", result.Sale.Note)

	f.remote.mu.Lock()
	defer f.remote.mu.Unlock()
	require.Len(t, f.remote.keys, 2)
	assert.NotEqual(t, f.remote.keys[0], f.remote.keys[1])
}
