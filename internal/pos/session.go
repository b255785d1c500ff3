// Package pos runs the checkout of one terminal: the open cart, its discount
// and note, the routing of completed sales to the remote store or the offline
// queue, and the history of the sales made here.
package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"tiendapos/backend/internal/cart"
	"tiendapos/backend/internal/connectivity"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/inventory"
	"tiendapos/backend/internal/localstore"
	"tiendapos/backend/internal/metrics"
	"tiendapos/backend/internal/pricing"
	"tiendapos/backend/internal/syncqueue"
	"tiendapos/backend/internal/xid"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrUnknownProduct = errors.New("product not in catalog")
	ErrOffline        = errors.New("terminal is offline")
	ErrInvalidInput   = errors.New("invalid input")
)

const stateKey = "checkout_state"

// Remote is the part of the remote store a terminal session talks to.
type Remote interface {
	Ping(ctx context.Context) error
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.InventoryBatch, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
}

type Config struct {
	StoreID        string
	LocationID     string
	CommissionRate float64
	RemoteTimeout  time.Duration
}

type Deps struct {
	Remote    Remote
	Local     localstore.Store
	Inventory *inventory.Cache
	Queue     *syncqueue.Queue
	Monitor   *connectivity.Monitor
	Logger    *slog.Logger
}

type checkoutState struct {
	Discount domain.Discount `json:"discount"`
	Note     string          `json:"note"`
}

type Session struct {
	cfg       Config
	remote    Remote
	local     localstore.Store
	inventory *inventory.Cache
	cart      *cart.Cart
	queue     *syncqueue.Queue
	monitor   *connectivity.Monitor
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time

	checkoutMu sync.Mutex

	mu       sync.RWMutex
	discount domain.Discount
	note     string
	retryKey string
	products map[string]domain.Product
	history  []domain.Sale
}

func NewSession(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = pricing.DefaultCardCommissionRate
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	if cfg.StoreID == "" {
		cfg.StoreID = "main-store"
	}
	local := deps.Local
	if local == nil {
		local = localstore.NewMemory()
	}
	stock := deps.Inventory
	if stock == nil {
		stock = inventory.NewCache(local, logger)
	}
	queue := deps.Queue
	if queue == nil {
		queue = syncqueue.New(local, deps.Remote, cfg.RemoteTimeout, logger)
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = connectivity.NewMonitor(true, logger)
	}

	s := &Session{
		cfg:       cfg,
		remote:    deps.Remote,
		local:     local,
		inventory: stock,
		cart:      cart.New(cfg.LocationID, stock, local, logger),
		queue:     queue,
		monitor:   monitor,
		validate:  validator.New(),
		logger:    logger.With("component", "pos", "location_id", cfg.LocationID),
		now:       func() time.Time { return time.Now().UTC() },
		discount:  domain.NoDiscount(),
		products:  make(map[string]domain.Product),
		history:   []domain.Sale{},
	}
	queue.OnSynced(s.onSynced)
	monitor.Subscribe(s.onConnectivity)
	return s
}

func (s *Session) LocationID() string {
	return s.cfg.LocationID
}

func (s *Session) StoreID() string {
	return s.cfg.StoreID
}

func (s *Session) Online() bool {
	return s.monitor.Online()
}

func (s *Session) Queue() *syncqueue.Queue {
	return s.queue
}

// Start restores what the previous run left in the local store and, when
// the remote store is reachable, replays the sales queued before the restart
// and refreshes catalog and stock from it.
func (s *Session) Start(ctx context.Context) error {
	if err := s.inventory.Restore(ctx); err != nil {
		return err
	}
	if err := s.cart.Restore(ctx); err != nil {
		return err
	}

	products, err := localstore.All[domain.Product](ctx, s.local, localstore.CollectionProducts)
	if err != nil {
		return fmt.Errorf("restore products: %w", err)
	}
	sales, err := localstore.All[domain.Sale](ctx, s.local, localstore.CollectionSales)
	if err != nil {
		return fmt.Errorf("restore sales: %w", err)
	}
	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var state checkoutState
	if err := s.local.Get(ctx, localstore.CollectionSession, stateKey, &state); err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return fmt.Errorf("restore checkout state: %w", err)
	}

	s.mu.Lock()
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.history = sales
	if state.Discount.Type != "" {
		s.discount = state.Discount
	}
	s.note = state.Note
	s.mu.Unlock()

	if s.monitor.Online() {
		s.reconcile(ctx)
	}
	return nil
}

// Refresh replaces the cached catalog and stock with the remote store's. The
// sales still in the pending queue are deducted again from the new stock. It
// waits for a checkout in progress, whose sale the remote batches may already
// reflect.
func (s *Session) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return ErrOffline
	}
	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	products, err := s.remote.ListProducts(rctx)
	if err != nil {
		return fmt.Errorf("refresh products: %w", err)
	}
	batches, err := s.remote.ListBatches(rctx, domain.BatchFilter{})
	if err != nil {
		return fmt.Errorf("refresh batches: %w", err)
	}

	if err := s.inventory.Rebase(ctx, batches, queuedDemands(pending)); err != nil {
		s.logger.Warn("failed to persist refreshed inventory", "error", err)
	}
	s.replaceProducts(ctx, products)
	s.logger.Info("catalog refreshed", "products", len(products), "batches", len(batches), "queued_sales", len(pending))
	return nil
}

func queuedDemands(pending []domain.PendingSale) []domain.StockDemand {
	var demands []domain.StockDemand
	for _, item := range pending {
		for _, line := range item.Sale.Lines {
			demands = append(demands, domain.StockDemand{ProductID: line.ProductID, LocationID: item.Sale.LocationID, Quantity: line.Quantity})
		}
	}
	return demands
}

func (s *Session) replaceProducts(ctx context.Context, products []domain.Product) {
	s.mu.Lock()
	previous := s.products
	s.products = make(map[string]domain.Product, len(products))
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.mu.Unlock()

	for _, p := range products {
		delete(previous, p.ID)
		if err := s.local.Put(ctx, localstore.CollectionProducts, p.ID, p); err != nil {
			s.logger.Warn("failed to cache product", "product_id", p.ID, "error", err)
		}
	}
	for id := range previous {
		if err := s.local.Delete(ctx, localstore.CollectionProducts, id); err != nil {
			s.logger.Warn("failed to drop cached product", "product_id", id, "error", err)
		}
	}
}

// Products lists the cached catalog by name.
func (s *Session) Products() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// FindProduct resolves a product id or one of its barcodes.
func (s *Session) FindProduct(code string) (domain.Product, bool) {
	code = strings.TrimSpace(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[code]; ok {
		return p, true
	}
	for _, p := range s.products {
		if slices.Contains(p.Barcodes, code) {
			return p, true
		}
	}
	return domain.Product{}, false
}

// PutProduct updates the cached catalog after a back-office change.
func (s *Session) PutProduct(ctx context.Context, product domain.Product) {
	s.mu.Lock()
	s.products[product.ID] = product
	s.mu.Unlock()
	if err := s.local.Put(ctx, localstore.CollectionProducts, product.ID, product); err != nil {
		s.logger.Warn("failed to cache product", "product_id", product.ID, "error", err)
	}
}

// DropProduct removes a deleted product from the catalog, its cart line and
// its cached batches.
func (s *Session) DropProduct(ctx context.Context, productID string) error {
	s.mu.Lock()
	delete(s.products, productID)
	s.mu.Unlock()
	s.cart.RemoveItem(ctx, productID)
	if err := s.local.Delete(ctx, localstore.CollectionProducts, productID); err != nil {
		return err
	}
	return s.inventory.RemoveProduct(ctx, productID)
}

// AddItem adds one unit of the product identified by code. It returns false
// when the stock at the terminal's location is already in the cart.
func (s *Session) AddItem(ctx context.Context, code string) (bool, error) {
	product, ok := s.FindProduct(code)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProduct, code)
	}
	added := s.cart.AddItem(ctx, product)
	if added {
		s.resetRetryKey()
	}
	return added, nil
}

func (s *Session) SetQuantity(ctx context.Context, productID string, quantity int) {
	s.cart.SetQuantity(ctx, productID, quantity)
	s.resetRetryKey()
}

func (s *Session) RemoveItem(ctx context.Context, productID string) {
	s.cart.RemoveItem(ctx, productID)
	s.resetRetryKey()
}

func (s *Session) SetDiscount(ctx context.Context, discount domain.Discount) error {
	if discount.Type == "" {
		discount.Type = domain.DiscountNone
	}
	if err := s.validate.Struct(discount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if discount.Type == domain.DiscountNone {
		discount.Value = 0
	}

	s.mu.Lock()
	s.discount = discount
	s.retryKey = ""
	state := checkoutState{Discount: s.discount, Note: s.note}
	s.mu.Unlock()
	s.persistState(ctx, state)
	return nil
}

func (s *Session) SetNote(ctx context.Context, note string) {
	s.mu.Lock()
	s.note = note
	s.retryKey = ""
	state := checkoutState{Discount: s.discount, Note: s.note}
	s.mu.Unlock()
	s.persistState(ctx, state)
}

func (s *Session) Cart() domain.CartView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CartView{
		Lines:         s.cart.Lines(),
		SubtotalCents: s.cart.Subtotal(),
		Discount:      s.discount,
		Note:          s.note,
	}
}

// Quote computes the totals the cart would have with payment.
func (s *Session) Quote(payment domain.Payment) domain.Totals {
	s.mu.RLock()
	discount := s.discount
	s.mu.RUnlock()
	return pricing.Compute(s.cart.Subtotal(), discount, payment, s.cfg.CommissionRate)
}

// Available is the cached stock of productID at the terminal's location not
// held by an open checkout.
func (s *Session) Available(productID string) int {
	return s.inventory.Available(productID, s.cfg.LocationID)
}

// Checkout turns the cart into a sale. Stock is reserved first; offline the
// sale goes to the pending queue, online it is submitted to the remote store.
// The reservation is committed once the sale is accepted by either and
// released when the remote store rejects it or does not answer in time, in
// which case the cart is left untouched.
func (s *Session) Checkout(ctx context.Context, cashierID string, payment domain.Payment) (domain.CheckoutResult, error) {
	if err := s.validate.Struct(payment); err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()

	lines := s.cart.Lines()
	if len(lines) == 0 {
		return domain.CheckoutResult{}, ErrEmptyCart
	}

	s.mu.Lock()
	discount := s.discount
	note := s.note
	if s.retryKey == "" {
		s.retryKey = xid.IdempotencyKey()
	}
	key := s.retryKey
	s.mu.Unlock()

	totals := pricing.Compute(cart.Subtotal(lines), discount, payment, s.cfg.CommissionRate)
	sale := domain.Sale{
		IdempotencyKey:  key,
		StoreID:         s.cfg.StoreID,
		LocationID:      s.cfg.LocationID,
		CashierID:       cashierID,
		Lines:           lines,
		SubtotalCents:   totals.SubtotalCents,
		Discount:        discount,
		DiscountCents:   totals.DiscountCents,
		CommissionCents: totals.CommissionCents,
		TotalCents:      totals.TotalCents,
		Payment:         payment,
		ChangeCents:     totals.ChangeCents,
		Note:            note,
		CreatedAt:       s.now(),
	}

	demands := make([]domain.StockDemand, 0, len(lines))
	for _, line := range lines {
		demands = append(demands, domain.StockDemand{ProductID: line.ProductID, LocationID: s.cfg.LocationID, Quantity: line.Quantity})
	}
	reservation := s.inventory.Reserve(demands)

	if !s.monitor.Online() {
		pending, err := s.queue.Enqueue(ctx, sale)
		if err != nil {
			s.inventory.Release(reservation.ID)
			metrics.Checkouts.WithLabelValues("offline", "error").Inc()
			return domain.CheckoutResult{}, err
		}
		s.commit(ctx, reservation.ID, demands)

		recorded := pending.Sale
		recorded.ID = pending.LocalID
		s.finish(ctx, recorded)
		metrics.Checkouts.WithLabelValues("offline", "ok").Inc()
		s.logger.Info("sale queued offline", "local_id", pending.LocalID, "total_cents", recorded.TotalCents)
		return domain.CheckoutResult{Sale: recorded, Offline: true, LocalID: pending.LocalID}, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	created, err := s.remote.CreateSale(rctx, sale)
	cancel()
	if err != nil {
		s.inventory.Release(reservation.ID)
		metrics.Checkouts.WithLabelValues("online", "error").Inc()
		s.logger.Warn("remote sale rejected, reservation released", "idempotency_key", key, "error", err)
		return domain.CheckoutResult{}, fmt.Errorf("create sale: %w", err)
	}
	s.commit(ctx, reservation.ID, demands)
	s.finish(ctx, *created)
	metrics.Checkouts.WithLabelValues("online", "ok").Inc()
	s.logger.Info("sale recorded", "sale_id", created.ID, "total_cents", created.TotalCents)
	return domain.CheckoutResult{Sale: *created}, nil
}

// commit settles a reservation. A reservation dropped by the sweeper while
// the remote call was in flight is replaced by a direct deduction.
func (s *Session) commit(ctx context.Context, reservationID string, demands []domain.StockDemand) {
	if _, err := s.inventory.Commit(ctx, reservationID); err != nil {
		s.logger.Warn("reservation expired before commit", "reservation_id", reservationID, "error", err)
		s.inventory.Deduct(ctx, demands)
	}
}

func (s *Session) finish(ctx context.Context, sale domain.Sale) {
	s.cart.Clear(ctx)

	s.mu.Lock()
	s.discount = domain.NoDiscount()
	s.note = ""
	s.retryKey = ""
	s.history = append(s.history, sale)
	s.mu.Unlock()

	s.persistState(ctx, checkoutState{Discount: domain.NoDiscount()})
	if err := s.local.Put(ctx, localstore.CollectionSales, sale.ID, sale); err != nil {
		s.logger.Warn("failed to store sale locally", "sale_id", sale.ID, "error", err)
	}
}

// History lists the sales made at this terminal, oldest first.
func (s *Session) History() []domain.Sale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Sale, len(s.history))
	for idx, sale := range s.history {
		sale.Lines = slices.Clone(sale.Lines)
		out[idx] = sale
	}
	return out
}

// Sync drains the pending queue now.
func (s *Session) Sync(ctx context.Context) (domain.DrainReport, error) {
	if !s.monitor.Online() {
		return domain.DrainReport{}, ErrOffline
	}
	return s.queue.Drain(ctx)
}

// SetOnline feeds a connectivity change observed outside the prober.
func (s *Session) SetOnline(ctx context.Context, online bool) {
	s.monitor.Set(ctx, online)
}

func (s *Session) onConnectivity(ctx context.Context, online bool) {
	if online {
		s.reconcile(ctx)
	}
}

// reconcile replays the pending queue and then refreshes catalog and stock.
func (s *Session) reconcile(ctx context.Context) {
	if s.remote == nil {
		return
	}
	report, err := s.queue.Drain(ctx)
	if err != nil {
		s.logger.Warn("pending sales replay failed", "error", err)
	}
	if report.Attempted > 0 {
		s.logger.Info("pending sales replayed", "synced", report.Synced, "failed", report.Failed)
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh failed, using local data", "error", err)
	}
}

// onSynced swaps the local id of a replayed sale for the remote one.
func (s *Session) onSynced(ctx context.Context, localID string, sale domain.Sale) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.history, func(h domain.Sale) bool { return h.ID == localID })
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	updated := s.history[idx]
	updated.ID = sale.ID
	s.history[idx] = updated
	s.mu.Unlock()

	if err := s.local.Delete(ctx, localstore.CollectionSales, localID); err != nil {
		s.logger.Warn("failed to drop local sale", "local_id", localID, "error", err)
	}
	if err := s.local.Put(ctx, localstore.CollectionSales, updated.ID, updated); err != nil {
		s.logger.Warn("failed to store synced sale", "sale_id", updated.ID, "error", err)
	}
}

func (s *Session) persistState(ctx context.Context, state checkoutState) {
	if err := s.local.Put(ctx, localstore.CollectionSession, stateKey, state); err != nil {
		s.logger.Warn("failed to persist checkout state", "error", err)
	}
}

func (s *Session) resetRetryKey() {
	s.mu.Lock()
	s.retryKey = ""
	s.mu.Unlock()
}
