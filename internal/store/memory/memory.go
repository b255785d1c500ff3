package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

const (
	WarehouseLocation = "bodega-central"
	StoreLocation     = "tienda-centro"
	NorthLocation     = "tienda-norte"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu              sync.RWMutex
	offline         bool
	products        map[string]domain.Product
	categories      map[string]domain.Category
	batches         []domain.InventoryBatch
	sales           []domain.Sale
	closings        []domain.CashClosing
	transfers       map[string]domain.Transfer
	clients         map[string]domain.Client
	expenses        []domain.Expense
	consumptions    []domain.EmployeeConsumption
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		categories:      make(map[string]domain.Category),
		transfers:       make(map[string]domain.Transfer),
		clients:         make(map[string]domain.Client),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Passwords
// come from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_STAFF_PASSWORD, with dev defaults when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		location string
	}{
		{"admin", adminPwd, domain.RoleAdmin, StoreLocation},
		{"cashier", cashierPwd, domain.RoleCashier, StoreLocation},
		{"manager", staffPwd, domain.RoleManager, NorthLocation},
		{"warehouse", staffPwd, domain.RoleWarehouse, WarehouseLocation},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			LocationID: u.location,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat-abarrotes", Name: "Abarrotes"},
		{ID: "cat-lacteos", Name: "Lacteos"},
		{ID: "cat-bebidas", Name: "Bebidas"},
		{ID: "cat-limpieza", Name: "Limpieza"},
	} {
		s.categories[c.ID] = c
	}

	products := []domain.Product{
		{ID: "prod-leche", Name: "Leche Entera 1L", PriceCents: 1290, WholesalePriceCents: 1150, CostCents: 980, Unit: "unidad", CategoryID: "cat-lacteos", Barcodes: []string{"7801234000011"}, MinStockThreshold: map[string]int{StoreLocation: 10}},
		{ID: "prod-yogur", Name: "Yogur Natural", PriceCents: 650, WholesalePriceCents: 590, CostCents: 420, Unit: "unidad", CategoryID: "cat-lacteos", Barcodes: []string{"7801234000028"}, MinStockThreshold: map[string]int{StoreLocation: 6}},
		{ID: "prod-arroz", Name: "Arroz 1kg", PriceCents: 1890, WholesalePriceCents: 1700, CostCents: 1310, Unit: "kg", CategoryID: "cat-abarrotes", Barcodes: []string{"7801234000035"}, MinStockThreshold: map[string]int{StoreLocation: 5}},
		{ID: "prod-aceite", Name: "Aceite Vegetal 900ml", PriceCents: 2990, WholesalePriceCents: 2700, CostCents: 2150, Unit: "unidad", CategoryID: "cat-abarrotes"},
		{ID: "prod-agua", Name: "Agua Mineral 600ml", PriceCents: 800, WholesalePriceCents: 700, CostCents: 390, Unit: "unidad", CategoryID: "cat-bebidas", MinStockThreshold: map[string]int{StoreLocation: 12}},
		{ID: "prod-jabon", Name: "Jabon de Barra", PriceCents: 990, WholesalePriceCents: 890, CostCents: 560, Unit: "unidad", CategoryID: "cat-limpieza"},
	}
	for _, p := range products {
		p.StoreID = "main-store"
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	day := func(days int) *time.Time {
		d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return &d
	}
	s.batches = []domain.InventoryBatch{
		{ID: "batch-leche-1", ProductID: "prod-leche", LocationID: StoreLocation, Quantity: 8, CostCents: 960, ExpirationDate: day(12)},
		{ID: "batch-leche-2", ProductID: "prod-leche", LocationID: StoreLocation, Quantity: 24, CostCents: 980, ExpirationDate: day(45)},
		{ID: "batch-yogur-1", ProductID: "prod-yogur", LocationID: StoreLocation, Quantity: 4, CostCents: 420, ExpirationDate: day(5)},
		{ID: "batch-arroz-1", ProductID: "prod-arroz", LocationID: StoreLocation, Quantity: 30, CostCents: 1310, ExpirationDate: day(300)},
		{ID: "batch-aceite-1", ProductID: "prod-aceite", LocationID: StoreLocation, Quantity: 15, CostCents: 2150, ExpirationDate: day(240)},
		{ID: "batch-agua-1", ProductID: "prod-agua", LocationID: StoreLocation, Quantity: 48, CostCents: 390, ExpirationDate: day(365)},
		{ID: "batch-jabon-1", ProductID: "prod-jabon", LocationID: StoreLocation, Quantity: 20, CostCents: 560},
		{ID: "batch-leche-bc", ProductID: "prod-leche", LocationID: WarehouseLocation, Quantity: 120, CostCents: 950, ExpirationDate: day(60)},
		{ID: "batch-arroz-bc", ProductID: "prod-arroz", LocationID: WarehouseLocation, Quantity: 200, CostCents: 1290, ExpirationDate: day(400)},
		{ID: "batch-agua-nt", ProductID: "prod-agua", LocationID: NorthLocation, Quantity: 10, CostCents: 390, ExpirationDate: day(200)},
	}
	for idx := range s.batches {
		s.batches[idx].CreatedAt = now.Add(time.Duration(idx) * time.Millisecond)
	}

	s.clients["client-1"] = domain.Client{ID: "client-1", Name: "Almacen Dona Rosa", Phone: "+56 9 1234 5678", StoreID: "main-store", CreatedAt: now}
	s.usersByUsername = seedUsers()
	return s
}

// SetOffline makes the connectivity-sensitive calls fail with store.ErrUnavailable
// until it is called again with false.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = cloneProduct(product)
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = cloneProduct(product)
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	for _, batch := range s.batches {
		if batch.ProductID == id {
			return store.ErrConflict
		}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if category.ParentID != "" {
		if _, ok := s.categories[category.ParentID]; !ok {
			return nil, store.ErrInvalidInput
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) ListBatches(_ context.Context, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.InventoryBatch, 0, len(s.batches))
	for _, batch := range s.batches {
		if filter.ProductID != "" && batch.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && batch.LocationID != filter.LocationID {
			continue
		}
		result = append(result, cloneBatch(batch))
	}
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ProductID == "" || batch.LocationID == "" || batch.Quantity < 0 || batch.CostCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.products[batch.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	s.batches = append(s.batches, cloneBatch(batch))
	return &batch, nil
}

func (s *Store) UpdateBatch(_ context.Context, id string, update domain.BatchUpdate) (*domain.InventoryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.batches, func(b domain.InventoryBatch) bool { return b.ID == id })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	batch := s.batches[idx]
	if update.Quantity != nil {
		if *update.Quantity < 0 {
			return nil, store.ErrInvalidInput
		}
		batch.Quantity = *update.Quantity
	}
	if update.CostCents != nil {
		if *update.CostCents < 0 {
			return nil, store.ErrInvalidInput
		}
		batch.CostCents = *update.CostCents
	}
	if update.ExpirationDate != nil {
		exp := *update.ExpirationDate
		batch.ExpirationDate = &exp
	}
	s.batches[idx] = batch
	dup := cloneBatch(batch)
	return &dup, nil
}

func (s *Store) DeleteBatchesByProduct(_ context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.batches)
	s.batches = slices.DeleteFunc(s.batches, func(b domain.InventoryBatch) bool {
		return b.ProductID == productID
	})
	return before - len(s.batches), nil
}

func (s *Store) ConsumeStock(_ context.Context, demands []domain.StockDemand) ([]domain.StockDeduction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}
	return s.consumeLocked(demands), nil
}

// consumeLocked runs the FEFO deduction and writes the remaining quantities
// back. Depleted batches stay stored with quantity 0.
func (s *Store) consumeLocked(demands []domain.StockDemand) []domain.StockDeduction {
	_, results := ledger.New(s.batches).DeductAll(demands)
	remaining := make(map[string]int)
	for _, result := range results {
		for _, allocation := range result.Allocations {
			remaining[allocation.BatchID] = allocation.Remaining
		}
	}
	for idx := range s.batches {
		if qty, ok := remaining[s.batches[idx].ID]; ok {
			s.batches[idx].Quantity = qty
		}
	}
	return results
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 || sale.LocationID == "" {
		return nil, store.ErrInvalidInput
	}
	if existing := s.findSaleLocked(sale.IdempotencyKey); existing != nil {
		return existing, nil
	}

	sale.ID = xid.New("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	demands := make([]domain.StockDemand, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		demands = append(demands, domain.StockDemand{ProductID: line.ProductID, LocationID: sale.LocationID, Quantity: line.Quantity})
	}
	s.consumeLocked(demands)
	s.sales = append(s.sales, cloneSale(sale))
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if existing := s.findSaleLocked(key); existing != nil {
		return existing, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) findSaleLocked(key string) *domain.Sale {
	for _, sale := range s.sales {
		if sale.IdempotencyKey == key {
			dup := cloneSale(sale)
			return &dup
		}
	}
	return nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if !matchSale(sale, filter) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func matchSale(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.CashierID != "" && sale.CashierID != filter.CashierID {
		return false
	}
	if filter.LocationID != "" && sale.LocationID != filter.LocationID {
		return false
	}
	if filter.OpenOnly && sale.ClosingID != "" {
		return false
	}
	if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

func (s *Store) CreateCashClosing(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if closing.CashierID == "" {
		return nil, store.ErrInvalidInput
	}
	index := make(map[string]int, len(s.sales))
	for idx, sale := range s.sales {
		index[sale.ID] = idx
	}
	for _, id := range closing.SaleIDs {
		idx, ok := index[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		if s.sales[idx].ClosingID != "" {
			return nil, store.ErrConflict
		}
	}

	if closing.ID == "" {
		closing.ID = xid.New("closing")
	}
	if closing.ClosedAt.IsZero() {
		closing.ClosedAt = time.Now().UTC()
	}
	for _, id := range closing.SaleIDs {
		s.sales[index[id]].ClosingID = closing.ID
	}
	closing.SaleIDs = slices.Clone(closing.SaleIDs)
	s.closings = append(s.closings, closing)
	return &closing, nil
}

func (s *Store) ListCashClosings(_ context.Context, cashierID string, limit int) ([]domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashClosing, 0, len(s.closings))
	for idx := len(s.closings) - 1; idx >= 0; idx-- {
		closing := s.closings[idx]
		if cashierID != "" && closing.CashierID != cashierID {
			continue
		}
		closing.SaleIDs = slices.Clone(closing.SaleIDs)
		result = append(result, closing)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.OriginLocationID == "" || transfer.DestinationLocationID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if transfer.ID == "" {
		transfer.ID = xid.New("transfer")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return &transfer, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transfer, ok := s.transfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneTransfer(transfer)
	return &dup, nil
}

func (s *Store) ListTransfers(_ context.Context, locationID string) ([]domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transfer, 0, len(s.transfers))
	for _, transfer := range s.transfers {
		if locationID != "" && transfer.OriginLocationID != locationID && transfer.DestinationLocationID != locationID {
			continue
		}
		result = append(result, cloneTransfer(transfer))
	}
	slices.SortFunc(result, func(a, b domain.Transfer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateTransfer(_ context.Context, transfer domain.Transfer, expected domain.TransferStatus) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transfers[transfer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Status != expected {
		return nil, store.ErrConflict
	}
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return &transfer, nil
}

func (s *Store) ListClients(_ context.Context, storeID string) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Client, 0, len(s.clients))
	for _, client := range s.clients {
		if storeID != "" && client.StoreID != storeID {
			continue
		}
		result = append(result, client)
	}
	slices.SortFunc(result, func(a, b domain.Client) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("client")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	s.clients[client.ID] = client
	return &client, nil
}

func (s *Store) ApplyCreditChange(_ context.Context, clientID string, change domain.CreditChange) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if change.AmountCents < 0 {
		return nil, store.ErrInvalidInput
	}
	client.CreditBalanceCents = change.Apply(client.CreditBalanceCents)
	s.clients[clientID] = client
	return &client, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(expense.Description) == "" || expense.AmountCents <= 0 {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("expense")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expenses = append(s.expenses, expense)
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, storeID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		if storeID != "" && expense.StoreID != storeID {
			continue
		}
		if expense.CreatedAt.Before(from) || !expense.CreatedAt.Before(to) {
			continue
		}
		result = append(result, expense)
	}
	return result, nil
}

func (s *Store) CreateConsumption(_ context.Context, consumption domain.EmployeeConsumption) (*domain.EmployeeConsumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if consumption.UserID == "" || consumption.ProductID == "" || consumption.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}
	if consumption.ID == "" {
		consumption.ID = xid.New("consumption")
	}
	if consumption.CreatedAt.IsZero() {
		consumption.CreatedAt = time.Now().UTC()
	}
	consumption.Allocations = slices.Clone(consumption.Allocations)
	s.consumptions = append(s.consumptions, consumption)
	return &consumption, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Barcodes = slices.Clone(src.Barcodes)
	if src.MinStockThreshold != nil {
		dup.MinStockThreshold = make(map[string]int, len(src.MinStockThreshold))
		for k, v := range src.MinStockThreshold {
			dup.MinStockThreshold[k] = v
		}
	}
	return dup
}

func cloneBatch(src domain.InventoryBatch) domain.InventoryBatch {
	dup := src
	if src.ExpirationDate != nil {
		exp := *src.ExpirationDate
		dup.ExpirationDate = &exp
	}
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func cloneTransfer(src domain.Transfer) domain.Transfer {
	dup := src
	dup.Items = make([]domain.TransferItem, len(src.Items))
	for idx, item := range src.Items {
		item.Shipped = slices.Clone(item.Shipped)
		dup.Items[idx] = item
	}
	dup.History = slices.Clone(src.History)
	return dup
}
