package service

import (
	"context"
	"errors"
	"testing"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/store/memory"
	"tiendapos/backend/internal/transfer"
)

type fixedPIN string

func (p fixedPIN) ValidateManagerPIN(pin string) bool {
	return pin == string(p)
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultStoreID: "main-store", PIN: fixedPIN("246810")}), repo
}

func as(username string, role string, location string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: role, LocationID: location})
}

func totalAt(t *testing.T, repo *memory.Store, productID string, locationID string) int {
	t.Helper()
	batches, err := repo.ListBatches(context.Background(), domain.BatchFilter{ProductID: productID, LocationID: locationID})
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total
}

func TestCreateProductRequiresManagerOrAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(as("cashier", domain.RoleCashier, memory.StoreLocation), domain.ProductCreateRequest{Name: "Pan", PriceCents: 300})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateProductWithInitialStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := as("admin", domain.RoleAdmin, memory.StoreLocation)

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:              "Pan Amasado",
		PriceCents:        300,
		CostCents:         150,
		InitialStock:      12,
		InitialExpiration: "2026-12-01",
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if got := totalAt(t, repo, product.ID, memory.StoreLocation); got != 12 {
		t.Fatalf("expected 12 units at the actor's location, got %d", got)
	}
	if level := svc.StockLevel(product.ID, memory.StoreLocation); level.Total != 12 {
		t.Fatalf("expected cached stock 12, got %d", level.Total)
	}

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Mal", PriceCents: 1, InitialExpiration: "01/12/2026"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad date, got %v", err)
	}
}

func TestDeleteProductCascadesBatches(t *testing.T) {
	svc, repo := newTestService()
	ctx := as("admin", domain.RoleAdmin, memory.StoreLocation)

	if err := svc.DeleteProduct(ctx, "prod-leche"); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}
	batches, _ := repo.ListBatches(context.Background(), domain.BatchFilter{ProductID: "prod-leche"})
	if len(batches) != 0 {
		t.Fatalf("expected batches removed, got %d", len(batches))
	}
	if _, err := svc.GetProduct(ctx, "prod-leche"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product gone, got %v", err)
	}
}

func TestTransferLifecycleMovesStock(t *testing.T) {
	svc, repo := newTestService()
	cashier := as("cashier", domain.RoleCashier, memory.StoreLocation)
	manager := as("manager", domain.RoleManager, memory.NorthLocation)
	warehouse := as("warehouse", domain.RoleWarehouse, memory.WarehouseLocation)

	created, err := svc.CreateTransfer(cashier, domain.TransferCreateRequest{
		OriginLocationID:      memory.WarehouseLocation,
		DestinationLocationID: memory.StoreLocation,
		Items:                 []domain.TransferItemRequest{{ProductID: "prod-leche", Quantity: 20}},
	})
	if err != nil {
		t.Fatalf("create transfer failed: %v", err)
	}

	if _, err := svc.AdvanceTransfer(warehouse, created.ID, transfer.ActionShip, nil); !errors.Is(err, transfer.ErrInvalidTransition) {
		t.Fatalf("expected shipping before approval to fail, got %v", err)
	}
	if _, err := svc.AdvanceTransfer(cashier, created.ID, transfer.ActionApprove, nil); !errors.Is(err, transfer.ErrForbidden) {
		t.Fatalf("expected cashier approval to be forbidden, got %v", err)
	}
	if _, err := svc.AdvanceTransfer(manager, created.ID, transfer.ActionApprove, nil); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	shipped, err := svc.AdvanceTransfer(warehouse, created.ID, transfer.ActionShip, map[string]int{"prod-leche": 15})
	if err != nil {
		t.Fatalf("ship failed: %v", err)
	}
	if len(shipped.Items[0].Shipped) == 0 {
		t.Fatalf("expected shipped allocations to be recorded")
	}
	if got := totalAt(t, repo, "prod-leche", memory.WarehouseLocation); got != 105 {
		t.Fatalf("expected 105 units left at origin, got %d", got)
	}

	before := totalAt(t, repo, "prod-leche", memory.StoreLocation)
	received, err := svc.AdvanceTransfer(cashier, created.ID, transfer.ActionReceive, map[string]int{"prod-leche": 14})
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if received.Status != domain.TransferReceived || len(received.History) != 4 {
		t.Fatalf("unexpected final transfer: status=%s history=%d", received.Status, len(received.History))
	}
	if got := totalAt(t, repo, "prod-leche", memory.StoreLocation); got != before+14 {
		t.Fatalf("expected %d units at destination, got %d", before+14, got)
	}

	batches, _ := repo.ListBatches(context.Background(), domain.BatchFilter{ProductID: "prod-leche", LocationID: memory.StoreLocation})
	last := batches[len(batches)-1]
	if last.ExpirationDate == nil || last.CostCents != 950 {
		t.Fatalf("expected received batch to keep origin cost and expiry, got %+v", last)
	}
}

func TestShipRejectsMissingStock(t *testing.T) {
	svc, _ := newTestService()
	admin := as("admin", domain.RoleAdmin, memory.StoreLocation)

	created, err := svc.CreateTransfer(admin, domain.TransferCreateRequest{
		OriginLocationID:      memory.NorthLocation,
		DestinationLocationID: memory.StoreLocation,
		Items:                 []domain.TransferItemRequest{{ProductID: "prod-agua", Quantity: 50}},
	})
	if err != nil {
		t.Fatalf("create transfer failed: %v", err)
	}
	if _, err := svc.AdvanceTransfer(admin, created.ID, transfer.ActionApprove, nil); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := svc.AdvanceTransfer(admin, created.ID, transfer.ActionShip, nil); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	current, _ := svc.GetTransfer(admin, created.ID)
	if current.Status != domain.TransferApproved {
		t.Fatalf("expected transfer to stay approved, got %s", current.Status)
	}
}

func TestCreditLiquidationNeedsPIN(t *testing.T) {
	svc, _ := newTestService()
	ctx := as("cashier", domain.RoleCashier, memory.StoreLocation)

	client, err := svc.ChangeCredit(ctx, "client-1", domain.CreditGrant, domain.CreditRequest{AmountCents: 8000})
	if err != nil || client.CreditBalanceCents != 8000 {
		t.Fatalf("grant failed: %v balance=%d", err, client.CreditBalanceCents)
	}
	client, err = svc.ChangeCredit(ctx, "client-1", domain.CreditPayment, domain.CreditRequest{AmountCents: 3000})
	if err != nil || client.CreditBalanceCents != 5000 {
		t.Fatalf("payment failed: %v balance=%d", err, client.CreditBalanceCents)
	}

	if _, err := svc.ChangeCredit(ctx, "client-1", domain.CreditLiquidate, domain.CreditRequest{ManagerPIN: "000000"}); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected invalid PIN, got %v", err)
	}
	client, err = svc.ChangeCredit(ctx, "client-1", domain.CreditLiquidate, domain.CreditRequest{ManagerPIN: "246810"})
	if err != nil || client.CreditBalanceCents != 0 {
		t.Fatalf("liquidate failed: %v balance=%d", err, client.CreditBalanceCents)
	}
}

func TestCloseCashSumsOpenSales(t *testing.T) {
	svc, repo := newTestService()
	ctx := as("cashier", domain.RoleCashier, memory.StoreLocation)

	for _, sale := range []domain.Sale{
		{IdempotencyKey: "c-1", LocationID: memory.StoreLocation, CashierID: "cashier", TotalCents: 2580, Payment: domain.Payment{CashCents: 3000}, Lines: []domain.CartLine{{ProductID: "prod-leche", Quantity: 2, PriceCents: 1290}}},
		{IdempotencyKey: "c-2", LocationID: memory.StoreLocation, CashierID: "cashier", TotalCents: 1890, Payment: domain.Payment{CardCents: 1890}, Lines: []domain.CartLine{{ProductID: "prod-arroz", Quantity: 1, PriceCents: 1890}}},
		{IdempotencyKey: "c-3", LocationID: memory.StoreLocation, CashierID: "other", TotalCents: 800, Payment: domain.Payment{CashCents: 800}, Lines: []domain.CartLine{{ProductID: "prod-agua", Quantity: 1, PriceCents: 800}}},
	} {
		if _, err := repo.CreateSale(context.Background(), sale); err != nil {
			t.Fatalf("seed sale failed: %v", err)
		}
	}

	closing, err := svc.CloseCash(ctx, domain.CashClosingRequest{InitialCashCents: 10000})
	if err != nil {
		t.Fatalf("close cash failed: %v", err)
	}
	if len(closing.SaleIDs) != 2 || closing.TotalSalesCents != 4470 || closing.CashSalesCents != 3000 || closing.CardSalesCents != 1890 {
		t.Fatalf("unexpected closing totals: %+v", closing)
	}
	if closing.FinalCashCents != 13000 {
		t.Fatalf("expected final cash 13000, got %d", closing.FinalCashCents)
	}

	again, err := svc.CloseCash(ctx, domain.CashClosingRequest{})
	if err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if len(again.SaleIDs) != 0 {
		t.Fatalf("expected no open sales left, got %d", len(again.SaleIDs))
	}
}

func TestRecordConsumptionUsesActorLocation(t *testing.T) {
	svc, repo := newTestService()
	ctx := as("cashier", domain.RoleCashier, memory.StoreLocation)

	record, err := svc.RecordConsumption(ctx, domain.ConsumptionRequest{ProductID: "prod-leche", Quantity: 10})
	if err != nil {
		t.Fatalf("consumption failed: %v", err)
	}
	if record.CostCents != 8*960+2*980 {
		t.Fatalf("expected FEFO cost %d, got %d", 8*960+2*980, record.CostCents)
	}
	if got := totalAt(t, repo, "prod-leche", memory.StoreLocation); got != 22 {
		t.Fatalf("expected 22 units left, got %d", got)
	}
	if got := totalAt(t, repo, "prod-leche", memory.WarehouseLocation); got != 120 {
		t.Fatalf("expected warehouse untouched, got %d", got)
	}
}

func TestAlertsReportSeededRisks(t *testing.T) {
	svc, _ := newTestService()
	ctx := as("manager", domain.RoleManager, memory.StoreLocation)

	alerts, err := svc.Alerts(ctx, memory.StoreLocation)
	if err != nil {
		t.Fatalf("alerts failed: %v", err)
	}
	var lowYogurt, expiringMilk bool
	for _, alert := range alerts {
		if alert.Type == domain.AlertLowStock && alert.ProductID == "prod-yogur" {
			lowYogurt = true
		}
		if alert.Type == domain.AlertNearExpiry && alert.BatchID == "batch-leche-1" {
			expiringMilk = true
		}
	}
	if !lowYogurt || !expiringMilk {
		t.Fatalf("expected low yogurt and expiring milk alerts, got %+v", alerts)
	}
}

func TestSalesReportRequiresManager(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.SalesReport(as("cashier", domain.RoleCashier, ""), "", "", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	report, err := svc.SalesReport(as("admin", domain.RoleAdmin, ""), "", "", "")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Sales != 0 {
		t.Fatalf("expected empty report, got %d sales", report.Sales)
	}
}

// flakyRepo fails the stock movements of transfers on demand.
type flakyRepo struct {
	*memory.Store
	failConsume     bool
	failCreateBatch bool
}

func (r *flakyRepo) ConsumeStock(ctx context.Context, demands []domain.StockDemand) ([]domain.StockDeduction, error) {
	if r.failConsume {
		return nil, store.ErrUnavailable
	}
	return r.Store.ConsumeStock(ctx, demands)
}

func (r *flakyRepo) CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if r.failCreateBatch {
		return nil, store.ErrUnavailable
	}
	return r.Store.CreateBatch(ctx, batch)
}

func approvedTransfer(t *testing.T, svc *Service) domain.Transfer {
	t.Helper()
	admin := as("admin", domain.RoleAdmin, memory.StoreLocation)
	created, err := svc.CreateTransfer(admin, domain.TransferCreateRequest{
		OriginLocationID:      memory.WarehouseLocation,
		DestinationLocationID: memory.StoreLocation,
		Items:                 []domain.TransferItemRequest{{ProductID: "prod-leche", Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create transfer failed: %v", err)
	}
	approved, err := svc.AdvanceTransfer(admin, created.ID, transfer.ActionApprove, nil)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	return approved
}

func TestShipFailureKeepsTransferApproved(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded(), failConsume: true}
	svc := New(repo, Options{DefaultStoreID: "main-store"})
	admin := as("admin", domain.RoleAdmin, memory.StoreLocation)
	approved := approvedTransfer(t, svc)
	before := totalAt(t, repo.Store, "prod-leche", memory.WarehouseLocation)

	if _, err := svc.AdvanceTransfer(admin, approved.ID, transfer.ActionShip, nil); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ship to fail with the store error, got %v", err)
	}
	current, _ := svc.GetTransfer(admin, approved.ID)
	if current.Status != domain.TransferApproved || len(current.History) != len(approved.History) {
		t.Fatalf("expected transfer back to approved, got status=%s history=%d", current.Status, len(current.History))
	}
	if got := totalAt(t, repo.Store, "prod-leche", memory.WarehouseLocation); got != before {
		t.Fatalf("expected origin stock untouched at %d, got %d", before, got)
	}

	repo.failConsume = false
	shipped, err := svc.AdvanceTransfer(admin, approved.ID, transfer.ActionShip, nil)
	if err != nil {
		t.Fatalf("retried ship failed: %v", err)
	}
	if shipped.Status != domain.TransferShipped || len(shipped.Items[0].Shipped) == 0 {
		t.Fatalf("expected shipped transfer with allocations, got %+v", shipped)
	}
	if got := totalAt(t, repo.Store, "prod-leche", memory.WarehouseLocation); got != before-10 {
		t.Fatalf("expected %d units left at origin, got %d", before-10, got)
	}
}

func TestReceiveFailureKeepsTransferShipped(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewSeeded()}
	svc := New(repo, Options{DefaultStoreID: "main-store"})
	admin := as("admin", domain.RoleAdmin, memory.StoreLocation)
	approved := approvedTransfer(t, svc)
	if _, err := svc.AdvanceTransfer(admin, approved.ID, transfer.ActionShip, nil); err != nil {
		t.Fatalf("ship failed: %v", err)
	}
	before := totalAt(t, repo.Store, "prod-leche", memory.StoreLocation)

	repo.failCreateBatch = true
	if _, err := svc.AdvanceTransfer(admin, approved.ID, transfer.ActionReceive, nil); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected receive to fail with the store error, got %v", err)
	}
	current, _ := svc.GetTransfer(admin, approved.ID)
	if current.Status != domain.TransferShipped {
		t.Fatalf("expected transfer back to shipped, got %s", current.Status)
	}

	repo.failCreateBatch = false
	received, err := svc.AdvanceTransfer(admin, approved.ID, transfer.ActionReceive, nil)
	if err != nil {
		t.Fatalf("retried receive failed: %v", err)
	}
	if received.Status != domain.TransferReceived {
		t.Fatalf("expected received transfer, got %s", received.Status)
	}
	if got := totalAt(t, repo.Store, "prod-leche", memory.StoreLocation); got != before+10 {
		t.Fatalf("expected %d units at destination, got %d", before+10, got)
	}
}
