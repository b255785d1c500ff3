package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"tiendapos/backend/internal/domain"
)

func TestCreateSaleDeductsFEFOAndDeduplicates(t *testing.T) {
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-it-%d", stamp)
	location := fmt.Sprintf("loc-it-%d", stamp)
	key := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE idempotency_key = $1`, key)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{ID: productID, Name: "Producto IT", PriceCents: 1000}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	soon := time.Now().UTC().AddDate(0, 0, 3)
	later := time.Now().UTC().AddDate(0, 0, 30)
	for _, batch := range []domain.InventoryBatch{
		{ID: productID + "-late", ProductID: productID, LocationID: location, Quantity: 5, CostCents: 500, ExpirationDate: &later},
		{ID: productID + "-soon", ProductID: productID, LocationID: location, Quantity: 3, CostCents: 400, ExpirationDate: &soon},
		{ID: productID + "-undated", ProductID: productID, LocationID: location, Quantity: 10, CostCents: 450},
	} {
		if _, err := s.CreateBatch(ctx, batch); err != nil {
			t.Fatalf("create batch %s: %v", batch.ID, err)
		}
	}

	sale := domain.Sale{
		IdempotencyKey: key,
		LocationID:     location,
		CashierID:      "cashier",
		Lines:          []domain.CartLine{{ProductID: productID, Name: "Producto IT", PriceCents: 1000, Quantity: 4}},
		SubtotalCents:  4000,
		TotalCents:     4000,
		Payment:        domain.Payment{CashCents: 4000},
	}
	first, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	second, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("repeat sale: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected repeated key to return sale %s, got %s", first.ID, second.ID)
	}

	batches, err := s.ListBatches(ctx, domain.BatchFilter{ProductID: productID, LocationID: location})
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	got := map[string]int{}
	for _, batch := range batches {
		got[batch.ID] = batch.Quantity
	}
	if got[productID+"-soon"] != 0 || got[productID+"-late"] != 4 || got[productID+"-undated"] != 10 {
		t.Fatalf("unexpected quantities after sale: %+v", got)
	}
}
