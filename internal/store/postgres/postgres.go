package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates the tables the store needs when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, price_cents, wholesale_price_cents, cost_cents, unit, category_id,
	subcategory_id, barcodes, store_id, image_ref, min_stock_threshold, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var barcodes, thresholds []byte
	if err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.WholesalePriceCents, &p.CostCents, &p.Unit, &p.CategoryID,
		&p.SubcategoryID, &barcodes, &p.StoreID, &p.ImageRef, &thresholds, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if err := json.Unmarshal(barcodes, &p.Barcodes); err != nil {
		return domain.Product{}, fmt.Errorf("decode barcodes of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(thresholds, &p.MinStockThreshold); err != nil {
		return domain.Product{}, fmt.Errorf("decode thresholds of %s: %w", p.ID, err)
	}
	if len(p.Barcodes) == 0 {
		p.Barcodes = nil
	}
	if len(p.MinStockThreshold) == 0 {
		p.MinStockThreshold = nil
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	barcodes, thresholds, err := productJSON(product)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, product.ID, product.Name, product.PriceCents, product.WholesalePriceCents, product.CostCents, product.Unit,
		product.CategoryID, product.SubcategoryID, barcodes, product.StoreID, product.ImageRef, thresholds,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	barcodes, thresholds, err := productJSON(product)
	if err != nil {
		return nil, err
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price_cents = $3, wholesale_price_cents = $4, cost_cents = $5, unit = $6,
			category_id = $7, subcategory_id = $8, barcodes = $9, image_ref = $10,
			min_stock_threshold = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.PriceCents, product.WholesalePriceCents, product.CostCents, product.Unit,
		product.CategoryID, product.SubcategoryID, barcodes, product.ImageRef, thresholds))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	var batches int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM inventory_batches WHERE product_id = $1`, id).Scan(&batches); err != nil {
		return err
	}
	if batches > 0 {
		return store.ErrConflict
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if category.ParentID != "" {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, category.ParentID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrInvalidInput
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, parent_id) VALUES ($1,$2,$3)
	`, category.ID, category.Name, category.ParentID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &category, nil
}

const batchColumns = `id, product_id, location_id, quantity, cost_cents, expiration_date, created_at`

func scanBatch(row rowScanner) (domain.InventoryBatch, error) {
	var b domain.InventoryBatch
	var expiration sql.NullTime
	if err := row.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.Quantity, &b.CostCents, &expiration, &b.CreatedAt); err != nil {
		return domain.InventoryBatch{}, err
	}
	if expiration.Valid {
		e := dateUTC(expiration.Time)
		b.ExpirationDate = &e
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func collectBatches(rows *sql.Rows) ([]domain.InventoryBatch, error) {
	batches := make([]domain.InventoryBatch, 0, 32)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE ($1::text = '' OR product_id = $1) AND ($2::text = '' OR location_id = $2)
		ORDER BY created_at, id
	`, filter.ProductID, filter.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if batch.ProductID == "" || batch.LocationID == "" || batch.Quantity < 0 || batch.CostCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_batches (`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, batch.ID, batch.ProductID, batch.LocationID, batch.Quantity, batch.CostCents, nullDate(batch.ExpirationDate), batch.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) UpdateBatch(ctx context.Context, id string, update domain.BatchUpdate) (*domain.InventoryBatch, error) {
	if update.Quantity != nil && *update.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if update.CostCents != nil && *update.CostCents < 0 {
		return nil, store.ErrInvalidInput
	}

	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		UPDATE inventory_batches
		SET quantity = COALESCE($2, quantity),
			cost_cents = COALESCE($3, cost_cents),
			expiration_date = COALESCE($4, expiration_date)
		WHERE id = $1
		RETURNING `+batchColumns,
		id, nullInt(update.Quantity), nullInt64(update.CostCents), nullDate(update.ExpirationDate)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) DeleteBatchesByProduct(ctx context.Context, productID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE product_id = $1`, productID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ConsumeStock(ctx context.Context, demands []domain.StockDemand) ([]domain.StockDeduction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	deductions, err := deductLocked(ctx, pgTx, demands)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return deductions, nil
}

// deductLocked locks the batches of the demanded products, runs the FEFO
// deduction over them and writes the remaining quantities back.
func deductLocked(ctx context.Context, pgTx *sql.Tx, demands []domain.StockDemand) ([]domain.StockDeduction, error) {
	productIDs := uniqueProducts(demands)
	if len(productIDs) == 0 {
		return nil, store.ErrInvalidInput
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE product_id = ANY($1) AND quantity > 0
		ORDER BY created_at, id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	batches, err := collectBatches(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	_, deductions := ledger.New(batches).DeductAll(demands)
	for _, deduction := range deductions {
		for _, allocation := range deduction.Allocations {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE inventory_batches SET quantity = $2 WHERE id = $1
			`, allocation.BatchID, allocation.Remaining); err != nil {
				return nil, err
			}
		}
	}
	return deductions, nil
}

const saleColumns = `id, idempotency_key, store_id, location_id, cashier_id, lines, subtotal_cents, discount,
	discount_cents, commission_cents, total_cents, payment, change_cents, note, offline, closing_id, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var lines, discount, payment []byte
	var closingID sql.NullString
	if err := row.Scan(&sale.ID, &sale.IdempotencyKey, &sale.StoreID, &sale.LocationID, &sale.CashierID, &lines,
		&sale.SubtotalCents, &discount, &sale.DiscountCents, &sale.CommissionCents, &sale.TotalCents, &payment,
		&sale.ChangeCents, &sale.Note, &sale.Offline, &closingID, &sale.CreatedAt); err != nil {
		return domain.Sale{}, err
	}
	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return domain.Sale{}, fmt.Errorf("decode lines of sale %s: %w", sale.ID, err)
	}
	if err := json.Unmarshal(discount, &sale.Discount); err != nil {
		return domain.Sale{}, fmt.Errorf("decode discount of sale %s: %w", sale.ID, err)
	}
	if err := json.Unmarshal(payment, &sale.Payment); err != nil {
		return domain.Sale{}, fmt.Errorf("decode payment of sale %s: %w", sale.ID, err)
	}
	sale.ClosingID = closingID.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

// CreateSale stores the sale and deducts its lines in one serializable
// transaction. A repeated idempotency key returns the sale stored first.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 || sale.LocationID == "" {
		return nil, store.ErrInvalidInput
	}
	if existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	discount, err := json.Marshal(sale.Discount)
	if err != nil {
		return nil, err
	}
	payment, err := json.Marshal(sale.Payment)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	sale.ID = xid.New("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.IdempotencyKey, sale.StoreID, sale.LocationID, sale.CashierID, string(lines),
		sale.SubtotalCents, string(discount), sale.DiscountCents, sale.CommissionCents, sale.TotalCents,
		string(payment), sale.ChangeCents, sale.Note, sale.Offline, nullIfEmpty(sale.ClosingID), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	demands := make([]domain.StockDemand, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		demands = append(demands, domain.StockDemand{ProductID: line.ProductID, LocationID: sale.LocationID, Quantity: line.Quantity})
	}
	if _, err := deductLocked(ctx, pgTx, demands); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::text = '' OR cashier_id = $1)
			AND ($2::text = '' OR location_id = $2)
			AND (NOT $3 OR closing_id IS NULL)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at, id
	`, filter.CashierID, filter.LocationID, filter.OpenOnly, nullZeroTime(filter.From), nullZeroTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if closing.CashierID == "" {
		return nil, store.ErrInvalidInput
	}
	if closing.ID == "" {
		closing.ID = xid.New("closing")
	}
	if closing.ClosedAt.IsZero() {
		closing.ClosedAt = time.Now().UTC()
	}
	if closing.SaleIDs == nil {
		closing.SaleIDs = []string{}
	}
	saleIDs, err := json.Marshal(closing.SaleIDs)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if len(closing.SaleIDs) > 0 {
		rows, err := pgTx.QueryContext(ctx, `
			SELECT id, closing_id FROM sales WHERE id = ANY($1) FOR UPDATE
		`, closing.SaleIDs)
		if err != nil {
			return nil, err
		}
		found := 0
		closed := false
		for rows.Next() {
			var id string
			var closingID sql.NullString
			if err := rows.Scan(&id, &closingID); err != nil {
				_ = rows.Close()
				return nil, err
			}
			found++
			closed = closed || closingID.Valid
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
		if found != len(closing.SaleIDs) {
			return nil, store.ErrNotFound
		}
		if closed {
			return nil, store.ErrConflict
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_closings (
			id, cashier_id, store_id, location_id, initial_cash_cents, total_sales_cents,
			cash_sales_cents, card_sales_cents, final_cash_cents, sale_ids, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, closing.ID, closing.CashierID, closing.StoreID, closing.LocationID, closing.InitialCashCents,
		closing.TotalSalesCents, closing.CashSalesCents, closing.CardSalesCents, closing.FinalCashCents,
		string(saleIDs), closing.ClosedAt)
	if err != nil {
		return nil, err
	}
	if len(closing.SaleIDs) > 0 {
		if _, err := pgTx.ExecContext(ctx, `UPDATE sales SET closing_id = $1 WHERE id = ANY($2)`, closing.ID, closing.SaleIDs); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &closing, nil
}

func (s *Store) ListCashClosings(ctx context.Context, cashierID string, limit int) ([]domain.CashClosing, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cashier_id, store_id, location_id, initial_cash_cents, total_sales_cents,
			cash_sales_cents, card_sales_cents, final_cash_cents, sale_ids, closed_at
		FROM cash_closings
		WHERE $1::text = '' OR cashier_id = $1
		ORDER BY closed_at DESC, id DESC
		LIMIT $2
	`, cashierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closings := make([]domain.CashClosing, 0, limit)
	for rows.Next() {
		var c domain.CashClosing
		var saleIDs []byte
		if err := rows.Scan(&c.ID, &c.CashierID, &c.StoreID, &c.LocationID, &c.InitialCashCents, &c.TotalSalesCents,
			&c.CashSalesCents, &c.CardSalesCents, &c.FinalCashCents, &saleIDs, &c.ClosedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(saleIDs, &c.SaleIDs); err != nil {
			return nil, fmt.Errorf("decode sales of closing %s: %w", c.ID, err)
		}
		c.ClosedAt = c.ClosedAt.UTC()
		closings = append(closings, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return closings, nil
}

const transferColumns = `id, origin_location_id, destination_location_id, requested_by, status, items, history, created_at`

func scanTransfer(row rowScanner) (domain.Transfer, error) {
	var t domain.Transfer
	var items, history []byte
	if err := row.Scan(&t.ID, &t.OriginLocationID, &t.DestinationLocationID, &t.RequestedBy, &t.Status,
		&items, &history, &t.CreatedAt); err != nil {
		return domain.Transfer{}, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return domain.Transfer{}, fmt.Errorf("decode items of transfer %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(history, &t.History); err != nil {
		return domain.Transfer{}, fmt.Errorf("decode history of transfer %s: %w", t.ID, err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func transferJSON(t domain.Transfer) (string, string, error) {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return "", "", err
	}
	history, err := json.Marshal(t.History)
	if err != nil {
		return "", "", err
	}
	return string(items), string(history), nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	if transfer.OriginLocationID == "" || transfer.DestinationLocationID == "" || len(transfer.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if transfer.ID == "" {
		transfer.ID = xid.New("transfer")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	items, history, err := transferJSON(transfer)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, transfer.ID, transfer.OriginLocationID, transfer.DestinationLocationID, transfer.RequestedBy,
		string(transfer.Status), items, history, transfer.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &transfer, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(s.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTransfers(ctx context.Context, locationID string) ([]domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE $1::text = '' OR origin_location_id = $1 OR destination_location_id = $1
		ORDER BY created_at DESC, id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0, 32)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

// UpdateTransfer writes transfer only while the stored status still equals
// expected.
func (s *Store) UpdateTransfer(ctx context.Context, transfer domain.Transfer, expected domain.TransferStatus) (*domain.Transfer, error) {
	items, history, err := transferJSON(transfer)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transfers
		SET status = $3, items = $4, history = $5
		WHERE id = $1 AND status = $2
	`, transfer.ID, string(expected), string(transfer.Status), items, history)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetTransfer(ctx, transfer.ID); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return &transfer, nil
}

const clientColumns = `id, name, phone, email, store_id, credit_balance_cents, created_at`

func scanClient(row rowScanner) (domain.Client, error) {
	var c domain.Client
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.StoreID, &c.CreditBalanceCents, &c.CreatedAt); err != nil {
		return domain.Client{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, storeID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE $1::text = '' OR store_id = $1 ORDER BY name, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if strings.TrimSpace(client.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("client")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, client.ID, client.Name, client.Phone, client.Email, client.StoreID, client.CreditBalanceCents, client.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &client, nil
}

func (s *Store) ApplyCreditChange(ctx context.Context, clientID string, change domain.CreditChange) (*domain.Client, error) {
	if change.AmountCents < 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	client, err := scanClient(pgTx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	client.CreditBalanceCents = change.Apply(client.CreditBalanceCents)
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE clients SET credit_balance_cents = $2 WHERE id = $1
	`, clientID, client.CreditBalanceCents); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if strings.TrimSpace(expense.Description) == "" || expense.AmountCents <= 0 {
		return nil, store.ErrInvalidInput
	}
	if expense.ID == "" {
		expense.ID = xid.New("expense")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, store_id, description, category, amount_cents, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.StoreID, expense.Description, expense.Category, expense.AmountCents,
		expense.RecordedBy, expense.CreatedAt); err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, description, category, amount_cents, recorded_by, created_at
		FROM expenses
		WHERE ($1::text = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, storeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.StoreID, &e.Description, &e.Category, &e.AmountCents, &e.RecordedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateConsumption(ctx context.Context, consumption domain.EmployeeConsumption) (*domain.EmployeeConsumption, error) {
	if consumption.UserID == "" || consumption.ProductID == "" || consumption.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}
	if consumption.ID == "" {
		consumption.ID = xid.New("consumption")
	}
	if consumption.CreatedAt.IsZero() {
		consumption.CreatedAt = time.Now().UTC()
	}
	if consumption.Allocations == nil {
		consumption.Allocations = []domain.BatchAllocation{}
	}
	allocations, err := json.Marshal(consumption.Allocations)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_consumptions (id, user_id, location_id, product_id, quantity, cost_cents, allocations, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, consumption.ID, consumption.UserID, consumption.LocationID, consumption.ProductID, consumption.Quantity,
		consumption.CostCents, string(allocations), consumption.CreatedAt); err != nil {
		return nil, err
	}
	return &consumption, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::text = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, location_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Password, user.Role, user.LocationID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, location_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.LocationID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func productJSON(p domain.Product) (string, string, error) {
	barcodes := p.Barcodes
	if barcodes == nil {
		barcodes = []string{}
	}
	thresholds := p.MinStockThreshold
	if thresholds == nil {
		thresholds = map[string]int{}
	}
	rawBarcodes, err := json.Marshal(barcodes)
	if err != nil {
		return "", "", err
	}
	rawThresholds, err := json.Marshal(thresholds)
	if err != nil {
		return "", "", err
	}
	return string(rawBarcodes), string(rawThresholds), nil
}

func uniqueProducts(demands []domain.StockDemand) []string {
	ids := make([]string, 0, len(demands))
	for _, demand := range demands {
		if demand.ProductID != "" && !slices.Contains(ids, demand.ProductID) {
			ids = append(ids, demand.ProductID)
		}
	}
	slices.Sort(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(*val)
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
