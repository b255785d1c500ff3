package store

import (
	"context"
	"errors"
	"time"

	"tiendapos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict reports a write based on a state that changed meanwhile.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable reports that the remote store cannot be reached.
	ErrUnavailable = errors.New("remote store unavailable")
)

// Repository is the remote persistence service the terminal reconciles with.
type Repository interface {
	Ping(ctx context.Context) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// DeleteProduct fails while batches still reference the product.
	DeleteProduct(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)

	ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.InventoryBatch, error)
	CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error)
	UpdateBatch(ctx context.Context, id string, update domain.BatchUpdate) (*domain.InventoryBatch, error)
	DeleteBatchesByProduct(ctx context.Context, productID string) (int, error)
	// ConsumeStock deducts demands from the remote batches in FEFO order.
	ConsumeStock(ctx context.Context, demands []domain.StockDemand) ([]domain.StockDeduction, error)

	// CreateSale records sale and deducts its lines from the sale location.
	// A sale whose idempotency key is already known is not recorded again;
	// the stored sale is returned instead.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	// CreateCashClosing stores closing and marks its sales as closed. It
	// fails with ErrConflict when one of them was closed meanwhile.
	CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)
	ListCashClosings(ctx context.Context, cashierID string, limit int) ([]domain.CashClosing, error)

	CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, locationID string) ([]domain.Transfer, error)
	// UpdateTransfer saves transfer only if its stored status is still
	// expected, otherwise it returns ErrConflict.
	UpdateTransfer(ctx context.Context, transfer domain.Transfer, expected domain.TransferStatus) (*domain.Transfer, error)

	ListClients(ctx context.Context, storeID string) ([]domain.Client, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	ApplyCreditChange(ctx context.Context, clientID string, change domain.CreditChange) (*domain.Client, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Expense, error)
	CreateConsumption(ctx context.Context, consumption domain.EmployeeConsumption) (*domain.EmployeeConsumption, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
