package domain

import "time"

const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleWarehouse = "warehouse"
	RoleCashier   = "cashier"
)

type Product struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	PriceCents          int64          `json:"price_cents"`
	WholesalePriceCents int64          `json:"wholesale_price_cents"`
	CostCents           int64          `json:"cost_cents"`
	Unit                string         `json:"unit"`
	CategoryID          string         `json:"category_id,omitempty"`
	SubcategoryID       string         `json:"subcategory_id,omitempty"`
	Barcodes            []string       `json:"barcodes,omitempty"`
	StoreID             string         `json:"store_id"`
	ImageRef            string         `json:"image_ref,omitempty"`
	MinStockThreshold   map[string]int `json:"min_stock_threshold,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// InventoryBatch is a quantity of one product at one location sharing a
// cost and an optional expiration date.
type InventoryBatch struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	LocationID     string     `json:"location_id"`
	Quantity       int        `json:"quantity"`
	CostCents      int64      `json:"cost_cents"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type BatchUpdate struct {
	Quantity       *int       `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	CostCents      *int64     `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type StockDemand struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

type BatchAllocation struct {
	BatchID        string     `json:"batch_id"`
	Quantity       int        `json:"quantity"`
	Remaining      int        `json:"remaining"`
	CostCents      int64      `json:"cost_cents"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// StockDeduction reports which batches a demand consumed. Shortfall is the
// part of the demand that no batch could cover.
type StockDeduction struct {
	Demand      StockDemand       `json:"demand"`
	Allocations []BatchAllocation `json:"allocations"`
	Shortfall   int               `json:"shortfall"`
}

type CartLine struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountAmount     DiscountType = "amount"
)

// Discount value is percentage points for DiscountPercentage and cents for
// DiscountAmount.
type Discount struct {
	Type  DiscountType `json:"type" validate:"omitempty,oneof=none percentage amount"`
	Value float64      `json:"value" validate:"gte=0"`
}

func NoDiscount() Discount {
	return Discount{Type: DiscountNone}
}

type Payment struct {
	CashCents        int64 `json:"cash_cents" validate:"gte=0"`
	CardCents        int64 `json:"card_cents" validate:"gte=0"`
	CommissionInCash bool  `json:"commission_in_cash"`
}

type Sale struct {
	ID              string     `json:"id"`
	IdempotencyKey  string     `json:"idempotency_key"`
	StoreID         string     `json:"store_id"`
	LocationID      string     `json:"location_id"`
	CashierID       string     `json:"cashier_id"`
	Lines           []CartLine `json:"lines"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	Discount        Discount   `json:"discount"`
	DiscountCents   int64      `json:"discount_cents"`
	CommissionCents int64      `json:"commission_cents"`
	TotalCents      int64      `json:"total_cents"`
	Payment         Payment    `json:"payment"`
	ChangeCents     int64      `json:"change_cents"`
	Note            string     `json:"note"`
	Offline         bool       `json:"offline"`
	ClosingID       string     `json:"closing_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const PendingStatus = "pending"

// PendingSale is a sale completed while offline and waiting for the remote
// store. LocalID, Status and CreatedAt never leave the terminal.
type PendingSale struct {
	LocalID   string    `json:"local_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Sale      Sale      `json:"sale"`
}

type TransferStatus string

const (
	TransferRequested TransferStatus = "solicitado"
	TransferApproved  TransferStatus = "aprobado"
	TransferShipped   TransferStatus = "enviado"
	TransferReceived  TransferStatus = "recibido"
)

type TransferItem struct {
	ProductID    string            `json:"product_id"`
	RequestedQty int               `json:"requested_qty"`
	SentQty      int               `json:"sent_qty"`
	ReceivedQty  int               `json:"received_qty"`
	Shipped      []BatchAllocation `json:"shipped,omitempty"`
}

type TransferHistoryEntry struct {
	Status TransferStatus `json:"status"`
	At     time.Time      `json:"at"`
	UserID string         `json:"user_id"`
}

type Transfer struct {
	ID                    string                 `json:"id"`
	OriginLocationID      string                 `json:"origin_location_id"`
	DestinationLocationID string                 `json:"destination_location_id"`
	RequestedBy           string                 `json:"requested_by"`
	Status                TransferStatus         `json:"status"`
	Items                 []TransferItem         `json:"items"`
	History               []TransferHistoryEntry `json:"history"`
	CreatedAt             time.Time              `json:"created_at"`
}

type CashClosing struct {
	ID               string    `json:"id"`
	CashierID        string    `json:"cashier_id"`
	StoreID          string    `json:"store_id"`
	LocationID       string    `json:"location_id"`
	InitialCashCents int64     `json:"initial_cash_cents"`
	TotalSalesCents  int64     `json:"total_sales_cents"`
	CashSalesCents   int64     `json:"cash_sales_cents"`
	CardSalesCents   int64     `json:"card_sales_cents"`
	FinalCashCents   int64     `json:"final_cash_cents"`
	SaleIDs          []string  `json:"sale_ids"`
	ClosedAt         time.Time `json:"closed_at"`
}

type Client struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Phone              string    `json:"phone,omitempty"`
	Email              string    `json:"email,omitempty"`
	StoreID            string    `json:"store_id"`
	CreditBalanceCents int64     `json:"credit_balance_cents"`
	CreatedAt          time.Time `json:"created_at"`
}

type CreditChangeKind string

const (
	CreditGrant     CreditChangeKind = "grant"
	CreditPayment   CreditChangeKind = "payment"
	CreditLiquidate CreditChangeKind = "liquidate"
)

type CreditChange struct {
	Kind        CreditChangeKind `json:"kind"`
	AmountCents int64            `json:"amount_cents"`
}

// Apply returns the balance after the change. Payments never take the
// balance below zero.
func (c CreditChange) Apply(balance int64) int64 {
	switch c.Kind {
	case CreditGrant:
		return balance + c.AmountCents
	case CreditPayment:
		return max(0, balance-c.AmountCents)
	case CreditLiquidate:
		return 0
	default:
		return balance
	}
}

type Expense struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type EmployeeConsumption struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	LocationID  string            `json:"location_id"`
	ProductID   string            `json:"product_id"`
	Quantity    int               `json:"quantity"`
	CostCents   int64             `json:"cost_cents"`
	Allocations []BatchAllocation `json:"allocations"`
	CreatedAt   time.Time         `json:"created_at"`
}

type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertNearExpiry AlertType = "near_expiry"
)

type Alert struct {
	Type           AlertType  `json:"type"`
	ProductID      string     `json:"product_id"`
	ProductName    string     `json:"product_name"`
	LocationID     string     `json:"location_id"`
	BatchID        string     `json:"batch_id,omitempty"`
	Quantity       int        `json:"quantity"`
	Threshold      int        `json:"threshold,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	DaysLeft       int        `json:"days_left,omitempty"`
}

type Actor struct {
	Username   string
	Role       string
	LocationID string
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username   string
	Password   string
	Role       string
	LocationID string
	Active     bool
	CreatedAt  time.Time
}
