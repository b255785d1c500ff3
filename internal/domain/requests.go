package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	LocationID  string `json:"location_id"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username   string `json:"username" validate:"required,min=4"`
	Password   string `json:"password" validate:"required,min=6"`
	Role       string `json:"role" validate:"required,oneof=admin manager warehouse cashier"`
	LocationID string `json:"location_id"`
}

type UserView struct {
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	LocationID string    `json:"location_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name                string         `json:"name" validate:"required"`
	PriceCents          int64          `json:"price_cents" validate:"gte=0"`
	WholesalePriceCents int64          `json:"wholesale_price_cents" validate:"gte=0"`
	CostCents           int64          `json:"cost_cents" validate:"gte=0"`
	Unit                string         `json:"unit"`
	CategoryID          string         `json:"category_id"`
	SubcategoryID       string         `json:"subcategory_id"`
	Barcodes            []string       `json:"barcodes"`
	StoreID             string         `json:"store_id"`
	ImageRef            string         `json:"image_ref"`
	MinStockThreshold   map[string]int `json:"min_stock_threshold"`
	InitialStock        int            `json:"initial_stock" validate:"gte=0"`
	InitialLocationID   string         `json:"initial_location_id"`
	InitialExpiration   string         `json:"initial_expiration"`
}

type ProductUpdateRequest struct {
	Name                *string        `json:"name,omitempty"`
	PriceCents          *int64         `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	WholesalePriceCents *int64         `json:"wholesale_price_cents,omitempty" validate:"omitempty,gte=0"`
	CostCents           *int64         `json:"cost_cents,omitempty" validate:"omitempty,gte=0"`
	Unit                *string        `json:"unit,omitempty"`
	CategoryID          *string        `json:"category_id,omitempty"`
	SubcategoryID       *string        `json:"subcategory_id,omitempty"`
	Barcodes            []string       `json:"barcodes,omitempty"`
	ImageRef            *string        `json:"image_ref,omitempty"`
	MinStockThreshold   map[string]int `json:"min_stock_threshold,omitempty"`
}

type CategoryCreateRequest struct {
	Name     string `json:"name" validate:"required"`
	ParentID string `json:"parent_id"`
}

type BatchReceiveRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	LocationID     string `json:"location_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	CostCents      int64  `json:"cost_cents" validate:"gte=0"`
	ExpirationDate string `json:"expiration_date"`
}

type StockLevel struct {
	ProductID  string           `json:"product_id"`
	LocationID string           `json:"location_id"`
	Total      int              `json:"total"`
	Available  int              `json:"available"`
	Batches    []InventoryBatch `json:"batches"`
}

type CartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

type CartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CartNoteRequest struct {
	Note string `json:"note"`
}

type CartView struct {
	Lines         []CartLine `json:"lines"`
	SubtotalCents int64      `json:"subtotal_cents"`
	Discount      Discount   `json:"discount"`
	Note          string     `json:"note"`
}

type Totals struct {
	SubtotalCents   int64 `json:"subtotal_cents"`
	DiscountCents   int64 `json:"discount_cents"`
	CommissionCents int64 `json:"commission_cents"`
	TotalCents      int64 `json:"total_cents"`
	ChangeCents     int64 `json:"change_cents"`
}

type CheckoutRequest struct {
	Payment Payment `json:"payment"`
}

type CheckoutResult struct {
	Sale    Sale   `json:"sale"`
	Offline bool   `json:"offline"`
	LocalID string `json:"local_id,omitempty"`
}

type DrainReport struct {
	Attempted int      `json:"attempted"`
	Synced    int      `json:"synced"`
	Failed    int      `json:"failed"`
	SaleIDs   []string `json:"sale_ids"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

type TransferItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type TransferCreateRequest struct {
	OriginLocationID      string                `json:"origin_location_id" validate:"required"`
	DestinationLocationID string                `json:"destination_location_id" validate:"required,nefield=OriginLocationID"`
	Items                 []TransferItemRequest `json:"items" validate:"required,min=1,dive"`
}

// TransferQuantitiesRequest carries the per-product sent or received
// quantities for the ship and receive actions.
type TransferQuantitiesRequest struct {
	Quantities map[string]int `json:"quantities"`
}

type ClientCreateRequest struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
	StoreID string `json:"store_id"`
}

type CreditRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	ManagerPIN  string `json:"manager_pin,omitempty"`
}

type CashClosingRequest struct {
	InitialCashCents int64 `json:"initial_cash_cents" validate:"gte=0"`
}

type ExpenseCreateRequest struct {
	Description string `json:"description" validate:"required"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	StoreID     string `json:"store_id"`
}

type ConsumptionRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type SaleFilter struct {
	CashierID  string
	LocationID string
	OpenOnly   bool
	From       time.Time
	To         time.Time
}

type BatchFilter struct {
	ProductID  string
	LocationID string
}

type SalesReport struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	LocationID      string    `json:"location_id,omitempty"`
	Sales           int       `json:"sales"`
	GrossCents      int64     `json:"gross_cents"`
	DiscountCents   int64     `json:"discount_cents"`
	CommissionCents int64     `json:"commission_cents"`
	NetCents        int64     `json:"net_cents"`
	CashCents       int64     `json:"cash_cents"`
	CardCents       int64     `json:"card_cents"`
	ExpensesCents   int64     `json:"expenses_cents"`
}
