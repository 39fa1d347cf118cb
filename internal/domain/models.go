package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type ProductCreateRequest struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type SaleItem struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	// Name and SKU are joined in on reads, never stored on the item row.
	Name string `json:"name,omitempty"`
	SKU  string `json:"sku,omitempty"`
}

type Sale struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	CashierID   string          `json:"cashier_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaymentType string          `json:"payment_type"`
	Timestamp   time.Time       `json:"timestamp"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []SaleItem      `json:"items"`
}

type CheckoutLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	PaymentType string         `json:"payment_type"`
	Items       []CheckoutLine `json:"items"`
}

type CheckoutResponse struct {
	SaleID      string          `json:"sale_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaymentType string          `json:"payment_type"`
	ItemCount   int             `json:"item_count"`
	CreatedAt   string          `json:"created_at"`
}

type Return struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProductID string    `json:"product_id"`
	SaleID    string    `json:"sale_id,omitempty"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes,omitempty"`
	Restocked bool      `json:"restocked"`
	Timestamp time.Time `json:"timestamp"`
}

type ReturnLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes,omitempty"`
	Restock   bool   `json:"restock"`
}

type ReturnBatchRequest struct {
	SaleID  string       `json:"sale_id,omitempty"`
	Returns []ReturnLine `json:"returns"`
}

type CashierSession struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	CashierID       string           `json:"cashier_id"`
	TerminalID      string           `json:"terminal_id,omitempty"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	OpeningCash     decimal.Decimal  `json:"opening_cash"`
	ClosingCash     *decimal.Decimal `json:"closing_cash,omitempty"`
	SystemCashTotal *decimal.Decimal `json:"system_cash_total,omitempty"`
	CashDifference  *decimal.Decimal `json:"cash_difference,omitempty"`
	IsOverShort     bool             `json:"is_over_short"`
	Notes           string           `json:"notes,omitempty"`
}

type SessionOpenRequest struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
	TerminalID  string          `json:"terminal_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

type SessionCloseRequest struct {
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Notes       string          `json:"notes,omitempty"`
}

type SessionSummary struct {
	SessionID       string          `json:"session_id"`
	SystemCashTotal decimal.Decimal `json:"system_cash_total"`
}

type InventoryEvent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProductID string    `json:"product_id"`
	Change    int       `json:"change"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InventoryEventRequest struct {
	ProductID string `json:"product_id"`
	Change    int    `json:"change"`
	Reason    string `json:"reason,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserView is the read model for user listings. It never carries the
// password hash.
type UserView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LowStockAlert struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	StockLevel int    `json:"stock_level"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller resolved from the request token.
// Engine calls receive it by value; handlers never pass raw claims around.
type Actor struct {
	UserID   string
	TenantID string
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	TenantID  string
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type ZReportSession struct {
	SessionID       string           `json:"session_id"`
	CashierID       string           `json:"cashier_id"`
	CashierName     string           `json:"cashier_name"`
	OpeningCash     decimal.Decimal  `json:"opening_cash"`
	ClosingCash     *decimal.Decimal `json:"closing_cash,omitempty"`
	SystemCashTotal *decimal.Decimal `json:"system_cash_total,omitempty"`
	CashDifference  *decimal.Decimal `json:"cash_difference,omitempty"`
	IsOverShort     bool             `json:"is_over_short"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
}

type ZReportTopSeller struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitsSold int    `json:"units_sold"`
}

type ZReport struct {
	Date         string             `json:"date"`
	TotalSales   decimal.Decimal    `json:"total_sales"`
	TotalCash    decimal.Decimal    `json:"total_cash"`
	TotalCard    decimal.Decimal    `json:"total_card"`
	TotalReturns decimal.Decimal    `json:"total_returns"`
	Sessions     []ZReportSession   `json:"sessions"`
	TopSellers   []ZReportTopSeller `json:"top_sellers"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	PaymentTypeCash = "cash"
	PaymentTypeCard = "card"
)
