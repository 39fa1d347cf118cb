package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrSaleNotFound         = errors.New("sale not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrEmptyCart            = errors.New("empty cart")
	ErrInvalidPaymentType   = errors.New("invalid payment type")
	ErrMissingReason        = errors.New("return reason is required")
	ErrExcessiveReturn      = errors.New("return quantity exceeds remaining sold quantity")
	ErrAlreadyFullyReturned = errors.New("all items in this sale have already been returned")
	ErrSessionAlreadyOpen   = errors.New("cashier already has an open session")
	ErrSessionAlreadyClosed = errors.New("session already closed")
	ErrNotSessionOwner      = errors.New("session belongs to another cashier")
	ErrNoActiveSession      = errors.New("no active session")
	ErrZeroInventoryChange  = errors.New("inventory change cannot be zero")
	ErrDuplicateSKU         = errors.New("sku already exists")
	ErrDuplicateUsername    = errors.New("username already exists")
	ErrInvalidInput         = errors.New("invalid input")
)

// InsufficientStockError reports the offending product with the requested
// and currently available quantities. errors.Is(err, ErrInsufficientStock)
// matches it.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ExcessiveReturnError carries the maximum quantity still returnable for the
// offending product. errors.Is(err, ErrExcessiveReturn) matches it.
type ExcessiveReturnError struct {
	ProductID  string
	MaxAllowed int
}

func (e *ExcessiveReturnError) Error() string {
	return fmt.Sprintf("too many returned for product %s: max allowed %d", e.ProductID, e.MaxAllowed)
}

func (e *ExcessiveReturnError) Is(target error) bool {
	return target == ErrExcessiveReturn
}

// ProductNotFoundError names the missing product. errors.Is(err,
// ErrProductNotFound) matches it.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// Repository is the transactional persistence surface. Every method is
// tenant-scoped; multi-row mutations (checkout, return batch, session close,
// inventory adjustment) are atomic within a single call.
type Repository interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	SearchProducts(ctx context.Context, tenantID string, query string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, tenantID string, productID string) error
	ListCategories(ctx context.Context, tenantID string) ([]string, error)
	ListLowStockProducts(ctx context.Context, tenantID string, threshold int) ([]domain.Product, error)

	CreateCheckout(ctx context.Context, tenantID string, cashierID string, paymentType string, lines []domain.CheckoutLine) (*domain.Sale, error)
	ListSales(ctx context.Context, tenantID string) ([]domain.Sale, error)
	GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	SearchSalesByProduct(ctx context.Context, tenantID string, query string) ([]domain.Sale, error)

	CreateReturns(ctx context.Context, tenantID string, saleID string, lines []domain.ReturnLine) ([]domain.Return, error)
	ListReturns(ctx context.Context, tenantID string) ([]domain.Return, error)

	CreateSession(ctx context.Context, session domain.CashierSession) (*domain.CashierSession, error)
	GetSession(ctx context.Context, tenantID string, sessionID string) (*domain.CashierSession, error)
	GetOpenSession(ctx context.Context, tenantID string, cashierID string) (*domain.CashierSession, error)
	CloseSession(ctx context.Context, tenantID string, sessionID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.CashierSession, error)
	SumCashSales(ctx context.Context, tenantID string, cashierID string, from time.Time, to time.Time) (decimal.Decimal, error)

	CreateInventoryEvent(ctx context.Context, event domain.InventoryEvent) (*domain.InventoryEvent, error)
	ListInventoryEvents(ctx context.Context, tenantID string) ([]domain.InventoryEvent, error)

	GetZReport(ctx context.Context, tenantID string, from time.Time, to time.Time) (*domain.ZReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, tenantID string) ([]domain.UserAccount, error)
}
