package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopProductCache{}, nil, 5*time.Second)
	return svc, repo
}

func cashierCtx(userID string) context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   userID,
		TenantID: memory.DefaultTenantID,
		Username: "cashier",
		Role:     "cashier",
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-admin",
		TenantID: memory.DefaultTenantID,
		Username: "admin",
		Role:     "admin",
	})
}

func seededProductID(t *testing.T, svc *Service, ctx context.Context, sku string) (string, decimal.Decimal) {
	t.Helper()
	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.SKU == sku {
			return p.ID, p.Price
		}
	}
	t.Fatalf("seeded product %s not found", sku)
	return "", decimal.Zero
}

func TestCheckoutRequiresActor(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: "prod-x", Quantity: 1}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without actor, got %v", err)
	}
}

func TestCheckoutRejectsUnknownPaymentType(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "crypto",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrInvalidPaymentType) {
		t.Fatalf("expected ErrInvalidPaymentType, got %v", err)
	}
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentType: "cash"})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	// Lines with non-positive quantities are dropped, which can empty the cart.
	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: "prod-x", Quantity: 0}},
	})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart for zero quantities, got %v", err)
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, price := seededProductID(t, svc, ctx, "SKU-MIE-01")

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "cash",
		Items: []domain.CheckoutLine{
			{ProductID: productID, Quantity: 2},
			{ProductID: productID, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.ItemCount != 1 {
		t.Fatalf("expected merged single line, got %d", resp.ItemCount)
	}
	want := price.Mul(decimal.NewFromInt(5)).Round(2)
	if !resp.TotalAmount.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, resp.TotalAmount)
	}
}

func TestCheckoutDefaultsToCash(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items: []domain.CheckoutLine{{ProductID: productID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.PaymentType != domain.PaymentTypeCash {
		t.Fatalf("expected cash payment, got %s", resp.PaymentType)
	}
}

func TestSubmitReturnsRequiresReasonOnEveryLine(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	_, err := svc.SubmitReturns(ctx, domain.ReturnBatchRequest{
		Returns: []domain.ReturnLine{
			{ProductID: productID, Quantity: 1, Reason: "damaged"},
			{ProductID: productID, Quantity: 1, Reason: "  "},
		},
	})
	if !errors.Is(err, store.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}

	returns, err := svc.ListReturns(ctx)
	if err != nil {
		t.Fatalf("list returns failed: %v", err)
	}
	if len(returns) != 0 {
		t.Fatalf("expected no returns persisted after rejected batch, got %d", len(returns))
	}
}

func TestSubmitReturnsLinkedToSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	checkout, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	created, err := svc.SubmitReturns(ctx, domain.ReturnBatchRequest{
		SaleID: checkout.SaleID,
		Returns: []domain.ReturnLine{
			{ProductID: productID, Quantity: 1, Reason: "damaged", Restock: true},
		},
	})
	if err != nil {
		t.Fatalf("returns failed: %v", err)
	}
	if len(created) != 1 || !created[0].Restocked {
		t.Fatalf("expected single restocked return, got %+v", created)
	}

	_, err = svc.SubmitReturns(ctx, domain.ReturnBatchRequest{
		SaleID: checkout.SaleID,
		Returns: []domain.ReturnLine{
			{ProductID: productID, Quantity: 5, Reason: "too many"},
		},
	})
	if !errors.Is(err, store.ErrExcessiveReturn) {
		t.Fatalf("expected ErrExcessiveReturn, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	session, err := svc.OpenSession(ctx, domain.SessionOpenRequest{
		OpeningCash: decimal.NewFromInt(100),
		TerminalID:  "till-1",
	})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	if _, err := svc.OpenSession(ctx, domain.SessionOpenRequest{OpeningCash: decimal.NewFromInt(50)}); !errors.Is(err, store.ErrSessionAlreadyOpen) {
		t.Fatalf("expected ErrSessionAlreadyOpen, got %v", err)
	}

	current, err := svc.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("current session failed: %v", err)
	}
	if current.ID != session.ID {
		t.Fatalf("expected current session %s, got %s", session.ID, current.ID)
	}

	checkout, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	summary, err := svc.SessionSummary(ctx, session.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.SystemCashTotal.Equal(checkout.TotalAmount) {
		t.Fatalf("expected summary total %s, got %s", checkout.TotalAmount, summary.SystemCashTotal)
	}

	closed, err := svc.CloseSession(ctx, session.ID, domain.SessionCloseRequest{
		ClosingCash: checkout.TotalAmount,
	})
	if err != nil {
		t.Fatalf("close session failed: %v", err)
	}
	if closed.IsOverShort {
		t.Fatalf("expected balanced close, got difference %s", closed.CashDifference)
	}

	if _, err := svc.CurrentSession(ctx); !errors.Is(err, store.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after close, got %v", err)
	}
}

func TestCloseSessionRejectsOtherCashier(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.OpenSession(cashierCtx("usr-1"), domain.SessionOpenRequest{
		OpeningCash: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}

	_, err = svc.CloseSession(cashierCtx("usr-2"), session.ID, domain.SessionCloseRequest{
		ClosingCash: decimal.NewFromInt(100),
	})
	if !errors.Is(err, store.ErrNotSessionOwner) {
		t.Fatalf("expected ErrNotSessionOwner, got %v", err)
	}

	_, err = svc.SessionSummary(cashierCtx("usr-2"), session.ID)
	if !errors.Is(err, store.ErrNotSessionOwner) {
		t.Fatalf("expected ErrNotSessionOwner for summary, got %v", err)
	}
}

func TestOpenSessionRejectsNegativeFloat(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.OpenSession(cashierCtx("usr-1"), domain.SessionOpenRequest{
		OpeningCash: decimal.NewFromInt(-5),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAdjustInventoryRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx("usr-1")
	productID, _ := seededProductID(t, svc, ctx, "SKU-KOPI-01")

	_, err := svc.AdjustInventory(ctx, domain.InventoryEventRequest{
		ProductID: productID,
		Change:    5,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier, got %v", err)
	}
}

func TestAdjustInventoryRejectsZeroChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	productID, _ := seededProductID(t, svc, ctx, "SKU-KOPI-01")

	_, err := svc.AdjustInventory(ctx, domain.InventoryEventRequest{
		ProductID: productID,
		Change:    0,
		Reason:    "noop",
	})
	if !errors.Is(err, store.ErrZeroInventoryChange) {
		t.Fatalf("expected ErrZeroInventoryChange, got %v", err)
	}
}

func TestAdjustInventoryRecordsEvent(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	productID, _ := seededProductID(t, svc, ctx, "SKU-KOPI-01")

	event, err := svc.AdjustInventory(ctx, domain.InventoryEventRequest{
		ProductID: productID,
		Change:    -4,
		Reason:    "spoilage",
	})
	if err != nil {
		t.Fatalf("adjust inventory failed: %v", err)
	}
	if event.Change != -4 {
		t.Fatalf("expected change -4, got %d", event.Change)
	}

	events, err := svc.ListInventoryEvents(ctx)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected inventory event to be listed")
	}
}

func TestCreateProductAdminSuccess(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:           "sku-baru-01",
		Name:          "Biskuit Coklat",
		Category:      "snack",
		Price:         decimal.RequireFromString("0.85"),
		StockQuantity: 40,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.SKU != "SKU-BARU-01" {
		t.Fatalf("expected normalized sku, got %s", product.SKU)
	}

	fetched, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if !fetched.Price.Equal(product.Price) {
		t.Fatalf("expected price %s, got %s", product.Price, fetched.Price)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(cashierCtx("usr-1"), domain.ProductCreateRequest{
		SKU:   "SKU-BARU-02",
		Name:  "Kerupuk Udang",
		Price: decimal.RequireFromString("0.70"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier create product, got %v", err)
	}
}

func TestZReportRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ZReport(cashierCtx("usr-1"), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier zreport, got %v", err)
	}

	if _, err := svc.ZReport(adminCtx(), "not-a-date"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad date, got %v", err)
	}

	report, err := svc.ZReport(adminCtx(), time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("zreport failed: %v", err)
	}
	if report.TotalSales.IsNegative() {
		t.Fatalf("unexpected negative total sales")
	}
}

func TestMutationsWriteAuditLogs(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()
	productID, _ := seededProductID(t, svc, ctx, "SKU-MIE-01")

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentType: "cash",
		Items:       []domain.CheckoutLine{{ProductID: productID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	from := time.Now().UTC().Add(-time.Minute)
	to := time.Now().UTC().Add(time.Minute)
	logs, err := repo.ListAuditLogs(context.Background(), memory.DefaultTenantID, from, to, 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}

	found := false
	for _, entry := range logs {
		if entry.Action == "checkout" && entry.ActorUsername == "admin" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected checkout audit entry, got %+v", logs)
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateUser(cashierCtx("cashier-1"), "newstaff", "hashed-password", "cashier")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateUserNormalizesAndLists(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	created, err := svc.CreateUser(ctx, "  NewCashier ", "hashed-password", "")
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Username != "newcashier" {
		t.Fatalf("expected lowercased username, got %q", created.Username)
	}
	if created.Role != domain.RoleCashier {
		t.Fatalf("expected default cashier role, got %q", created.Role)
	}
	if !created.Active {
		t.Fatalf("expected new user to be active")
	}

	_, err = svc.CreateUser(ctx, "newcashier", "hashed-password", "cashier")
	if !errors.Is(err, store.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}

	_, err = svc.CreateUser(ctx, "badrole", "hashed-password", "superuser")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	found := false
	for _, u := range users {
		if u.Username == "newcashier" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected newcashier in listing, got %+v", users)
	}
}

func TestLowStockAlerts(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:           "SKU-LOW-01",
		Name:          "Lilin Darurat",
		Category:      "household",
		Price:         decimal.RequireFromString("0.40"),
		StockQuantity: 3,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	alerts, err := svc.LowStockAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("low stock alerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected only the low product, got %+v", alerts)
	}
	if alerts[0].ProductID != product.ID || alerts[0].StockLevel != 3 {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}

	if _, err := svc.LowStockAlerts(ctx, -1); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative threshold, got %v", err)
	}
	if _, err := svc.LowStockAlerts(context.Background(), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without actor, got %v", err)
	}
}
