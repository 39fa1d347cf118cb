package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

// ErrForbidden is returned when the caller's role does not allow the
// operation. The HTTP layer maps it to 403.
var ErrForbidden = errors.New("insufficient privileges")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	logger   *zap.Logger
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, logger *zap.Logger, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL < time.Second {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		products: products,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.TenantID)
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchProducts(ctx, actor.TenantID, strings.TrimSpace(query), 10)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	if cached, hit, err := s.products.Get(ctx, actor.TenantID, productID); err != nil {
		s.logger.Warn("product cache get failed", zap.String("product_id", productID), zap.Error(err))
	} else if hit {
		return *cached, nil
	}

	product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.products.Set(ctx, actor.TenantID, product, s.cacheTTL); err != nil {
		s.logger.Warn("product cache set failed", zap.String("product_id", productID), zap.Error(err))
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Price.IsNegative() || req.StockQuantity < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		TenantID:      actor.TenantID,
		SKU:           req.SKU,
		Name:          req.Name,
		Category:      req.Category,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("sku=%s,price=%s,stock=%d", created.SKU, created.Price.StringFixed(2), created.StockQuantity))
	return *created, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteProduct(ctx, actor.TenantID, productID); err != nil {
		return err
	}
	s.invalidateProducts(ctx, actor.TenantID, productID)
	s.logAudit(ctx, "product_delete", "product", productID, "")
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, actor.TenantID)
}

// LowStockAlerts reports products at or below the stock threshold, worst
// first.
func (s *Service) LowStockAlerts(ctx context.Context, threshold int) ([]domain.LowStockAlert, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, store.ErrInvalidInput
	}

	products, err := s.repo.ListLowStockProducts(ctx, actor.TenantID, threshold)
	if err != nil {
		return nil, err
	}
	alerts := make([]domain.LowStockAlert, 0, len(products))
	for _, p := range products {
		alerts = append(alerts, domain.LowStockAlert{
			ProductID:  p.ID,
			Name:       p.Name,
			StockLevel: p.StockQuantity,
		})
	}
	return alerts, nil
}

// Checkout commits a sale. Prices are locked from the catalog inside the
// store transaction, never taken from the request.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	req.PaymentType = strings.ToLower(strings.TrimSpace(req.PaymentType))
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentTypeCash
	}
	if req.PaymentType != domain.PaymentTypeCash && req.PaymentType != domain.PaymentTypeCard {
		return domain.CheckoutResponse{}, store.ErrInvalidPaymentType
	}

	lines := normalizeLines(req.Items)
	if len(lines) == 0 {
		return domain.CheckoutResponse{}, store.ErrEmptyCart
	}

	sale, err := s.repo.CreateCheckout(ctx, actor.TenantID, actor.UserID, req.PaymentType, lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	touched := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		touched = append(touched, item.ProductID)
	}
	s.invalidateProducts(ctx, actor.TenantID, touched...)

	s.logger.Info("checkout committed",
		zap.String("sale_id", sale.ID),
		zap.String("tenant_id", sale.TenantID),
		zap.String("cashier_id", sale.CashierID),
		zap.String("total_amount", sale.TotalAmount.StringFixed(2)),
		zap.String("payment_type", sale.PaymentType),
		zap.Int("items", len(sale.Items)))
	s.logAudit(ctx, "checkout", "sale", sale.ID,
		fmt.Sprintf("total=%s,payment=%s,items=%d", sale.TotalAmount.StringFixed(2), sale.PaymentType, len(sale.Items)))

	return domain.CheckoutResponse{
		SaleID:      sale.ID,
		TotalAmount: sale.TotalAmount,
		PaymentType: sale.PaymentType,
		ItemCount:   len(sale.Items),
		CreatedAt:   sale.Timestamp.Format(time.RFC3339),
	}, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actor.TenantID)
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.TenantID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) SearchSalesByProduct(ctx context.Context, query string) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchSalesByProduct(ctx, actor.TenantID, strings.TrimSpace(query))
}

// SubmitReturns validates the whole batch up front, then commits it in one
// store transaction. A single invalid line fails the entire batch.
func (s *Service) SubmitReturns(ctx context.Context, req domain.ReturnBatchRequest) ([]domain.Return, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	if len(req.Returns) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, line := range req.Returns {
		if strings.TrimSpace(line.Reason) == "" {
			return nil, store.ErrMissingReason
		}
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}

	created, err := s.repo.CreateReturns(ctx, actor.TenantID, strings.TrimSpace(req.SaleID), req.Returns)
	if err != nil {
		return nil, err
	}

	restocked := make([]string, 0, len(created))
	for _, ret := range created {
		if ret.Restocked {
			restocked = append(restocked, ret.ProductID)
		}
	}
	s.invalidateProducts(ctx, actor.TenantID, restocked...)

	s.logger.Info("return batch committed",
		zap.String("tenant_id", actor.TenantID),
		zap.String("sale_id", req.SaleID),
		zap.Int("lines", len(created)))
	for _, ret := range created {
		s.logAudit(ctx, "return", "return", ret.ID,
			fmt.Sprintf("product=%s,qty=%d,restock=%t,sale=%s", ret.ProductID, ret.Quantity, ret.Restocked, ret.SaleID))
	}
	return created, nil
}

func (s *Service) ListReturns(ctx context.Context) ([]domain.Return, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, actor.TenantID)
}

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.CashierSession, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashierSession{}, err
	}
	if req.OpeningCash.IsNegative() {
		return domain.CashierSession{}, store.ErrInvalidInput
	}

	session := domain.CashierSession{
		TenantID:    actor.TenantID,
		CashierID:   actor.UserID,
		TerminalID:  strings.TrimSpace(req.TerminalID),
		OpenedAt:    time.Now().UTC(),
		OpeningCash: req.OpeningCash,
		Notes:       req.Notes,
	}
	saved, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		return domain.CashierSession{}, err
	}

	s.logAudit(ctx, "session_open", "cashier_session", saved.ID,
		fmt.Sprintf("opening_cash=%s,terminal=%s", saved.OpeningCash.StringFixed(2), saved.TerminalID))
	return *saved, nil
}

// CloseSession reconciles declared cash against committed cash sales within
// the session window. The expected total deliberately excludes opening_cash:
// system_cash_total tracks sales only, so the reported difference is
// closing_cash minus cash sales.
func (s *Service) CloseSession(ctx context.Context, sessionID string, req domain.SessionCloseRequest) (domain.CashierSession, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashierSession{}, err
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, sessionID)
	if err != nil {
		return domain.CashierSession{}, err
	}
	if session.CashierID != actor.UserID {
		return domain.CashierSession{}, store.ErrNotSessionOwner
	}
	if session.ClosedAt != nil {
		return domain.CashierSession{}, store.ErrSessionAlreadyClosed
	}

	closed, err := s.repo.CloseSession(ctx, actor.TenantID, sessionID, req.ClosingCash, req.Notes, time.Now().UTC())
	if err != nil {
		return domain.CashierSession{}, err
	}

	s.logger.Info("session closed",
		zap.String("session_id", closed.ID),
		zap.String("tenant_id", closed.TenantID),
		zap.String("closing_cash", decimalString(closed.ClosingCash)),
		zap.String("system_cash_total", decimalString(closed.SystemCashTotal)),
		zap.String("cash_difference", decimalString(closed.CashDifference)),
		zap.Bool("is_over_short", closed.IsOverShort))
	s.logAudit(ctx, "session_close", "cashier_session", closed.ID,
		fmt.Sprintf("closing_cash=%s,system_total=%s,difference=%s",
			decimalString(closed.ClosingCash), decimalString(closed.SystemCashTotal), decimalString(closed.CashDifference)))
	return *closed, nil
}

func (s *Service) CurrentSession(ctx context.Context) (domain.CashierSession, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashierSession{}, err
	}
	session, err := s.repo.GetOpenSession(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return domain.CashierSession{}, err
	}
	return *session, nil
}

// SessionSummary recomputes the expected cash total without touching the
// session row. Works for open and closed sessions alike.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SessionSummary{}, err
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	if session.CashierID != actor.UserID {
		return domain.SessionSummary{}, store.ErrNotSessionOwner
	}

	until := time.Now().UTC()
	if session.ClosedAt != nil {
		until = *session.ClosedAt
	}
	total, err := s.repo.SumCashSales(ctx, actor.TenantID, session.CashierID, session.OpenedAt, until)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return domain.SessionSummary{SessionID: session.ID, SystemCashTotal: total}, nil
}

func (s *Service) AdjustInventory(ctx context.Context, req domain.InventoryEventRequest) (domain.InventoryEvent, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.InventoryEvent{}, err
	}
	if req.Change == 0 {
		return domain.InventoryEvent{}, store.ErrZeroInventoryChange
	}

	event := domain.InventoryEvent{
		TenantID:  actor.TenantID,
		ProductID: strings.TrimSpace(req.ProductID),
		Change:    req.Change,
		Reason:    strings.TrimSpace(req.Reason),
	}
	created, err := s.repo.CreateInventoryEvent(ctx, event)
	if err != nil {
		return domain.InventoryEvent{}, err
	}

	s.invalidateProducts(ctx, actor.TenantID, created.ProductID)
	s.logAudit(ctx, "inventory_adjust", "inventory_event", created.ID,
		fmt.Sprintf("product=%s,change=%d,reason=%s", created.ProductID, created.Change, created.Reason))
	return *created, nil
}

func (s *Service) ListInventoryEvents(ctx context.Context) ([]domain.InventoryEvent, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInventoryEvents(ctx, actor.TenantID)
}

func (s *Service) ZReport(ctx context.Context, date string) (domain.ZReport, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ZReport{}, err
	}

	from, to, err := dayWindow(date)
	if err != nil {
		return domain.ZReport{}, store.ErrInvalidInput
	}
	report, err := s.repo.GetZReport(ctx, actor.TenantID, from, to)
	if err != nil {
		return domain.ZReport{}, err
	}
	return *report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	from, to, err := dayWindow(date)
	if err != nil {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, from, to, limit)
}

// CreateUser registers a staff account. The password arrives already hashed;
// the transport layer owns the hashing.
func (s *Service) CreateUser(ctx context.Context, username string, passwordHash string, role string) (domain.UserView, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.UserView{}, err
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || passwordHash == "" {
		return domain.UserView{}, store.ErrInvalidInput
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleAdmin && role != domain.RoleCashier {
		return domain.UserView{}, store.ErrInvalidInput
	}

	account := domain.UserAccount{
		TenantID: actor.TenantID,
		Username: username,
		Password: passwordHash,
		Role:     role,
		Active:   true,
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		return domain.UserView{}, err
	}
	saved, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.UserView{}, err
	}

	s.logAudit(ctx, "user_create", "user", saved.ID,
		fmt.Sprintf("username=%s,role=%s", saved.Username, saved.Role))
	return userView(*saved), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListUsers(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.UserView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, userView(account))
	}
	return views, nil
}

func userView(account domain.UserAccount) domain.UserView {
	return domain.UserView{
		ID:        account.ID,
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func (s *Service) invalidateProducts(ctx context.Context, tenantID string, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}
	if err := s.products.Invalidate(ctx, tenantID, productIDs...); err != nil {
		s.logger.Warn("product cache invalidation failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      actor.TenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// normalizeLines merges duplicate product ids and drops non-positive
// quantities.
func normalizeLines(items []domain.CheckoutLine) []domain.CheckoutLine {
	merged := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity < 1 {
			continue
		}
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] += item.Quantity
	}

	lines := make([]domain.CheckoutLine, 0, len(order))
	for _, id := range order {
		lines = append(lines, domain.CheckoutLine{ProductID: id, Quantity: merged[id]})
	}
	return lines
}

func dayWindow(date string) (time.Time, time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return from, from.Add(24 * time.Hour), nil
	}
	from, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, from.Add(24 * time.Hour), nil
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
