package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

// DefaultTenantID is the tenant seeded for dev/demo mode.
const DefaultTenantID = "00000000-0000-0000-0000-000000000001"

type Store struct {
	mu               sync.RWMutex
	productsByID     map[string]domain.Product
	salesByID        map[string]*domain.Sale
	returnsByID      map[string]domain.Return
	sessionsByID     map[string]domain.CashierSession
	openSessionByKey map[string]string
	inventoryEvents  []domain.InventoryEvent
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers(tenantID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("usr"),
			TenantID:  tenantID,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		productsByID:     make(map[string]domain.Product),
		salesByID:        make(map[string]*domain.Sale),
		returnsByID:      make(map[string]domain.Return),
		sessionsByID:     make(map[string]domain.CashierSession),
		openSessionByKey: make(map[string]string),
		inventoryEvents:  make([]domain.InventoryEvent, 0, 64),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	return NewSeededForTenant(DefaultTenantID)
}

// NewSeededForTenant seeds the demo catalog and staff accounts under the
// given tenant id.
func NewSeededForTenant(tenantID string) *Store {
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	products := []domain.Product{
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", Price: decimal.RequireFromString("0.35")},
		{SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", Price: decimal.RequireFromString("2.65")},
		{SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", Price: decimal.RequireFromString("1.89")},
		{SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", Price: decimal.RequireFromString("1.78")},
		{SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Category: "beverage", Price: decimal.RequireFromString("0.26")},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", Price: decimal.RequireFromString("1.74")},
		{SKU: "SKU-TEH-01", Name: "Teh Celup", Category: "beverage", Price: decimal.RequireFromString("0.98")},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", Price: decimal.RequireFromString("0.39")},
		{SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", Price: decimal.RequireFromString("1.28")},
		{SKU: "SKU-COKLAT-01", Name: "Coklat Batang", Category: "snack", Price: decimal.RequireFromString("0.86")},
		{SKU: "SKU-SABUN-01", Name: "Sabun Mandi", Category: "household", Price: decimal.RequireFromString("0.74")},
		{SKU: "SKU-SHAMPOO-01", Name: "Shampoo Sachet", Category: "household", Price: decimal.RequireFromString("0.32")},
	}

	s := New()
	for _, p := range products {
		p.ID = xid.New("prd")
		p.TenantID = tenantID
		p.StockQuantity = 120
		s.productsByID[p.ID] = p
	}
	s.usersByUsername = seedUsers(tenantID)
	return s
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.TenantID != tenantID {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, tenantID string, query string, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 10
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.Product, 0, limit)
	for _, p := range s.productsByID {
		if p.TenantID != tenantID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.HasPrefix(strings.ToLower(p.SKU), needle) {
			continue
		}
		result = append(result, p)
	}

	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListLowStockProducts(_ context.Context, tenantID string, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, 16)
	for _, p := range s.productsByID {
		if p.TenantID != tenantID || p.StockQuantity > threshold {
			continue
		}
		result = append(result, p)
	}

	slices.SortFunc(result, func(a, b domain.Product) int {
		if a.StockQuantity == b.StockQuantity {
			return cmpString(a.Name, b.Name)
		}
		return a.StockQuantity - b.StockQuantity
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.TenantID != tenantID {
		return nil, &store.ProductNotFoundError{ProductID: productID}
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	for _, existing := range s.productsByID {
		if existing.TenantID == product.TenantID && existing.SKU == product.SKU {
			return nil, store.ErrDuplicateSKU
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Price = product.Price.Round(2)

	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) DeleteProduct(_ context.Context, tenantID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.TenantID != tenantID {
		return &store.ProductNotFoundError{ProductID: productID}
	}
	delete(s.productsByID, productID)
	return nil
}

func (s *Store) ListCategories(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	categories := make([]string, 0, 8)
	for _, p := range s.productsByID {
		if p.TenantID != tenantID || p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	slices.Sort(categories)
	return categories, nil
}

func (s *Store) CreateCheckout(_ context.Context, tenantID string, cashierID string, paymentType string, lines []domain.CheckoutLine) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	// Validate every line before mutating anything.
	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, store.ErrEmptyCart
		}
		product, exists := s.productsByID[line.ProductID]
		if !exists || product.TenantID != tenantID {
			return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
		}
		if product.StockQuantity < line.Quantity {
			return nil, &store.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.StockQuantity,
			}
		}
		items = append(items, domain.SaleItem{
			ID:        xid.New("item"),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	now := time.Now().UTC()
	sale := &domain.Sale{
		ID:          xid.New("sale"),
		TenantID:    tenantID,
		CashierID:   cashierID,
		TotalAmount: total.Round(2),
		PaymentType: paymentType,
		Timestamp:   now,
		UpdatedAt:   now,
		Items:       items,
	}
	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
		product := s.productsByID[sale.Items[i].ProductID]
		product.StockQuantity -= sale.Items[i].Quantity
		s.productsByID[product.ID] = product
	}

	s.salesByID[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, tenantID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	sortSalesNewestFirst(result)
	return result, nil
}

func (s *Store) GetSale(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.TenantID != tenantID {
		return nil, store.ErrSaleNotFound
	}
	dup := cloneSale(sale)
	for i := range dup.Items {
		if product, ok := s.productsByID[dup.Items[i].ProductID]; ok {
			dup.Items[i].Name = product.Name
			dup.Items[i].SKU = product.SKU
		}
	}
	return dup, nil
}

func (s *Store) SearchSalesByProduct(_ context.Context, tenantID string, query string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	matching := map[string]struct{}{}
	for _, p := range s.productsByID {
		if p.TenantID != tenantID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.SKU), needle) {
			matching[p.ID] = struct{}{}
		}
	}

	result := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID {
			continue
		}
		for _, item := range sale.Items {
			if _, ok := matching[item.ProductID]; ok {
				result = append(result, *cloneSale(sale))
				break
			}
		}
	}
	sortSalesNewestFirst(result)
	return result, nil
}

func (s *Store) CreateReturns(_ context.Context, tenantID string, saleID string, lines []domain.ReturnLine) ([]domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if saleID != "" {
		sale, exists := s.salesByID[saleID]
		if !exists || sale.TenantID != tenantID {
			return nil, store.ErrSaleNotFound
		}

		soldByProduct := map[string]int{}
		for _, item := range sale.Items {
			soldByProduct[item.ProductID] += item.Quantity
		}
		returnedByProduct := map[string]int{}
		for _, ret := range s.returnsByID {
			if ret.SaleID != saleID {
				continue
			}
			returnedByProduct[ret.ProductID] += ret.Quantity
		}

		for _, line := range lines {
			sold, inSale := soldByProduct[line.ProductID]
			if !inSale {
				return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
			}
			allowable := sold - returnedByProduct[line.ProductID]
			if allowable <= 0 {
				return nil, store.ErrAlreadyFullyReturned
			}
			if line.Quantity > allowable {
				return nil, &store.ExcessiveReturnError{ProductID: line.ProductID, MaxAllowed: allowable}
			}
			returnedByProduct[line.ProductID] += line.Quantity
		}
	}

	for _, line := range lines {
		if product, exists := s.productsByID[line.ProductID]; !exists || product.TenantID != tenantID {
			return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
		}
	}

	now := time.Now().UTC()
	created := make([]domain.Return, 0, len(lines))
	for _, line := range lines {
		if line.Restock {
			product := s.productsByID[line.ProductID]
			product.StockQuantity += line.Quantity
			s.productsByID[product.ID] = product
		}
		ret := domain.Return{
			ID:        xid.New("ret"),
			TenantID:  tenantID,
			ProductID: line.ProductID,
			SaleID:    saleID,
			Quantity:  line.Quantity,
			Reason:    line.Reason,
			Notes:     line.Notes,
			Restocked: line.Restock,
			Timestamp: now,
		}
		s.returnsByID[ret.ID] = ret
		created = append(created, ret)
	}
	return created, nil
}

func (s *Store) ListReturns(_ context.Context, tenantID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Return, 0, len(s.returnsByID))
	for _, ret := range s.returnsByID {
		if ret.TenantID != tenantID {
			continue
		}
		result = append(result, ret)
	}
	slices.SortFunc(result, func(a, b domain.Return) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.CashierSession) (*domain.CashierSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionMapKey(session.TenantID, session.CashierID)
	if _, exists := s.openSessionByKey[key]; exists {
		return nil, store.ErrSessionAlreadyOpen
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.OpeningCash = session.OpeningCash.Round(2)
	session.ClosedAt = nil
	session.ClosingCash = nil
	session.SystemCashTotal = nil
	session.CashDifference = nil
	session.IsOverShort = false

	s.sessionsByID[session.ID] = session
	s.openSessionByKey[key] = session.ID
	copySession := session
	return &copySession, nil
}

func (s *Store) GetSession(_ context.Context, tenantID string, sessionID string) (*domain.CashierSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, store.ErrSessionNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) GetOpenSession(_ context.Context, tenantID string, cashierID string) (*domain.CashierSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessionByKey[sessionMapKey(tenantID, cashierID)]
	if !exists {
		return nil, store.ErrNoActiveSession
	}
	session := s.sessionsByID[sessionID]
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseSession(_ context.Context, tenantID string, sessionID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.CashierSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, store.ErrSessionNotFound
	}
	if session.ClosedAt != nil {
		return nil, store.ErrSessionAlreadyClosed
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	systemTotal := s.sumCashSalesLocked(tenantID, session.CashierID, session.OpenedAt, closedAt)
	closingCash = closingCash.Round(2)
	difference := closingCash.Sub(systemTotal)

	session.ClosingCash = &closingCash
	session.SystemCashTotal = &systemTotal
	session.CashDifference = &difference
	session.IsOverShort = !difference.IsZero()
	session.ClosedAt = &closedAt
	if notes != "" {
		session.Notes = notes
	}

	delete(s.openSessionByKey, sessionMapKey(tenantID, session.CashierID))
	s.sessionsByID[sessionID] = session
	copySession := session
	return &copySession, nil
}

func (s *Store) SumCashSales(_ context.Context, tenantID string, cashierID string, from time.Time, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumCashSalesLocked(tenantID, cashierID, from, to), nil
}

func (s *Store) sumCashSalesLocked(tenantID string, cashierID string, from time.Time, to time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID || sale.CashierID != cashierID {
			continue
		}
		if sale.PaymentType != domain.PaymentTypeCash {
			continue
		}
		if sale.Timestamp.Before(from) || sale.Timestamp.After(to) {
			continue
		}
		total = total.Add(sale.TotalAmount)
	}
	return total
}

func (s *Store) CreateInventoryEvent(_ context.Context, event domain.InventoryEvent) (*domain.InventoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[event.ProductID]
	if !exists || product.TenantID != event.TenantID {
		return nil, &store.ProductNotFoundError{ProductID: event.ProductID}
	}
	if event.ID == "" {
		event.ID = xid.New("inv")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt

	product.StockQuantity += event.Change
	s.productsByID[product.ID] = product
	s.inventoryEvents = append(s.inventoryEvents, event)
	created := event
	return &created, nil
}

func (s *Store) ListInventoryEvents(_ context.Context, tenantID string) ([]domain.InventoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryEvent, 0, len(s.inventoryEvents))
	for _, event := range s.inventoryEvents {
		if event.TenantID != tenantID {
			continue
		}
		result = append(result, event)
	}
	slices.SortFunc(result, func(a, b domain.InventoryEvent) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetZReport(_ context.Context, tenantID string, from time.Time, to time.Time) (*domain.ZReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &domain.ZReport{
		Date:         from.Format("2006-01-02"),
		TotalSales:   decimal.Zero,
		TotalCash:    decimal.Zero,
		TotalCard:    decimal.Zero,
		TotalReturns: decimal.Zero,
		Sessions:     make([]domain.ZReportSession, 0, 8),
		TopSellers:   make([]domain.ZReportTopSeller, 0, 5),
	}

	unitsByProduct := map[string]int{}
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID {
			continue
		}
		if sale.Timestamp.Before(from) || !sale.Timestamp.Before(to) {
			continue
		}
		report.TotalSales = report.TotalSales.Add(sale.TotalAmount)
		switch sale.PaymentType {
		case domain.PaymentTypeCash:
			report.TotalCash = report.TotalCash.Add(sale.TotalAmount)
		case domain.PaymentTypeCard:
			report.TotalCard = report.TotalCard.Add(sale.TotalAmount)
		}
		for _, item := range sale.Items {
			unitsByProduct[item.ProductID] += item.Quantity
		}
	}

	for _, ret := range s.returnsByID {
		if ret.TenantID != tenantID {
			continue
		}
		if ret.Timestamp.Before(from) || !ret.Timestamp.Before(to) {
			continue
		}
		if product, ok := s.productsByID[ret.ProductID]; ok {
			value := product.Price.Mul(decimal.NewFromInt(int64(ret.Quantity)))
			report.TotalReturns = report.TotalReturns.Add(value)
		}
	}

	cashierNames := map[string]string{}
	for _, user := range s.usersByUsername {
		cashierNames[user.ID] = user.Username
	}
	for _, session := range s.sessionsByID {
		if session.TenantID != tenantID {
			continue
		}
		if session.OpenedAt.Before(from) || !session.OpenedAt.Before(to) {
			continue
		}
		report.Sessions = append(report.Sessions, domain.ZReportSession{
			SessionID:       session.ID,
			CashierID:       session.CashierID,
			CashierName:     cashierNames[session.CashierID],
			OpeningCash:     session.OpeningCash,
			ClosingCash:     session.ClosingCash,
			SystemCashTotal: session.SystemCashTotal,
			CashDifference:  session.CashDifference,
			IsOverShort:     session.IsOverShort,
			OpenedAt:        session.OpenedAt,
			ClosedAt:        session.ClosedAt,
		})
	}
	slices.SortFunc(report.Sessions, func(a, b domain.ZReportSession) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return cmpString(a.SessionID, b.SessionID)
		}
		if a.OpenedAt.Before(b.OpenedAt) {
			return -1
		}
		return 1
	})

	sellers := make([]domain.ZReportTopSeller, 0, len(unitsByProduct))
	for productID, units := range unitsByProduct {
		name := ""
		if product, ok := s.productsByID[productID]; ok {
			name = product.Name
		}
		sellers = append(sellers, domain.ZReportTopSeller{ProductID: productID, Name: name, UnitsSold: units})
	}
	slices.SortFunc(sellers, func(a, b domain.ZReportTopSeller) int {
		if a.UnitsSold == b.UnitsSold {
			return cmpString(a.ProductID, b.ProductID)
		}
		if a.UnitsSold > b.UnitsSold {
			return -1
		}
		return 1
	})
	if len(sellers) > 5 {
		sellers = sellers[:5]
	}
	report.TopSellers = sellers

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicateUsername
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		if tenantID != "" && user.TenantID != tenantID {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func sessionMapKey(tenantID string, cashierID string) string {
	return tenantID + "::" + cashierID
}

func sortSalesNewestFirst(sales []domain.Sale) {
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.SaleItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}
