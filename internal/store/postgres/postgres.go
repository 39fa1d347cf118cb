package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

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

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sku, name, category, price, stock_quantity
		FROM products
		WHERE tenant_id = $1
		ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) SearchProducts(ctx context.Context, tenantID string, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sku, name, category, price, stock_quantity
		FROM products
		WHERE tenant_id = $1 AND (name ILIKE '%' || $2 || '%' OR sku ILIKE $2 || '%')
		ORDER BY name
		LIMIT $3
	`, tenantID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sku, name, COALESCE(category, ''), price, stock_quantity
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.Category, &p.Price, &p.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: productID}
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Price = product.Price.Round(2)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, sku, name, category, price, stock_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.ID, product.TenantID, product.SKU, product.Name, nullIfEmpty(product.Category),
		product.Price, product.StockQuantity)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) DeleteProduct(ctx context.Context, tenantID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &store.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (s *Store) ListLowStockProducts(ctx context.Context, tenantID string, threshold int) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, sku, name, category, price, stock_quantity
		FROM products
		WHERE tenant_id = $1 AND stock_quantity <= $2
		ORDER BY stock_quantity, name
	`, tenantID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) ListCategories(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category
		FROM products
		WHERE tenant_id = $1 AND category IS NOT NULL AND category <> ''
		ORDER BY category
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0, 16)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// CreateCheckout validates stock, locks prices and writes the sale in one
// serializable transaction. Product rows are locked FOR UPDATE so concurrent
// checkouts cannot both pass the stock check on a stale read.
func (s *Store) CreateCheckout(ctx context.Context, tenantID string, cashierID string, paymentType string, lines []domain.CheckoutLine) (*domain.Sale, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, store.ErrEmptyCart
		}
		productIDs = append(productIDs, line.ProductID)
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, price, stock_quantity
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
		FOR UPDATE
	`, tenantID, productIDs)
	if err != nil {
		return nil, err
	}
	type productState struct {
		price decimal.Decimal
		stock int
	}
	productMap := make(map[string]productState, len(lines))
	for productRows.Next() {
		var id string
		var state productState
		if err := productRows.Scan(&id, &state.price, &state.stock); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productMap[id] = state
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		product, exists := productMap[line.ProductID]
		if !exists {
			return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
		}
		if product.stock < line.Quantity {
			return nil, &store.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.stock,
			}
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = now()
			WHERE tenant_id = $2 AND id = $3
		`, line.Quantity, tenantID, line.ProductID)
		if err != nil {
			return nil, err
		}
		product.stock -= line.Quantity
		productMap[line.ProductID] = product

		items = append(items, domain.SaleItem{
			ID:        xid.New("item"),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     product.price,
		})
		total = total.Add(product.price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:          xid.New("sale"),
		TenantID:    tenantID,
		CashierID:   cashierID,
		TotalAmount: total.Round(2),
		PaymentType: paymentType,
		Timestamp:   now,
		UpdatedAt:   now,
		Items:       items,
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, tenant_id, cashier_id, total_amount, payment_type, timestamp, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.TenantID, sale.CashierID, sale.TotalAmount, sale.PaymentType, sale.Timestamp, sale.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
		item := sale.Items[i]
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, item.SaleID, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, tenantID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, cashier_id, total_amount, payment_type, timestamp, updated_at
		FROM sales
		WHERE tenant_id = $1
		ORDER BY timestamp DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSaleItems(ctx, tenantID, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, cashier_id, total_amount, payment_type, timestamp, updated_at
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID).Scan(&sale.ID, &sale.TenantID, &sale.CashierID, &sale.TotalAmount,
		&sale.PaymentType, &sale.Timestamp, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	sale.Timestamp = sale.Timestamp.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.sale_id, i.product_id, i.quantity, i.price, p.name, p.sku
		FROM sale_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.sale_id = $1
		ORDER BY i.id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.SaleItem
		var name, sku sql.NullString
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.Price, &name, &sku); err != nil {
			return nil, err
		}
		item.Name = name.String
		item.SKU = sku.String
		sale.Items = append(sale.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) SearchSalesByProduct(ctx context.Context, tenantID string, query string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.tenant_id, s.cashier_id, s.total_amount, s.payment_type, s.timestamp, s.updated_at
		FROM sales s
		JOIN sale_items i ON i.sale_id = s.id
		JOIN products p ON p.id = i.product_id
		WHERE s.tenant_id = $1 AND (p.name ILIKE '%' || $2 || '%' OR p.sku ILIKE '%' || $2 || '%')
		ORDER BY s.timestamp DESC, s.id DESC
	`, tenantID, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSaleItems(ctx, tenantID, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachSaleItems(ctx context.Context, tenantID string, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	saleIDs := make([]string, 0, len(sales))
	index := make(map[string]*domain.Sale, len(sales))
	for i := range sales {
		saleIDs = append(saleIDs, sales[i].ID)
		index[sales[i].ID] = &sales[i]
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, saleIDs)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return err
		}
		if sale, ok := index[item.SaleID]; ok {
			sale.Items = append(sale.Items, item)
		}
	}
	return rows.Err()
}

// CreateReturns validates the whole batch inside the same transaction that
// reads prior returns and writes the new rows. Nothing is persisted when any
// line fails.
func (s *Store) CreateReturns(ctx context.Context, tenantID string, saleID string, lines []domain.ReturnLine) ([]domain.Return, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if saleID != "" {
		var lockedSaleID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM sales
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE
		`, tenantID, saleID).Scan(&lockedSaleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrSaleNotFound
			}
			return nil, err
		}

		soldByProduct := map[string]int{}
		itemRows, err := pgTx.QueryContext(ctx, `
			SELECT product_id, quantity FROM sale_items WHERE sale_id = $1
		`, saleID)
		if err != nil {
			return nil, err
		}
		for itemRows.Next() {
			var productID string
			var qty int
			if err := itemRows.Scan(&productID, &qty); err != nil {
				_ = itemRows.Close()
				return nil, err
			}
			soldByProduct[productID] += qty
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		_ = itemRows.Close()

		returnedByProduct := map[string]int{}
		returnRows, err := pgTx.QueryContext(ctx, `
			SELECT product_id, quantity FROM returns WHERE sale_id = $1
			FOR UPDATE
		`, saleID)
		if err != nil {
			return nil, err
		}
		for returnRows.Next() {
			var productID string
			var qty int
			if err := returnRows.Scan(&productID, &qty); err != nil {
				_ = returnRows.Close()
				return nil, err
			}
			returnedByProduct[productID] += qty
		}
		if err := returnRows.Err(); err != nil {
			_ = returnRows.Close()
			return nil, err
		}
		_ = returnRows.Close()

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

	now := time.Now().UTC()
	created := make([]domain.Return, 0, len(lines))
	for _, line := range lines {
		var lockedProductID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM products
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE
		`, tenantID, line.ProductID).Scan(&lockedProductID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
			}
			return nil, err
		}

		if line.Restock {
			_, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity + $1, updated_at = now()
				WHERE tenant_id = $2 AND id = $3
			`, line.Quantity, tenantID, line.ProductID)
			if err != nil {
				return nil, err
			}
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
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO returns (id, tenant_id, product_id, sale_id, quantity, reason, notes, restocked, timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, ret.ID, ret.TenantID, ret.ProductID, nullIfEmpty(ret.SaleID), ret.Quantity, ret.Reason,
			nullIfEmpty(ret.Notes), ret.Restocked, ret.Timestamp)
		if err != nil {
			return nil, err
		}
		created = append(created, ret)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListReturns(ctx context.Context, tenantID string) ([]domain.Return, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, COALESCE(sale_id, ''), quantity, reason, COALESCE(notes, ''), restocked, timestamp
		FROM returns
		WHERE tenant_id = $1
		ORDER BY timestamp DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Return, 0, 64)
	for rows.Next() {
		var ret domain.Return
		if err := rows.Scan(&ret.ID, &ret.TenantID, &ret.ProductID, &ret.SaleID, &ret.Quantity,
			&ret.Reason, &ret.Notes, &ret.Restocked, &ret.Timestamp); err != nil {
			return nil, err
		}
		ret.Timestamp = ret.Timestamp.UTC()
		result = append(result, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSession relies on a partial unique index over (tenant_id, cashier_id)
// WHERE closed_at IS NULL: a race between two opens leaves exactly one row.
func (s *Store) CreateSession(ctx context.Context, session domain.CashierSession) (*domain.CashierSession, error) {
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.OpeningCash = session.OpeningCash.Round(2)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashier_sessions (
			id, tenant_id, cashier_id, terminal_id, opened_at, opening_cash, is_over_short, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7)
	`, session.ID, session.TenantID, session.CashierID, nullIfEmpty(session.TerminalID),
		session.OpenedAt, session.OpeningCash, nullIfEmpty(session.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionAlreadyOpen
		}
		return nil, err
	}
	saved := session
	return &saved, nil
}

func (s *Store) GetSession(ctx context.Context, tenantID string, sessionID string) (*domain.CashierSession, error) {
	session, err := s.querySession(ctx, `
		SELECT id, tenant_id, cashier_id, COALESCE(terminal_id, ''), opened_at, closed_at,
			opening_cash, closing_cash, system_cash_total, cash_difference, is_over_short, COALESCE(notes, '')
		FROM cashier_sessions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) GetOpenSession(ctx context.Context, tenantID string, cashierID string) (*domain.CashierSession, error) {
	session, err := s.querySession(ctx, `
		SELECT id, tenant_id, cashier_id, COALESCE(terminal_id, ''), opened_at, closed_at,
			opening_cash, closing_cash, system_cash_total, cash_difference, is_over_short, COALESCE(notes, '')
		FROM cashier_sessions
		WHERE tenant_id = $1 AND cashier_id = $2 AND closed_at IS NULL
		ORDER BY opened_at DESC
		LIMIT 1
	`, tenantID, cashierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveSession
		}
		return nil, err
	}
	return session, nil
}

// CloseSession locks the session row, recomputes the expected cash total from
// committed cash sales inside the same transaction, and closes the session.
// The closed_at IS NULL guard on the final update makes the transition fire
// exactly once.
func (s *Store) CloseSession(ctx context.Context, tenantID string, sessionID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.CashierSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	closingCash = closingCash.Round(2)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var cashierID string
	var openedAt time.Time
	var alreadyClosed sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT cashier_id, opened_at, closed_at
		FROM cashier_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, sessionID).Scan(&cashierID, &openedAt, &alreadyClosed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, err
	}
	if alreadyClosed.Valid {
		return nil, store.ErrSessionAlreadyClosed
	}

	var systemTotal decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE tenant_id = $1 AND cashier_id = $2 AND payment_type = $3
			AND timestamp >= $4 AND timestamp <= $5
	`, tenantID, cashierID, domain.PaymentTypeCash, openedAt, closedAt).Scan(&systemTotal)
	if err != nil {
		return nil, err
	}

	difference := closingCash.Sub(systemTotal)
	isOverShort := !difference.IsZero()

	row := pgTx.QueryRowContext(ctx, `
		UPDATE cashier_sessions
		SET closing_cash = $3, system_cash_total = $4, cash_difference = $5,
			is_over_short = $6, closed_at = $7, notes = COALESCE($8, notes)
		WHERE tenant_id = $1 AND id = $2 AND closed_at IS NULL
		RETURNING id, tenant_id, cashier_id, COALESCE(terminal_id, ''), opened_at, closed_at,
			opening_cash, closing_cash, system_cash_total, cash_difference, is_over_short, COALESCE(notes, '')
	`, tenantID, sessionID, closingCash, systemTotal, difference, isOverShort, closedAt, nullIfEmpty(notes))
	session, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionAlreadyClosed
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) SumCashSales(ctx context.Context, tenantID string, cashierID string, from time.Time, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE tenant_id = $1 AND cashier_id = $2 AND payment_type = $3
			AND timestamp >= $4 AND timestamp <= $5
	`, tenantID, cashierID, domain.PaymentTypeCash, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) CreateInventoryEvent(ctx context.Context, event domain.InventoryEvent) (*domain.InventoryEvent, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var lockedProductID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, event.TenantID, event.ProductID).Scan(&lockedProductID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: event.ProductID}
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at = now()
		WHERE tenant_id = $2 AND id = $3
	`, event.Change, event.TenantID, event.ProductID)
	if err != nil {
		return nil, err
	}

	if event.ID == "" {
		event.ID = xid.New("inv")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO inventory_events (id, tenant_id, product_id, change, reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.TenantID, event.ProductID, event.Change, nullIfEmpty(event.Reason),
		event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := event
	return &created, nil
}

func (s *Store) ListInventoryEvents(ctx context.Context, tenantID string) ([]domain.InventoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, change, COALESCE(reason, ''), created_at, updated_at
		FROM inventory_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.InventoryEvent, 0, 64)
	for rows.Next() {
		var event domain.InventoryEvent
		if err := rows.Scan(&event.ID, &event.TenantID, &event.ProductID, &event.Change,
			&event.Reason, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return nil, err
		}
		event.CreatedAt = event.CreatedAt.UTC()
		event.UpdatedAt = event.UpdatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetZReport(ctx context.Context, tenantID string, from time.Time, to time.Time) (*domain.ZReport, error) {
	report := &domain.ZReport{
		Date:       from.Format("2006-01-02"),
		Sessions:   make([]domain.ZReportSession, 0, 8),
		TopSellers: make([]domain.ZReportTopSeller, 0, 5),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_type = 'cash'), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE payment_type = 'card'), 0)
		FROM sales
		WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
	`, tenantID, from, to).Scan(&report.TotalSales, &report.TotalCash, &report.TotalCard)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(r.quantity * p.price), 0)
		FROM returns r
		JOIN products p ON p.id = r.product_id
		WHERE r.tenant_id = $1 AND r.timestamp >= $2 AND r.timestamp < $3
	`, tenantID, from, to).Scan(&report.TotalReturns)
	if err != nil {
		return nil, err
	}

	sessionRows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.cashier_id, COALESCE(u.username, ''), s.opening_cash, s.closing_cash,
			s.system_cash_total, s.cash_difference, s.is_over_short, s.opened_at, s.closed_at
		FROM cashier_sessions s
		LEFT JOIN users u ON u.id = s.cashier_id
		WHERE s.tenant_id = $1 AND s.opened_at >= $2 AND s.opened_at < $3
		ORDER BY s.opened_at, s.id
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer sessionRows.Close()

	for sessionRows.Next() {
		var entry domain.ZReportSession
		var closedAt sql.NullTime
		var closingCash, systemTotal, difference decimal.NullDecimal
		if err := sessionRows.Scan(&entry.SessionID, &entry.CashierID, &entry.CashierName,
			&entry.OpeningCash, &closingCash, &systemTotal, &difference,
			&entry.IsOverShort, &entry.OpenedAt, &closedAt); err != nil {
			return nil, err
		}
		entry.OpenedAt = entry.OpenedAt.UTC()
		if closedAt.Valid {
			at := closedAt.Time.UTC()
			entry.ClosedAt = &at
		}
		if closingCash.Valid {
			entry.ClosingCash = &closingCash.Decimal
		}
		if systemTotal.Valid {
			entry.SystemCashTotal = &systemTotal.Decimal
		}
		if difference.Valid {
			entry.CashDifference = &difference.Decimal
		}
		report.Sessions = append(report.Sessions, entry)
	}
	if err := sessionRows.Err(); err != nil {
		return nil, err
	}

	topRows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, SUM(i.quantity) AS units_sold
		FROM products p
		JOIN sale_items i ON i.product_id = p.id
		JOIN sales s ON s.id = i.sale_id
		WHERE s.tenant_id = $1 AND s.timestamp >= $2 AND s.timestamp < $3
		GROUP BY p.id, p.name
		ORDER BY units_sold DESC, p.id
		LIMIT 5
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer topRows.Close()

	for topRows.Next() {
		var seller domain.ZReportTopSeller
		if err := topRows.Scan(&seller.ProductID, &seller.Name, &seller.UnitsSold); err != nil {
			return nil, err
		}
		report.TopSellers = append(report.TopSellers, seller)
	}
	if err := topRows.Err(); err != nil {
		return nil, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.TenantID, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateUsername
	}
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.TenantID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, username, password_hash, role, active, created_at
		FROM users
		WHERE tenant_id = $1
		ORDER BY username
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.TenantID, &user.Username, &user.Password,
			&user.Role, &user.Active, &user.CreatedAt); err != nil {
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

func (s *Store) querySession(ctx context.Context, query string, args ...any) (*domain.CashierSession, error) {
	return scanSessionRow(s.db.QueryRowContext(ctx, query, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*domain.CashierSession, error) {
	var session domain.CashierSession
	var closedAt sql.NullTime
	var closingCash, systemTotal, difference decimal.NullDecimal
	err := row.Scan(&session.ID, &session.TenantID, &session.CashierID, &session.TerminalID,
		&session.OpenedAt, &closedAt, &session.OpeningCash, &closingCash, &systemTotal,
		&difference, &session.IsOverShort, &session.Notes)
	if err != nil {
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	if closingCash.Valid {
		session.ClosingCash = &closingCash.Decimal
	}
	if systemTotal.Valid {
		session.SystemCashTotal = &systemTotal.Decimal
	}
	if difference.Valid {
		session.CashDifference = &difference.Decimal
	}
	return &session, nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var category sql.NullString
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &category, &p.Price, &p.StockQuantity); err != nil {
			return nil, err
		}
		p.Category = category.String
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func scanSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.TenantID, &sale.CashierID, &sale.TotalAmount,
			&sale.PaymentType, &sale.Timestamp, &sale.UpdatedAt); err != nil {
			return nil, err
		}
		sale.Timestamp = sale.Timestamp.UTC()
		sale.UpdatedAt = sale.UpdatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
