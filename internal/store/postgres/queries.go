package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

const (
	productColumns = `id, sku, name, retail_price_cents, wholesale_price_cents, stock_a, stock_b, stock_c,
		total_stock, min_stock_alert, active, updated_at`
	movementColumns = `id, product_id, movement_type, delta_a, delta_b, delta_c, before_a, before_b, before_c,
		after_a, after_b, after_c, reference, notes, actor, created_at`
	alertColumns    = `id, product_id, alert_type, active, total_stock, min_stock, created_at, updated_at, resolved_at`
	customerColumns = `id, name, credit_limit_cents, credit_used_cents, credit_status, total_purchases_cents, last_purchase_at`
	creditColumns   = `id, customer_id, transaction_type, amount_cents, previous_balance_cents, new_balance_cents,
		previous_limit_cents, new_limit_cents, reference, notes, actor, created_at`
	orderColumns = `id, order_number, sequence, status, payment_status, order_type, sale_channel, subtotal_cents,
		total_cents, COALESCE(customer_id, '') AS customer_id, COALESCE(terminal_id, '') AS terminal_id,
		delivery_method, delivery_address, notes, created_by, created_at, updated_at, confirmed_at`
	itemColumns    = `id, order_id, product_id, sku, name, quantity, unit_price_cents, line_total_cents`
	sessionColumns = `id, terminal_id, session_number, status, opened_by, opening_cash_cents, total_sales_cents,
		total_transactions, cash_sales_cents, closing_cash_cents, expected_cash_cents, cash_difference_cents,
		difference_percent, classification, closed_by, notes, opened_at, closed_at`
	posColumns = `id, transaction_number, session_id, order_id, payment_method, reference_code, amount_cents,
		tendered_cents, change_cents, COALESCE(idempotency_key, '') AS idempotency_key, actor, completed_at`
)

// queries implements store.Reader over either the pool or an open
// transaction.
type queries struct {
	ext sqlx.ExtContext
}

func (q queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (q queries) product(ctx context.Context, id string, lock string) (*domain.Product, error) {
	var product domain.Product
	if err := q.get(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`+lock, id); err != nil {
		return nil, err
	}
	return &product, nil
}

func (q queries) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return q.product(ctx, id, "")
}

func (q queries) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := sqlx.SelectContext(ctx, q.ext, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (q queries) customer(ctx context.Context, id string, lock string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := q.get(ctx, &customer, `SELECT `+customerColumns+` FROM customers WHERE id = $1`+lock, id); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (q queries) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return q.customer(ctx, id, "")
}

func (q queries) order(ctx context.Context, id string, lock string) (*domain.Order, error) {
	var order domain.Order
	if err := q.get(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lock, id); err != nil {
		return nil, err
	}
	items, err := q.items(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]
	return &order, nil
}

func (q queries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return q.order(ctx, id, "")
}

func (q queries) items(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows := make([]domain.OrderItem, 0, len(orderIDs)*4)
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_id
	`, orderIDs)
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]domain.OrderItem, len(orderIDs))
	for _, item := range rows {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	return byOrder, nil
}

func (q queries) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	statuses := filter.Statuses
	if statuses == nil {
		statuses = []string{}
	}

	orders := make([]domain.Order, 0, 16)
	err := sqlx.SelectContext(ctx, q.ext, &orders, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR sale_channel = $1) AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY sequence
		LIMIT $3
	`, filter.Channel, statuses, limit)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := q.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (q queries) ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	events := make([]domain.OrderStatusEvent, 0, 8)
	err := sqlx.SelectContext(ctx, q.ext, &events, `
		SELECT id, order_id, from_status, to_status, actor, reason, created_at
		FROM order_status_events
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (q queries) ListMovements(ctx context.Context, productID string) ([]domain.InventoryMovement, error) {
	return q.movements(ctx, `product_id = $1`, productID)
}

func (q queries) ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error) {
	return q.movements(ctx, `reference = $1`, reference)
}

func (q queries) movements(ctx context.Context, where string, arg string) ([]domain.InventoryMovement, error) {
	movements := make([]domain.InventoryMovement, 0, 32)
	err := sqlx.SelectContext(ctx, q.ext, &movements, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE `+where+`
		ORDER BY created_at, id
	`, arg)
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (q queries) GetActiveAlert(ctx context.Context, productID string) (*domain.StockAlert, error) {
	var alert domain.StockAlert
	if err := q.get(ctx, &alert, `SELECT `+alertColumns+` FROM stock_alerts WHERE product_id = $1 AND active`, productID); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (q queries) ListActiveAlerts(ctx context.Context) ([]domain.StockAlert, error) {
	alerts := make([]domain.StockAlert, 0, 16)
	err := sqlx.SelectContext(ctx, q.ext, &alerts, `
		SELECT `+alertColumns+`
		FROM stock_alerts
		WHERE active
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (q queries) ListCreditTransactions(ctx context.Context, customerID string, limit int) ([]domain.CreditTransaction, error) {
	if limit < 1 {
		limit = 50
	}

	entries := make([]domain.CreditTransaction, 0, limit)
	err := sqlx.SelectContext(ctx, q.ext, &entries, `
		SELECT `+creditColumns+`
		FROM credit_transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (q queries) GetTerminal(ctx context.Context, id string) (*domain.Terminal, error) {
	var terminal domain.Terminal
	if err := q.get(ctx, &terminal, `SELECT id, name, location, active FROM terminals WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &terminal, nil
}

func (q queries) session(ctx context.Context, where string, arg string, lock string) (*domain.Session, error) {
	var session domain.Session
	if err := q.get(ctx, &session, `SELECT `+sessionColumns+` FROM cash_sessions WHERE `+where+lock, arg); err != nil {
		return nil, err
	}
	return &session, nil
}

func (q queries) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return q.session(ctx, `id = $1`, id, "")
}

func (q queries) GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	return q.session(ctx, `terminal_id = $1 AND status = 'open'`, terminalID, "")
}

func (q queries) GetBusinessRule(ctx context.Context, key string) (*domain.BusinessRule, error) {
	var rule domain.BusinessRule
	if err := q.get(ctx, &rule, `SELECT key, value_cents, active, updated_by, updated_at FROM business_rules WHERE key = $1`, key); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (q queries) FindPOSTransactionByIdempotency(ctx context.Context, key string) (*domain.POSTransaction, error) {
	return q.posTransaction(ctx, `idempotency_key = $1`, key)
}

func (q queries) FindPOSTransactionByOrder(ctx context.Context, orderID string) (*domain.POSTransaction, error) {
	return q.posTransaction(ctx, `order_id = $1 ORDER BY completed_at DESC LIMIT 1`, orderID)
}

func (q queries) posTransaction(ctx context.Context, where string, arg string) (*domain.POSTransaction, error) {
	var entry domain.POSTransaction
	if err := q.get(ctx, &entry, `SELECT `+posColumns+` FROM pos_transactions WHERE `+where, arg); err != nil {
		return nil, err
	}
	return &entry, nil
}

