package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

const forUpdate = ` FOR UPDATE`

// pgTx is the store.Tx handed to WithTx callbacks. ForUpdate reads take row
// locks held until the surrounding transaction ends.
type pgTx struct {
	queries
	seqs *sequenceRegistry
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return t.product(ctx, id, forUpdate)
}

// GetProductsForUpdate locks in id order so two carts sharing products
// cannot deadlock.
func (t *pgTx) GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows := make([]domain.Product, 0, len(ids))
	err := sqlx.SelectContext(ctx, t.ext, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	for _, product := range rows {
		result[product.ID] = product
	}
	return result, nil
}

func (t *pgTx) UpdateProductStock(ctx context.Context, id string, stockA int, stockB int, stockC int, at time.Time) error {
	if stockA < 0 || stockB < 0 || stockC < 0 {
		return domain.Invalid("stock", "must not be negative")
	}
	res, err := t.ext.ExecContext(ctx, `
		UPDATE products
		SET stock_a = $2, stock_b = $3, stock_c = $4, updated_at = $5
		WHERE id = $1
	`, id, stockA, stockB, stockC, at)
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) InsertMovement(ctx context.Context, movement domain.InventoryMovement) error {
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO inventory_movements (`+movementColumns+`)
		VALUES (:id, :product_id, :movement_type, :delta_a, :delta_b, :delta_c, :before_a, :before_b, :before_c,
			:after_a, :after_b, :after_c, :reference, :notes, :actor, :created_at)
	`, movement)
	return mapError(err)
}

func (t *pgTx) InsertAlert(ctx context.Context, alert domain.StockAlert) error {
	_, err := t.ext.ExecContext(ctx, `
		INSERT INTO stock_alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, alert.ID, alert.ProductID, alert.AlertType, alert.Active, alert.TotalStock, alert.MinStock,
		alert.CreatedAt, alert.UpdatedAt, nullTime(alert.ResolvedAt))
	return mapError(err)
}

func (t *pgTx) UpdateAlert(ctx context.Context, alert domain.StockAlert) error {
	res, err := t.ext.ExecContext(ctx, `
		UPDATE stock_alerts
		SET alert_type = $2, active = $3, total_stock = $4, min_stock = $5, updated_at = $6, resolved_at = $7
		WHERE id = $1
	`, alert.ID, alert.AlertType, alert.Active, alert.TotalStock, alert.MinStock, alert.UpdatedAt, nullTime(alert.ResolvedAt))
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) GetCustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error) {
	return t.customer(ctx, id, forUpdate)
}

func (t *pgTx) UpdateCustomerCredit(ctx context.Context, customer domain.Customer) error {
	res, err := t.ext.ExecContext(ctx, `
		UPDATE customers
		SET credit_limit_cents = $2, credit_used_cents = $3, credit_status = $4
		WHERE id = $1
	`, customer.ID, customer.CreditLimitCents, customer.CreditUsedCents, customer.CreditStatus)
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) RecordCustomerPurchase(ctx context.Context, id string, amountCents int64, at time.Time) error {
	res, err := t.ext.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases_cents = total_purchases_cents + $2, last_purchase_at = $3
		WHERE id = $1
	`, id, amountCents, at)
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) InsertCreditTransaction(ctx context.Context, entry domain.CreditTransaction) error {
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO credit_transactions (`+creditColumns+`)
		VALUES (:id, :customer_id, :transaction_type, :amount_cents, :previous_balance_cents, :new_balance_cents,
			:previous_limit_cents, :new_limit_cents, :reference, :notes, :actor, :created_at)
	`, entry)
	return mapError(err)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.order(ctx, id, forUpdate)
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.ext.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, sequence, status, payment_status, order_type, sale_channel,
			subtotal_cents, total_cents, customer_id, terminal_id, delivery_method, delivery_address, notes,
			created_by, created_at, updated_at, confirmed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, order.ID, order.OrderNumber, order.Sequence, order.Status, order.PaymentStatus, order.OrderType, order.SaleChannel,
		order.SubtotalCents, order.TotalCents, nullIfEmpty(order.CustomerID), nullIfEmpty(order.TerminalID),
		order.DeliveryMethod, order.DeliveryAddress, order.Notes, order.CreatedBy, order.CreatedAt, order.UpdatedAt,
		nullTime(order.ConfirmedAt))
	if err != nil {
		return mapError(err)
	}
	return t.insertItems(ctx, order.ID, order.Items)
}

// UpdateOrder writes the order header. Items change only through
// ReplaceOrderItems.
func (t *pgTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.ext.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, order_type = $4, subtotal_cents = $5, total_cents = $6,
			customer_id = $7, terminal_id = $8, notes = $9, updated_at = $10, confirmed_at = $11
		WHERE id = $1
	`, order.ID, order.Status, order.PaymentStatus, order.OrderType, order.SubtotalCents, order.TotalCents,
		nullIfEmpty(order.CustomerID), nullIfEmpty(order.TerminalID), order.Notes, order.UpdatedAt, nullTime(order.ConfirmedAt))
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) ReplaceOrderItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if _, err := t.ext.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return mapError(err)
	}
	return t.insertItems(ctx, orderID, items)
}

func (t *pgTx) insertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	for _, item := range items {
		item.OrderID = orderID
		_, err := sqlx.NamedExecContext(ctx, t.ext, `
			INSERT INTO order_items (`+itemColumns+`)
			VALUES (:id, :order_id, :product_id, :sku, :name, :quantity, :unit_price_cents, :line_total_cents)
		`, item)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) InsertOrderEvent(ctx context.Context, event domain.OrderStatusEvent) error {
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO order_status_events (id, order_id, from_status, to_status, actor, reason, created_at)
		VALUES (:id, :order_id, :from_status, :to_status, :actor, :reason, :created_at)
	`, event)
	return mapError(err)
}

func (t *pgTx) GetSessionForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return t.session(ctx, `id = $1`, id, forUpdate)
}

func (t *pgTx) GetOpenSessionForUpdate(ctx context.Context, terminalID string) (*domain.Session, error) {
	return t.session(ctx, `terminal_id = $1 AND status = 'open'`, terminalID, forUpdate)
}

func (t *pgTx) InsertSession(ctx context.Context, session domain.Session) error {
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO cash_sessions (`+sessionColumns+`)
		VALUES (:id, :terminal_id, :session_number, :status, :opened_by, :opening_cash_cents, :total_sales_cents,
			:total_transactions, :cash_sales_cents, :closing_cash_cents, :expected_cash_cents, :cash_difference_cents,
			:difference_percent, :classification, :closed_by, :notes, :opened_at, :closed_at)
	`, session)
	return mapError(err)
}

func (t *pgTx) UpdateSession(ctx context.Context, session domain.Session) error {
	res, err := t.ext.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = $2, total_sales_cents = $3, total_transactions = $4, cash_sales_cents = $5,
			closing_cash_cents = $6, expected_cash_cents = $7, cash_difference_cents = $8,
			difference_percent = $9, classification = $10, closed_by = $11, notes = $12, closed_at = $13
		WHERE id = $1
	`, session.ID, session.Status, session.TotalSalesCents, session.TotalTransactions, session.CashSalesCents,
		session.ClosingCashCents, session.ExpectedCashCents, session.CashDifferenceCents,
		session.DifferencePercent, session.Classification, session.ClosedBy, session.Notes, nullTime(session.ClosedAt))
	if err != nil {
		return mapError(err)
	}
	return expectOne(res)
}

func (t *pgTx) InsertPOSTransaction(ctx context.Context, entry domain.POSTransaction) error {
	_, err := t.ext.ExecContext(ctx, `
		INSERT INTO pos_transactions (id, transaction_number, session_id, order_id, payment_method, reference_code,
			amount_cents, tendered_cents, change_cents, idempotency_key, actor, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.TransactionNumber, entry.SessionID, entry.OrderID, entry.PaymentMethod, entry.ReferenceCode,
		entry.AmountCents, entry.TenderedCents, entry.ChangeCents, nullIfEmpty(entry.IdempotencyKey), entry.Actor, entry.CompletedAt)
	return mapError(err)
}

func (t *pgTx) UpsertBusinessRule(ctx context.Context, rule domain.BusinessRule) error {
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO business_rules (key, value_cents, active, updated_by, updated_at)
		VALUES (:key, :value_cents, :active, :updated_by, :updated_at)
		ON CONFLICT (key)
		DO UPDATE SET value_cents = EXCLUDED.value_cents, active = EXCLUDED.active,
			updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, rule)
	return mapError(err)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, t.ext, entry)
}

func insertAuditLog(ctx context.Context, ext sqlx.ExtContext, entry domain.AuditLog) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return mapError(err)
}
