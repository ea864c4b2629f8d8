package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

// state holds every table. It satisfies store.Tx directly: WithTx hands a
// clone to the callback, and the lock held by the Store makes ForUpdate
// reads plain reads.
type state struct {
	products     map[string]domain.Product
	movements    []domain.InventoryMovement
	alerts       map[string]domain.StockAlert
	customers    map[string]domain.Customer
	creditTxs    []domain.CreditTransaction
	orders       map[string]domain.Order
	orderEvents  []domain.OrderStatusEvent
	terminals    map[string]domain.Terminal
	sessions     map[string]domain.Session
	openSessions map[string]string
	posTxs       map[string]domain.POSTransaction
	posByIdem    map[string]string
	posByOrder   map[string]string
	rules        map[string]domain.BusinessRule
	sequences    map[string]int64
	auditLogs    []domain.AuditLog
}

var _ store.Tx = (*state)(nil)

func newState() *state {
	return &state{
		products:     make(map[string]domain.Product),
		alerts:       make(map[string]domain.StockAlert),
		customers:    make(map[string]domain.Customer),
		orders:       make(map[string]domain.Order),
		terminals:    make(map[string]domain.Terminal),
		sessions:     make(map[string]domain.Session),
		openSessions: make(map[string]string),
		posTxs:       make(map[string]domain.POSTransaction),
		posByIdem:    make(map[string]string),
		posByOrder:   make(map[string]string),
		rules:        make(map[string]domain.BusinessRule),
		sequences:    make(map[string]int64),
	}
}

// clone copies the maps and slices. Stored values are never mutated in
// place, so sharing their pointer fields is safe.
func (st *state) clone() *state {
	return &state{
		products:     maps.Clone(st.products),
		movements:    slices.Clone(st.movements),
		alerts:       maps.Clone(st.alerts),
		customers:    maps.Clone(st.customers),
		creditTxs:    slices.Clone(st.creditTxs),
		orders:       maps.Clone(st.orders),
		orderEvents:  slices.Clone(st.orderEvents),
		terminals:    maps.Clone(st.terminals),
		sessions:     maps.Clone(st.sessions),
		openSessions: maps.Clone(st.openSessions),
		posTxs:       maps.Clone(st.posTxs),
		posByIdem:    maps.Clone(st.posByIdem),
		posByOrder:   maps.Clone(st.posByOrder),
		rules:        maps.Clone(st.rules),
		sequences:    maps.Clone(st.sequences),
		auditLogs:    slices.Clone(st.auditLogs),
	}
}

func (st *state) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (st *state) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(st.products))
	for _, product := range st.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].SKU < products[j].SKU
	})
	return products, nil
}

func (st *state) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	customer, ok := st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (st *state) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	order, ok := st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order = cloneOrder(order)
	return &order, nil
}

func (st *state) ListOrders(_ context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, 16)
	for _, order := range st.orders {
		if filter.Channel != "" && order.SaleChannel != filter.Channel {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Sequence < orders[j].Sequence
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (st *state) ListOrderEvents(_ context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	events := make([]domain.OrderStatusEvent, 0, 8)
	for _, event := range st.orderEvents {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (st *state) ListMovements(_ context.Context, productID string) ([]domain.InventoryMovement, error) {
	result := make([]domain.InventoryMovement, 0, 16)
	for _, movement := range st.movements {
		if movement.ProductID == productID {
			result = append(result, movement)
		}
	}
	return result, nil
}

func (st *state) ListMovementsByReference(_ context.Context, reference string) ([]domain.InventoryMovement, error) {
	result := make([]domain.InventoryMovement, 0, 8)
	if reference == "" {
		return result, nil
	}
	for _, movement := range st.movements {
		if movement.Reference == reference {
			result = append(result, movement)
		}
	}
	return result, nil
}

func (st *state) GetActiveAlert(_ context.Context, productID string) (*domain.StockAlert, error) {
	for _, alert := range st.alerts {
		if alert.ProductID == productID && alert.Active {
			return &alert, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) ListActiveAlerts(_ context.Context) ([]domain.StockAlert, error) {
	result := make([]domain.StockAlert, 0, len(st.alerts))
	for _, alert := range st.alerts {
		if alert.Active {
			result = append(result, alert)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (st *state) ListCreditTransactions(_ context.Context, customerID string, limit int) ([]domain.CreditTransaction, error) {
	result := make([]domain.CreditTransaction, 0, 16)
	for i := len(st.creditTxs) - 1; i >= 0; i-- {
		entry := st.creditTxs[i]
		if entry.CustomerID != customerID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (st *state) GetTerminal(_ context.Context, id string) (*domain.Terminal, error) {
	terminal, ok := st.terminals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &terminal, nil
}

func (st *state) GetSession(_ context.Context, id string) (*domain.Session, error) {
	session, ok := st.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (st *state) GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	id, ok := st.openSessions[terminalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.GetSession(ctx, id)
}

func (st *state) GetBusinessRule(_ context.Context, key string) (*domain.BusinessRule, error) {
	rule, ok := st.rules[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rule, nil
}

func (st *state) FindPOSTransactionByIdempotency(_ context.Context, key string) (*domain.POSTransaction, error) {
	id, ok := st.posByIdem[key]
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	entry := st.posTxs[id]
	return &entry, nil
}

func (st *state) FindPOSTransactionByOrder(_ context.Context, orderID string) (*domain.POSTransaction, error) {
	id, ok := st.posByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry := st.posTxs[id]
	return &entry, nil
}

func (st *state) CurrentSequence(_ context.Context, name string) (int64, error) {
	return st.sequences[name], nil
}

func (st *state) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return st.GetProduct(ctx, id)
}

func (st *state) GetProductsForUpdate(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := st.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (st *state) UpdateProductStock(_ context.Context, id string, stockA int, stockB int, stockC int, at time.Time) error {
	product, ok := st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if stockA < 0 || stockB < 0 || stockC < 0 {
		return domain.Invalid("stock", "must not be negative")
	}
	product.SetStock(stockA, stockB, stockC)
	product.UpdatedAt = at
	st.products[id] = product
	return nil
}

func (st *state) InsertMovement(_ context.Context, movement domain.InventoryMovement) error {
	if _, ok := st.products[movement.ProductID]; !ok {
		return store.ErrNotFound
	}
	st.movements = append(st.movements, movement)
	return nil
}

func (st *state) InsertAlert(_ context.Context, alert domain.StockAlert) error {
	if alert.Active {
		for _, existing := range st.alerts {
			if existing.ProductID == alert.ProductID && existing.Active {
				return store.ErrDuplicate
			}
		}
	}
	st.alerts[alert.ID] = alert
	return nil
}

func (st *state) UpdateAlert(_ context.Context, alert domain.StockAlert) error {
	if _, ok := st.alerts[alert.ID]; !ok {
		return store.ErrNotFound
	}
	st.alerts[alert.ID] = alert
	return nil
}

func (st *state) GetCustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error) {
	return st.GetCustomer(ctx, id)
}

func (st *state) UpdateCustomerCredit(_ context.Context, customer domain.Customer) error {
	current, ok := st.customers[customer.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.CreditLimitCents = customer.CreditLimitCents
	current.CreditUsedCents = customer.CreditUsedCents
	current.CreditStatus = customer.CreditStatus
	st.customers[customer.ID] = current
	return nil
}

func (st *state) RecordCustomerPurchase(_ context.Context, id string, amountCents int64, at time.Time) error {
	customer, ok := st.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	customer.TotalPurchasesCents += amountCents
	customer.LastPurchaseAt = &at
	st.customers[id] = customer
	return nil
}

func (st *state) InsertCreditTransaction(_ context.Context, entry domain.CreditTransaction) error {
	if _, ok := st.customers[entry.CustomerID]; !ok {
		return store.ErrNotFound
	}
	st.creditTxs = append(st.creditTxs, entry)
	return nil
}

func (st *state) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return st.GetOrder(ctx, id)
}

func (st *state) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := st.orders[order.ID]; exists {
		return store.ErrDuplicate
	}
	for _, existing := range st.orders {
		if existing.OrderNumber == order.OrderNumber {
			return store.ErrDuplicate
		}
	}
	st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (st *state) UpdateOrder(_ context.Context, order domain.Order) error {
	current, ok := st.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	order.Items = current.Items
	st.orders[order.ID] = order
	return nil
}

func (st *state) ReplaceOrderItems(_ context.Context, orderID string, items []domain.OrderItem) error {
	order, ok := st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.Items = slices.Clone(items)
	st.orders[orderID] = order
	return nil
}

func (st *state) InsertOrderEvent(_ context.Context, event domain.OrderStatusEvent) error {
	if _, ok := st.orders[event.OrderID]; !ok {
		return store.ErrNotFound
	}
	st.orderEvents = append(st.orderEvents, event)
	return nil
}

func (st *state) GetSessionForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return st.GetSession(ctx, id)
}

func (st *state) GetOpenSessionForUpdate(ctx context.Context, terminalID string) (*domain.Session, error) {
	return st.GetOpenSession(ctx, terminalID)
}

func (st *state) InsertSession(_ context.Context, session domain.Session) error {
	if _, exists := st.sessions[session.ID]; exists {
		return store.ErrDuplicate
	}
	if session.Status == domain.SessionStatusOpen {
		if _, open := st.openSessions[session.TerminalID]; open {
			return domain.ErrSessionAlreadyOpen
		}
		st.openSessions[session.TerminalID] = session.ID
	}
	st.sessions[session.ID] = session
	return nil
}

func (st *state) UpdateSession(_ context.Context, session domain.Session) error {
	if _, ok := st.sessions[session.ID]; !ok {
		return store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen && st.openSessions[session.TerminalID] == session.ID {
		delete(st.openSessions, session.TerminalID)
	}
	st.sessions[session.ID] = session
	return nil
}

func (st *state) InsertPOSTransaction(_ context.Context, entry domain.POSTransaction) error {
	if _, exists := st.posTxs[entry.ID]; exists {
		return store.ErrDuplicate
	}
	if entry.IdempotencyKey != "" {
		if _, exists := st.posByIdem[entry.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
		st.posByIdem[entry.IdempotencyKey] = entry.ID
	}
	st.posTxs[entry.ID] = entry
	st.posByOrder[entry.OrderID] = entry.ID
	return nil
}

func (st *state) UpsertBusinessRule(_ context.Context, rule domain.BusinessRule) error {
	st.rules[rule.Key] = rule
	return nil
}

func (st *state) NextSequence(_ context.Context, name string) (int64, error) {
	st.sequences[name]++
	return st.sequences[name], nil
}

func (st *state) BumpSequence(_ context.Context, name string, value int64) error {
	if value > st.sequences[name] {
		st.sequences[name] = value
	}
	return nil
}

func (st *state) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	st.auditLogs = append(st.auditLogs, entry)
	return nil
}
