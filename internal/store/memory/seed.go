package memory

import (
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/xid"
)

// NewSeeded returns a store loaded with a demo hardware catalog, three
// terminals, credit customers and one pending web order. Opening stock is
// written as "in" movements so replaying the ledger reproduces it.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	now := time.Now().UTC()

	for _, terminal := range []domain.Terminal{
		{ID: "term-01", Name: "Caja 1", Location: "Tienda 1", Active: true},
		{ID: "term-02", Name: "Caja 2", Location: "Tienda 2", Active: true},
		{ID: "term-03", Name: "Caja Almacén", Location: "Almacén", Active: false},
	} {
		s.st.terminals[terminal.ID] = terminal
	}

	products := []struct {
		product domain.Product
		a, b, c int
	}{
		{domain.Product{ID: "prod-001", SKU: "SKU-CEM-50", Name: "Cemento gris 50kg", RetailPriceCents: 25000, WholesalePriceCents: 21000, MinStockAlert: 20}, 40, 30, 30},
		{domain.Product{ID: "prod-002", SKU: "SKU-VAR-38", Name: "Varilla corrugada 3/8", RetailPriceCents: 18500, WholesalePriceCents: 15500, MinStockAlert: 30}, 60, 50, 40},
		{domain.Product{ID: "prod-003", SKU: "SKU-PIN-19", Name: "Pintura vinílica 19L", RetailPriceCents: 120000, WholesalePriceCents: 98000, MinStockAlert: 5}, 12, 6, 6},
		{domain.Product{ID: "prod-004", SKU: "SKU-TOR-14", Name: "Tornillo 1/4 caja 100", RetailPriceCents: 9500, WholesalePriceCents: 7600, MinStockAlert: 5}, 2, 2, 1},
		{domain.Product{ID: "prod-005", SKU: "SKU-CIN-18", Name: "Cinta de aislar 18mm", RetailPriceCents: 2500, MinStockAlert: 10}, 30, 20, 20},
		{domain.Product{ID: "prod-006", SKU: "SKU-TUB-12", Name: "Tubo PVC 1/2 6m", RetailPriceCents: 8900, WholesalePriceCents: 7200, MinStockAlert: 15}, 25, 15, 10},
	}
	for _, entry := range products {
		s.st.seedProduct(entry.product, entry.a, entry.b, entry.c, now)
	}

	for _, customer := range []domain.Customer{
		{ID: "cust-001", Name: "Constructora del Norte", CreditLimitCents: 100000, CreditUsedCents: 90000, CreditStatus: domain.CreditStatusActive},
		{ID: "cust-002", Name: "María López", CreditStatus: domain.CreditStatusNone},
		{ID: "cust-003", Name: "Ferretería El Clavo", CreditLimitCents: 500000, CreditStatus: domain.CreditStatusActive},
		{ID: "cust-004", Name: "Obras del Sur", CreditLimitCents: 200000, CreditUsedCents: 50000, CreditStatus: domain.CreditStatusSuspended},
	} {
		s.st.customers[customer.ID] = customer
	}

	s.st.seedWebOrder(now)
	return s
}

func (st *state) seedProduct(product domain.Product, a int, b int, c int, at time.Time) {
	product.Active = true
	product.UpdatedAt = at
	product.SetStock(a, b, c)
	st.products[product.ID] = product
	st.movements = append(st.movements, domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    product.ID,
		MovementType: domain.MovementIn,
		DeltaA:       a,
		DeltaB:       b,
		DeltaC:       c,
		AfterA:       a,
		AfterB:       b,
		AfterC:       c,
		Notes:        "opening stock",
		Actor:        "system",
		CreatedAt:    at,
	})
	if product.TotalStock > product.MinStockAlert {
		return
	}
	alertType := domain.AlertLowStock
	if product.TotalStock == 0 {
		alertType = domain.AlertOutOfStock
	}
	alert := domain.StockAlert{
		ID:         xid.New("alert"),
		ProductID:  product.ID,
		AlertType:  alertType,
		Active:     true,
		TotalStock: product.TotalStock,
		MinStock:   product.MinStockAlert,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	st.alerts[alert.ID] = alert
}

func (st *state) seedWebOrder(at time.Time) {
	product := st.products["prod-001"]
	st.sequences[domain.SequenceOrder] = 1
	order := domain.Order{
		ID:             xid.New("ord"),
		OrderNumber:    "ORD-000001",
		Sequence:       1,
		Status:         domain.OrderPendingPayment,
		PaymentStatus:  domain.PaymentPending,
		OrderType:      domain.OrderTypeRetail,
		SaleChannel:    domain.ChannelOnline,
		SubtotalCents:  2 * product.RetailPriceCents,
		TotalCents:     2 * product.RetailPriceCents,
		CustomerID:     "cust-003",
		DeliveryMethod: "pickup",
		CreatedBy:      "web",
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	order.Items = []domain.OrderItem{{
		ID:             xid.New("item"),
		OrderID:        order.ID,
		ProductID:      product.ID,
		SKU:            product.SKU,
		Name:           product.Name,
		Quantity:       2,
		UnitPriceCents: product.RetailPriceCents,
		LineTotalCents: 2 * product.RetailPriceCents,
	}}
	st.orders[order.ID] = order
	st.orderEvents = append(st.orderEvents, domain.OrderStatusEvent{
		ID:        xid.New("evt"),
		OrderID:   order.ID,
		ToStatus:  domain.OrderPendingPayment,
		Actor:     "web",
		CreatedAt: at,
	})
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD,
// SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD with dev fallbacks.
func seedUsers() map[string]domain.UserAccount {
	keys := []string{"SEED_ADMIN_PASSWORD", "SEED_MANAGER_PASSWORD", "SEED_CASHIER_PASSWORD"}
	for _, key := range keys {
		if os.Getenv(key) == "" {
			zap.L().Warn("memory store using default dev credentials", zap.Strings("override_with", keys))
			break
		}
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), "admin"},
		{"manager", envOr("SEED_MANAGER_PASSWORD", "manager123"), "manager"},
		{"cashier", envOr("SEED_CASHIER_PASSWORD", "cashier123"), "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
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
