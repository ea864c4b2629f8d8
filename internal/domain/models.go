package domain

import "time"

type Product struct {
	ID                  string    `json:"id" db:"id"`
	SKU                 string    `json:"sku" db:"sku"`
	Name                string    `json:"name" db:"name"`
	RetailPriceCents    int64     `json:"retail_price_cents" db:"retail_price_cents"`
	WholesalePriceCents int64     `json:"wholesale_price_cents" db:"wholesale_price_cents"`
	StockA              int       `json:"stock_a" db:"stock_a"`
	StockB              int       `json:"stock_b" db:"stock_b"`
	StockC              int       `json:"stock_c" db:"stock_c"`
	TotalStock          int       `json:"total_stock" db:"total_stock"`
	MinStockAlert       int       `json:"min_stock_alert" db:"min_stock_alert"`
	Active              bool      `json:"active" db:"active"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// SetStock writes the three location counters and recomputes TotalStock.
func (p *Product) SetStock(a int, b int, c int) {
	p.StockA = a
	p.StockB = b
	p.StockC = c
	p.TotalStock = a + b + c
}

type InventoryMovement struct {
	ID           string    `json:"id" db:"id"`
	ProductID    string    `json:"product_id" db:"product_id"`
	MovementType string    `json:"movement_type" db:"movement_type"`
	DeltaA       int       `json:"delta_a" db:"delta_a"`
	DeltaB       int       `json:"delta_b" db:"delta_b"`
	DeltaC       int       `json:"delta_c" db:"delta_c"`
	BeforeA      int       `json:"before_a" db:"before_a"`
	BeforeB      int       `json:"before_b" db:"before_b"`
	BeforeC      int       `json:"before_c" db:"before_c"`
	AfterA       int       `json:"after_a" db:"after_a"`
	AfterB       int       `json:"after_b" db:"after_b"`
	AfterC       int       `json:"after_c" db:"after_c"`
	Reference    string    `json:"reference,omitempty" db:"reference"`
	Notes        string    `json:"notes,omitempty" db:"notes"`
	Actor        string    `json:"actor" db:"actor"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type StockAlert struct {
	ID         string     `json:"id" db:"id"`
	ProductID  string     `json:"product_id" db:"product_id"`
	AlertType  string     `json:"alert_type" db:"alert_type"`
	Active     bool       `json:"active" db:"active"`
	TotalStock int        `json:"total_stock" db:"total_stock"`
	MinStock   int        `json:"min_stock" db:"min_stock"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

type Customer struct {
	ID                  string     `json:"id" db:"id"`
	Name                string     `json:"name" db:"name"`
	CreditLimitCents    int64      `json:"credit_limit_cents" db:"credit_limit_cents"`
	CreditUsedCents     int64      `json:"credit_used_cents" db:"credit_used_cents"`
	CreditStatus        string     `json:"credit_status" db:"credit_status"`
	TotalPurchasesCents int64      `json:"total_purchases_cents" db:"total_purchases_cents"`
	LastPurchaseAt      *time.Time `json:"last_purchase_at,omitempty" db:"last_purchase_at"`
}

// AvailableCreditCents may be negative after a manual adjustment.
func (c Customer) AvailableCreditCents() int64 {
	return c.CreditLimitCents - c.CreditUsedCents
}

type CreditTransaction struct {
	ID                   string    `json:"id" db:"id"`
	CustomerID           string    `json:"customer_id" db:"customer_id"`
	TransactionType      string    `json:"transaction_type" db:"transaction_type"`
	AmountCents          int64     `json:"amount_cents" db:"amount_cents"`
	PreviousBalanceCents int64     `json:"previous_balance_cents" db:"previous_balance_cents"`
	NewBalanceCents      int64     `json:"new_balance_cents" db:"new_balance_cents"`
	PreviousLimitCents   *int64    `json:"previous_limit_cents,omitempty" db:"previous_limit_cents"`
	NewLimitCents        *int64    `json:"new_limit_cents,omitempty" db:"new_limit_cents"`
	Reference            string    `json:"reference,omitempty" db:"reference"`
	Notes                string    `json:"notes,omitempty" db:"notes"`
	Actor                string    `json:"actor" db:"actor"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              string      `json:"id" db:"id"`
	OrderNumber     string      `json:"order_number" db:"order_number"`
	Sequence        int64       `json:"sequence" db:"sequence"`
	Status          string      `json:"status" db:"status"`
	PaymentStatus   string      `json:"payment_status" db:"payment_status"`
	OrderType       string      `json:"order_type,omitempty" db:"order_type"`
	SaleChannel     string      `json:"sale_channel" db:"sale_channel"`
	SubtotalCents   int64       `json:"subtotal_cents" db:"subtotal_cents"`
	TotalCents      int64       `json:"total_cents" db:"total_cents"`
	CustomerID      string      `json:"customer_id,omitempty" db:"customer_id"`
	TerminalID      string      `json:"terminal_id,omitempty" db:"terminal_id"`
	DeliveryMethod  string      `json:"delivery_method,omitempty" db:"delivery_method"`
	DeliveryAddress string      `json:"delivery_address,omitempty" db:"delivery_address"`
	Notes           string      `json:"notes,omitempty" db:"notes"`
	CreatedBy       string      `json:"created_by" db:"created_by"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty" db:"confirmed_at"`
	Items           []OrderItem `json:"items" db:"-"`
}

type OrderItem struct {
	ID             string `json:"id" db:"id"`
	OrderID        string `json:"order_id" db:"order_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	SKU            string `json:"sku" db:"sku"`
	Name           string `json:"name" db:"name"`
	Quantity       int    `json:"quantity" db:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents" db:"line_total_cents"`
}

type OrderStatusEvent struct {
	ID         string    `json:"id" db:"id"`
	OrderID    string    `json:"order_id" db:"order_id"`
	FromStatus string    `json:"from_status" db:"from_status"`
	ToStatus   string    `json:"to_status" db:"to_status"`
	Actor      string    `json:"actor" db:"actor"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Terminal struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Location string `json:"location" db:"location"`
	Active   bool   `json:"active" db:"active"`
}

type Session struct {
	ID                  string     `json:"id" db:"id"`
	TerminalID          string     `json:"terminal_id" db:"terminal_id"`
	SessionNumber       string     `json:"session_number" db:"session_number"`
	Status              string     `json:"status" db:"status"`
	OpenedBy            string     `json:"opened_by" db:"opened_by"`
	OpeningCashCents    int64      `json:"opening_cash_cents" db:"opening_cash_cents"`
	TotalSalesCents     int64      `json:"total_sales_cents" db:"total_sales_cents"`
	TotalTransactions   int        `json:"total_transactions" db:"total_transactions"`
	CashSalesCents      int64      `json:"cash_sales_cents" db:"cash_sales_cents"`
	ClosingCashCents    *int64     `json:"closing_cash_cents,omitempty" db:"closing_cash_cents"`
	ExpectedCashCents   *int64     `json:"expected_cash_cents,omitempty" db:"expected_cash_cents"`
	CashDifferenceCents *int64     `json:"cash_difference_cents,omitempty" db:"cash_difference_cents"`
	DifferencePercent   string     `json:"difference_percent,omitempty" db:"difference_percent"`
	Classification      string     `json:"classification,omitempty" db:"classification"`
	ClosedBy            string     `json:"closed_by,omitempty" db:"closed_by"`
	Notes               string     `json:"notes,omitempty" db:"notes"`
	OpenedAt            time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

type POSTransaction struct {
	ID                string    `json:"id" db:"id"`
	TransactionNumber string    `json:"transaction_number" db:"transaction_number"`
	SessionID         string    `json:"session_id" db:"session_id"`
	OrderID           string    `json:"order_id" db:"order_id"`
	PaymentMethod     string    `json:"payment_method" db:"payment_method"`
	ReferenceCode     string    `json:"reference_code,omitempty" db:"reference_code"`
	AmountCents       int64     `json:"amount_cents" db:"amount_cents"`
	TenderedCents     int64     `json:"tendered_cents" db:"tendered_cents"`
	ChangeCents       int64     `json:"change_cents" db:"change_cents"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Actor             string    `json:"actor" db:"actor"`
	CompletedAt       time.Time `json:"completed_at" db:"completed_at"`
}

type BusinessRule struct {
	Key        string    `json:"key" db:"key"`
	ValueCents int64     `json:"value_cents" db:"value_cents"`
	Active     bool      `json:"active" db:"active"`
	UpdatedBy  string    `json:"updated_by" db:"updated_by"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
)

const (
	AlertLowStock   = "low_stock"
	AlertOutOfStock = "out_of_stock"
)

const (
	CreditStatusNone      = "none"
	CreditStatusActive    = "active"
	CreditStatusSuspended = "suspended"
	CreditStatusBlocked   = "blocked"
)

const (
	CreditCharge      = "charge"
	CreditPayment     = "payment"
	CreditAdjustment  = "adjustment"
	CreditLimitChange = "limit_change"
)

const (
	OrderDraft          = "draft"
	OrderQuoted         = "quoted"
	OrderConfirmed      = "confirmed"
	OrderPendingPayment = "pending_payment"
	OrderPaid           = "paid"
	OrderProcessing     = "processing"
	OrderShipped        = "shipped"
	OrderReadyForPickup = "ready_for_pickup"
	OrderCompleted      = "completed"
	OrderCancelled      = "cancelled"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

const (
	OrderTypeRetail    = "retail"
	OrderTypeWholesale = "wholesale"
)

const (
	ChannelPOS    = "pos"
	ChannelOnline = "online"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCredit   = "credit"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	CashBalanced = "balanced"
	CashMinor    = "minor"
	CashWarning  = "warning"
	CashCritical = "critical"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const RuleWholesaleThreshold = "wholesale_threshold"

const (
	SequenceOrder          = "order"
	SequencePOSTransaction = "pos_transaction"
)
