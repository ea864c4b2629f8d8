package domain

import "time"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// MaxLineQuantity caps one product's units per cart so line totals stay
// far inside int64 cents.
const MaxLineQuantity = 100000

type CartLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"max=100000"`
}

type CheckoutRequest struct {
	TerminalID     string     `json:"terminal_id" validate:"required"`
	CustomerID     string     `json:"customer_id,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	PaymentMethod  string     `json:"payment_method" validate:"required,oneof=cash card transfer credit"`
	TenderedCents  int64      `json:"tendered_cents,omitempty"`
	Reference      string     `json:"reference,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Items          []CartLine `json:"items" validate:"dive"`
}

type ReceiptLine struct {
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type CheckoutResponse struct {
	OrderID           string        `json:"order_id"`
	OrderNumber       string        `json:"order_number"`
	TransactionID     string        `json:"transaction_id"`
	TransactionNumber string        `json:"transaction_number"`
	SessionID         string        `json:"session_id"`
	Status            string        `json:"status"`
	PaymentStatus     string        `json:"payment_status"`
	OrderType         string        `json:"order_type"`
	IsWholesale       bool          `json:"is_wholesale"`
	PaymentMethod     string        `json:"payment_method"`
	SubtotalCents     int64         `json:"subtotal_cents"`
	TotalCents        int64         `json:"total_cents"`
	TenderedCents     int64         `json:"tendered_cents"`
	ChangeCents       int64         `json:"change_cents"`
	Lines             []ReceiptLine `json:"lines"`
	ShortfallUnits    int           `json:"shortfall_units,omitempty"`
	Duplicate         bool          `json:"duplicate"`
	CompletedAt       string        `json:"completed_at"`
}

type DraftOrderRequest struct {
	CustomerID string     `json:"customer_id,omitempty"`
	TerminalID string     `json:"terminal_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Items      []CartLine `json:"items" validate:"dive"`
}

type WebOrderRequest struct {
	CustomerID      string     `json:"customer_id,omitempty"`
	DeliveryMethod  string     `json:"delivery_method" validate:"required,oneof=delivery pickup"`
	DeliveryAddress string     `json:"delivery_address,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Items           []CartLine `json:"items" validate:"dive"`
}

type WebPaymentRequest struct {
	Status    string `json:"status" validate:"required,oneof=paid failed"`
	Reference string `json:"reference,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

type CancelOrderRequest struct {
	Reason  string `json:"reason,omitempty"`
	Restock bool   `json:"restock"`
}

type ClaimResponse struct {
	Order    Order      `json:"order"`
	Customer *Customer  `json:"customer,omitempty"`
	Cart     []CartLine `json:"cart"`
}

type ReceiveStockRequest struct {
	QuantityA int    `json:"quantity_a" validate:"min=0"`
	QuantityB int    `json:"quantity_b" validate:"min=0"`
	QuantityC int    `json:"quantity_c" validate:"min=0"`
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type AdjustStockRequest struct {
	StockA int    `json:"stock_a" validate:"min=0"`
	StockB int    `json:"stock_b" validate:"min=0"`
	StockC int    `json:"stock_c" validate:"min=0"`
	Notes  string `json:"notes" validate:"required"`
}

type StockChangeResponse struct {
	Product  Product           `json:"product"`
	Movement InventoryMovement `json:"movement"`
	Alert    *StockAlert       `json:"alert,omitempty"`
}

type CreditTransactionRequest struct {
	TransactionType string `json:"transaction_type" validate:"required,oneof=charge payment adjustment limit_change"`
	AmountCents     int64  `json:"amount_cents"`
	Reference       string `json:"reference,omitempty"`
	Notes           string `json:"notes,omitempty"`
	ManagerPIN      string `json:"manager_pin,omitempty"`
}

type CreditStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=none active suspended blocked"`
}

type CreditProfileResponse struct {
	Customer     Customer            `json:"customer"`
	Transactions []CreditTransaction `json:"transactions"`
}

type CreditTransactionResponse struct {
	Customer    Customer          `json:"customer"`
	Transaction CreditTransaction `json:"transaction"`
}

type SessionOpenRequest struct {
	TerminalID       string `json:"terminal_id" validate:"required"`
	OpeningCashCents int64  `json:"opening_cash_cents" validate:"min=0"`
}

type SessionCloseRequest struct {
	CountedCashCents int64  `json:"counted_cash_cents" validate:"min=0"`
	Notes            string `json:"notes,omitempty"`
}

type SessionResponse struct {
	Session Session `json:"session"`
}

type WholesaleRuleRequest struct {
	Threshold string `json:"threshold" validate:"required"`
	Active    bool   `json:"active"`
}

type WholesaleRuleResponse struct {
	Threshold      string `json:"threshold"`
	ThresholdCents int64  `json:"threshold_cents"`
	Active         bool   `json:"active"`
	UpdatedBy      string `json:"updated_by,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type PendingWebOrdersResponse struct {
	Orders []Order `json:"orders"`
	Cached bool    `json:"cached"`
}

type StaffCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=cashier manager"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ClaimRequest struct {
	TerminalID string `json:"terminal_id" validate:"required"`
}
