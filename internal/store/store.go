package store

import (
	"context"
	"errors"
	"time"

	"mostrador/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate record")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrPartialCommit       = errors.New("commit outcome unknown")
)

type OrderFilter struct {
	Channel  string
	Statuses []string
	Limit    int
}

// Reader is the read surface shared by the repository and open transactions.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error)
	ListMovements(ctx context.Context, productID string) ([]domain.InventoryMovement, error)
	ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error)
	GetActiveAlert(ctx context.Context, productID string) (*domain.StockAlert, error)
	ListActiveAlerts(ctx context.Context) ([]domain.StockAlert, error)
	ListCreditTransactions(ctx context.Context, customerID string, limit int) ([]domain.CreditTransaction, error)
	GetTerminal(ctx context.Context, id string) (*domain.Terminal, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error)
	GetBusinessRule(ctx context.Context, key string) (*domain.BusinessRule, error)
	FindPOSTransactionByIdempotency(ctx context.Context, key string) (*domain.POSTransaction, error)
	FindPOSTransactionByOrder(ctx context.Context, orderID string) (*domain.POSTransaction, error)
	CurrentSequence(ctx context.Context, name string) (int64, error)
}

// Tx is a unit of work. ForUpdate reads lock the returned rows until the
// transaction ends.
type Tx interface {
	Reader

	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProductStock(ctx context.Context, id string, stockA int, stockB int, stockC int, at time.Time) error
	InsertMovement(ctx context.Context, movement domain.InventoryMovement) error
	InsertAlert(ctx context.Context, alert domain.StockAlert) error
	UpdateAlert(ctx context.Context, alert domain.StockAlert) error

	GetCustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomerCredit(ctx context.Context, customer domain.Customer) error
	RecordCustomerPurchase(ctx context.Context, id string, amountCents int64, at time.Time) error
	InsertCreditTransaction(ctx context.Context, entry domain.CreditTransaction) error

	GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrder(ctx context.Context, order domain.Order) error
	ReplaceOrderItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	InsertOrderEvent(ctx context.Context, event domain.OrderStatusEvent) error

	GetSessionForUpdate(ctx context.Context, id string) (*domain.Session, error)
	GetOpenSessionForUpdate(ctx context.Context, terminalID string) (*domain.Session, error)
	InsertSession(ctx context.Context, session domain.Session) error
	UpdateSession(ctx context.Context, session domain.Session) error
	InsertPOSTransaction(ctx context.Context, entry domain.POSTransaction) error

	UpsertBusinessRule(ctx context.Context, rule domain.BusinessRule) error
	NextSequence(ctx context.Context, name string) (int64, error)
	BumpSequence(ctx context.Context, name string, value int64) error
	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type Repository interface {
	Reader

	// WithTx runs fn in one transaction. Any error returned by fn rolls back
	// every write fn made.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListAuditLogs(ctx context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
