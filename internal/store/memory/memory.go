package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

// Store keeps everything in process memory. WithTx works on a copy of the
// state and swaps it in on success, so a failed transaction leaves no trace.
type Store struct {
	mu              sync.RWMutex
	st              *state
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		st:              newState(),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.st = work
	return nil
}

// AddProduct inserts or replaces a catalog record. TotalStock is recomputed.
func (s *Store) AddProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.SetStock(product.StockA, product.StockB, product.StockC)
	s.st.products[product.ID] = product
}

func (s *Store) AddCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if customer.CreditStatus == "" {
		customer.CreditStatus = domain.CreditStatusNone
	}
	s.st.customers[customer.ID] = customer
}

func (s *Store) AddTerminal(terminal domain.Terminal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.terminals[terminal.ID] = terminal
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetProduct(ctx, id)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListProducts(ctx)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetCustomer(ctx, id)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrder(ctx, id)
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListOrders(ctx, filter)
}

func (s *Store) ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListOrderEvents(ctx, orderID)
}

func (s *Store) ListMovements(ctx context.Context, productID string) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListMovements(ctx, productID)
}

func (s *Store) ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListMovementsByReference(ctx, reference)
}

func (s *Store) GetActiveAlert(ctx context.Context, productID string) (*domain.StockAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetActiveAlert(ctx, productID)
}

func (s *Store) ListActiveAlerts(ctx context.Context) ([]domain.StockAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListActiveAlerts(ctx)
}

func (s *Store) ListCreditTransactions(ctx context.Context, customerID string, limit int) ([]domain.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListCreditTransactions(ctx, customerID, limit)
}

func (s *Store) GetTerminal(ctx context.Context, id string) (*domain.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetTerminal(ctx, id)
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetSession(ctx, id)
}

func (s *Store) GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOpenSession(ctx, terminalID)
}

func (s *Store) GetBusinessRule(ctx context.Context, key string) (*domain.BusinessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBusinessRule(ctx, key)
}

func (s *Store) FindPOSTransactionByIdempotency(ctx context.Context, key string) (*domain.POSTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.FindPOSTransactionByIdempotency(ctx, key)
}

func (s *Store) FindPOSTransactionByOrder(ctx context.Context, orderID string) (*domain.POSTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.FindPOSTransactionByOrder(ctx, orderID)
}

func (s *Store) CurrentSequence(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.CurrentSequence(ctx, name)
}

func (s *Store) ListAuditLogs(_ context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 16)
	for i := len(s.st.auditLogs) - 1; i >= 0; i-- {
		entry := s.st.auditLogs[i]
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return domain.Invalid("username", "and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
