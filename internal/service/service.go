package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mostrador/backend/internal/cache"
	"mostrador/backend/internal/credit"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/inventory"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/metrics"
	"mostrador/backend/internal/orders"
	"mostrador/backend/internal/pricing"
	"mostrador/backend/internal/sequence"
	"mostrador/backend/internal/session"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// DefaultRule applies until a wholesale rule is stored.
	DefaultRule pricing.Rule
	Policy      inventory.Policy
	Thresholds  session.Thresholds
	Sequence    sequence.Generator
	Cache       cache.WebOrderCache
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	PendingTTL  time.Duration
}

type Service struct {
	repo       store.Repository
	allocator  *inventory.Allocator
	ledger     *credit.Ledger
	sessions   *session.Manager
	seq        sequence.Generator
	cache      cache.WebOrderCache
	metrics    *metrics.Metrics
	logger     *zap.Logger
	rule       pricing.Rule
	pendingTTL time.Duration
	pending    singleflight.Group
	now        func() time.Time

	// pendingMu orders cache writes against invalidations. pendingGen counts
	// invalidations so a load that raced one does not cache what it read.
	pendingMu  sync.Mutex
	pendingGen uint64

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(repo store.Repository, opts Options) *Service {
	logger := logging.OrNop(opts.Logger)
	if opts.Sequence == nil {
		opts.Sequence = sequence.StoreGenerator{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopWebOrderCache{}
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 45 * time.Second
	}
	if opts.Thresholds.CriticalPercent.IsZero() {
		opts.Thresholds = session.DefaultThresholds()
	}

	return &Service{
		repo:       repo,
		allocator:  inventory.NewAllocator(opts.Policy, logger, opts.Metrics),
		ledger:     credit.NewLedger(logger),
		sessions:   session.NewManager(opts.Sequence, opts.Thresholds, logger, opts.Metrics),
		seq:        opts.Sequence,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		logger:     logger.Named("service"),
		rule:       opts.DefaultRule,
		pendingTTL: opts.PendingTTL,
		now: func() time.Time {
			return time.Now().UTC()
		},
		seen: make(map[string]struct{}),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, entityType, entityID, limit)
}

// currentRule reads the stored wholesale rule inside tx, falling back to the
// configured default.
func (s *Service) currentRule(ctx context.Context, r store.Reader) (pricing.Rule, error) {
	stored, err := r.GetBusinessRule(ctx, domain.RuleWholesaleThreshold)
	if errors.Is(err, store.ErrNotFound) {
		return s.rule, nil
	}
	if err != nil {
		return pricing.Rule{}, err
	}
	return pricing.RuleFrom(stored, s.rule), nil
}

// priceLines locks the products behind lines and prices them under rule.
func (s *Service) priceLines(ctx context.Context, tx store.Tx, lines []domain.CartLine, rule pricing.Rule) (pricing.Result, map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := tx.GetProductsForUpdate(ctx, ids)
	if err != nil {
		return pricing.Result{}, nil, err
	}

	pricingLines := make([]pricing.Line, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return pricing.Result{}, nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if !product.Active {
			return pricing.Result{}, nil, domain.Invalid("items", fmt.Sprintf("product %s is not for sale", product.SKU))
		}
		pricingLines = append(pricingLines, pricing.FromProduct(product, line.Quantity))
	}
	return pricing.Quote(pricingLines, rule), products, nil
}

func orderItems(orderID string, quote pricing.Result) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, domain.OrderItem{
			ID:             xid.New("item"),
			OrderID:        orderID,
			ProductID:      line.ProductID,
			SKU:            line.SKU,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return items
}

func cartFromItems(items []domain.OrderItem) []domain.CartLine {
	cart := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		cart = append(cart, domain.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return cart
}

// normalizeItems merges repeated products and sorts by id so row locks are
// always taken in the same order.
func normalizeItems(items []domain.CartLine) ([]domain.CartLine, error) {
	agg := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, domain.Invalid("product_id", "is required")
		}
		if item.Quantity < 1 {
			return nil, domain.Invalid("quantity", fmt.Sprintf("must be positive for %s", id))
		}
		agg[id] += item.Quantity
		if agg[id] > domain.MaxLineQuantity {
			return nil, domain.Invalid("quantity", fmt.Sprintf("must not exceed %d for %s", domain.MaxLineQuantity, id))
		}
	}

	normalized := make([]domain.CartLine, 0, len(agg))
	for id, qty := range agg {
		normalized = append(normalized, domain.CartLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ProductID < normalized[j].ProductID
	})
	return normalized, nil
}

func (s *Service) nextOrderNumber(ctx context.Context, tx store.Tx) (int64, string, error) {
	seq, err := s.seq.Next(ctx, tx, domain.SequenceOrder)
	if err != nil {
		return 0, "", err
	}
	return seq, orders.FormatNumber(seq), nil
}

func (s *Service) invalidatePending(ctx context.Context) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingGen++
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate pending web orders", zap.Error(err))
	}
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "system"
	}
	return actor.Username
}

// audit writes the entry inside tx so it commits or rolls back with the
// change it describes.
func (s *Service) audit(ctx context.Context, tx store.Tx, action string, entityType string, entityID string, detail string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	err := tx.InsertAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("write audit log %s: %w", action, err)
	}
	return nil
}

// FailureReason names the error kind for metrics and logs.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, domain.ErrCreditNotActive):
		return "credit_not_active"
	case errors.Is(err, domain.ErrInsufficientCashTendered):
		return "insufficient_cash"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNoOpenSession):
		return "no_open_session"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrPartialCommit):
		return "partial_commit"
	default:
		return "internal"
	}
}
