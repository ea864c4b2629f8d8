// Package inventory keeps the three-location stock record of each product,
// appends the movement ledger and maintains stock alerts.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/metrics"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

type Policy int

const (
	// Clamp takes what each location holds and reports the rest as shortfall.
	Clamp Policy = iota
	// Strict rejects a deduction when any location cannot cover its share.
	Strict
)

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "clamp"
}

type Allocator struct {
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAllocator(policy Policy, logger *zap.Logger, m *metrics.Metrics) *Allocator {
	return &Allocator{
		policy:  policy,
		logger:  logging.OrNop(logger).Named("inventory"),
		metrics: m,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Split divides quantity across warehouse, store 1 and store 2 as
// ceil(q/3), ceil(q/3), floor(q/3).
func Split(quantity int) (a int, b int, c int) {
	if quantity <= 0 {
		return 0, 0, 0
	}
	ceil := (quantity + 2) / 3
	return ceil, ceil, quantity / 3
}

type Shortfall struct {
	A int `json:"a"`
	B int `json:"b"`
	C int `json:"c"`
}

func (s Shortfall) Total() int {
	return s.A + s.B + s.C
}

type Result struct {
	Product   domain.Product
	Movement  domain.InventoryMovement
	Shortfall Shortfall
	Alert     *domain.StockAlert
}

type DeductRequest struct {
	ProductID string
	Quantity  int
	Reference string
	Notes     string
	Actor     string
}

// Deduct removes quantity from the product using Split. The caller must have
// checked total_stock >= quantity; per-location values are clamped at zero
// and the movement records the deltas actually applied.
func (al *Allocator) Deduct(ctx context.Context, tx store.Tx, req DeductRequest) (Result, error) {
	if req.Quantity <= 0 {
		return Result{}, domain.Invalid("quantity", "must be positive")
	}
	product, err := tx.GetProductForUpdate(ctx, req.ProductID)
	if err != nil {
		return Result{}, err
	}

	wantA, wantB, wantC := Split(req.Quantity)
	takeA, shortA := take(product.StockA, wantA)
	takeB, shortB := take(product.StockB, wantB)
	takeC, shortC := take(product.StockC, wantC)
	shortfall := Shortfall{A: shortA, B: shortB, C: shortC}

	if shortfall.Total() > 0 && al.policy == Strict {
		return Result{}, fmt.Errorf("%w: product %s cannot cover split %d/%d/%d from %d/%d/%d",
			domain.ErrInsufficientStock, product.SKU, wantA, wantB, wantC, product.StockA, product.StockB, product.StockC)
	}

	movement := al.newMovement(*product, domain.MovementOut, req.Reference, req.Notes, req.Actor)
	movement.DeltaA, movement.DeltaB, movement.DeltaC = -takeA, -takeB, -takeC
	result, err := al.apply(ctx, tx, product, movement,
		product.StockA-takeA, product.StockB-takeB, product.StockC-takeC)
	if err != nil {
		return Result{}, err
	}
	result.Shortfall = shortfall

	if shortfall.Total() > 0 {
		al.metrics.AllocationShortfall(shortfall.Total())
		al.logger.Warn("allocation shortfall absorbed",
			zap.String("product_id", product.ID),
			zap.String("sku", product.SKU),
			zap.Int("requested", req.Quantity),
			zap.Int("short_a", shortA),
			zap.Int("short_b", shortB),
			zap.Int("short_c", shortC),
			zap.String("reference", req.Reference),
		)
	}
	return result, nil
}

type ReceiveRequest struct {
	ProductID string
	QuantityA int
	QuantityB int
	QuantityC int
	Reference string
	Notes     string
	Actor     string
}

// Receive adds stock to the given locations as an "in" movement.
func (al *Allocator) Receive(ctx context.Context, tx store.Tx, req ReceiveRequest) (Result, error) {
	if req.QuantityA < 0 || req.QuantityB < 0 || req.QuantityC < 0 {
		return Result{}, domain.Invalid("quantity", "must not be negative")
	}
	if req.QuantityA+req.QuantityB+req.QuantityC == 0 {
		return Result{}, domain.Invalid("quantity", "must add at least one unit")
	}
	product, err := tx.GetProductForUpdate(ctx, req.ProductID)
	if err != nil {
		return Result{}, err
	}

	movement := al.newMovement(*product, domain.MovementIn, req.Reference, req.Notes, req.Actor)
	movement.DeltaA, movement.DeltaB, movement.DeltaC = req.QuantityA, req.QuantityB, req.QuantityC
	return al.apply(ctx, tx, product, movement,
		product.StockA+req.QuantityA, product.StockB+req.QuantityB, product.StockC+req.QuantityC)
}

type AdjustRequest struct {
	ProductID string
	StockA    int
	StockB    int
	StockC    int
	Notes     string
	Actor     string
}

// Adjust sets absolute per-location values. It always writes an adjustment
// movement, including when nothing changes.
func (al *Allocator) Adjust(ctx context.Context, tx store.Tx, req AdjustRequest) (Result, error) {
	if req.StockA < 0 || req.StockB < 0 || req.StockC < 0 {
		return Result{}, domain.Invalid("stock", "must not be negative")
	}
	product, err := tx.GetProductForUpdate(ctx, req.ProductID)
	if err != nil {
		return Result{}, err
	}

	movement := al.newMovement(*product, domain.MovementAdjustment, "", req.Notes, req.Actor)
	movement.DeltaA = req.StockA - product.StockA
	movement.DeltaB = req.StockB - product.StockB
	movement.DeltaC = req.StockC - product.StockC
	return al.apply(ctx, tx, product, movement, req.StockA, req.StockB, req.StockC)
}

func (al *Allocator) apply(ctx context.Context, tx store.Tx, product *domain.Product, movement domain.InventoryMovement, a int, b int, c int) (Result, error) {
	updated := *product
	updated.SetStock(a, b, c)
	updated.UpdatedAt = movement.CreatedAt

	movement.AfterA, movement.AfterB, movement.AfterC = a, b, c
	if err := tx.UpdateProductStock(ctx, updated.ID, a, b, c, movement.CreatedAt); err != nil {
		return Result{}, err
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return Result{}, err
	}

	alert, err := al.syncAlert(ctx, tx, updated)
	if err != nil {
		return Result{}, err
	}
	return Result{Product: updated, Movement: movement, Alert: alert}, nil
}

// syncAlert keeps at most one active alert per product. It returns the
// active alert after the sync, or nil when stock is above the minimum.
func (al *Allocator) syncAlert(ctx context.Context, tx store.Tx, product domain.Product) (*domain.StockAlert, error) {
	now := al.now()
	existing, err := tx.GetActiveAlert(ctx, product.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	}

	if product.TotalStock > product.MinStockAlert {
		if existing == nil {
			return nil, nil
		}
		existing.Active = false
		existing.TotalStock = product.TotalStock
		existing.UpdatedAt = now
		existing.ResolvedAt = &now
		if err := tx.UpdateAlert(ctx, *existing); err != nil {
			return nil, err
		}
		al.logger.Info("stock alert resolved", zap.String("product_id", product.ID), zap.Int("total_stock", product.TotalStock))
		return nil, nil
	}

	alertType := domain.AlertLowStock
	if product.TotalStock == 0 {
		alertType = domain.AlertOutOfStock
	}

	if existing != nil {
		if existing.AlertType == alertType && existing.TotalStock == product.TotalStock {
			return existing, nil
		}
		escalated := existing.AlertType != alertType
		existing.AlertType = alertType
		existing.TotalStock = product.TotalStock
		existing.MinStock = product.MinStockAlert
		existing.UpdatedAt = now
		if err := tx.UpdateAlert(ctx, *existing); err != nil {
			return nil, err
		}
		if escalated {
			al.metrics.StockAlertRaised(alertType)
		}
		return existing, nil
	}

	alert := domain.StockAlert{
		ID:         xid.New("alert"),
		ProductID:  product.ID,
		AlertType:  alertType,
		Active:     true,
		TotalStock: product.TotalStock,
		MinStock:   product.MinStockAlert,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertAlert(ctx, alert); err != nil {
		return nil, err
	}
	al.metrics.StockAlertRaised(alertType)
	al.logger.Warn("stock alert raised",
		zap.String("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.String("type", alertType),
		zap.Int("total_stock", product.TotalStock),
		zap.Int("min_stock_alert", product.MinStockAlert),
	)
	return &alert, nil
}

func (al *Allocator) newMovement(product domain.Product, movementType string, reference string, notes string, actor string) domain.InventoryMovement {
	return domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    product.ID,
		MovementType: movementType,
		BeforeA:      product.StockA,
		BeforeB:      product.StockB,
		BeforeC:      product.StockC,
		Reference:    reference,
		Notes:        notes,
		Actor:        actor,
		CreatedAt:    al.now(),
	}
}

func take(available int, want int) (taken int, short int) {
	if available < 0 {
		available = 0
	}
	if want <= available {
		return want, 0
	}
	return available, want - available
}

// Replay sums movement deltas in order and returns the resulting stock.
func Replay(movements []domain.InventoryMovement) (a int, b int, c int) {
	for _, m := range movements {
		a += m.DeltaA
		b += m.DeltaB
		c += m.DeltaC
	}
	return a, b, c
}
