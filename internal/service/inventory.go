package service

import (
	"context"
	"fmt"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/inventory"
	"mostrador/backend/internal/store"
)

func (s *Service) ReceiveStock(ctx context.Context, productID string, req domain.ReceiveStockRequest) (domain.StockChangeResponse, error) {
	var result inventory.Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.allocator.Receive(ctx, tx, inventory.ReceiveRequest{
			ProductID: productID,
			QuantityA: req.QuantityA,
			QuantityB: req.QuantityB,
			QuantityC: req.QuantityC,
			Reference: req.Reference,
			Notes:     req.Notes,
			Actor:     actorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, "stock_receive", "product", productID,
			fmt.Sprintf("a=%d,b=%d,c=%d,ref=%s", req.QuantityA, req.QuantityB, req.QuantityC, req.Reference))
	})
	if err != nil {
		return domain.StockChangeResponse{}, err
	}
	return toStockChange(result), nil
}

// AdjustStock overwrites the three counters with a physical count.
func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.AdjustStockRequest) (domain.StockChangeResponse, error) {
	var result inventory.Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.allocator.Adjust(ctx, tx, inventory.AdjustRequest{
			ProductID: productID,
			StockA:    req.StockA,
			StockB:    req.StockB,
			StockC:    req.StockC,
			Notes:     req.Notes,
			Actor:     actorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, "stock_adjust", "product", productID,
			fmt.Sprintf("delta_a=%d,delta_b=%d,delta_c=%d,notes=%s", result.Movement.DeltaA, result.Movement.DeltaB, result.Movement.DeltaC, req.Notes))
	})
	if err != nil {
		return domain.StockChangeResponse{}, err
	}
	return toStockChange(result), nil
}

func (s *Service) ListMovements(ctx context.Context, productID string) ([]domain.InventoryMovement, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID)
}

func (s *Service) ListActiveAlerts(ctx context.Context) ([]domain.StockAlert, error) {
	return s.repo.ListActiveAlerts(ctx)
}

func toStockChange(result inventory.Result) domain.StockChangeResponse {
	return domain.StockChangeResponse{
		Product:  result.Product,
		Movement: result.Movement,
		Alert:    result.Alert,
	}
}
