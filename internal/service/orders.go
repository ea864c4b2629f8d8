package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mostrador/backend/internal/credit"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/inventory"
	"mostrador/backend/internal/orders"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderStatusEvent, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListOrderEvents(ctx, orderID)
}

// CreateDraft stores a provisional POS order. Its prices are refreshed on
// quote and fixed only at checkout.
func (s *Service) CreateDraft(ctx context.Context, req domain.DraftOrderRequest) (domain.Order, error) {
	return s.createOrder(ctx, req.Items, domain.Order{
		Status:      domain.OrderDraft,
		SaleChannel: domain.ChannelPOS,
		CustomerID:  strings.TrimSpace(req.CustomerID),
		TerminalID:  strings.TrimSpace(req.TerminalID),
		Notes:       req.Notes,
	})
}

// CreateWebOrder takes an order from the online channel. It waits in
// pending_payment until it is paid or claimed at a terminal.
func (s *Service) CreateWebOrder(ctx context.Context, req domain.WebOrderRequest) (domain.Order, error) {
	if req.DeliveryMethod != "delivery" && req.DeliveryMethod != "pickup" {
		return domain.Order{}, domain.Invalid("delivery_method", "must be delivery or pickup")
	}
	if req.DeliveryMethod == "delivery" && strings.TrimSpace(req.DeliveryAddress) == "" {
		return domain.Order{}, domain.Invalid("delivery_address", "is required for delivery")
	}

	order, err := s.createOrder(ctx, req.Items, domain.Order{
		Status:          domain.OrderPendingPayment,
		SaleChannel:     domain.ChannelOnline,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		DeliveryMethod:  req.DeliveryMethod,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Notes:           req.Notes,
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.invalidatePending(ctx)
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, items []domain.CartLine, order domain.Order) (domain.Order, error) {
	lines, err := normalizeItems(items)
	if err != nil {
		return domain.Order{}, err
	}
	if len(lines) == 0 {
		return domain.Order{}, domain.Invalid("items", "cart is empty")
	}

	actor := actorName(ctx)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.now()
		if order.CustomerID != "" {
			if _, err := tx.GetCustomer(ctx, order.CustomerID); err != nil {
				return err
			}
		}
		if order.TerminalID != "" {
			if _, err := tx.GetTerminal(ctx, order.TerminalID); err != nil {
				return err
			}
		}

		rule, err := s.currentRule(ctx, tx)
		if err != nil {
			return err
		}
		quote, _, err := s.priceLines(ctx, tx, lines, rule)
		if err != nil {
			return err
		}
		seq, number, err := s.nextOrderNumber(ctx, tx)
		if err != nil {
			return err
		}

		order.ID = xid.New("ord")
		order.OrderNumber = number
		order.Sequence = seq
		order.PaymentStatus = domain.PaymentPending
		order.OrderType = quote.OrderType()
		order.SubtotalCents = quote.SubtotalCents
		order.TotalCents = quote.TotalCents
		order.CreatedBy = actor
		order.CreatedAt = now
		order.UpdatedAt = now
		order.Items = orderItems(order.ID, quote)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := orders.Record(ctx, tx, order.ID, "", order.Status, actor, "created", now); err != nil {
			return err
		}
		return s.audit(ctx, tx, "order_create", "order", order.ID,
			fmt.Sprintf("number=%s,channel=%s,total=%s", order.OrderNumber, order.SaleChannel, domain.FormatAmount(order.TotalCents)))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("channel", order.SaleChannel),
		zap.String("status", order.Status),
		zap.Int64("total_cents", order.TotalCents),
	)
	return order, nil
}

// QuoteOrder reprices a draft under the current rule and moves it to quoted.
func (s *Service) QuoteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	actor := actorName(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(current.SaleChannel, current.Status, domain.OrderQuoted) {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, current.OrderNumber, current.Status)
		}

		rule, err := s.currentRule(ctx, tx)
		if err != nil {
			return err
		}
		quote, _, err := s.priceLines(ctx, tx, cartFromItems(current.Items), rule)
		if err != nil {
			return err
		}
		current.OrderType = quote.OrderType()
		current.SubtotalCents = quote.SubtotalCents
		current.TotalCents = quote.TotalCents
		current.Items = orderItems(current.ID, quote)
		if err := orders.Move(ctx, tx, current, domain.OrderQuoted, actor, "quoted", s.now()); err != nil {
			return err
		}
		if err := tx.ReplaceOrderItems(ctx, current.ID, current.Items); err != nil {
			return err
		}
		order = *current
		return s.audit(ctx, tx, "order_quote", "order", current.ID,
			fmt.Sprintf("total=%s,type=%s", domain.FormatAmount(current.TotalCents), current.OrderType))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ConfirmWebPayment records the outcome reported by the external payment
// channel for a web order still waiting for payment.
func (s *Service) ConfirmWebPayment(ctx context.Context, orderID string, req domain.WebPaymentRequest) (domain.Order, error) {
	var order domain.Order
	actor := actorName(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.SaleChannel != domain.ChannelOnline || current.Status != domain.OrderPendingPayment {
			return fmt.Errorf("%w: order %s is %s %s", domain.ErrInvalidTransition, current.OrderNumber, current.SaleChannel, current.Status)
		}

		now := s.now()
		reason := "payment " + req.Status
		if req.Reference != "" {
			reason += " ref=" + req.Reference
		}
		switch req.Status {
		case domain.PaymentPaid:
			current.PaymentStatus = domain.PaymentPaid
			if err := orders.Move(ctx, tx, current, domain.OrderPaid, actor, reason, now); err != nil {
				return err
			}
		case domain.PaymentFailed:
			current.PaymentStatus = domain.PaymentFailed
			current.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, *current); err != nil {
				return err
			}
			if err := orders.Record(ctx, tx, current.ID, current.Status, current.Status, actor, reason, now); err != nil {
				return err
			}
		default:
			return domain.Invalid("status", "must be paid or failed")
		}
		order = *current
		return s.audit(ctx, tx, "web_payment", "order", current.ID, "status="+current.PaymentStatus)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidatePending(ctx)
	s.logger.Info("web payment recorded",
		zap.String("order_id", order.ID),
		zap.String("payment_status", order.PaymentStatus),
		zap.String("reference", req.Reference),
	)
	return order, nil
}

// ClaimWebOrder loads a waiting web order into a terminal's cart. Nothing is
// written; the sale completes through Checkout with the order id.
func (s *Service) ClaimWebOrder(ctx context.Context, orderID string, terminalID string) (domain.ClaimResponse, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.ClaimResponse{}, err
	}
	if err := orders.CanClaim(*order); err != nil {
		return domain.ClaimResponse{}, err
	}
	if _, err := s.repo.GetOpenSession(ctx, terminalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ClaimResponse{}, fmt.Errorf("%w: terminal %s", domain.ErrNoOpenSession, terminalID)
		}
		return domain.ClaimResponse{}, err
	}

	resp := domain.ClaimResponse{Order: *order, Cart: cartFromItems(order.Items)}
	if order.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, order.CustomerID)
		if err != nil {
			return domain.ClaimResponse{}, err
		}
		resp.Customer = customer
	}

	s.logger.Info("web order claimed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("terminal_id", terminalID),
		zap.String("actor", actorName(ctx)),
	)
	return resp, nil
}

var fulfillment = map[string]bool{
	domain.OrderProcessing:     true,
	domain.OrderShipped:        true,
	domain.OrderReadyForPickup: true,
	domain.OrderCompleted:      true,
}

// TransitionOrder drives the online fulfillment path. An order that enters
// processing without having gone through a checkout has its stock deducted
// at that point.
func (s *Service) TransitionOrder(ctx context.Context, orderID string, req domain.TransitionRequest) (domain.Order, error) {
	if !fulfillment[req.Status] {
		return domain.Order{}, domain.Invalid("status", "must be processing, shipped, ready_for_pickup or completed")
	}

	var order domain.Order
	actor := actorName(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if req.Status == domain.OrderShipped && current.DeliveryMethod == "pickup" {
			return domain.Invalid("status", "pickup orders are not shipped")
		}
		if req.Status == domain.OrderReadyForPickup && current.DeliveryMethod == "delivery" {
			return domain.Invalid("status", "delivery orders are not picked up")
		}

		deduct := req.Status == domain.OrderProcessing &&
			(current.Status == domain.OrderPendingPayment || current.Status == domain.OrderPaid)
		if err := orders.Move(ctx, tx, current, req.Status, actor, req.Reason, s.now()); err != nil {
			return err
		}
		if deduct {
			if err := s.deductOrder(ctx, tx, *current, actor); err != nil {
				return err
			}
		}
		order = *current
		return s.audit(ctx, tx, "order_transition", "order", current.ID, "status="+current.Status)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidatePending(ctx)
	return order, nil
}

func (s *Service) deductOrder(ctx context.Context, tx store.Tx, order domain.Order, actor string) error {
	for _, item := range order.Items {
		product, err := tx.GetProductForUpdate(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if product.TotalStock < item.Quantity {
			return fmt.Errorf("%w: %s has %d, order needs %d", domain.ErrInsufficientStock, product.SKU, product.TotalStock, item.Quantity)
		}
		if _, err := s.allocator.Deduct(ctx, tx, inventory.DeductRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reference: order.OrderNumber,
			Notes:     "fulfillment",
			Actor:     actor,
		}); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrder cancels any non-terminal order and reverses its credit charge.
// With Restock, every unit the order took out of stock is put back where it
// came from.
func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.Order, error) {
	var order domain.Order
	actor := actorName(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Move(ctx, tx, current, domain.OrderCancelled, actor, req.Reason, s.now()); err != nil {
			return err
		}
		if req.Restock {
			if err := s.restock(ctx, tx, *current, actor, req.Reason); err != nil {
				return err
			}
		}
		if err := s.reverseCredit(ctx, tx, *current, actor); err != nil {
			return err
		}
		order = *current
		return s.audit(ctx, tx, "order_cancel", "order", current.ID, fmt.Sprintf("restock=%t,reason=%s", req.Restock, req.Reason))
	})
	if err != nil {
		return domain.Order{}, err
	}

	if order.SaleChannel == domain.ChannelOnline {
		s.invalidatePending(ctx)
	}
	s.logger.Info("order cancelled",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Bool("restock", req.Restock),
		zap.String("reason", req.Reason),
	)
	return order, nil
}

func (s *Service) restock(ctx context.Context, tx store.Tx, order domain.Order, actor string, reason string) error {
	movements, err := tx.ListMovementsByReference(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	for _, movement := range movements {
		if movement.MovementType != domain.MovementOut {
			continue
		}
		if movement.DeltaA == 0 && movement.DeltaB == 0 && movement.DeltaC == 0 {
			continue
		}
		if _, err := s.allocator.Receive(ctx, tx, inventory.ReceiveRequest{
			ProductID: movement.ProductID,
			QuantityA: -movement.DeltaA,
			QuantityB: -movement.DeltaB,
			QuantityC: -movement.DeltaC,
			Reference: order.OrderNumber,
			Notes:     strings.TrimSpace("cancelled " + reason),
			Actor:     actor,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reverseCredit(ctx context.Context, tx store.Tx, order domain.Order, actor string) error {
	payment, err := tx.FindPOSTransactionByOrder(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if payment.PaymentMethod != domain.PaymentMethodCredit || order.CustomerID == "" {
		return nil
	}

	customer, err := tx.GetCustomerForUpdate(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	// payments may already have reduced the balance below the charge
	amount := min(payment.AmountCents, customer.CreditUsedCents)
	if amount == 0 {
		return nil
	}
	_, err = s.ledger.Register(ctx, tx, credit.Request{
		CustomerID:  customer.ID,
		Type:        domain.CreditAdjustment,
		AmountCents: -amount,
		Reference:   order.OrderNumber,
		Notes:       "order cancelled",
		Actor:       actor,
	})
	return err
}

// ListPendingWebOrders serves the terminals' poll from the cache. Concurrent
// misses share one database read, which outlives any single caller's
// cancellation.
func (s *Service) ListPendingWebOrders(ctx context.Context) (domain.PendingWebOrdersResponse, error) {
	cached, ok, err := s.cache.GetPending(ctx)
	if err != nil {
		s.logger.Warn("read pending web orders cache", zap.Error(err))
	}
	if ok {
		return domain.PendingWebOrdersResponse{Orders: cached, Cached: true}, nil
	}

	value, err, _ := s.pending.Do("pending", func() (any, error) {
		return s.loadPending(context.WithoutCancel(ctx))
	})
	if err != nil {
		return domain.PendingWebOrdersResponse{}, err
	}
	return domain.PendingWebOrdersResponse{Orders: value.([]domain.Order)}, nil
}

// loadPending reads the pending list and caches it unless an invalidation
// landed after the read began.
func (s *Service) loadPending(ctx context.Context) ([]domain.Order, error) {
	s.pendingMu.Lock()
	gen := s.pendingGen
	s.pendingMu.Unlock()

	pending, err := s.repo.ListOrders(ctx, store.OrderFilter{
		Channel:  domain.ChannelOnline,
		Statuses: []string{domain.OrderPendingPayment, domain.OrderPaid},
	})
	if err != nil {
		return nil, err
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if gen != s.pendingGen {
		return pending, nil
	}
	if err := s.cache.SetPending(ctx, pending, s.pendingTTL); err != nil {
		s.logger.Warn("write pending web orders cache", zap.Error(err))
	}
	return pending, nil
}

// RefreshPendingWebOrders reloads the pending list into the cache and
// reports the orders this process has not seen before.
func (s *Service) RefreshPendingWebOrders(ctx context.Context) (int, []string, error) {
	pending, err := s.loadPending(ctx)
	if err != nil {
		return 0, nil, err
	}

	s.seenMu.Lock()
	arrived := make([]string, 0)
	current := make(map[string]struct{}, len(pending))
	for _, order := range pending {
		current[order.ID] = struct{}{}
		if _, ok := s.seen[order.ID]; !ok {
			arrived = append(arrived, order.OrderNumber)
		}
	}
	s.seen = current
	s.seenMu.Unlock()

	s.metrics.PendingWebOrders(len(pending), len(arrived))
	if len(arrived) > 0 {
		s.logger.Info("new web orders waiting", zap.Strings("order_numbers", arrived), zap.Int("pending", len(pending)))
	}
	return len(pending), arrived, nil
}
