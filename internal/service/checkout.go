package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mostrador/backend/internal/credit"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/inventory"
	"mostrador/backend/internal/orders"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

// Checkout prices the cart, confirms the order, deducts stock, charges credit
// when asked, records the payment and credits the till. Every step runs in
// one transaction; any failure leaves nothing behind.
//
// With an OrderID the existing order is completed instead of creating a new
// one. An empty cart then means the order's own items.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	started := s.now()
	resp, err := s.checkout(ctx, req)
	if err != nil {
		reason := FailureReason(err)
		s.metrics.CheckoutFailed(reason)
		s.logger.Warn("checkout rejected",
			zap.String("terminal_id", req.TerminalID),
			zap.String("order_id", req.OrderID),
			zap.String("payment_method", req.PaymentMethod),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return domain.CheckoutResponse{}, err
	}
	if !resp.Duplicate {
		s.metrics.CheckoutCompleted(resp.PaymentMethod, resp.OrderType, s.now().Sub(started))
	}
	return resp, nil
}

func (s *Service) checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.Reference = strings.TrimSpace(req.Reference)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.TerminalID == "" {
		return domain.CheckoutResponse{}, domain.Invalid("terminal_id", "is required")
	}
	switch req.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodCredit:
	case domain.PaymentMethodCard, domain.PaymentMethodTransfer:
		if req.Reference == "" {
			return domain.CheckoutResponse{}, domain.Invalid("reference", "is required for "+req.PaymentMethod+" payments")
		}
	default:
		return domain.CheckoutResponse{}, domain.Invalid("payment_method", "must be cash, card, transfer or credit")
	}
	if req.TenderedCents < 0 {
		return domain.CheckoutResponse{}, domain.Invalid("tendered_cents", "must not be negative")
	}

	lines, err := normalizeItems(req.Items)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(lines) == 0 && req.OrderID == "" {
		return domain.CheckoutResponse{}, domain.Invalid("items", "cart is empty")
	}

	if req.IdempotencyKey != "" {
		if resp, ok, err := s.replay(ctx, req.IdempotencyKey); err != nil || ok {
			return resp, err
		}
	}

	var (
		resp     domain.CheckoutResponse
		claimed  bool
		actor    = actorName(ctx)
		customer *domain.Customer
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.now()

		till, err := tx.GetOpenSessionForUpdate(ctx, req.TerminalID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: terminal %s", domain.ErrNoOpenSession, req.TerminalID)
		}
		if err != nil {
			return err
		}

		var order *domain.Order
		customerID := strings.TrimSpace(req.CustomerID)
		if req.OrderID != "" {
			order, err = tx.GetOrderForUpdate(ctx, req.OrderID)
			if err != nil {
				return err
			}
			if err := orders.CanCheckout(*order); err != nil {
				return err
			}
			if customerID == "" {
				customerID = order.CustomerID
			} else if order.CustomerID != "" && order.CustomerID != customerID {
				return domain.Invalid("customer_id", "does not match the order")
			}
			if len(lines) == 0 {
				lines = cartFromItems(order.Items)
			}
			claimed = order.SaleChannel == domain.ChannelOnline
		}
		if len(lines) == 0 {
			return domain.Invalid("items", "cart is empty")
		}

		if customerID != "" {
			customer, err = tx.GetCustomerForUpdate(ctx, customerID)
			if err != nil {
				return err
			}
		}
		if req.PaymentMethod == domain.PaymentMethodCredit && customer == nil {
			return domain.Invalid("customer_id", "is required for credit payments")
		}

		rule, err := s.currentRule(ctx, tx)
		if err != nil {
			return err
		}
		quote, products, err := s.priceLines(ctx, tx, lines, rule)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if product := products[line.ProductID]; product.TotalStock < line.Quantity {
				return fmt.Errorf("%w: %s has %d, cart needs %d",
					domain.ErrInsufficientStock, product.SKU, product.TotalStock, line.Quantity)
			}
		}

		tendered, change := quote.TotalCents, int64(0)
		if req.PaymentMethod == domain.PaymentMethodCash {
			if req.TenderedCents < quote.TotalCents {
				return fmt.Errorf("%w: tendered %s, total %s", domain.ErrInsufficientCashTendered,
					domain.FormatAmount(req.TenderedCents), domain.FormatAmount(quote.TotalCents))
			}
			tendered = req.TenderedCents
			change = tendered - quote.TotalCents
		}

		if order == nil {
			seq, number, err := s.nextOrderNumber(ctx, tx)
			if err != nil {
				return err
			}
			order = &domain.Order{
				ID:          xid.New("ord"),
				OrderNumber: number,
				Sequence:    seq,
				Status:      domain.OrderConfirmed,
				SaleChannel: domain.ChannelPOS,
				CreatedBy:   actor,
				CreatedAt:   now,
				ConfirmedAt: &now,
			}
		}
		order.PaymentStatus = domain.PaymentPaid
		order.OrderType = quote.OrderType()
		order.SubtotalCents = quote.SubtotalCents
		order.TotalCents = quote.TotalCents
		order.CustomerID = customerID
		order.TerminalID = req.TerminalID
		order.UpdatedAt = now
		if req.Notes != "" {
			order.Notes = req.Notes
		}
		order.Items = orderItems(order.ID, quote)

		if req.OrderID == "" {
			if err := tx.InsertOrder(ctx, *order); err != nil {
				return err
			}
			if err := orders.Record(ctx, tx, order.ID, "", domain.OrderConfirmed, actor, "checkout", now); err != nil {
				return err
			}
		} else {
			if err := orders.Move(ctx, tx, order, domain.OrderConfirmed, actor, "checkout", now); err != nil {
				return err
			}
			if err := tx.ReplaceOrderItems(ctx, order.ID, order.Items); err != nil {
				return err
			}
		}

		shortfall := 0
		for _, line := range quote.Lines {
			result, err := s.allocator.Deduct(ctx, tx, inventory.DeductRequest{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Reference: order.OrderNumber,
				Notes:     "sale",
				Actor:     actor,
			})
			if err != nil {
				return err
			}
			shortfall += result.Shortfall.Total()
		}

		if req.PaymentMethod == domain.PaymentMethodCredit {
			if _, err := s.ledger.Register(ctx, tx, credit.Request{
				CustomerID:  customer.ID,
				Type:        domain.CreditCharge,
				AmountCents: quote.TotalCents,
				Reference:   order.OrderNumber,
				Notes:       "checkout",
				Actor:       actor,
			}); err != nil {
				return err
			}
		}

		trxSeq, err := s.seq.Next(ctx, tx, domain.SequencePOSTransaction)
		if err != nil {
			return err
		}
		payment := domain.POSTransaction{
			ID:                xid.New("trx"),
			TransactionNumber: fmt.Sprintf("TRX-%06d", trxSeq),
			SessionID:         till.ID,
			OrderID:           order.ID,
			PaymentMethod:     req.PaymentMethod,
			ReferenceCode:     req.Reference,
			AmountCents:       quote.TotalCents,
			TenderedCents:     tendered,
			ChangeCents:       change,
			IdempotencyKey:    req.IdempotencyKey,
			Actor:             actor,
			CompletedAt:       now,
		}
		if err := tx.InsertPOSTransaction(ctx, payment); err != nil {
			return err
		}
		if _, err := s.sessions.RecordSale(ctx, tx, till.ID, quote.TotalCents, req.PaymentMethod); err != nil {
			return err
		}
		if customer != nil {
			if err := tx.RecordCustomerPurchase(ctx, customer.ID, quote.TotalCents, now); err != nil {
				return err
			}
		}

		if err := s.audit(ctx, tx, "checkout", "order", order.ID, fmt.Sprintf("number=%s,method=%s,total=%s,type=%s",
			order.OrderNumber, req.PaymentMethod, domain.FormatAmount(quote.TotalCents), order.OrderType)); err != nil {
			return err
		}

		resp = toCheckoutResponse(*order, payment, false)
		resp.ShortfallUnits = shortfall
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			// a concurrent request with the same key won the insert
			if replayed, ok, lookupErr := s.replay(ctx, req.IdempotencyKey); lookupErr == nil && ok {
				return replayed, nil
			}
		}
		return domain.CheckoutResponse{}, err
	}

	if claimed {
		s.invalidatePending(ctx)
	}
	s.logger.Info("checkout completed",
		zap.String("order_id", resp.OrderID),
		zap.String("order_number", resp.OrderNumber),
		zap.String("transaction_number", resp.TransactionNumber),
		zap.String("terminal_id", req.TerminalID),
		zap.String("payment_method", resp.PaymentMethod),
		zap.String("order_type", resp.OrderType),
		zap.Int64("total_cents", resp.TotalCents),
		zap.Bool("claimed", claimed),
	)
	return resp, nil
}

// replay returns the receipt of a checkout already completed under key.
func (s *Service) replay(ctx context.Context, key string) (domain.CheckoutResponse, bool, error) {
	payment, err := s.repo.FindPOSTransactionByIdempotency(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, false, nil
	}
	if err != nil {
		return domain.CheckoutResponse{}, false, err
	}
	order, err := s.repo.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return domain.CheckoutResponse{}, false, err
	}
	return toCheckoutResponse(*order, *payment, true), true, nil
}

func toCheckoutResponse(order domain.Order, payment domain.POSTransaction, duplicate bool) domain.CheckoutResponse {
	lines := make([]domain.ReceiptLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, domain.ReceiptLine{
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}

	return domain.CheckoutResponse{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		TransactionID:     payment.ID,
		TransactionNumber: payment.TransactionNumber,
		SessionID:         payment.SessionID,
		Status:            order.Status,
		PaymentStatus:     order.PaymentStatus,
		OrderType:         order.OrderType,
		IsWholesale:       order.OrderType == domain.OrderTypeWholesale,
		PaymentMethod:     payment.PaymentMethod,
		SubtotalCents:     order.SubtotalCents,
		TotalCents:        payment.AmountCents,
		TenderedCents:     payment.TenderedCents,
		ChangeCents:       payment.ChangeCents,
		Lines:             lines,
		Duplicate:         duplicate,
		CompletedAt:       payment.CompletedAt.Format(time.RFC3339),
	}
}
