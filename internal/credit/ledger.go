// Package credit maintains customer credit profiles through an append-only
// ledger. The customer's credit_used is a projection of the latest entry.
package credit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

type Request struct {
	CustomerID  string
	Type        string
	AmountCents int64
	Reference   string
	Notes       string
	Actor       string
}

type Ledger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger: logging.OrNop(logger).Named("credit"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Register locks the customer, applies req and appends the ledger row.
// Nothing is written when a precondition fails.
func (l *Ledger) Register(ctx context.Context, tx store.Tx, req Request) (domain.CreditTransaction, error) {
	customer, err := tx.GetCustomerForUpdate(ctx, req.CustomerID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	updated, entry, err := Apply(*customer, req)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	entry.ID = xid.New("ctx")
	entry.CreatedAt = l.now()

	if err := tx.UpdateCustomerCredit(ctx, updated); err != nil {
		return domain.CreditTransaction{}, err
	}
	if err := tx.InsertCreditTransaction(ctx, entry); err != nil {
		return domain.CreditTransaction{}, err
	}

	l.logger.Info("credit transaction registered",
		zap.String("customer_id", customer.ID),
		zap.String("type", entry.TransactionType),
		zap.Int64("amount_cents", entry.AmountCents),
		zap.Int64("previous_balance_cents", entry.PreviousBalanceCents),
		zap.Int64("new_balance_cents", entry.NewBalanceCents),
	)
	if updated.CreditUsedCents > updated.CreditLimitCents && updated.CreditStatus != domain.CreditStatusNone {
		l.logger.Warn("credit balance above limit after manual entry",
			zap.String("customer_id", customer.ID),
			zap.Int64("credit_used_cents", updated.CreditUsedCents),
			zap.Int64("credit_limit_cents", updated.CreditLimitCents),
		)
	}
	return entry, nil
}

// Apply computes the customer after req and the matching ledger entry
// without touching storage.
func Apply(customer domain.Customer, req Request) (domain.Customer, domain.CreditTransaction, error) {
	entry := domain.CreditTransaction{
		CustomerID:           customer.ID,
		TransactionType:      req.Type,
		AmountCents:          req.AmountCents,
		PreviousBalanceCents: customer.CreditUsedCents,
		NewBalanceCents:      customer.CreditUsedCents,
		Reference:            req.Reference,
		Notes:                req.Notes,
		Actor:                req.Actor,
	}

	switch req.Type {
	case domain.CreditCharge:
		if req.AmountCents <= 0 {
			return customer, entry, domain.Invalid("amount_cents", "must be positive")
		}
		if customer.CreditStatus != domain.CreditStatusActive {
			return customer, entry, fmt.Errorf("%w: customer %s is %s", domain.ErrCreditNotActive, customer.ID, customer.CreditStatus)
		}
		if available := customer.AvailableCreditCents(); available < req.AmountCents {
			return customer, entry, fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientCredit,
				domain.FormatAmount(available), domain.FormatAmount(req.AmountCents))
		}
		entry.NewBalanceCents = customer.CreditUsedCents + req.AmountCents

	case domain.CreditPayment:
		if req.AmountCents <= 0 {
			return customer, entry, domain.Invalid("amount_cents", "must be positive")
		}
		if req.AmountCents > customer.CreditUsedCents {
			return customer, entry, domain.Invalid("amount_cents", "exceeds outstanding balance")
		}
		entry.NewBalanceCents = customer.CreditUsedCents - req.AmountCents

	case domain.CreditAdjustment:
		if req.AmountCents == 0 {
			return customer, entry, domain.Invalid("amount_cents", "must not be zero")
		}
		next := customer.CreditUsedCents + req.AmountCents
		if next < 0 {
			return customer, entry, domain.Invalid("amount_cents", "would leave a negative balance")
		}
		entry.NewBalanceCents = next

	case domain.CreditLimitChange:
		if req.AmountCents < 0 {
			return customer, entry, domain.Invalid("amount_cents", "limit must not be negative")
		}
		previous := customer.CreditLimitCents
		next := req.AmountCents
		entry.PreviousLimitCents = &previous
		entry.NewLimitCents = &next
		customer.CreditLimitCents = next
		switch {
		case next == 0:
			customer.CreditStatus = domain.CreditStatusNone
		case customer.CreditStatus == domain.CreditStatusNone:
			customer.CreditStatus = domain.CreditStatusActive
		}

	default:
		return customer, entry, domain.Invalid("transaction_type", "must be charge, payment, adjustment or limit_change")
	}

	customer.CreditUsedCents = entry.NewBalanceCents
	return customer, entry, nil
}

// SetStatus changes the credit status. Any status other than none needs a
// positive limit.
func (l *Ledger) SetStatus(ctx context.Context, tx store.Tx, customerID string, status string, actor string) (*domain.Customer, error) {
	switch status {
	case domain.CreditStatusNone, domain.CreditStatusActive, domain.CreditStatusSuspended, domain.CreditStatusBlocked:
	default:
		return nil, domain.Invalid("credit_status", "is not a known status")
	}

	customer, err := tx.GetCustomerForUpdate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if status != domain.CreditStatusNone && customer.CreditLimitCents == 0 {
		return nil, domain.Invalid("credit_status", "requires a credit limit above zero")
	}
	if customer.CreditStatus == status {
		return customer, nil
	}

	previous := customer.CreditStatus
	customer.CreditStatus = status
	if err := tx.UpdateCustomerCredit(ctx, *customer); err != nil {
		return nil, err
	}
	l.logger.Info("credit status changed",
		zap.String("customer_id", customerID),
		zap.String("from", previous),
		zap.String("to", status),
		zap.String("actor", actor),
	)
	return customer, nil
}
