package service

import (
	"context"
	"fmt"

	"mostrador/backend/internal/credit"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

func (s *Service) RegisterCreditTransaction(ctx context.Context, customerID string, req domain.CreditTransactionRequest) (domain.CreditTransactionResponse, error) {
	var resp domain.CreditTransactionResponse
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := s.ledger.Register(ctx, tx, credit.Request{
			CustomerID:  customerID,
			Type:        req.TransactionType,
			AmountCents: req.AmountCents,
			Reference:   req.Reference,
			Notes:       req.Notes,
			Actor:       actorName(ctx),
		})
		if err != nil {
			return err
		}
		customer, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		resp = domain.CreditTransactionResponse{Customer: *customer, Transaction: entry}
		return s.audit(ctx, tx, "credit_"+req.TransactionType, "customer", customerID,
			fmt.Sprintf("amount=%s,balance=%s,ref=%s", domain.FormatAmount(req.AmountCents), domain.FormatAmount(entry.NewBalanceCents), req.Reference))
	})
	if err != nil {
		return domain.CreditTransactionResponse{}, err
	}
	return resp, nil
}

func (s *Service) SetCreditStatus(ctx context.Context, customerID string, req domain.CreditStatusRequest) (domain.Customer, error) {
	var customer domain.Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		updated, err := s.ledger.SetStatus(ctx, tx, customerID, req.Status, actorName(ctx))
		if err != nil {
			return err
		}
		customer = *updated
		return s.audit(ctx, tx, "credit_status", "customer", customerID, "status="+updated.CreditStatus)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (s *Service) GetCreditProfile(ctx context.Context, customerID string, limit int) (domain.CreditProfileResponse, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CreditProfileResponse{}, err
	}
	entries, err := s.repo.ListCreditTransactions(ctx, customerID, limit)
	if err != nil {
		return domain.CreditProfileResponse{}, err
	}
	return domain.CreditProfileResponse{Customer: *customer, Transactions: entries}, nil
}
