package service

import (
	"context"
	"errors"
	"fmt"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.Session, error) {
	if req.OpeningCashCents < 0 {
		return domain.Session{}, domain.Invalid("opening_cash_cents", "must not be negative")
	}

	var opened domain.Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		opened, err = s.sessions.Open(ctx, tx, req.TerminalID, req.OpeningCashCents, actorName(ctx))
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, "session_open", "session", opened.ID,
			fmt.Sprintf("terminal=%s,opening=%s", opened.TerminalID, domain.FormatAmount(opened.OpeningCashCents)))
	})
	if err != nil {
		return domain.Session{}, err
	}
	return opened, nil
}

func (s *Service) CloseSession(ctx context.Context, sessionID string, req domain.SessionCloseRequest) (domain.Session, error) {
	if req.CountedCashCents < 0 {
		return domain.Session{}, domain.Invalid("counted_cash_cents", "must not be negative")
	}

	var closed domain.Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		closed, err = s.sessions.Close(ctx, tx, sessionID, req.CountedCashCents, req.Notes, actorName(ctx))
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, "session_close", "session", closed.ID,
			fmt.Sprintf("difference=%s,classification=%s", domain.FormatAmount(*closed.CashDifferenceCents), closed.Classification))
	})
	if err != nil {
		return domain.Session{}, err
	}
	return closed, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	found, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return *found, nil
}

// CurrentSession returns the open session of a terminal.
func (s *Service) CurrentSession(ctx context.Context, terminalID string) (domain.Session, error) {
	open, err := s.repo.GetOpenSession(ctx, terminalID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, fmt.Errorf("%w: terminal %s", domain.ErrNoOpenSession, terminalID)
	}
	if err != nil {
		return domain.Session{}, err
	}
	return *open, nil
}
