// Package session opens and closes till sessions and reconciles the counted
// cash against the cash the session should hold.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/logging"
	"mostrador/backend/internal/metrics"
	"mostrador/backend/internal/sequence"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

// Thresholds bound the cash difference classification, in percent of the
// expected cash.
type Thresholds struct {
	WarnPercent     decimal.Decimal
	CriticalPercent decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnPercent:     decimal.NewFromInt(1),
		CriticalPercent: decimal.NewFromInt(5),
	}
}

type Manager struct {
	seq        sequence.Generator
	thresholds Thresholds
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewManager(seq sequence.Generator, thresholds Thresholds, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if seq == nil {
		seq = sequence.StoreGenerator{}
	}
	return &Manager{
		seq:        seq,
		thresholds: thresholds,
		logger:     logging.OrNop(logger).Named("session"),
		metrics:    m,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Open starts a session on an active terminal that has none open.
func (m *Manager) Open(ctx context.Context, tx store.Tx, terminalID string, openingCents int64, actor string) (domain.Session, error) {
	if openingCents < 0 {
		return domain.Session{}, domain.Invalid("opening_cash_cents", "must not be negative")
	}
	terminal, err := tx.GetTerminal(ctx, terminalID)
	if err != nil {
		return domain.Session{}, err
	}
	if !terminal.Active {
		return domain.Session{}, domain.Invalid("terminal_id", "terminal is not active")
	}

	existing, err := tx.GetOpenSessionForUpdate(ctx, terminalID)
	switch {
	case err == nil:
		return domain.Session{}, fmt.Errorf("%w: %s holds %s", domain.ErrSessionAlreadyOpen, terminalID, existing.SessionNumber)
	case !errors.Is(err, store.ErrNotFound):
		return domain.Session{}, err
	}

	seq, err := m.seq.Next(ctx, tx, "session:"+terminalID)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:               xid.New("ses"),
		TerminalID:       terminalID,
		SessionNumber:    fmt.Sprintf("SES-%s-%04d", terminalID, seq),
		Status:           domain.SessionStatusOpen,
		OpenedBy:         actor,
		OpeningCashCents: openingCents,
		OpenedAt:         m.now(),
	}
	if err := tx.InsertSession(ctx, session); err != nil {
		return domain.Session{}, err
	}

	m.logger.Info("session opened",
		zap.String("session_id", session.ID),
		zap.String("session_number", session.SessionNumber),
		zap.String("terminal_id", terminalID),
		zap.Int64("opening_cash_cents", openingCents),
		zap.String("actor", actor),
	)
	return session, nil
}

// RecordSale adds one completed payment to the running counters. Only cash
// payments count toward the expected drawer.
func (m *Manager) RecordSale(ctx context.Context, tx store.Tx, sessionID string, amountCents int64, method string) (domain.Session, error) {
	session, err := tx.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionClosed, session.SessionNumber)
	}

	session.TotalSalesCents += amountCents
	session.TotalTransactions++
	if method == domain.PaymentMethodCash {
		session.CashSalesCents += amountCents
	}
	if err := tx.UpdateSession(ctx, *session); err != nil {
		return domain.Session{}, err
	}
	return *session, nil
}

// Close reconciles and seals the session. A closed session is never written
// again.
func (m *Manager) Close(ctx context.Context, tx store.Tx, sessionID string, countedCents int64, notes string, actor string) (domain.Session, error) {
	if countedCents < 0 {
		return domain.Session{}, domain.Invalid("counted_cash_cents", "must not be negative")
	}
	session, err := tx.GetSessionForUpdate(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionClosed, session.SessionNumber)
	}

	rec := m.Reconcile(session.OpeningCashCents, session.CashSalesCents, countedCents)
	now := m.now()
	session.Status = domain.SessionStatusClosed
	session.ClosingCashCents = &countedCents
	session.ExpectedCashCents = &rec.ExpectedCents
	session.CashDifferenceCents = &rec.DifferenceCents
	session.DifferencePercent = rec.Percent.StringFixed(2)
	session.Classification = rec.Classification
	session.ClosedBy = actor
	session.Notes = notes
	session.ClosedAt = &now
	if err := tx.UpdateSession(ctx, *session); err != nil {
		return domain.Session{}, err
	}

	m.metrics.SessionClosed(rec.DifferenceCents)
	fields := []zap.Field{
		zap.String("session_id", session.ID),
		zap.String("terminal_id", session.TerminalID),
		zap.Int64("expected_cents", rec.ExpectedCents),
		zap.Int64("counted_cents", countedCents),
		zap.Int64("difference_cents", rec.DifferenceCents),
		zap.String("classification", rec.Classification),
		zap.String("actor", actor),
	}
	if rec.Classification == domain.CashWarning || rec.Classification == domain.CashCritical {
		m.logger.Warn("session closed with cash difference", fields...)
	} else {
		m.logger.Info("session closed", fields...)
	}
	return *session, nil
}

type Reconciliation struct {
	ExpectedCents   int64
	DifferenceCents int64
	Percent         decimal.Decimal
	Classification  string
}

// Reconcile computes expected = opening + cash sales and classifies
// counted - expected against the thresholds.
func (m *Manager) Reconcile(openingCents int64, cashSalesCents int64, countedCents int64) Reconciliation {
	expected := openingCents + cashSalesCents
	rec := Reconciliation{
		ExpectedCents:   expected,
		DifferenceCents: countedCents - expected,
	}
	rec.Percent = domain.Percent(rec.DifferenceCents, expected)

	magnitude := rec.Percent.Abs()
	switch {
	case rec.DifferenceCents == 0:
		rec.Classification = domain.CashBalanced
	case expected == 0:
		// any cash in a drawer expected to be empty is worth a look
		rec.Classification = domain.CashCritical
	case magnitude.LessThanOrEqual(m.thresholds.WarnPercent):
		rec.Classification = domain.CashMinor
	case magnitude.LessThanOrEqual(m.thresholds.CriticalPercent):
		rec.Classification = domain.CashWarning
	default:
		rec.Classification = domain.CashCritical
	}
	return rec
}
