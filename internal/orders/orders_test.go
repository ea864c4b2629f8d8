package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/store/memory"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		channel string
		from    string
		to      string
		want    bool
	}{
		{domain.ChannelPOS, domain.OrderDraft, domain.OrderQuoted, true},
		{domain.ChannelPOS, domain.OrderQuoted, domain.OrderConfirmed, true},
		{domain.ChannelPOS, domain.OrderQuoted, domain.OrderDraft, false},
		{domain.ChannelPOS, domain.OrderConfirmed, domain.OrderProcessing, false},
		{domain.ChannelPOS, domain.OrderConfirmed, domain.OrderCancelled, false},
		{domain.ChannelPOS, domain.OrderPaid, domain.OrderProcessing, false},
		{domain.ChannelPOS, domain.OrderPendingPayment, domain.OrderProcessing, false},
		{domain.ChannelOnline, domain.OrderPendingPayment, domain.OrderPaid, true},
		{domain.ChannelOnline, domain.OrderPaid, domain.OrderConfirmed, true},
		{domain.ChannelOnline, domain.OrderPendingPayment, domain.OrderProcessing, true},
		{domain.ChannelOnline, domain.OrderPaid, domain.OrderProcessing, true},
		{domain.ChannelOnline, domain.OrderConfirmed, domain.OrderProcessing, true},
		{domain.ChannelOnline, domain.OrderProcessing, domain.OrderShipped, true},
		{domain.ChannelOnline, domain.OrderProcessing, domain.OrderReadyForPickup, true},
		{domain.ChannelOnline, domain.OrderShipped, domain.OrderCompleted, true},
		{domain.ChannelOnline, domain.OrderReadyForPickup, domain.OrderCompleted, true},
		{domain.ChannelOnline, domain.OrderShipped, domain.OrderReadyForPickup, false},
		{domain.ChannelOnline, domain.OrderCompleted, domain.OrderCancelled, false},
		{domain.ChannelOnline, domain.OrderCancelled, domain.OrderPendingPayment, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.channel, tc.from, tc.to), "%s %s -> %s", tc.channel, tc.from, tc.to)
	}
}

func TestCancelledReachableFromEveryNonTerminalState(t *testing.T) {
	statuses := []string{
		domain.OrderDraft, domain.OrderQuoted, domain.OrderConfirmed, domain.OrderPendingPayment, domain.OrderPaid,
		domain.OrderProcessing, domain.OrderShipped, domain.OrderReadyForPickup, domain.OrderCompleted, domain.OrderCancelled,
	}
	for _, channel := range []string{domain.ChannelPOS, domain.ChannelOnline} {
		for _, status := range statuses {
			if IsTerminal(channel, status) {
				assert.False(t, CanTransition(channel, status, domain.OrderCancelled), "%s %s", channel, status)
				continue
			}
			assert.True(t, CanTransition(channel, status, domain.OrderCancelled), "%s %s", channel, status)
		}
	}
	assert.True(t, IsTerminal(domain.ChannelPOS, domain.OrderConfirmed))
	assert.False(t, IsTerminal(domain.ChannelOnline, domain.OrderConfirmed))
}

func TestCanCheckoutRejectsConfirmedOrder(t *testing.T) {
	require.NoError(t, CanCheckout(domain.Order{Status: domain.OrderPaid}))
	require.NoError(t, CanCheckout(domain.Order{Status: domain.OrderDraft}))
	require.ErrorIs(t, CanCheckout(domain.Order{Status: domain.OrderConfirmed}), domain.ErrInvalidTransition)
	require.ErrorIs(t, CanCheckout(domain.Order{Status: domain.OrderCancelled}), domain.ErrInvalidTransition)
}

func TestCanClaim(t *testing.T) {
	require.NoError(t, CanClaim(domain.Order{SaleChannel: domain.ChannelOnline, Status: domain.OrderPendingPayment}))
	require.NoError(t, CanClaim(domain.Order{SaleChannel: domain.ChannelOnline, Status: domain.OrderPaid}))
	require.ErrorIs(t, CanClaim(domain.Order{SaleChannel: domain.ChannelPOS, Status: domain.OrderDraft}), domain.ErrInvalidTransition)
	require.ErrorIs(t, CanClaim(domain.Order{SaleChannel: domain.ChannelOnline, Status: domain.OrderProcessing}), domain.ErrInvalidTransition)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "ORD-000123", FormatNumber(123))
}

func TestMoveWritesEvent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	order := domain.Order{ID: "o1", OrderNumber: "ORD-000001", Status: domain.OrderDraft, SaleChannel: domain.ChannelPOS}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := Move(ctx, tx, &order, domain.OrderQuoted, "cashier", "", at); err != nil {
			return err
		}
		return Move(ctx, tx, &order, domain.OrderConfirmed, "cashier", "", at)
	})
	require.NoError(t, err)

	stored, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, stored.Status)
	require.NotNil(t, stored.ConfirmedAt)

	events, err := s.ListOrderEvents(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.OrderQuoted, events[1].FromStatus)
	assert.Equal(t, domain.OrderConfirmed, events[1].ToStatus)
}

func TestMoveRejectsInvalidTransitionWithoutWrites(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	order := domain.Order{ID: "o1", OrderNumber: "ORD-000001", Status: domain.OrderConfirmed, SaleChannel: domain.ChannelPOS}

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return Move(ctx, tx, &order, domain.OrderShipped, "staff", "", time.Now())
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
