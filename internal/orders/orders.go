// Package orders owns the order lifecycle for the pos and online channels.
package orders

import (
	"context"
	"fmt"
	"slices"
	"time"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/xid"
)

var shared = map[string][]string{
	domain.OrderDraft:          {domain.OrderQuoted, domain.OrderConfirmed, domain.OrderCancelled},
	domain.OrderQuoted:         {domain.OrderConfirmed, domain.OrderCancelled},
	domain.OrderPendingPayment: {domain.OrderPaid, domain.OrderConfirmed, domain.OrderCancelled},
	domain.OrderPaid:           {domain.OrderConfirmed, domain.OrderCancelled},
}

// online adds the fulfillment path, which only web orders take.
var online = map[string][]string{
	domain.OrderPendingPayment: {domain.OrderProcessing},
	domain.OrderPaid:           {domain.OrderProcessing},
	domain.OrderConfirmed:      {domain.OrderProcessing, domain.OrderCancelled},
	domain.OrderProcessing:     {domain.OrderShipped, domain.OrderReadyForPickup, domain.OrderCancelled},
	domain.OrderShipped:        {domain.OrderCompleted, domain.OrderCancelled},
	domain.OrderReadyForPickup: {domain.OrderCompleted, domain.OrderCancelled},
}

// CanTransition reports whether an order on channel may move from one status
// to another.
func CanTransition(channel string, from string, to string) bool {
	if slices.Contains(shared[from], to) {
		return true
	}
	return channel == domain.ChannelOnline && slices.Contains(online[from], to)
}

// IsTerminal reports whether no transition leaves status on channel.
func IsTerminal(channel string, status string) bool {
	if len(shared[status]) > 0 {
		return false
	}
	return channel != domain.ChannelOnline || len(online[status]) == 0
}

// CanCheckout rejects an order that has already been confirmed or moved past
// confirmation, so a completed sale cannot be replayed.
func CanCheckout(order domain.Order) error {
	switch order.Status {
	case domain.OrderDraft, domain.OrderQuoted, domain.OrderPendingPayment, domain.OrderPaid:
		return nil
	}
	return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, order.OrderNumber, order.Status)
}

// CanClaim accepts online orders that still wait for the till.
func CanClaim(order domain.Order) error {
	if order.SaleChannel != domain.ChannelOnline {
		return fmt.Errorf("%w: order %s is not a web order", domain.ErrInvalidTransition, order.OrderNumber)
	}
	if order.Status != domain.OrderPendingPayment && order.Status != domain.OrderPaid {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, order.OrderNumber, order.Status)
	}
	return nil
}

// FormatNumber renders an order sequence value.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("ORD-%06d", seq)
}

// Move validates and applies a transition on a locked order, then appends the
// status event. The order passed in is updated in place.
func Move(ctx context.Context, tx store.Tx, order *domain.Order, to string, actor string, reason string, at time.Time) error {
	from := order.Status
	if !CanTransition(order.SaleChannel, from, to) {
		return fmt.Errorf("%w: %s order %s cannot move from %s to %s",
			domain.ErrInvalidTransition, order.SaleChannel, order.OrderNumber, from, to)
	}

	order.Status = to
	order.UpdatedAt = at
	if to == domain.OrderConfirmed && order.ConfirmedAt == nil {
		order.ConfirmedAt = &at
	}
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return err
	}
	return Record(ctx, tx, order.ID, from, to, actor, reason, at)
}

// Record appends a status event. from is empty for a newly created order.
func Record(ctx context.Context, tx store.Tx, orderID string, from string, to string, actor string, reason string, at time.Time) error {
	return tx.InsertOrderEvent(ctx, domain.OrderStatusEvent{
		ID:         xid.New("evt"),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  at,
	})
}
