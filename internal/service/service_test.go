package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"mostrador/backend/internal/cache"
	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/pricing"
	"mostrador/backend/internal/store"
	"mostrador/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultRule: pricing.Rule{ThresholdCents: 300000, Active: true}}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func openTill(t *testing.T, svc *Service, ctx context.Context, opening int64) domain.Session {
	t.Helper()
	opened, err := svc.OpenSession(ctx, domain.SessionOpenRequest{TerminalID: "term-01", OpeningCashCents: opening})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	return opened
}

func stockOf(t *testing.T, repo *memory.Store, productID string) domain.Product {
	t.Helper()
	product, err := repo.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return *product
}

func pendingWebOrder(t *testing.T, svc *Service) domain.Order {
	t.Helper()
	pending, err := svc.ListPendingWebOrders(context.Background())
	if err != nil {
		t.Fatalf("list pending web orders: %v", err)
	}
	if len(pending.Orders) != 1 {
		t.Fatalf("expected one seeded web order, got %d", len(pending.Orders))
	}
	return pending.Orders[0]
}

func TestCheckoutRequiresOpenSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
		Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrNoOpenSession) {
		t.Fatalf("expected no open session error, got %v", err)
	}
}

func TestCashCheckoutReturnsChangeAndCreditsTill(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	till := openTill(t, svc, ctx, 100000)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 10000,
		Items: []domain.CartLine{
			{ProductID: "prod-005", Quantity: 1},
			{ProductID: "prod-005", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TotalCents != 5000 || resp.ChangeCents != 5000 {
		t.Fatalf("expected total 5000 and change 5000, got %d and %d", resp.TotalCents, resp.ChangeCents)
	}
	if resp.OrderNumber != "ORD-000002" {
		t.Fatalf("expected ORD-000002 after the seeded web order, got %s", resp.OrderNumber)
	}
	if resp.Status != domain.OrderConfirmed || resp.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected confirmed and paid, got %s and %s", resp.Status, resp.PaymentStatus)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].Quantity != 2 {
		t.Fatalf("expected repeated lines to merge into one, got %+v", resp.Lines)
	}
	if got := stockOf(t, repo, "prod-005").TotalStock; got != 68 {
		t.Fatalf("expected 68 units left, got %d", got)
	}

	closed, err := svc.CloseSession(ctx, till.ID, domain.SessionCloseRequest{CountedCashCents: 105000})
	if err != nil {
		t.Fatalf("close session failed: %v", err)
	}
	if *closed.ExpectedCashCents != 105000 || closed.Classification != domain.CashBalanced {
		t.Fatalf("expected balanced drawer at 105000, got %d %s", *closed.ExpectedCashCents, closed.Classification)
	}
}

func TestCashCheckoutRejectsShortTender(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 1000,
		Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInsufficientCashTendered) {
		t.Fatalf("expected insufficient cash error, got %v", err)
	}
	if got := stockOf(t, repo, "prod-005").TotalStock; got != 70 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestCreditCheckoutOverLimitLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	till := openTill(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		CustomerID:    "cust-001",
		PaymentMethod: domain.PaymentMethodCredit,
		Items:         []domain.CartLine{{ProductID: "prod-002", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}

	if got := stockOf(t, repo, "prod-002").TotalStock; got != 150 {
		t.Fatalf("expected stock restored by rollback, got %d", got)
	}
	customer, err := repo.GetCustomer(context.Background(), "cust-001")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.CreditUsedCents != 90000 {
		t.Fatalf("expected balance unchanged at 90000, got %d", customer.CreditUsedCents)
	}
	current, err := svc.CurrentSession(ctx, "term-01")
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if current.ID != till.ID || current.TotalTransactions != 0 {
		t.Fatalf("expected no sale on the till, got %d", current.TotalTransactions)
	}
	entries, err := repo.ListCreditTransactions(context.Background(), "cust-001", 10)
	if err != nil {
		t.Fatalf("list credit transactions: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no credit entries, got %d", len(entries))
	}
}

func TestCreditCheckoutRequiresActiveCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	for _, customerID := range []string{"cust-002", "cust-004"} {
		_, err := svc.Checkout(ctx, domain.CheckoutRequest{
			TerminalID:    "term-01",
			CustomerID:    customerID,
			PaymentMethod: domain.PaymentMethodCredit,
			Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
		})
		if !errors.Is(err, domain.ErrCreditNotActive) {
			t.Fatalf("expected credit not active for %s, got %v", customerID, err)
		}
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCredit,
		Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error without customer, got %v", err)
	}
}

func TestCheckoutAppliesWholesaleAtThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	// 12 x 250.00 = 3000.00, exactly the threshold
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodTransfer,
		Reference:     "SPEI-0042",
		Items:         []domain.CartLine{{ProductID: "prod-001", Quantity: 12}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.IsWholesale || resp.OrderType != domain.OrderTypeWholesale {
		t.Fatalf("expected wholesale order, got %s", resp.OrderType)
	}
	if resp.SubtotalCents != 300000 || resp.TotalCents != 252000 {
		t.Fatalf("expected subtotal 300000 total 252000, got %d %d", resp.SubtotalCents, resp.TotalCents)
	}
	if resp.TenderedCents != resp.TotalCents || resp.ChangeCents != 0 {
		t.Fatalf("expected exact tender for transfer, got %d change %d", resp.TenderedCents, resp.ChangeCents)
	}

	retail, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCard,
		Reference:     "AUTH-7781",
		Items:         []domain.CartLine{{ProductID: "prod-001", Quantity: 11}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if retail.IsWholesale || retail.TotalCents != 275000 {
		t.Fatalf("expected retail 275000 below threshold, got %d", retail.TotalCents)
	}
}

func TestWholesaleRuleUpdateAppliesToNextCart(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	rule, err := svc.SetWholesaleRule(ctx, domain.WholesaleRuleRequest{Threshold: "500.00", Active: true})
	if err != nil {
		t.Fatalf("set rule failed: %v", err)
	}
	if rule.ThresholdCents != 50000 || rule.UpdatedBy != "cashier" {
		t.Fatalf("unexpected rule response %+v", rule)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 50000,
		Items:         []domain.CartLine{{ProductID: "prod-001", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.TotalCents != 42000 {
		t.Fatalf("expected wholesale total 42000, got %d", resp.TotalCents)
	}

	if _, err := svc.SetWholesaleRule(ctx, domain.WholesaleRuleRequest{Threshold: "-1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for negative threshold, got %v", err)
	}
}

func TestCheckoutIdempotencyReplaysReceipt(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	req := domain.CheckoutRequest{
		TerminalID:     "term-01",
		IdempotencyKey: "idem-001",
		PaymentMethod:  domain.PaymentMethodCash,
		TenderedCents:  20000,
		Items:          []domain.CartLine{{ProductID: "prod-006", Quantity: 2}},
	}
	first, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("replayed checkout failed: %v", err)
	}
	if !second.Duplicate || first.Duplicate {
		t.Fatalf("expected only the replay to be flagged duplicate")
	}
	if second.OrderID != first.OrderID || second.TransactionNumber != first.TransactionNumber {
		t.Fatalf("expected replay of %s, got %s", first.OrderID, second.OrderID)
	}
	if got := stockOf(t, repo, "prod-006").TotalStock; got != 48 {
		t.Fatalf("expected a single deduction, got %d left", got)
	}
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCard,
		Reference:     "AUTH-1",
		Items:         []domain.CartLine{{ProductID: "prod-004", Quantity: 6}},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, repo, "prod-004").TotalStock; got != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", got)
	}
}

func TestCheckoutValidatesRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	cases := map[string]domain.CheckoutRequest{
		"empty cart": {
			TerminalID:    "term-01",
			PaymentMethod: domain.PaymentMethodCash,
		},
		"card without reference": {
			TerminalID:    "term-01",
			PaymentMethod: domain.PaymentMethodCard,
			Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
		},
		"unknown method": {
			TerminalID:    "term-01",
			PaymentMethod: "voucher",
			Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
		},
		"zero quantity": {
			TerminalID:    "term-01",
			PaymentMethod: domain.PaymentMethodCash,
			Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 0}},
		},
		"quantity over the line cap": {
			TerminalID:    "term-01",
			PaymentMethod: domain.PaymentMethodCash,
			Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: domain.MaxLineQuantity + 1}},
		},
		"repeated lines summing over the cap": {
			TerminalID:    "term-01",
			PaymentMethod: domain.PaymentMethodCash,
			Items: []domain.CartLine{
				{ProductID: "prod-005", Quantity: domain.MaxLineQuantity},
				{ProductID: "prod-005", Quantity: 1},
			},
		},
	}
	for name, req := range cases {
		if _, err := svc.Checkout(ctx, req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
		Items:         []domain.CartLine{{ProductID: "prod-404", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown product to be not found, got %v", err)
	}
}

func TestClaimedWebOrderCompletesAtTill(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	web := pendingWebOrder(t, svc)

	if _, err := svc.ClaimWebOrder(ctx, web.ID, "term-01"); !errors.Is(err, domain.ErrNoOpenSession) {
		t.Fatalf("expected claim without session to fail, got %v", err)
	}
	openTill(t, svc, ctx, 0)

	claim, err := svc.ClaimWebOrder(ctx, web.ID, "term-01")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claim.Customer == nil || claim.Customer.ID != "cust-003" {
		t.Fatalf("expected claim to carry the order customer")
	}
	if len(claim.Cart) != 1 || claim.Cart[0].Quantity != 2 {
		t.Fatalf("expected cart from order items, got %+v", claim.Cart)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		OrderID:       web.ID,
		PaymentMethod: domain.PaymentMethodCredit,
	})
	if err != nil {
		t.Fatalf("checkout of claimed order failed: %v", err)
	}
	if resp.OrderNumber != "ORD-000001" || resp.Status != domain.OrderConfirmed {
		t.Fatalf("expected ORD-000001 confirmed, got %s %s", resp.OrderNumber, resp.Status)
	}
	if got := stockOf(t, repo, "prod-001").TotalStock; got != 98 {
		t.Fatalf("expected 98 units left, got %d", got)
	}

	pending, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending.Orders) != 0 {
		t.Fatalf("expected claimed order to leave the pending list")
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		OrderID:       web.ID,
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second checkout to be rejected, got %v", err)
	}

	events, err := svc.ListOrderEvents(ctx, web.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[1].ToStatus != domain.OrderConfirmed {
		t.Fatalf("expected creation and confirmation events, got %+v", events)
	}
}

func TestCheckoutRejectsCustomerMismatchOnOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)
	web := pendingWebOrder(t, svc)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		OrderID:       web.ID,
		CustomerID:    "cust-001",
		PaymentMethod: domain.PaymentMethodCard,
		Reference:     "AUTH-9",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected customer mismatch to be rejected, got %v", err)
	}
}

func TestDraftQuoteCheckout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	draft, err := svc.CreateDraft(ctx, domain.DraftOrderRequest{
		TerminalID: "term-01",
		Items:      []domain.CartLine{{ProductID: "prod-003", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create draft failed: %v", err)
	}
	if draft.Status != domain.OrderDraft || draft.TotalCents != 120000 {
		t.Fatalf("unexpected draft %s %d", draft.Status, draft.TotalCents)
	}

	if _, err := svc.SetWholesaleRule(ctx, domain.WholesaleRuleRequest{Threshold: "1000.00", Active: true}); err != nil {
		t.Fatalf("set rule: %v", err)
	}
	quoted, err := svc.QuoteOrder(ctx, draft.ID)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quoted.Status != domain.OrderQuoted || quoted.TotalCents != 98000 {
		t.Fatalf("expected quote repriced to wholesale 98000, got %s %d", quoted.Status, quoted.TotalCents)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		OrderID:       draft.ID,
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
	})
	if err != nil {
		t.Fatalf("checkout of quote failed: %v", err)
	}
	if resp.OrderNumber != draft.OrderNumber || resp.ChangeCents != 2000 {
		t.Fatalf("expected %s with 2000 change, got %s %d", draft.OrderNumber, resp.OrderNumber, resp.ChangeCents)
	}

	if _, err := svc.QuoteOrder(ctx, draft.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected confirmed order to refuse a quote, got %v", err)
	}
}

func TestWebOrderFulfillmentDeductsOnProcessing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.CreateWebOrder(ctx, domain.WebOrderRequest{
		CustomerID:      "cust-003",
		DeliveryMethod:  "delivery",
		DeliveryAddress: "Av. Juárez 120",
		Items:           []domain.CartLine{{ProductID: "prod-006", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create web order failed: %v", err)
	}
	if order.Status != domain.OrderPendingPayment || order.SaleChannel != domain.ChannelOnline {
		t.Fatalf("unexpected web order %s %s", order.Status, order.SaleChannel)
	}

	paid, err := svc.ConfirmWebPayment(ctx, order.ID, domain.WebPaymentRequest{Status: domain.PaymentPaid, Reference: "MP-1"})
	if err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if paid.Status != domain.OrderPaid || paid.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected paid order, got %s %s", paid.Status, paid.PaymentStatus)
	}

	if _, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderProcessing}); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if got := stockOf(t, repo, "prod-006").TotalStock; got != 47 {
		t.Fatalf("expected processing to deduct 3, got %d left", got)
	}

	if _, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderReadyForPickup}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected delivery order to refuse pickup, got %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderShipped}); err != nil {
		t.Fatalf("ship failed: %v", err)
	}
	done, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderCompleted})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != domain.OrderCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	if _, err := svc.CancelOrder(ctx, order.ID, domain.CancelOrderRequest{Reason: "late"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected completed order to refuse cancellation, got %v", err)
	}
	if _, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderConfirmed}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected confirmed to be refused as a fulfillment status, got %v", err)
	}
}

func TestUnpaidWebOrderEntersProcessingAndDeducts(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	order, err := svc.CreateWebOrder(ctx, domain.WebOrderRequest{
		CustomerID:     "cust-003",
		DeliveryMethod: "pickup",
		Items:          []domain.CartLine{{ProductID: "prod-006", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create web order failed: %v", err)
	}

	processing, err := svc.TransitionOrder(ctx, order.ID, domain.TransitionRequest{Status: domain.OrderProcessing})
	if err != nil {
		t.Fatalf("processing an unpaid web order failed: %v", err)
	}
	if processing.Status != domain.OrderProcessing || processing.PaymentStatus != domain.PaymentPending {
		t.Fatalf("expected processing with payment pending, got %s %s", processing.Status, processing.PaymentStatus)
	}
	if got := stockOf(t, repo, "prod-006").TotalStock; got != 48 {
		t.Fatalf("expected processing to deduct 2, got %d left", got)
	}
}

func TestFailedWebPaymentKeepsOrderPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()
	web := pendingWebOrder(t, svc)

	failed, err := svc.ConfirmWebPayment(ctx, web.ID, domain.WebPaymentRequest{Status: domain.PaymentFailed})
	if err != nil {
		t.Fatalf("record failed payment: %v", err)
	}
	if failed.Status != domain.OrderPendingPayment || failed.PaymentStatus != domain.PaymentFailed {
		t.Fatalf("expected pending order with failed payment, got %s %s", failed.Status, failed.PaymentStatus)
	}
}

func TestCancelWithRestockReversesStockAndCredit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		CustomerID:    "cust-003",
		PaymentMethod: domain.PaymentMethodCredit,
		Items:         []domain.CartLine{{ProductID: "prod-003", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("credit checkout failed: %v", err)
	}
	before := stockOf(t, repo, "prod-003")
	if before.StockA != 10 || before.StockB != 4 || before.StockC != 5 || before.TotalStock != 19 {
		t.Fatalf("expected 10/4/5 (19) left after sale, got %d/%d/%d (%d)", before.StockA, before.StockB, before.StockC, before.TotalStock)
	}

	cancelled, err := svc.CancelOrder(ctx, resp.OrderID, domain.CancelOrderRequest{Reason: "wrong color", Restock: true})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	after := stockOf(t, repo, "prod-003")
	if after.StockA != 12 || after.StockB != 6 || after.StockC != 6 {
		t.Fatalf("expected each location restored, got %d/%d/%d", after.StockA, after.StockB, after.StockC)
	}
	customer, err := repo.GetCustomer(context.Background(), "cust-003")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.CreditUsedCents != 0 {
		t.Fatalf("expected credit charge reversed, got %d", customer.CreditUsedCents)
	}
}

func TestCancelWithoutRestockStillReversesCredit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		CustomerID:    "cust-003",
		PaymentMethod: domain.PaymentMethodCredit,
		Items:         []domain.CartLine{{ProductID: "prod-003", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("credit checkout failed: %v", err)
	}

	if _, err := svc.CancelOrder(ctx, resp.OrderID, domain.CancelOrderRequest{Reason: "damaged in transit"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if got := stockOf(t, repo, "prod-003").TotalStock; got != 21 {
		t.Fatalf("expected stock to stay out without restock, got %d", got)
	}
	customer, err := repo.GetCustomer(context.Background(), "cust-003")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.CreditUsedCents != 0 {
		t.Fatalf("expected credit charge reversed, got %d", customer.CreditUsedCents)
	}
}

// auditFailingRepo hands out transactions whose audit insert always fails.
type auditFailingRepo struct {
	store.Repository
}

func (r auditFailingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return r.Repository.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, auditFailingTx{tx})
	})
}

type auditFailingTx struct {
	store.Tx
}

func (auditFailingTx) InsertAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit table unavailable")
}

func TestCheckoutRollsBackWhenAuditWriteFails(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	till := openTill(t, svc, ctx, 0)
	before := stockOf(t, repo, "prod-005")
	logsBefore, err := repo.ListAuditLogs(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	broken := New(auditFailingRepo{repo}, Options{DefaultRule: pricing.Rule{ThresholdCents: 300000, Active: true}})
	_, err = broken.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
		Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 3}},
	})
	if err == nil {
		t.Fatalf("expected checkout to fail with the audit write")
	}

	if got := stockOf(t, repo, "prod-005").TotalStock; got != before.TotalStock {
		t.Fatalf("expected stock untouched, got %d want %d", got, before.TotalStock)
	}
	current, err := svc.CurrentSession(ctx, "term-01")
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if current.ID != till.ID || current.TotalTransactions != 0 {
		t.Fatalf("expected no sale on the till, got %d", current.TotalTransactions)
	}
	logsAfter, err := repo.ListAuditLogs(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logsAfter) != len(logsBefore) {
		t.Fatalf("expected no new audit entries, got %d want %d", len(logsAfter), len(logsBefore))
	}
}

func TestRejectedCheckoutLeavesNoAuditEntry(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	openTill(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		CustomerID:    "cust-001",
		PaymentMethod: domain.PaymentMethodCredit,
		Items:         []domain.CartLine{{ProductID: "prod-002", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	logs, err := repo.ListAuditLogs(context.Background(), "order", "", 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no order audit entries after rollback, got %d", len(logs))
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "term-01",
		PaymentMethod: domain.PaymentMethodCash,
		TenderedCents: 100000,
		Items:         []domain.CartLine{{ProductID: "prod-005", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("cash checkout failed: %v", err)
	}
	logs, err = repo.ListAuditLogs(context.Background(), "order", resp.OrderID, 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "checkout" || logs[0].ActorUsername != "cashier" {
		t.Fatalf("expected one checkout entry by cashier, got %+v", logs)
	}
}

func TestPendingWebOrdersServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisWebOrderCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisCache.Close() })

	svc := New(memory.NewSeeded(), Options{Cache: redisCache})
	ctx := cashierCtx()

	first, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if first.Cached || len(first.Orders) != 1 {
		t.Fatalf("expected a fresh load of one order, got cached=%t n=%d", first.Cached, len(first.Orders))
	}
	second, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if !second.Cached {
		t.Fatalf("expected the second poll to hit the cache")
	}

	if _, err := svc.CreateWebOrder(ctx, domain.WebOrderRequest{
		DeliveryMethod: "pickup",
		Items:          []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
	}); err != nil {
		t.Fatalf("create web order: %v", err)
	}
	third, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if third.Cached || len(third.Orders) != 2 {
		t.Fatalf("expected invalidation to force a reload of two orders, got cached=%t n=%d", third.Cached, len(third.Orders))
	}
}

func TestPendingLoadSurvivesCancelledCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisWebOrderCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisCache.Close() })
	svc := New(memory.NewSeeded(), Options{Cache: redisCache})

	ctx, cancel := context.WithCancel(cashierCtx())
	cancel()
	resp, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending with a cancelled caller: %v", err)
	}
	if len(resp.Orders) != 1 {
		t.Fatalf("expected the seeded pending order, got %d", len(resp.Orders))
	}
	if !mr.Exists("mostrador:weborders:pending") {
		t.Fatalf("expected the shared load to fill the cache for other callers")
	}
}

// listHookRepo runs afterList once, right after the first ListOrders read.
type listHookRepo struct {
	store.Repository
	afterList func()
}

func (r *listHookRepo) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	list, err := r.Repository.ListOrders(ctx, filter)
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return list, err
}

func TestInvalidationDuringLoadIsNotOverwritten(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisWebOrderCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisCache.Close() })

	repo := &listHookRepo{Repository: memory.NewSeeded()}
	svc := New(repo, Options{Cache: redisCache})
	ctx := cashierCtx()

	repo.afterList = func() {
		if _, err := svc.CreateWebOrder(ctx, domain.WebOrderRequest{
			DeliveryMethod: "pickup",
			Items:          []domain.CartLine{{ProductID: "prod-005", Quantity: 1}},
		}); err != nil {
			t.Errorf("create web order: %v", err)
		}
	}

	stale, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(stale.Orders) != 1 {
		t.Fatalf("expected the read to predate the new order, got %d", len(stale.Orders))
	}
	if mr.Exists("mostrador:weborders:pending") {
		t.Fatalf("expected the stale list to stay out of the cache")
	}

	fresh, err := svc.ListPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if fresh.Cached || len(fresh.Orders) != 2 {
		t.Fatalf("expected a fresh load of two orders, got cached=%t n=%d", fresh.Cached, len(fresh.Orders))
	}
}

func TestRefreshReportsNewWebOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	count, arrived, err := svc.RefreshPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if count != 1 || len(arrived) != 1 {
		t.Fatalf("expected seeded order to be new, got %d %v", count, arrived)
	}

	if _, arrived, _ = svc.RefreshPendingWebOrders(ctx); len(arrived) != 0 {
		t.Fatalf("expected nothing new on the second refresh, got %v", arrived)
	}

	created, err := svc.CreateWebOrder(ctx, domain.WebOrderRequest{
		DeliveryMethod: "pickup",
		Items:          []domain.CartLine{{ProductID: "prod-002", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create web order: %v", err)
	}
	count, arrived, err = svc.RefreshPendingWebOrders(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if count != 2 || len(arrived) != 1 || arrived[0] != created.OrderNumber {
		t.Fatalf("expected %s to be reported, got %d %v", created.OrderNumber, count, arrived)
	}
}

func TestStockReceiveAndAdjustAreAudited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "manager", Role: "manager"})

	received, err := svc.ReceiveStock(ctx, "prod-004", domain.ReceiveStockRequest{QuantityA: 10, Reference: "OC-88"})
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if received.Product.TotalStock != 15 || received.Alert != nil {
		t.Fatalf("expected 15 units and resolved alert, got %d %+v", received.Product.TotalStock, received.Alert)
	}

	adjusted, err := svc.AdjustStock(ctx, "prod-004", domain.AdjustStockRequest{StockA: 1, StockB: 1, StockC: 1, Notes: "count"})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if adjusted.Alert == nil || adjusted.Alert.AlertType != domain.AlertLowStock {
		t.Fatalf("expected low stock alert after recount")
	}

	logs, err := svc.ListAuditLogs(ctx, "product", "prod-004", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "stock_adjust" || logs[0].ActorUsername != "manager" {
		t.Fatalf("expected two audit entries newest first, got %+v", logs)
	}
}

func TestCreditPaymentAndProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	resp, err := svc.RegisterCreditTransaction(ctx, "cust-001", domain.CreditTransactionRequest{
		TransactionType: domain.CreditPayment,
		AmountCents:     40000,
		Reference:       "REC-12",
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if resp.Customer.CreditUsedCents != 50000 || resp.Transaction.PreviousBalanceCents != 90000 {
		t.Fatalf("unexpected balances %d %d", resp.Customer.CreditUsedCents, resp.Transaction.PreviousBalanceCents)
	}

	profile, err := svc.GetCreditProfile(ctx, "cust-001", 0)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(profile.Transactions) != 1 || profile.Customer.AvailableCreditCents() != 50000 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	blocked, err := svc.SetCreditStatus(ctx, "cust-001", domain.CreditStatusRequest{Status: domain.CreditStatusBlocked})
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if blocked.CreditStatus != domain.CreditStatusBlocked {
		t.Fatalf("expected blocked, got %s", blocked.CreditStatus)
	}
}

func TestFailureReason(t *testing.T) {
	cases := map[error]string{
		domain.Invalid("x", "y"):           "validation",
		domain.ErrInsufficientCredit:       "insufficient_credit",
		domain.ErrInsufficientStock:        "insufficient_stock",
		store.ErrConcurrencyConflict:       "conflict",
		errors.New("disk on fire"):         "internal",
		domain.ErrNoOpenSession:            "no_open_session",
		store.ErrPartialCommit:             "partial_commit",
		domain.ErrInvalidTransition:        "invalid_transition",
		domain.ErrCreditNotActive:          "credit_not_active",
		domain.ErrSessionClosed:            "session_closed",
		store.ErrNotFound:                  "not_found",
		domain.ErrInsufficientCashTendered: "insufficient_cash",
	}
	for err, want := range cases {
		if got := FailureReason(err); got != want {
			t.Fatalf("FailureReason(%v) = %s, want %s", err, got, want)
		}
	}
}
