package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ujala-development/serials/internal/domain"
)

func TestBulkDispatchRejectsWholeBatch(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 3, domain.OrderTypeOneUnit)
	ids := itemIDs(agg.Items)
	if _, err := e.fulfillment.CompleteItems(ctx, ids[:2]); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := e.fulfillment.DispatchItems(ctx, ids)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if len(te.Failures) != 1 || te.Failures[0].ItemID != ids[2] || te.Failures[0].From != domain.StatusPending {
		t.Fatalf("expected only the pending item reported, got %+v", te.Failures)
	}

	current, err := e.orders.ListItemsByOrder(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []domain.Status{domain.StatusCompleted, domain.StatusCompleted, domain.StatusPending}
	for i, item := range current {
		if item.Status != want[i] {
			t.Fatalf("item %d: expected %s, got %s", i, want[i], item.Status)
		}
		if item.DispatchedAt != nil {
			t.Fatalf("item %d: dispatchedAt set after rejected batch", i)
		}
	}
	if e.metrics.transitions[domain.StatusDispatched] != 0 {
		t.Fatalf("expected no dispatch metrics for a rejected batch")
	}
}

func TestDispatchPendingItemAlwaysFails(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 1, domain.OrderTypeOneUnit)
	id := agg.Items[0].ID
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := e.fulfillment.DispatchItems(ctx, []string{id}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("attempt %d: expected invalid transition, got %v", attempt, err)
		}
	}
	items, err := e.orders.ListItemsByOrder(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items[0].Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", items[0].Status)
	}
}

func TestTransitionsMaintainTimestampsAndOrderStatus(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 1, domain.OrderTypeTwoUnits)
	ids := itemIDs(agg.Items)

	if _, err := e.fulfillment.StartItems(ctx, ids[:1]); err != nil {
		t.Fatalf("start: %v", err)
	}
	order, err := e.orders.GetOrder(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Order.Status != domain.StatusInProgress {
		t.Fatalf("expected order in progress, got %s", order.Order.Status)
	}

	e.now = e.now.Add(time.Hour)
	completed, err := e.fulfillment.CompleteItems(ctx, ids)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	for _, item := range completed {
		if item.CompletedAt == nil || !item.CompletedAt.Equal(e.now) {
			t.Fatalf("expected completedAt %s, got %v", e.now, item.CompletedAt)
		}
	}
	order, _ = e.orders.GetOrder(ctx, agg.Order.ID)
	if order.Order.Status != domain.StatusCompleted || order.Order.CompletedAt == nil {
		t.Fatalf("expected completed order with timestamp, got %+v", order.Order)
	}

	e.now = e.now.Add(time.Hour)
	dispatched, err := e.fulfillment.DispatchItems(ctx, ids)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched[0].DispatchedAt == nil || !dispatched[0].DispatchedAt.Equal(e.now) {
		t.Fatalf("expected dispatchedAt %s, got %v", e.now, dispatched[0].DispatchedAt)
	}

	reopened, err := e.fulfillment.ReopenItems(ctx, ids[:1])
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened[0].Status != domain.StatusPending || reopened[0].CompletedAt != nil || reopened[0].DispatchedAt != nil {
		t.Fatalf("expected reopened item with cleared timestamps, got %+v", reopened[0])
	}
	order, _ = e.orders.GetOrder(ctx, agg.Order.ID)
	if order.Order.Status != domain.StatusInProgress {
		t.Fatalf("expected order back in progress, got %s", order.Order.Status)
	}
	if got := len(e.events.ofType(EventItemsTransitioned)); got != 4 {
		t.Fatalf("expected 4 transition events, got %d", got)
	}
}

func TestTransitionItemsValidatesInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.fulfillment.TransitionItems(ctx, []string{" ", ""}, domain.StatusCompleted); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.fulfillment.TransitionItems(ctx, []string{"itm_1"}, "Shipped"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := e.fulfillment.CompleteItems(ctx, []string{"itm_missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkOrderDispatchedRequiresCompletedOrder(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)
	if _, err := e.fulfillment.MarkOrderDispatched(ctx, agg.Order.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for a pending order, got %v", err)
	}

	completed, err := e.fulfillment.MarkOrderCompleted(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if completed.Order.Status != domain.StatusCompleted {
		t.Fatalf("expected completed order, got %s", completed.Order.Status)
	}

	dispatched, err := e.fulfillment.MarkOrderDispatched(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	if dispatched.Order.Status != domain.StatusDispatched || dispatched.Order.DispatchedAt == nil {
		t.Fatalf("expected dispatched order, got %+v", dispatched.Order)
	}
	for _, item := range dispatched.Items {
		if item.Status != domain.StatusDispatched || item.DispatchedAt == nil {
			t.Fatalf("expected dispatched item, got %+v", item)
		}
	}

	if _, err := e.fulfillment.MarkOrderDispatched(ctx, agg.Order.ID); err != nil {
		t.Fatalf("expected repeated dispatch to be a no-op, got %v", err)
	}
}

func TestMarkOrderCompletedLeavesFinishedItems(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 3, domain.OrderTypeOneUnit)
	ids := itemIDs(agg.Items)
	if _, err := e.fulfillment.CancelItems(ctx, ids[:1]); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	result, err := e.fulfillment.MarkOrderCompleted(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if result.Items[0].Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled item untouched, got %s", result.Items[0].Status)
	}
	if result.Order.Status != domain.StatusCompleted {
		t.Fatalf("expected cancelled items ignored by order status, got %s", result.Order.Status)
	}
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	open := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)
	cancelled, err := e.fulfillment.CancelOrder(ctx, open.Order.ID)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.Order.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled order, got %s", cancelled.Order.Status)
	}

	done := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)
	if _, err := e.fulfillment.CompleteItems(ctx, itemIDs(done.Items)[:1]); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.fulfillment.CancelOrder(ctx, done.Order.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed item to block cancellation, got %v", err)
	}
	items, _ := e.orders.ListItemsByOrder(ctx, done.Order.ID)
	if items[1].Status != domain.StatusPending {
		t.Fatalf("expected no partial cancellation, got %s", items[1].Status)
	}
}

func TestTransferItemIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 1, domain.OrderTypeTwoUnits)
	ids := itemIDs(agg.Items)

	if _, err := e.fulfillment.TransferItem(ctx, ids[0]); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending item transfer to fail, got %v", err)
	}
	if _, err := e.fulfillment.CompleteItems(ctx, ids); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.fulfillment.DispatchItems(ctx, ids); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	first, err := e.fulfillment.TransferItem(ctx, ids[0])
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if first.AlreadyTransferred || first.Product.ID != "PRD00001" {
		t.Fatalf("unexpected first transfer %+v", first)
	}
	if first.Product.SerialNumber != agg.Items[0].SerialNumber || first.Product.BoxNumber != 1 || first.Product.OrderID != agg.Order.ID {
		t.Fatalf("product does not mirror item: %+v", first.Product)
	}
	if first.OrderTransferred {
		t.Fatalf("order must not be transferred while a sibling is pending transfer")
	}

	again, err := e.fulfillment.TransferItem(ctx, ids[0])
	if err != nil {
		t.Fatalf("repeat transfer: %v", err)
	}
	if !again.AlreadyTransferred || again.Product.ID != first.Product.ID {
		t.Fatalf("expected the existing product, got %+v", again)
	}

	last, err := e.fulfillment.TransferItem(ctx, ids[1])
	if err != nil {
		t.Fatalf("transfer sibling: %v", err)
	}
	if last.Product.ID != "PRD00002" || !last.OrderTransferred {
		t.Fatalf("expected order transferred with PRD00002, got %+v", last)
	}
	order, _ := e.orders.GetOrder(ctx, agg.Order.ID)
	if !order.Order.IsTransferredToProduct {
		t.Fatalf("expected order flagged transferred")
	}
	if _, err := e.fulfillment.ReopenItems(ctx, ids[:1]); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected transferred item to reject transitions, got %v", err)
	}
	if got := len(e.events.ofType(EventItemTransferred)); got != 2 {
		t.Fatalf("expected 2 transfer events, got %d", got)
	}
}

func TestTransferOrderReportsSkippedItems(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	agg := e.createOrder(t, factory, model, 3, domain.OrderTypeOneUnit)
	ids := itemIDs(agg.Items)
	if _, err := e.fulfillment.CompleteItems(ctx, ids[:2]); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.fulfillment.DispatchItems(ctx, ids[:2]); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := e.fulfillment.TransferItem(ctx, ids[0]); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	report, err := e.fulfillment.TransferOrder(ctx, agg.Order.ID)
	if err != nil {
		t.Fatalf("transfer order: %v", err)
	}
	if report.AlreadyTransferred != 1 || len(report.Transferred) != 1 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Skipped[0].ItemID != ids[2] || report.OrderTransferred {
		t.Fatalf("expected pending item skipped and order untransferred, got %+v", report)
	}
	if _, err := e.fulfillment.TransferOrder(ctx, "ORD09999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
