package domain

import (
	"fmt"
	"time"
)

// TransitionBlocker returns why item cannot move to target, or "" when the move is allowed.
func TransitionBlocker(item OrderItem, target Status) string {
	if !target.Valid() {
		return fmt.Sprintf("unknown status %q", target)
	}
	if item.IsTransferredToProduct {
		return "item already transferred to product"
	}
	switch target {
	case StatusPending:
		return ""
	case StatusInProgress:
		if item.Status == StatusPending {
			return ""
		}
	case StatusCompleted:
		switch item.Status {
		case StatusPending, StatusInProgress, StatusCompleted:
			return ""
		}
	case StatusDispatched:
		if item.Status == StatusCompleted {
			return ""
		}
		return fmt.Sprintf("item must be %s to dispatch, is %s", StatusCompleted, item.Status)
	case StatusCancelled:
		switch item.Status {
		case StatusPending, StatusInProgress:
			return ""
		}
	}
	return fmt.Sprintf("cannot move from %s to %s", item.Status, target)
}

// ApplyTransition returns item moved to target with its timestamps maintained.
// Callers must check TransitionBlocker first.
func ApplyTransition(item OrderItem, target Status, now time.Time) OrderItem {
	switch target {
	case StatusPending, StatusInProgress:
		item.CompletedAt = nil
		item.DispatchedAt = nil
	case StatusCompleted:
		if item.Status != StatusCompleted || item.CompletedAt == nil {
			item.CompletedAt = timePtr(now)
		}
		item.DispatchedAt = nil
	case StatusDispatched:
		item.DispatchedAt = timePtr(now)
	}
	item.Status = target
	item.UpdatedAt = now
	return item
}

// DeriveOrderStatus computes the order status from its items. Cancelled items are ignored
// unless every item is cancelled.
func DeriveOrderStatus(items []OrderItem) Status {
	if len(items) == 0 {
		return StatusPending
	}
	var active, dispatched, done, started int
	for _, item := range items {
		if item.Status == StatusCancelled {
			continue
		}
		active++
		switch item.Status {
		case StatusDispatched:
			dispatched++
			done++
			started++
		case StatusCompleted:
			done++
			started++
		case StatusInProgress:
			started++
		}
	}
	switch {
	case active == 0:
		return StatusCancelled
	case dispatched == active:
		return StatusDispatched
	case done == active:
		return StatusCompleted
	case started > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}

// RefreshOrder recomputes the order fields that mirror its items.
func RefreshOrder(order Order, items []OrderItem) Order {
	if len(items) == 0 {
		return order
	}
	order.Status = DeriveOrderStatus(items)

	var completed, dispatched *time.Time
	transferred := true
	for _, item := range items {
		if !item.IsTransferredToProduct {
			transferred = false
		}
		if item.CompletedAt != nil && (completed == nil || item.CompletedAt.After(*completed)) {
			completed = item.CompletedAt
		}
		if item.DispatchedAt != nil && (dispatched == nil || item.DispatchedAt.After(*dispatched)) {
			dispatched = item.DispatchedAt
		}
	}
	switch order.Status {
	case StatusCompleted:
		order.CompletedAt = clonePtr(completed)
		order.DispatchedAt = nil
	case StatusDispatched:
		order.CompletedAt = clonePtr(completed)
		order.DispatchedAt = clonePtr(dispatched)
	case StatusCancelled:
	default:
		order.CompletedAt = nil
		order.DispatchedAt = nil
	}
	order.IsTransferredToProduct = transferred
	return order
}

// TransferBlocker returns why item cannot be converted into a product, or "".
func TransferBlocker(item OrderItem) string {
	if item.Status != StatusDispatched {
		return fmt.Sprintf("item must be %s to transfer, is %s", StatusDispatched, item.Status)
	}
	return ""
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
