package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

// FulfillmentServiceDeps bundles collaborators for the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders  repositories.OrderRepository
	Items   repositories.ItemRepository
	Clock   func() time.Time
	Events  EventPublisher
	Logger  LoggerFunc
	Metrics EngineMetrics
}

type fulfillmentService struct {
	orders  repositories.OrderRepository
	items   repositories.ItemRepository
	clock   func() time.Time
	emit    emitter
	logger  LoggerFunc
	metrics EngineMetrics
}

// NewFulfillmentService constructs the item and order lifecycle service.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("fulfillment service: item repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &fulfillmentService{
		orders: deps.Orders,
		items:  deps.Items,
		clock: func() time.Time {
			return clock().UTC()
		},
		emit:    newEmitter(deps.Events, logger, clock),
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (s *fulfillmentService) StartItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	return s.TransitionItems(ctx, itemIDs, domain.StatusInProgress)
}

func (s *fulfillmentService) CompleteItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	return s.TransitionItems(ctx, itemIDs, domain.StatusCompleted)
}

func (s *fulfillmentService) DispatchItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	return s.TransitionItems(ctx, itemIDs, domain.StatusDispatched)
}

func (s *fulfillmentService) ReopenItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	return s.TransitionItems(ctx, itemIDs, domain.StatusPending)
}

func (s *fulfillmentService) CancelItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	return s.TransitionItems(ctx, itemIDs, domain.StatusCancelled)
}

// TransitionItems moves every item to target or none of them.
func (s *fulfillmentService) TransitionItems(ctx context.Context, itemIDs []string, target domain.Status) ([]domain.OrderItem, error) {
	ids := normalizeIDs(itemIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one item id is required", ErrValidation)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	now := s.clock()
	updated, err := s.items.Apply(ctx, ids, func(_ context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
		var failures []ItemTransitionFailure
		for _, item := range items {
			if reason := domain.TransitionBlocker(item, target); reason != "" {
				failures = append(failures, ItemTransitionFailure{ItemID: item.ID, From: item.Status, To: target, Reason: reason})
			}
		}
		if len(failures) > 0 {
			return nil, &TransitionError{Failures: failures}
		}
		out := make([]domain.OrderItem, len(items))
		for i, item := range items {
			out[i] = domain.ApplyTransition(item, target, now)
		}
		return out, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.recordTransition(ctx, updated, target)
	return updated, nil
}

// MarkOrderCompleted completes every Pending or In Progress item of the order.
func (s *fulfillmentService) MarkOrderCompleted(ctx context.Context, orderID string) (domain.OrderAggregate, error) {
	return s.cascade(ctx, orderID, domain.StatusCompleted, func(order domain.Status, item domain.OrderItem) (bool, string) {
		switch item.Status {
		case domain.StatusPending, domain.StatusInProgress:
			return true, ""
		}
		return false, ""
	})
}

// MarkOrderDispatched dispatches every Completed item once the order itself is Completed.
func (s *fulfillmentService) MarkOrderDispatched(ctx context.Context, orderID string) (domain.OrderAggregate, error) {
	return s.cascade(ctx, orderID, domain.StatusDispatched, func(order domain.Status, item domain.OrderItem) (bool, string) {
		if order != domain.StatusCompleted && order != domain.StatusDispatched {
			return false, fmt.Sprintf("order must be %s to dispatch, is %s", domain.StatusCompleted, order)
		}
		return item.Status == domain.StatusCompleted, ""
	})
}

// CancelOrder cancels every open item. Completed or dispatched items block the whole order.
func (s *fulfillmentService) CancelOrder(ctx context.Context, orderID string) (domain.OrderAggregate, error) {
	return s.cascade(ctx, orderID, domain.StatusCancelled, func(_ domain.Status, item domain.OrderItem) (bool, string) {
		switch item.Status {
		case domain.StatusPending, domain.StatusInProgress:
			return true, ""
		case domain.StatusCancelled:
			return false, ""
		}
		return false, fmt.Sprintf("cannot cancel a %s item", item.Status)
	})
}

// cascadeRule decides per item whether it moves. A non-empty reason rejects the order.
type cascadeRule func(order domain.Status, item domain.OrderItem) (bool, string)

func (s *fulfillmentService) cascade(ctx context.Context, orderID string, target domain.Status, rule cascadeRule) (domain.OrderAggregate, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderAggregate{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}
	current, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}
	if len(current) == 0 {
		return domain.OrderAggregate{}, fmt.Errorf("%w: order %s has no items", ErrInvalidTransition, orderID)
	}
	ids := make([]string, len(current))
	for i, item := range current {
		ids[i] = item.ID
	}

	now := s.clock()
	var moved []domain.OrderItem
	_, err = s.items.Apply(ctx, ids, func(_ context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
		moved = moved[:0]
		status := domain.DeriveOrderStatus(items)
		var failures []ItemTransitionFailure
		out := make([]domain.OrderItem, len(items))
		for i, item := range items {
			out[i] = item
			move, reason := rule(status, item)
			if reason == "" && move {
				reason = domain.TransitionBlocker(item, target)
			}
			if reason != "" {
				failures = append(failures, ItemTransitionFailure{ItemID: item.ID, From: item.Status, To: target, Reason: reason})
				continue
			}
			if move {
				out[i] = domain.ApplyTransition(item, target, now)
				moved = append(moved, out[i])
			}
		}
		if len(failures) > 0 {
			return nil, &TransitionError{Failures: failures}
		}
		return out, nil
	})
	if err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}

	if len(moved) > 0 {
		s.recordTransition(ctx, moved, target)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}
	items, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}
	return domain.OrderAggregate{Order: order, Items: items}, nil
}

// TransferItem converts a dispatched item into a product exactly once.
func (s *fulfillmentService) TransferItem(ctx context.Context, itemID string) (domain.TransferResult, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.TransferResult{}, fmt.Errorf("%w: item id is required", ErrValidation)
	}

	now := s.clock()
	result, err := s.items.Transfer(ctx, itemID, func(ctx context.Context, item domain.OrderItem, alloc repositories.Allocator) (domain.Product, error) {
		if reason := domain.TransferBlocker(item); reason != "" {
			return domain.Product{}, &TransitionError{Failures: []ItemTransitionFailure{{
				ItemID: item.ID, From: item.Status, To: item.Status, Reason: reason,
			}}}
		}
		seq, err := alloc.NextSequence(ctx, domain.ProductIDPrefix)
		if err != nil {
			return domain.Product{}, err
		}
		return domain.Product{
			ID:           domain.FormatSequentialID(domain.ProductIDPrefix, domain.SequentialIDWidth, seq),
			SerialNumber: item.SerialNumber,
			ModelID:      item.ModelID,
			FactoryID:    item.FactoryID,
			OrderID:      item.OrderID,
			OrderItemID:  item.ID,
			BoxNumber:    item.BoxNumber,
			CreatedAt:    now,
		}, nil
	})
	if err != nil {
		return domain.TransferResult{}, mapStoreError(err)
	}
	if result.AlreadyTransferred {
		return result, nil
	}

	s.logger(ctx, "item.transferred", map[string]any{
		"itemId":    result.Item.ID,
		"productId": result.Product.ID,
		"orderId":   result.Item.OrderID,
	})
	s.emit.publish(ctx, Event{
		Type:      EventItemTransferred,
		OrderID:   result.Item.OrderID,
		FactoryID: result.Item.FactoryID,
		Metadata: map[string]any{
			"itemId":           result.Item.ID,
			"productId":        result.Product.ID,
			"serialNumber":     result.Product.SerialNumber,
			"boxNumber":        result.Product.BoxNumber,
			"orderTransferred": result.OrderTransferred,
		},
	})
	return result, nil
}

// TransferOrder transfers every dispatched item of the order. Items that are not yet
// dispatched are reported as skipped.
func (s *fulfillmentService) TransferOrder(ctx context.Context, orderID string) (TransferOrderReport, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return TransferOrderReport{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TransferOrderReport{}, mapStoreError(err)
	}
	items, err := s.items.ListByOrder(ctx, orderID)
	if err != nil {
		return TransferOrderReport{}, mapStoreError(err)
	}

	report := TransferOrderReport{OrderID: orderID, OrderTransferred: order.IsTransferredToProduct}
	for _, item := range items {
		if item.IsTransferredToProduct {
			report.AlreadyTransferred++
			continue
		}
		if reason := domain.TransferBlocker(item); reason != "" {
			report.Skipped = append(report.Skipped, ItemTransitionFailure{ItemID: item.ID, From: item.Status, To: item.Status, Reason: reason})
			continue
		}
		result, err := s.TransferItem(ctx, item.ID)
		if err != nil {
			var te *TransitionError
			if errors.As(err, &te) {
				report.Skipped = append(report.Skipped, te.Failures...)
				continue
			}
			return report, err
		}
		if result.AlreadyTransferred {
			report.AlreadyTransferred++
		} else {
			report.Transferred = append(report.Transferred, result.Product)
		}
		report.OrderTransferred = result.OrderTransferred
	}
	return report, nil
}

func (s *fulfillmentService) recordTransition(ctx context.Context, items []domain.OrderItem, target domain.Status) {
	s.metrics.ItemsTransitioned(ctx, target, len(items))

	byOrder := make(map[string][]string)
	factories := make(map[string]string)
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item.ID)
		factories[item.OrderID] = item.FactoryID
	}
	orderIDs := make([]string, 0, len(byOrder))
	for id := range byOrder {
		orderIDs = append(orderIDs, id)
	}
	sort.Strings(orderIDs)

	for _, orderID := range orderIDs {
		s.logger(ctx, "items.transitioned", map[string]any{
			"orderId": orderID,
			"status":  string(target),
			"count":   len(byOrder[orderID]),
		})
		s.emit.publish(ctx, Event{
			Type:      EventItemsTransitioned,
			OrderID:   orderID,
			FactoryID: factories[orderID],
			Metadata: map[string]any{
				"status":  string(target),
				"itemIds": byOrder[orderID],
			},
		})
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
