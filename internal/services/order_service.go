package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

const (
	itemIDPrefix = "itm_"

	// DefaultMaxUnitsPerOrder bounds TotalUnits when no limit is configured.
	DefaultMaxUnitsPerOrder = 5000

	minOrderYear = 2000
	maxOrderYear = 2099

	maxUpdateAttempts = 3
)

var errStaleDirectory = errors.New("order references changed during update")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Items       repositories.ItemRepository
	Directory   repositories.DirectoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      LoggerFunc
	Metrics     EngineMetrics

	MaxUnitsPerOrder int
}

type orderService struct {
	orders    repositories.OrderRepository
	items     repositories.ItemRepository
	directory repositories.DirectoryRepository
	clock     func() time.Time
	newID     func() string
	emit      emitter
	logger    LoggerFunc
	metrics   EngineMetrics
	maxUnits  int
}

// orderShape is a validated, resolved description of the items an order needs.
type orderShape struct {
	month       int
	year        int
	factory     domain.Factory
	model       domain.Model
	categoryRef string
	quantity    int
	orderType   domain.OrderType
	unitsPerBox int
	totalUnits  int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("order service: item repository is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("order service: directory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	maxUnits := deps.MaxUnitsPerOrder
	if maxUnits <= 0 {
		maxUnits = DefaultMaxUnitsPerOrder
	}

	return &orderService{
		orders:    deps.Orders,
		items:     deps.Items,
		directory: deps.Directory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		emit:     newEmitter(deps.Events, logger, clock),
		logger:   logger,
		metrics:  metrics,
		maxUnits: maxUnits,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.OrderAggregate, error) {
	unitsPerBox, totalUnits, err := s.validateShape(req.Month, req.Year, req.Quantity, req.OrderType)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	factory, model, err := s.resolveDirectory(ctx, req.FactoryID, req.ModelID)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	shape := orderShape{
		month:       req.Month,
		year:        req.Year,
		factory:     factory,
		model:       model,
		categoryRef: strings.TrimSpace(req.CategoryRef),
		quantity:    req.Quantity,
		orderType:   req.OrderType,
		unitsPerBox: unitsPerBox,
		totalUnits:  totalUnits,
	}

	now := s.clock()
	agg, err := s.orders.Create(ctx, func(ctx context.Context, alloc repositories.Allocator) (domain.OrderAggregate, error) {
		seq, err := alloc.NextSequence(ctx, domain.OrderIDPrefix)
		if err != nil {
			return domain.OrderAggregate{}, err
		}
		order := domain.Order{
			ID:        domain.FormatSequentialID(domain.OrderIDPrefix, domain.SequentialIDWidth, seq),
			CreatedAt: now,
		}
		return s.assemble(ctx, alloc, order, shape, now)
	})
	if err != nil {
		return domain.OrderAggregate{}, mapStoreError(err)
	}

	s.metrics.SerialsAllocated(ctx, factory.ID, int64(totalUnits))
	s.logger(ctx, "order.created", map[string]any{
		"orderId":    agg.Order.ID,
		"serial":     agg.Order.SerialNumber,
		"factoryId":  factory.ID,
		"totalUnits": totalUnits,
	})
	s.emit.publish(ctx, Event{
		Type:      EventOrderCreated,
		OrderID:   agg.Order.ID,
		FactoryID: factory.ID,
		Metadata: map[string]any{
			"serialNumber": agg.Order.SerialNumber,
			"serialStart":  agg.Order.SerialStart,
			"serialEnd":    agg.Order.SerialEnd,
			"totalUnits":   totalUnits,
		},
	})
	return agg, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, orderID string, patch UpdateOrderPatch) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if patch == (UpdateOrderPatch{}) {
		return domain.Order{}, fmt.Errorf("%w: patch contains no changes", ErrValidation)
	}

	var (
		agg         domain.OrderAggregate
		structural  bool
		prefixDrift bool
		err         error
	)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		agg, structural, prefixDrift, err = s.applyUpdate(ctx, orderID, patch)
		if !errors.Is(err, errStaleDirectory) {
			break
		}
	}
	if errors.Is(err, errStaleDirectory) {
		err = fmt.Errorf("%w: order %s kept changing during update", ErrTransient, orderID)
	}
	if err != nil {
		return domain.Order{}, mapStoreError(err)
	}

	fields := map[string]any{
		"orderId":    orderID,
		"structural": structural,
		"totalUnits": agg.Order.TotalUnits,
	}
	if structural {
		s.metrics.SerialsAllocated(ctx, agg.Order.FactoryID, int64(agg.Order.TotalUnits))
		fields["serial"] = agg.Order.SerialNumber
	}
	if prefixDrift {
		fields["prefixDrift"] = true
		s.logger(ctx, "order.update.prefix_drift", map[string]any{
			"orderId": orderID,
			"serial":  agg.Order.SerialNumber,
		})
	}
	s.logger(ctx, "order.updated", fields)
	s.emit.publish(ctx, Event{
		Type:      EventOrderUpdated,
		OrderID:   orderID,
		FactoryID: agg.Order.FactoryID,
		Metadata:  fields,
	})
	return agg.Order, nil
}

// applyUpdate merges patch onto the stored order inside the transaction. Directory records are
// resolved beforehand from a plain read; errStaleDirectory reports that the stored references
// moved in between and the resolution has to be repeated.
func (s *orderService) applyUpdate(ctx context.Context, orderID string, patch UpdateOrderPatch) (domain.OrderAggregate, bool, bool, error) {
	var (
		factory  domain.Factory
		model    domain.Model
		resolved bool
	)
	if patch.Quantity != nil || patch.OrderType != nil || patch.FactoryID != nil || patch.ModelID != nil {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return domain.OrderAggregate{}, false, false, err
		}
		factoryID, modelID := current.FactoryID, current.ModelID
		if patch.FactoryID != nil {
			factoryID = *patch.FactoryID
		}
		if patch.ModelID != nil {
			modelID = *patch.ModelID
		}
		if factory, model, err = s.resolveDirectory(ctx, factoryID, modelID); err != nil {
			return domain.OrderAggregate{}, false, false, err
		}
		resolved = true
	}

	var structural, prefixDrift bool
	now := s.clock()
	agg, err := s.orders.Mutate(ctx, orderID, func(ctx context.Context, cur domain.OrderAggregate, alloc repositories.Allocator) (domain.OrderAggregate, error) {
		structural, prefixDrift = false, false
		if failures := transferredItems(cur.Items, "order has items transferred to products"); len(failures) > 0 {
			return domain.OrderAggregate{}, &TransitionError{Failures: failures}
		}

		prev := cur.Order
		next := mergePatch(prev, patch)
		unitsPerBox, totalUnits, err := s.validateShape(next.Month, next.Year, next.Quantity, next.OrderType)
		if err != nil {
			return domain.OrderAggregate{}, err
		}
		structural = next.Quantity != prev.Quantity || next.OrderType != prev.OrderType

		if structural {
			if !resolved || factory.ID != next.FactoryID || model.ID != next.ModelID {
				return domain.OrderAggregate{}, errStaleDirectory
			}
			shape := orderShape{
				month:       next.Month,
				year:        next.Year,
				factory:     factory,
				model:       model,
				categoryRef: next.CategoryRef,
				quantity:    next.Quantity,
				orderType:   next.OrderType,
				unitsPerBox: unitsPerBox,
				totalUnits:  totalUnits,
			}
			return s.assemble(ctx, alloc, prev, shape, now)
		}

		prefixDrift = next.FactoryID != prev.FactoryID || next.ModelID != prev.ModelID ||
			next.Month != prev.Month || next.Year != prev.Year
		next.UpdatedAt = now
		items := make([]domain.OrderItem, len(cur.Items))
		for i, item := range cur.Items {
			item.Month = next.Month
			item.Year = next.Year
			item.FactoryID = next.FactoryID
			item.ModelID = next.ModelID
			item.CategoryRef = next.CategoryRef
			item.UpdatedAt = now
			items[i] = item
		}
		return domain.OrderAggregate{Order: next, Items: items}, nil
	})
	return agg, structural, prefixDrift, err
}

func mergePatch(order domain.Order, patch UpdateOrderPatch) domain.Order {
	if patch.Month != nil {
		order.Month = *patch.Month
	}
	if patch.Year != nil {
		order.Year = *patch.Year
	}
	if patch.Quantity != nil {
		order.Quantity = *patch.Quantity
	}
	if patch.OrderType != nil {
		order.OrderType = *patch.OrderType
	}
	if patch.FactoryID != nil {
		order.FactoryID = strings.TrimSpace(*patch.FactoryID)
	}
	if patch.ModelID != nil {
		order.ModelID = strings.TrimSpace(*patch.ModelID)
	}
	if patch.CategoryRef != nil {
		order.CategoryRef = strings.TrimSpace(*patch.CategoryRef)
	}
	return order
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) (DeleteOrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return DeleteOrderResult{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	removed, err := s.orders.Delete(ctx, orderID)
	if err != nil {
		return DeleteOrderResult{}, mapStoreError(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{"orderId": orderID, "itemsRemoved": removed})
	s.emit.publish(ctx, Event{
		Type:     EventOrderDeleted,
		OrderID:  orderID,
		Metadata: map[string]any{"itemsRemoved": removed},
	})
	return DeleteOrderResult{OrderID: orderID, ItemsRemoved: removed}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.OrderAggregate, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderAggregate{}, fmt.Errorf("%w: order id is required", ErrValidation)
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

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	orders, err := s.orders.List(ctx, repositories.OrderFilter{
		FactoryID: strings.TrimSpace(filter.FactoryID),
		Status:    filter.Status,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return orders, nil
}

func (s *orderService) ListItemsByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	agg, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return agg.Items, nil
}

func (s *orderService) ListItemsByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if boxNumber < 1 {
		return nil, fmt.Errorf("%w: box number must be at least 1", ErrValidation)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, mapStoreError(err)
	}
	items, err := s.items.ListByBox(ctx, orderID, boxNumber)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return items, nil
}

func (s *orderService) BoxesForOrder(ctx context.Context, orderID string) ([]Box, error) {
	items, err := s.ListItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var boxes []Box
	for _, item := range items {
		if n := len(boxes); n == 0 || boxes[n-1].Number != item.BoxNumber {
			boxes = append(boxes, Box{OrderID: item.OrderID, Number: item.BoxNumber})
		}
		last := &boxes[len(boxes)-1]
		last.Items = append(last.Items, item)
	}
	return boxes, nil
}

// assemble allocates a fresh counter range and regenerates every item of order.
func (s *orderService) assemble(ctx context.Context, alloc repositories.Allocator, order domain.Order, shape orderShape, now time.Time) (domain.OrderAggregate, error) {
	prev, err := alloc.AllocateSerials(ctx, shape.factory.ID, int64(shape.totalUnits))
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	start, end, err := domain.CounterRange(prev, int64(shape.totalUnits))
	if err != nil {
		return domain.OrderAggregate{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	order.SerialNumber = domain.OrderRangeSerial(shape.month, shape.year, shape.factory.Code, shape.model.Code, start, end)
	order.Month = shape.month
	order.Year = shape.year
	order.CategoryRef = shape.categoryRef
	order.ModelID = shape.model.ID
	order.FactoryID = shape.factory.ID
	order.Quantity = shape.quantity
	order.OrderType = shape.orderType
	order.UnitsPerBox = shape.unitsPerBox
	order.TotalUnits = shape.totalUnits
	order.SerialStart = start
	order.SerialEnd = end
	order.Status = domain.StatusPending
	order.IsTransferredToProduct = false
	order.CompletedAt = nil
	order.DispatchedAt = nil
	order.UpdatedAt = now

	items := make([]domain.OrderItem, shape.totalUnits)
	for i := range items {
		counter := start + int64(i)
		items[i] = domain.OrderItem{
			ID:            itemIDPrefix + s.newID(),
			OrderID:       order.ID,
			SerialNumber:  domain.ItemSerial(shape.month, shape.year, shape.factory.Code, shape.model.Code, counter),
			SerialCounter: counter,
			Month:         shape.month,
			Year:          shape.year,
			CategoryRef:   shape.categoryRef,
			ModelID:       shape.model.ID,
			FactoryID:     shape.factory.ID,
			OrderType:     shape.orderType,
			UnitsPerBox:   shape.unitsPerBox,
			BoxNumber:     domain.BoxNumber(i, shape.unitsPerBox),
			Status:        domain.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return domain.OrderAggregate{Order: order, Items: items}, nil
}

func (s *orderService) validateShape(month, year, quantity int, orderType domain.OrderType) (int, int, error) {
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month must be between 1 and 12, got %d", ErrValidation, month)
	}
	if year < minOrderYear || year > maxOrderYear {
		return 0, 0, fmt.Errorf("%w: year must be a four digit year between %d and %d, got %d", ErrValidation, minOrderYear, maxOrderYear, year)
	}
	if quantity <= 0 {
		return 0, 0, fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, quantity)
	}
	unitsPerBox, ok := orderType.UnitsPerBox()
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown order type %q", ErrValidation, orderType)
	}
	if quantity > s.maxUnits/unitsPerBox {
		return 0, 0, fmt.Errorf("%w: order exceeds %d units", ErrValidation, s.maxUnits)
	}
	return unitsPerBox, quantity * unitsPerBox, nil
}

func (s *orderService) resolveDirectory(ctx context.Context, factoryID, modelID string) (domain.Factory, domain.Model, error) {
	factoryID = strings.TrimSpace(factoryID)
	modelID = strings.TrimSpace(modelID)
	if factoryID == "" {
		return domain.Factory{}, domain.Model{}, fmt.Errorf("%w: factory is required", ErrValidation)
	}
	if modelID == "" {
		return domain.Factory{}, domain.Model{}, fmt.Errorf("%w: model is required", ErrValidation)
	}
	factory, err := s.directory.GetFactory(ctx, factoryID)
	if err != nil {
		return domain.Factory{}, domain.Model{}, mapStoreError(err)
	}
	model, err := s.directory.GetModel(ctx, modelID)
	if err != nil {
		return domain.Factory{}, domain.Model{}, mapStoreError(err)
	}
	return factory, model, nil
}

func transferredItems(items []domain.OrderItem, reason string) []ItemTransitionFailure {
	var failures []ItemTransitionFailure
	for _, item := range items {
		if item.IsTransferredToProduct {
			failures = append(failures, ItemTransitionFailure{ItemID: item.ID, From: item.Status, To: item.Status, Reason: reason})
		}
	}
	return failures
}
