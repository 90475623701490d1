package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type orderStore struct{ r *Registry }

func (s orderStore) Create(ctx context.Context, build repositories.AggregateBuilder) (domain.OrderAggregate, error) {
	if build == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "builder is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderAggregate{}, err
	}

	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	tx := s.r.begin()
	agg, err := build(ctx, tx)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := repositories.ValidateAggregate(agg); err != nil {
		return domain.OrderAggregate{}, err
	}
	if _, exists := s.r.orders[agg.Order.ID]; exists {
		return domain.OrderAggregate{}, repositories.Duplicate("order", agg.Order.ID, nil)
	}
	if err := s.r.checkOrderSerial(agg.Order); err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := s.r.checkItemSerials(agg.Items, nil); err != nil {
		return domain.OrderAggregate{}, err
	}
	for _, item := range agg.Items {
		if _, exists := s.r.items[item.ID]; exists {
			return domain.OrderAggregate{}, repositories.Duplicate("order item", item.ID, nil)
		}
	}
	if err := s.r.commit("orders.create"); err != nil {
		return domain.OrderAggregate{}, err
	}

	tx.apply(s.r.now())
	s.r.orders[agg.Order.ID] = agg.Order
	for _, item := range agg.Items {
		s.r.items[item.ID] = item
	}
	return cloneAggregate(agg), nil
}

func (s orderStore) Mutate(ctx context.Context, orderID string, fn repositories.AggregateMutator) (domain.OrderAggregate, error) {
	if fn == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderAggregate{}, err
	}
	orderID = strings.TrimSpace(orderID)

	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	order, ok := s.r.orders[orderID]
	if !ok {
		return domain.OrderAggregate{}, repositories.NotFound("order", orderID)
	}
	current := domain.OrderAggregate{Order: order, Items: s.r.itemsOf(orderID)}

	tx := s.r.begin()
	next, err := fn(ctx, cloneAggregate(current), tx)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderAggregate{}, err
	}
	diff, err := repositories.DiffAggregate(current, next)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	for _, item := range diff.Added {
		if _, taken := s.r.items[item.ID]; taken {
			return domain.OrderAggregate{}, repositories.Duplicate("order item", item.ID, nil)
		}
	}
	removed := diff.RemovedIDs()

	if err := s.r.checkOrderSerial(next.Order); err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := s.r.checkItemSerials(diff.Added, removed); err != nil {
		return domain.OrderAggregate{}, err
	}
	if err := s.r.commit("orders.mutate"); err != nil {
		return domain.OrderAggregate{}, err
	}

	tx.apply(s.r.now())
	for id := range removed {
		delete(s.r.items, id)
	}
	for _, item := range next.Items {
		s.r.items[item.ID] = item
	}
	s.r.orders[orderID] = next.Order
	return cloneAggregate(next), nil
}

func (s orderStore) Delete(ctx context.Context, orderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	orderID = strings.TrimSpace(orderID)
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.orders[orderID]; !ok {
		return 0, repositories.NotFound("order", orderID)
	}
	if err := s.r.commit("orders.delete"); err != nil {
		return 0, err
	}
	removed := 0
	for id, item := range s.r.items {
		if item.OrderID == orderID {
			delete(s.r.items, id)
			removed++
		}
	}
	delete(s.r.orders, orderID)
	return removed, nil
}

func (s orderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	order, ok := s.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("order", orderID)
	}
	return order, nil
}

func (s orderStore) List(ctx context.Context, filter repositories.OrderFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]domain.Order, 0, len(s.r.orders))
	for _, order := range s.r.orders {
		if filter.FactoryID != "" && order.FactoryID != filter.FactoryID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s orderStore) DeleteByIDs(ctx context.Context, orderIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.r.commit("orders.deleteByIDs"); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range orderIDs {
		if _, ok := s.r.orders[id]; ok {
			delete(s.r.orders, id)
			removed++
		}
	}
	return removed, nil
}

func (r *Registry) itemsOf(orderID string) []domain.OrderItem {
	var out []domain.OrderItem
	for _, item := range r.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	repositories.SortItems(out)
	return out
}

func (r *Registry) checkOrderSerial(order domain.Order) error {
	for id, other := range r.orders {
		if id != order.ID && other.SerialNumber == order.SerialNumber {
			return repositories.Duplicate("order serial", order.SerialNumber, nil)
		}
	}
	return nil
}

// checkItemSerials verifies that added serials are unique among themselves and among stored items
// that are not about to be removed.
func (r *Registry) checkItemSerials(added []domain.OrderItem, removed map[string]struct{}) error {
	if len(added) == 0 {
		return nil
	}
	wanted := make(map[string]string, len(added))
	for _, item := range added {
		if _, dup := wanted[item.SerialNumber]; dup {
			return repositories.Duplicate("item serial", item.SerialNumber, nil)
		}
		wanted[item.SerialNumber] = item.ID
	}
	for id, item := range r.items {
		if _, gone := removed[id]; gone {
			continue
		}
		if owner, clash := wanted[item.SerialNumber]; clash && owner != id {
			return repositories.Duplicate("item serial", item.SerialNumber, nil)
		}
	}
	return nil
}

func cloneAggregate(agg domain.OrderAggregate) domain.OrderAggregate {
	items := make([]domain.OrderItem, len(agg.Items))
	copy(items, agg.Items)
	return domain.OrderAggregate{Order: agg.Order, Items: items}
}
