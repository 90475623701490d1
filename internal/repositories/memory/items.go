package memory

import (
	"context"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type itemStore struct{ r *Registry }

func (s itemStore) FindByIDs(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.r.lookupItems(repositories.DedupeIDs(itemIDs))
}

func (s itemStore) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.r.itemsOf(strings.TrimSpace(orderID)), nil
}

func (s itemStore) ListByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	var out []domain.OrderItem
	for _, item := range s.r.itemsOf(strings.TrimSpace(orderID)) {
		if item.BoxNumber == boxNumber {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s itemStore) ListByFactory(ctx context.Context, factoryID string) ([]domain.OrderItem, error) {
	return s.list(ctx, func(item domain.OrderItem) bool { return item.FactoryID == factoryID })
}

func (s itemStore) ListAll(ctx context.Context) ([]domain.OrderItem, error) {
	return s.list(ctx, func(domain.OrderItem) bool { return true })
}

func (s itemStore) list(ctx context.Context, keep func(domain.OrderItem) bool) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	var out []domain.OrderItem
	for _, item := range s.r.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	repositories.SortItemsByCreation(out)
	return out, nil
}

func (s itemStore) Apply(ctx context.Context, itemIDs []string, fn repositories.ItemMutator) ([]domain.OrderItem, error) {
	if fn == nil {
		return nil, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	items, err := s.r.lookupItems(repositories.DedupeIDs(itemIDs))
	if err != nil {
		return nil, err
	}
	input := make([]domain.OrderItem, len(items))
	copy(input, items)
	updated, err := fn(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := repositories.CheckReplacements(items, updated); err != nil {
		return nil, err
	}

	replaced := make(map[string]domain.OrderItem, len(updated))
	for _, item := range updated {
		replaced[item.ID] = item
	}
	now := s.r.now()
	orders := make(map[string]domain.Order)
	for _, item := range updated {
		if _, done := orders[item.OrderID]; done {
			continue
		}
		order, ok := s.r.orders[item.OrderID]
		if !ok {
			continue
		}
		siblings := s.r.itemsOf(item.OrderID)
		for i := range siblings {
			if repl, ok := replaced[siblings[i].ID]; ok {
				siblings[i] = repl
			}
		}
		order = domain.RefreshOrder(order, siblings)
		order.UpdatedAt = now
		orders[order.ID] = order
	}
	if err := s.r.commit("items.apply"); err != nil {
		return nil, err
	}
	for _, item := range updated {
		s.r.items[item.ID] = item
	}
	for id, order := range orders {
		s.r.orders[id] = order
	}
	out := make([]domain.OrderItem, len(updated))
	copy(out, updated)
	return out, nil
}

func (s itemStore) Transfer(ctx context.Context, itemID string, mint repositories.TransferMinter) (domain.TransferResult, error) {
	if mint == nil {
		return domain.TransferResult{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "minter is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return domain.TransferResult{}, err
	}
	itemID = strings.TrimSpace(itemID)

	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	item, ok := s.r.items[itemID]
	if !ok {
		return domain.TransferResult{}, repositories.NotFound("order item", itemID)
	}
	if item.IsTransferredToProduct {
		product, ok := s.r.products[item.ProductID]
		if !ok {
			return domain.TransferResult{}, repositories.NotFound("product", item.ProductID)
		}
		order := s.r.orders[item.OrderID]
		return domain.TransferResult{Item: item, Product: product, OrderTransferred: order.IsTransferredToProduct, AlreadyTransferred: true}, nil
	}

	tx := s.r.begin()
	product, err := mint(ctx, item, tx)
	if err != nil {
		return domain.TransferResult{}, err
	}
	if product.ID == "" {
		return domain.TransferResult{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "product id is required", nil)
	}
	if _, exists := s.r.products[product.ID]; exists {
		return domain.TransferResult{}, repositories.Duplicate("product", product.ID, nil)
	}

	now := s.r.now()
	product.OrderItemID = item.ID
	item.IsTransferredToProduct = true
	item.ProductID = product.ID
	item.TransferredAt = &now
	item.UpdatedAt = now

	result := domain.TransferResult{Item: item, Product: product}
	order, hasOrder := s.r.orders[item.OrderID]
	if hasOrder {
		siblings := s.r.itemsOf(item.OrderID)
		for i := range siblings {
			if siblings[i].ID == item.ID {
				siblings[i] = item
			}
		}
		order = domain.RefreshOrder(order, siblings)
		order.UpdatedAt = now
		result.OrderTransferred = order.IsTransferredToProduct
	}
	if err := s.r.commit("items.transfer"); err != nil {
		return domain.TransferResult{}, err
	}
	tx.apply(now)
	s.r.products[product.ID] = product
	s.r.items[item.ID] = item
	if hasOrder {
		s.r.orders[order.ID] = order
	}
	return result, nil
}

func (s itemStore) Delete(ctx context.Context, itemIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.r.commit("items.delete"); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range itemIDs {
		if _, ok := s.r.items[id]; ok {
			delete(s.r.items, id)
			removed++
		}
	}
	return removed, nil
}

func (r *Registry) lookupItems(itemIDs []string) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := r.items[strings.TrimSpace(id)]
		if !ok {
			return nil, repositories.NotFound("order item", id)
		}
		out = append(out, item)
	}
	return out, nil
}
