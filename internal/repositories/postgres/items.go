package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type itemStore struct{ r *Registry }

func (s itemStore) FindByIDs(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	ids := repositories.DedupeIDs(itemIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := loadItems(ctx, s.r.pool, ids, false)
	if err != nil {
		return nil, translate("order_items.getAll", err, "", "")
	}
	return items, nil
}

func (s itemStore) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, `WHERE order_id = $1`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	repositories.SortItems(items)
	return items, nil
}

func (s itemStore) ListByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, `WHERE order_id = $1 AND box_number = $2`, strings.TrimSpace(orderID), boxNumber)
	if err != nil {
		return nil, err
	}
	repositories.SortItems(items)
	return items, nil
}

func (s itemStore) ListByFactory(ctx context.Context, factoryID string) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, `WHERE factory_id = $1`, factoryID)
	if err != nil {
		return nil, err
	}
	repositories.SortItemsByCreation(items)
	return items, nil
}

func (s itemStore) ListAll(ctx context.Context) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, ``)
	if err != nil {
		return nil, err
	}
	repositories.SortItemsByCreation(items)
	return items, nil
}

func (s itemStore) query(ctx context.Context, where string, args ...any) ([]domain.OrderItem, error) {
	rows, err := s.r.pool.Query(ctx, `SELECT `+itemColumns+` FROM order_items `+where, args...)
	if err != nil {
		return nil, translate("order_items.query", err, "", "")
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, translate("order_items.query", err, "", "")
	}
	return items, nil
}

func (s itemStore) Apply(ctx context.Context, itemIDs []string, fn repositories.ItemMutator) ([]domain.OrderItem, error) {
	if fn == nil {
		return nil, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	ids := repositories.DedupeIDs(itemIDs)

	var result []domain.OrderItem
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		items, err := loadItems(ctx, tx, ids, true)
		if err != nil {
			return err
		}
		input := make([]domain.OrderItem, len(items))
		copy(input, items)
		updated, err := fn(ctx, input)
		if err != nil {
			return err
		}
		if err := repositories.CheckReplacements(items, updated); err != nil {
			return err
		}

		for _, item := range updated {
			if _, err := tx.Exec(ctx, updateItemSQL, itemArgs(item)...); err != nil {
				return err
			}
		}
		now := s.r.now()
		refreshed := make(map[string]struct{})
		for _, item := range updated {
			if _, done := refreshed[item.OrderID]; done {
				continue
			}
			refreshed[item.OrderID] = struct{}{}
			if _, _, err := refreshOrder(ctx, tx, item.OrderID, now); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, translate("order_items.apply", err, "", "")
	}
	out := make([]domain.OrderItem, len(result))
	copy(out, result)
	return out, nil
}

func (s itemStore) Transfer(ctx context.Context, itemID string, mint repositories.TransferMinter) (domain.TransferResult, error) {
	if mint == nil {
		return domain.TransferResult{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "minter is required", nil)
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.TransferResult{}, repositories.NotFound("order item", itemID)
	}

	var result domain.TransferResult
	var productID string
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		items, err := loadItems(ctx, tx, []string{itemID}, true)
		if err != nil {
			return err
		}
		item := items[0]

		if item.IsTransferredToProduct {
			product, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, item.ProductID))
			if errors.Is(err, pgx.ErrNoRows) {
				return repositories.NotFound("product", item.ProductID)
			}
			if err != nil {
				return err
			}
			var orderTransferred bool
			err = tx.QueryRow(ctx, `SELECT is_transferred_to_product FROM orders WHERE id = $1`, item.OrderID).Scan(&orderTransferred)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			result = domain.TransferResult{Item: item, Product: product, OrderTransferred: orderTransferred, AlreadyTransferred: true}
			return nil
		}

		product, err := mint(ctx, item, newAllocator(s.r, tx))
		if err != nil {
			return err
		}
		if strings.TrimSpace(product.ID) == "" {
			return repositories.NewRecordError(repositories.RecordErrorInvalidInput, "product id is required", nil)
		}
		productID = product.ID

		now := s.r.now()
		product.OrderItemID = item.ID
		item.IsTransferredToProduct = true
		item.ProductID = product.ID
		item.TransferredAt = &now
		item.UpdatedAt = now

		if _, err := tx.Exec(ctx,
			`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			product.ID, product.SerialNumber, product.ModelID, product.FactoryID, product.OrderID,
			product.OrderItemID, product.BoxNumber, product.CreatedAt.UTC()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateItemSQL, itemArgs(item)...); err != nil {
			return err
		}
		order, hasOrder, err := refreshOrder(ctx, tx, item.OrderID, now)
		if err != nil {
			return err
		}
		result = domain.TransferResult{Item: item, Product: product, OrderTransferred: hasOrder && order.IsTransferredToProduct}
		return nil
	})
	if err != nil {
		return domain.TransferResult{}, translate("order_items.transfer", err, "product", productID)
	}
	return result, nil
}

func (s itemStore) Delete(ctx context.Context, itemIDs []string) (int, error) {
	ids := repositories.DedupeIDs(itemIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.r.pool.Exec(ctx, `DELETE FROM order_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, translate("order_items.delete", err, "", "")
	}
	return int(tag.RowsAffected()), nil
}

// loadItems returns items in the requested order and fails on the first missing ID.
func loadItems(ctx context.Context, q querier, ids []string, lock bool) ([]domain.OrderItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + itemColumns + ` FROM order_items WHERE id = ANY($1)`
	if lock {
		query += ` ORDER BY id FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	found, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.OrderItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}
	out := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, repositories.NotFound("order item", id)
		}
		out = append(out, item)
	}
	return out, nil
}

// refreshOrder re-derives the order state from its stored items, which must already hold
// the caller's updates. ok is false when the order no longer exists.
func refreshOrder(ctx context.Context, tx pgx.Tx, orderID string, now time.Time) (domain.Order, bool, error) {
	agg, err := loadAggregate(ctx, tx, orderID)
	if repositories.IsRecordCode(err, repositories.RecordErrorNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	order := domain.RefreshOrder(agg.Order, agg.Items)
	order.UpdatedAt = now
	if _, err := tx.Exec(ctx, updateOrderSQL, orderArgs(order)...); err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}
