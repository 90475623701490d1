package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type orderStore struct{ r *Registry }

func (s orderStore) Create(ctx context.Context, build repositories.AggregateBuilder) (domain.OrderAggregate, error) {
	if build == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "builder is required", nil)
	}

	var result domain.OrderAggregate
	var serial string
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		agg, err := build(ctx, newAllocator(s.r, tx))
		if err != nil {
			return err
		}
		if err := repositories.ValidateAggregate(agg); err != nil {
			return err
		}
		serial = agg.Order.SerialNumber

		if _, err := tx.Exec(ctx, insertOrderSQL, orderArgs(agg.Order)...); err != nil {
			return err
		}
		if err := insertItems(ctx, tx, agg.Items); err != nil {
			return err
		}
		result = agg
		return nil
	})
	if err != nil {
		return domain.OrderAggregate{}, translate("orders.create", err, "order serial allocation", serial)
	}
	return result, nil
}

func (s orderStore) Mutate(ctx context.Context, orderID string, fn repositories.AggregateMutator) (domain.OrderAggregate, error) {
	if fn == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderAggregate{}, repositories.NotFound("order", orderID)
	}

	var result domain.OrderAggregate
	var serial string
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := loadAggregate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		next, err := fn(ctx, cloneAggregate(current), newAllocator(s.r, tx))
		if err != nil {
			return err
		}
		serial = next.Order.SerialNumber
		diff, err := repositories.DiffAggregate(current, next)
		if err != nil {
			return err
		}

		if len(diff.Removed) > 0 {
			ids := make([]string, 0, len(diff.Removed))
			for _, item := range diff.Removed {
				ids = append(ids, item.ID)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE id = ANY($1)`, ids); err != nil {
				return err
			}
		}
		for _, item := range diff.Kept {
			if _, err := tx.Exec(ctx, updateItemSQL, itemArgs(item)...); err != nil {
				return err
			}
		}
		if err := insertItems(ctx, tx, diff.Added); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateOrderSQL, orderArgs(next.Order)...); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.OrderAggregate{}, translate("orders.mutate", err, "order serial allocation", serial)
	}
	return cloneAggregate(result), nil
}

func (s orderStore) Delete(ctx context.Context, orderID string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, repositories.NotFound("order", orderID)
	}
	var removed int
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return repositories.NotFound("order", orderID)
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, translate("orders.delete", err, "order", orderID)
	}
	return removed, nil
}

func (s orderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NotFound("order", orderID)
	}
	order, err := scanOrder(s.r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, repositories.NotFound("order", orderID)
	}
	if err != nil {
		return domain.Order{}, translate("orders.get", err, "", "")
	}
	return order, nil
}

func (s orderStore) List(ctx context.Context, filter repositories.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.FactoryID != "" {
		args = append(args, filter.FactoryID)
		where = append(where, fmt.Sprintf("factory_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("orders.list", err, "", "")
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, translate("orders.list", err, "", "")
	}
	return out, nil
}

// DeleteByIDs removes order rows only; their items stay in place.
func (s orderStore) DeleteByIDs(ctx context.Context, orderIDs []string) (int, error) {
	ids := repositories.DedupeIDs(orderIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.r.pool.Exec(ctx, `DELETE FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, translate("orders.deleteByIDs", err, "", "")
	}
	return int(tag.RowsAffected()), nil
}

// loadAggregate locks the order row and reads its items.
func loadAggregate(ctx context.Context, q querier, orderID string) (domain.OrderAggregate, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderAggregate{}, repositories.NotFound("order", orderID)
	}
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 FOR UPDATE`, orderID)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	repositories.SortItems(items)
	return domain.OrderAggregate{Order: order, Items: items}, nil
}

// insertItems queues every insert in one batch round trip.
func insertItems(ctx context.Context, tx pgx.Tx, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(insertItemSQL, itemArgs(item)...)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func cloneAggregate(agg domain.OrderAggregate) domain.OrderAggregate {
	items := make([]domain.OrderItem, len(agg.Items))
	copy(items, agg.Items)
	return domain.OrderAggregate{Order: agg.Order, Items: items}
}
