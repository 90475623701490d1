package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ujala-development/serials/internal/domain"
)

const orderColumns = `id, serial_number, month, year, category_ref, model_id, factory_id, quantity,
	order_type, units_per_box, total_units, serial_start, serial_end, status,
	is_transferred_to_product, completed_at, dispatched_at, created_at, updated_at`

const itemColumns = `id, order_id, serial_number, serial_counter, month, year, category_ref, model_id,
	factory_id, order_type, units_per_box, box_number, status, completed_at, dispatched_at,
	is_transferred_to_product, product_id, transferred_at, created_at, updated_at`

const productColumns = `id, serial_number, model_id, factory_id, order_id, order_item_id, box_number, created_at`

const insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

const updateOrderSQL = `UPDATE orders SET serial_number = $2, month = $3, year = $4, category_ref = $5,
	model_id = $6, factory_id = $7, quantity = $8, order_type = $9, units_per_box = $10,
	total_units = $11, serial_start = $12, serial_end = $13, status = $14,
	is_transferred_to_product = $15, completed_at = $16, dispatched_at = $17,
	created_at = $18, updated_at = $19
	WHERE id = $1`

const insertItemSQL = `INSERT INTO order_items (` + itemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

const updateItemSQL = `UPDATE order_items SET order_id = $2, serial_number = $3, serial_counter = $4,
	month = $5, year = $6, category_ref = $7, model_id = $8, factory_id = $9, order_type = $10,
	units_per_box = $11, box_number = $12, status = $13, completed_at = $14, dispatched_at = $15,
	is_transferred_to_product = $16, product_id = $17, transferred_at = $18,
	created_at = $19, updated_at = $20
	WHERE id = $1`

func orderArgs(o domain.Order) []any {
	return []any{
		o.ID, o.SerialNumber, o.Month, o.Year, o.CategoryRef, o.ModelID, o.FactoryID, o.Quantity,
		string(o.OrderType), o.UnitsPerBox, o.TotalUnits, o.SerialStart, o.SerialEnd, string(o.Status),
		o.IsTransferredToProduct, utcPtr(o.CompletedAt), utcPtr(o.DispatchedAt), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	}
}

func itemArgs(i domain.OrderItem) []any {
	return []any{
		i.ID, i.OrderID, i.SerialNumber, i.SerialCounter, i.Month, i.Year, i.CategoryRef, i.ModelID,
		i.FactoryID, string(i.OrderType), i.UnitsPerBox, i.BoxNumber, string(i.Status),
		utcPtr(i.CompletedAt), utcPtr(i.DispatchedAt), i.IsTransferredToProduct, i.ProductID,
		utcPtr(i.TransferredAt), i.CreatedAt.UTC(), i.UpdatedAt.UTC(),
	}
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                 domain.Order
		orderType, status string
	)
	err := row.Scan(
		&o.ID, &o.SerialNumber, &o.Month, &o.Year, &o.CategoryRef, &o.ModelID, &o.FactoryID, &o.Quantity,
		&orderType, &o.UnitsPerBox, &o.TotalUnits, &o.SerialStart, &o.SerialEnd, &status,
		&o.IsTransferredToProduct, &o.CompletedAt, &o.DispatchedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.OrderType = domain.OrderType(orderType)
	o.Status = domain.Status(status)
	o.CompletedAt = utcPtr(o.CompletedAt)
	o.DispatchedAt = utcPtr(o.DispatchedAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanItem(row pgx.Row) (domain.OrderItem, error) {
	var (
		i                 domain.OrderItem
		orderType, status string
	)
	err := row.Scan(
		&i.ID, &i.OrderID, &i.SerialNumber, &i.SerialCounter, &i.Month, &i.Year, &i.CategoryRef, &i.ModelID,
		&i.FactoryID, &orderType, &i.UnitsPerBox, &i.BoxNumber, &status, &i.CompletedAt, &i.DispatchedAt,
		&i.IsTransferredToProduct, &i.ProductID, &i.TransferredAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return domain.OrderItem{}, err
	}
	i.OrderType = domain.OrderType(orderType)
	i.Status = domain.Status(status)
	i.CompletedAt = utcPtr(i.CompletedAt)
	i.DispatchedAt = utcPtr(i.DispatchedAt)
	i.TransferredAt = utcPtr(i.TransferredAt)
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.SerialNumber, &p.ModelID, &p.FactoryID, &p.OrderID, &p.OrderItemID, &p.BoxNumber, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
}

func collectItems(rows pgx.Rows) ([]domain.OrderItem, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		return scanItem(row)
	})
}

func collectProducts(rows pgx.Rows) ([]domain.Product, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		return scanProduct(row)
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
