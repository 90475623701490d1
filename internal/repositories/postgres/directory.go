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

type directoryStore struct{ r *Registry }

// directoryEntry is the row shape factories and models share.
type directoryEntry struct {
	ID        string
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s directoryStore) GetFactory(ctx context.Context, factoryID string) (domain.Factory, error) {
	entry, err := s.get(ctx, "factories", "factory", factoryID)
	if err != nil {
		return domain.Factory{}, err
	}
	return domain.Factory(entry), nil
}

func (s directoryStore) GetModel(ctx context.Context, modelID string) (domain.Model, error) {
	entry, err := s.get(ctx, "models", "model", modelID)
	if err != nil {
		return domain.Model{}, err
	}
	return domain.Model(entry), nil
}

func (s directoryStore) ListFactories(ctx context.Context) ([]domain.Factory, error) {
	entries, err := s.list(ctx, "factories")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Factory, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.Factory(entry))
	}
	return out, nil
}

func (s directoryStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	entries, err := s.list(ctx, "models")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Model, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.Model(entry))
	}
	return out, nil
}

func (s directoryStore) UpsertFactory(ctx context.Context, factory domain.Factory) (domain.Factory, error) {
	entry, err := s.upsert(ctx, "factories", "factory", directoryEntry(factory))
	if err != nil {
		return domain.Factory{}, err
	}
	return domain.Factory(entry), nil
}

func (s directoryStore) UpsertModel(ctx context.Context, model domain.Model) (domain.Model, error) {
	entry, err := s.upsert(ctx, "models", "model", directoryEntry(model))
	if err != nil {
		return domain.Model{}, err
	}
	return domain.Model(entry), nil
}

// table is always one of the two literal names above.
func (s directoryStore) get(ctx context.Context, table, kind, id string) (directoryEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directoryEntry{}, repositories.NotFound(kind, id)
	}
	entry, err := scanEntry(s.r.pool.QueryRow(ctx,
		`SELECT id, code, name, created_at, updated_at FROM `+table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return directoryEntry{}, repositories.NotFound(kind, id)
	}
	if err != nil {
		return directoryEntry{}, translate(table+".get", err, "", "")
	}
	return entry, nil
}

func (s directoryStore) list(ctx context.Context, table string) ([]directoryEntry, error) {
	rows, err := s.r.pool.Query(ctx, `SELECT id, code, name, created_at, updated_at FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, translate(table+".list", err, "", "")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (directoryEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, translate(table+".list", err, "", "")
	}
	return out, nil
}

// upsert keeps created_at of an existing row. The case-insensitive code index rejects a
// code held by another entry.
func (s directoryStore) upsert(ctx context.Context, table, kind string, entry directoryEntry) (directoryEntry, error) {
	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" || strings.TrimSpace(entry.Code) == "" {
		return directoryEntry{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, kind+" id and code are required", nil)
	}
	now := s.r.now()
	stored, err := scanEntry(s.r.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (id, code, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
		 RETURNING id, code, name, created_at, updated_at`,
		entry.ID, entry.Code, entry.Name, now))
	if err != nil {
		return directoryEntry{}, translate(table+".upsert", err, kind+" code", entry.Code)
	}
	return stored, nil
}

func scanEntry(row pgx.Row) (directoryEntry, error) {
	var e directoryEntry
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return directoryEntry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

type productStore struct{ r *Registry }

func (s productStore) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NotFound("product", productID)
	}
	product, err := scanProduct(s.r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, repositories.NotFound("product", productID)
	}
	if err != nil {
		return domain.Product{}, translate("products.get", err, "", "")
	}
	return product, nil
}

func (s productStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Product, error) {
	rows, err := s.r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE order_id = $1 ORDER BY id`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, translate("products.list", err, "", "")
	}
	out, err := collectProducts(rows)
	if err != nil {
		return nil, translate("products.list", err, "", "")
	}
	return out, nil
}
