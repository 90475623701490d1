package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

// txAllocator increments counters and sequences inside the caller's transaction. Rows are
// locked on first use, so concurrent allocations for one factory serialise on the row.
type txAllocator struct {
	r  *Registry
	tx pgx.Tx
}

func newAllocator(r *Registry, tx pgx.Tx) *txAllocator {
	return &txAllocator{r: r, tx: tx}
}

func (a *txAllocator) AllocateSerials(ctx context.Context, factoryID string, amount int64) (int64, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	now := a.r.now()
	if _, err := a.tx.Exec(ctx,
		`INSERT INTO factory_counters (factory_id, counter, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (factory_id) DO NOTHING`,
		factoryID, domain.CounterSeed, now); err != nil {
		return 0, err
	}
	var current int64
	if err := a.tx.QueryRow(ctx,
		`SELECT counter FROM factory_counters WHERE factory_id = $1 FOR UPDATE`,
		factoryID).Scan(&current); err != nil {
		return 0, err
	}
	_, end, err := domain.CounterRange(current, amount)
	if err != nil {
		code := repositories.CounterErrorInvalidInput
		if amount > 0 {
			code = repositories.CounterErrorOverflow
		}
		return 0, repositories.NewCounterError(code, err.Error(), nil)
	}
	if _, err := a.tx.Exec(ctx,
		`UPDATE factory_counters SET counter = $2, updated_at = $3 WHERE factory_id = $1`,
		factoryID, end, now); err != nil {
		return 0, err
	}
	return current, nil
}

func (a *txAllocator) NextSequence(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	var next int64
	err := a.tx.QueryRow(ctx,
		`INSERT INTO sequences (name, value, updated_at) VALUES ($1, 1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1, updated_at = EXCLUDED.updated_at
		 RETURNING value`,
		name, a.r.now()).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}
