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

type counterStore struct{ r *Registry }

func (s counterStore) Allocate(ctx context.Context, factoryID string, amount int64) (int64, error) {
	var prev int64
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		value, err := newAllocator(s.r, tx).AllocateSerials(ctx, factoryID, amount)
		if err != nil {
			return err
		}
		prev = value
		return nil
	})
	if err != nil {
		return 0, translate("factory_counters.allocate", err, "", "")
	}
	return prev, nil
}

func (s counterStore) Reset(ctx context.Context, factoryID string, value int64) error {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	if value < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("counter value must not be negative, got %d", value), nil)
	}
	_, err := s.r.pool.Exec(ctx,
		`INSERT INTO factory_counters (factory_id, counter, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (factory_id) DO UPDATE SET counter = EXCLUDED.counter, updated_at = EXCLUDED.updated_at`,
		factoryID, value, s.r.now())
	return translate("factory_counters.reset", err, "", "")
}

func (s counterStore) Get(ctx context.Context, factoryID string) (domain.FactoryCounter, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return domain.FactoryCounter{}, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	var c domain.FactoryCounter
	err := s.r.pool.QueryRow(ctx,
		`SELECT factory_id, counter, updated_at FROM factory_counters WHERE factory_id = $1`,
		factoryID).Scan(&c.FactoryID, &c.Counter, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FactoryCounter{}, repositories.NewCounterError(repositories.CounterErrorNotFound, fmt.Sprintf("counter for factory %q not found", factoryID), nil)
	}
	if err != nil {
		return domain.FactoryCounter{}, translate("factory_counters.get", err, "", "")
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s counterStore) List(ctx context.Context) ([]domain.FactoryCounter, error) {
	rows, err := s.r.pool.Query(ctx, `SELECT factory_id, counter, updated_at FROM factory_counters ORDER BY factory_id`)
	if err != nil {
		return nil, translate("factory_counters.list", err, "", "")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FactoryCounter, error) {
		var c domain.FactoryCounter
		if err := row.Scan(&c.FactoryID, &c.Counter, &c.UpdatedAt); err != nil {
			return domain.FactoryCounter{}, err
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		return c, nil
	})
	if err != nil {
		return nil, translate("factory_counters.list", err, "", "")
	}
	return out, nil
}

func (s counterStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var next int64
	err := s.r.runTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		value, err := newAllocator(s.r, tx).NextSequence(ctx, name)
		if err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		return 0, translate("sequences.next", err, "", "")
	}
	return next, nil
}

// RaiseSequence never lowers a sequence; GREATEST keeps the stored value when it is ahead.
func (s counterStore) RaiseSequence(ctx context.Context, name string, atLeast int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	floor := atLeast
	if floor < 0 {
		floor = 0
	}
	var stored int64
	err := s.r.pool.QueryRow(ctx,
		`INSERT INTO sequences (name, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET value = GREATEST(sequences.value, EXCLUDED.value),
		   updated_at = CASE WHEN sequences.value < EXCLUDED.value THEN EXCLUDED.updated_at ELSE sequences.updated_at END
		 RETURNING value`,
		name, floor, s.r.now()).Scan(&stored)
	if err != nil {
		return 0, translate("sequences.raise", err, "", "")
	}
	return stored, nil
}
