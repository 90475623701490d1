package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type counterStore struct{ r *Registry }

func (s counterStore) Allocate(ctx context.Context, factoryID string, amount int64) (int64, error) {
	var prev int64
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		alloc := newAllocator(s.r, tx)
		value, err := alloc.AllocateSerials(ctx, factoryID, amount)
		if err != nil {
			return err
		}
		prev = value
		return alloc.flush(ctx, s.r.now())
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
	return s.r.counters.Set(ctx, factoryID, counterDocument{Counter: value, UpdatedAt: s.r.now()})
}

func (s counterStore) Get(ctx context.Context, factoryID string) (domain.FactoryCounter, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return domain.FactoryCounter{}, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	doc, err := s.r.counters.Get(ctx, factoryID)
	if isNotFound(err) {
		return domain.FactoryCounter{}, repositories.NewCounterError(repositories.CounterErrorNotFound, fmt.Sprintf("counter for factory %q not found", factoryID), nil)
	}
	if err != nil {
		return domain.FactoryCounter{}, err
	}
	return domain.FactoryCounter{FactoryID: doc.ID, Counter: doc.Data.Counter, UpdatedAt: doc.Data.UpdatedAt.UTC()}, nil
}

func (s counterStore) List(ctx context.Context) ([]domain.FactoryCounter, error) {
	docs, err := s.r.counters.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FactoryCounter, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.FactoryCounter{FactoryID: doc.ID, Counter: doc.Data.Counter, UpdatedAt: doc.Data.UpdatedAt.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactoryID < out[j].FactoryID })
	return out, nil
}

func (s counterStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var next int64
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		alloc := newAllocator(s.r, tx)
		value, err := alloc.NextSequence(ctx, name)
		if err != nil {
			return err
		}
		next = value
		return alloc.flush(ctx, s.r.now())
	})
	if err != nil {
		return 0, translate("sequences.next", err, "", "")
	}
	return next, nil
}

func (s counterStore) RaiseSequence(ctx context.Context, name string, atLeast int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	var stored int64
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		alloc := newAllocator(s.r, tx)
		current, err := alloc.readSequence(ctx, name)
		if err != nil {
			return err
		}
		if current >= atLeast {
			stored = current
			return nil
		}
		stored = atLeast
		return tx.Set(ref(ctx, s.r.sequences, name), sequenceDocument{Value: atLeast, UpdatedAt: s.r.now()})
	})
	if err != nil {
		return 0, translate("sequences.raise", err, "", "")
	}
	return stored, nil
}
