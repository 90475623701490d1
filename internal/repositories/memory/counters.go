package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type counterStore struct{ r *Registry }

func (s counterStore) Allocate(ctx context.Context, factoryID string, amount int64) (int64, error) {
	factoryID = strings.TrimSpace(factoryID)
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	tx := s.r.begin()
	prev, err := tx.AllocateSerials(ctx, factoryID, amount)
	if err != nil {
		return 0, err
	}
	if err := s.r.commit("counters.allocate"); err != nil {
		return 0, err
	}
	tx.apply(s.r.now())
	return prev, nil
}

func (s counterStore) Reset(ctx context.Context, factoryID string, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	if value < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("counter value must not be negative, got %d", value), nil)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if err := s.r.commit("counters.reset"); err != nil {
		return err
	}
	s.r.counters[factoryID] = domain.FactoryCounter{FactoryID: factoryID, Counter: value, UpdatedAt: s.r.now()}
	return nil
}

func (s counterStore) Get(ctx context.Context, factoryID string) (domain.FactoryCounter, error) {
	if err := ctx.Err(); err != nil {
		return domain.FactoryCounter{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	counter, ok := s.r.counters[strings.TrimSpace(factoryID)]
	if !ok {
		return domain.FactoryCounter{}, repositories.NewCounterError(repositories.CounterErrorNotFound, fmt.Sprintf("counter for factory %q not found", factoryID), nil)
	}
	return counter, nil
}

func (s counterStore) List(ctx context.Context) ([]domain.FactoryCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]domain.FactoryCounter, 0, len(s.r.counters))
	for _, counter := range s.r.counters {
		out = append(out, counter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactoryID < out[j].FactoryID })
	return out, nil
}

func (s counterStore) NextSequence(ctx context.Context, name string) (int64, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	tx := s.r.begin()
	next, err := tx.NextSequence(ctx, strings.TrimSpace(name))
	if err != nil {
		return 0, err
	}
	if err := s.r.commit("sequences.next"); err != nil {
		return 0, err
	}
	tx.apply(s.r.now())
	return next, nil
}

func (s counterStore) RaiseSequence(ctx context.Context, name string, atLeast int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	current := s.r.sequences[name]
	if current >= atLeast {
		return current, nil
	}
	if err := s.r.commit("sequences.raise"); err != nil {
		return 0, err
	}
	s.r.sequences[name] = atLeast
	return atLeast, nil
}
