package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

// txAllocator reads counters and sequences through the transaction on first use and
// stages the new values until flush. Firestore rejects reads after writes, so callbacks
// using it must run before the caller issues any write.
type txAllocator struct {
	r         *Registry
	tx        *firestore.Transaction
	counters  map[string]int64
	sequences map[string]int64
}

func newAllocator(r *Registry, tx *firestore.Transaction) *txAllocator {
	return &txAllocator{r: r, tx: tx, counters: map[string]int64{}, sequences: map[string]int64{}}
}

func (a *txAllocator) AllocateSerials(ctx context.Context, factoryID string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	current, ok := a.counters[factoryID]
	if !ok {
		stored, err := a.readCounter(ctx, factoryID)
		if err != nil {
			return 0, err
		}
		current = stored
	}
	_, end, err := domain.CounterRange(current, amount)
	if err != nil {
		code := repositories.CounterErrorInvalidInput
		if amount > 0 {
			code = repositories.CounterErrorOverflow
		}
		return 0, repositories.NewCounterError(code, err.Error(), nil)
	}
	a.counters[factoryID] = end
	return current, nil
}

func (a *txAllocator) NextSequence(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	current, ok := a.sequences[name]
	if !ok {
		stored, err := a.readSequence(ctx, name)
		if err != nil {
			return 0, err
		}
		current = stored
	}
	a.sequences[name] = current + 1
	return current + 1, nil
}

func (a *txAllocator) readCounter(ctx context.Context, factoryID string) (int64, error) {
	snap, err := a.tx.Get(ref(ctx, a.r.counters, factoryID))
	if isNotFound(err) {
		return domain.CounterSeed, nil
	}
	if err != nil {
		return 0, err
	}
	doc, err := a.r.counters.Decode(snap)
	if err != nil {
		return 0, err
	}
	return doc.Data.Counter, nil
}

func (a *txAllocator) readSequence(ctx context.Context, name string) (int64, error) {
	snap, err := a.tx.Get(ref(ctx, a.r.sequences, name))
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	doc, err := a.r.sequences.Decode(snap)
	if err != nil {
		return 0, err
	}
	return doc.Data.Value, nil
}

// flush stages the allocated values as writes. No transaction read may follow it.
func (a *txAllocator) flush(ctx context.Context, now time.Time) error {
	for id, value := range a.counters {
		if err := a.tx.Set(ref(ctx, a.r.counters, id), counterDocument{Counter: value, UpdatedAt: now}); err != nil {
			return fmt.Errorf("stage counter %s: %w", id, err)
		}
	}
	for name, value := range a.sequences {
		if err := a.tx.Set(ref(ctx, a.r.sequences, name), sequenceDocument{Value: value, UpdatedAt: now}); err != nil {
			return fmt.Errorf("stage sequence %s: %w", name, err)
		}
	}
	return nil
}
