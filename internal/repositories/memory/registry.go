// Package memory provides a process-local repository registry used by tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

// Option customises the registry.
type Option func(*Registry)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithCommitHook installs a hook invoked right before a write is applied. A non-nil error
// aborts the write, which lets tests simulate failures at commit time.
func WithCommitHook(hook func(op string) error) Option {
	return func(r *Registry) {
		r.commitHook = hook
	}
}

// Registry keeps every collection behind one mutex. Writes are staged and applied in one step.
type Registry struct {
	mu         sync.Mutex
	clock      func() time.Time
	commitHook func(op string) error

	counters  map[string]domain.FactoryCounter
	sequences map[string]int64
	orders    map[string]domain.Order
	items     map[string]domain.OrderItem
	factories map[string]domain.Factory
	models    map[string]domain.Model
	products  map[string]domain.Product
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:     time.Now,
		counters:  make(map[string]domain.FactoryCounter),
		sequences: make(map[string]int64),
		orders:    make(map[string]domain.Order),
		items:     make(map[string]domain.OrderItem),
		factories: make(map[string]domain.Factory),
		models:    make(map[string]domain.Model),
		products:  make(map[string]domain.Product),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Counters() repositories.CounterRepository { return counterStore{r} }
func (r *Registry) Orders() repositories.OrderRepository { return orderStore{r} }
func (r *Registry) Items() repositories.ItemRepository { return itemStore{r} }
func (r *Registry) Directory() repositories.DirectoryRepository { return directoryStore{r} }
func (r *Registry) Products() repositories.ProductRepository { return productStore{r} }

// Ping always succeeds; it lets the registry take part in health checks.
func (r *Registry) Ping(ctx context.Context) error { return ctx.Err() }

// SeedOrders inserts orders without any uniqueness checks.
func (r *Registry) SeedOrders(orders ...domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range orders {
		r.orders[order.ID] = order
	}
}

// SeedItems inserts items without any uniqueness checks, so tests can fabricate duplicates and orphans.
func (r *Registry) SeedItems(items ...domain.OrderItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID] = item
	}
}

func (r *Registry) now() time.Time {
	return r.clock().UTC()
}

func (r *Registry) commit(op string) error {
	if r.commitHook == nil {
		return nil
	}
	return r.commitHook(op)
}

// txn stages counter and sequence changes made through the Allocator interface.
type txn struct {
	r         *Registry
	counters  map[string]int64
	sequences map[string]int64
}

func (r *Registry) begin() *txn {
	return &txn{r: r, counters: make(map[string]int64), sequences: make(map[string]int64)}
}

func (t *txn) AllocateSerials(ctx context.Context, factoryID string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if factoryID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "factory id is required", nil)
	}
	current, ok := t.counters[factoryID]
	if !ok {
		current = domain.CounterSeed
		if stored, exists := t.r.counters[factoryID]; exists {
			current = stored.Counter
		}
	}
	_, end, err := domain.CounterRange(current, amount)
	if err != nil {
		code := repositories.CounterErrorInvalidInput
		if amount > 0 {
			code = repositories.CounterErrorOverflow
		}
		return 0, repositories.NewCounterError(code, err.Error(), nil)
	}
	t.counters[factoryID] = end
	return current, nil
}

func (t *txn) NextSequence(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "sequence name is required", nil)
	}
	current, ok := t.sequences[name]
	if !ok {
		current = t.r.sequences[name]
	}
	t.sequences[name] = current + 1
	return current + 1, nil
}

func (t *txn) apply(now time.Time) {
	for id, value := range t.counters {
		t.r.counters[id] = domain.FactoryCounter{FactoryID: id, Counter: value, UpdatedAt: now}
	}
	for name, value := range t.sequences {
		t.r.sequences[name] = value
	}
}
