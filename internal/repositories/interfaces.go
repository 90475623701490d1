package repositories

import (
	"context"

	"github.com/ujala-development/serials/internal/domain"
)

// Registry exposes repository accessors so services can depend on abstractions.
type Registry interface {
	Close(ctx context.Context) error

	Counters() CounterRepository
	Orders() OrderRepository
	Items() ItemRepository
	Directory() DirectoryRepository
	Products() ProductRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Allocator hands out counter ranges and sequence values inside an order transaction.
// Values are only durable if the surrounding transaction commits.
type Allocator interface {
	// AllocateSerials reserves amount serials for the factory and returns the counter value
	// before the increment. A missing counter starts at domain.CounterSeed.
	AllocateSerials(ctx context.Context, factoryID string, amount int64) (int64, error)
	// NextSequence returns the next value of a named human ID sequence, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// AggregateBuilder assembles a new order and its items using allocations from alloc.
type AggregateBuilder func(ctx context.Context, alloc Allocator) (domain.OrderAggregate, error)

// AggregateMutator receives the stored aggregate and returns the desired one.
// Items missing from the result are deleted, new item IDs are created and the rest are overwritten.
type AggregateMutator func(ctx context.Context, current domain.OrderAggregate, alloc Allocator) (domain.OrderAggregate, error)

// ItemMutator receives the requested items and returns their replacements (same IDs).
type ItemMutator func(ctx context.Context, items []domain.OrderItem) ([]domain.OrderItem, error)

// TransferMinter builds the product for an untransferred item.
type TransferMinter func(ctx context.Context, item domain.OrderItem, alloc Allocator) (domain.Product, error)

// CounterRepository persists per-factory serial counters and named sequences.
type CounterRepository interface {
	Allocate(ctx context.Context, factoryID string, amount int64) (int64, error)
	Reset(ctx context.Context, factoryID string, value int64) error
	Get(ctx context.Context, factoryID string) (domain.FactoryCounter, error)
	List(ctx context.Context) ([]domain.FactoryCounter, error)

	NextSequence(ctx context.Context, name string) (int64, error)
	// RaiseSequence moves the sequence to atLeast when it is lower and returns the stored value.
	RaiseSequence(ctx context.Context, name string, atLeast int64) (int64, error)
}

// OrderFilter narrows order listings. Empty fields match everything.
type OrderFilter struct {
	FactoryID string
	Status    domain.Status
}

// OrderRepository stores orders together with their items. Every write is atomic over the aggregate.
type OrderRepository interface {
	// Create persists the aggregate returned by build. Uniqueness violations on the order ID or any
	// serial number return a RecordError with code RecordErrorDuplicate.
	Create(ctx context.Context, build AggregateBuilder) (domain.OrderAggregate, error)
	Mutate(ctx context.Context, orderID string, fn AggregateMutator) (domain.OrderAggregate, error)
	// Delete removes the order and every item referencing it, returning the number of items removed.
	Delete(ctx context.Context, orderID string) (int, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	// DeleteByIDs removes order documents only. Missing IDs are ignored.
	DeleteByIDs(ctx context.Context, orderIDs []string) (int, error)
}

// ItemRepository reads and updates order items.
type ItemRepository interface {
	// FindByIDs returns items in the requested order. Any missing ID yields a not-found RecordError.
	FindByIDs(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ListByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error)
	ListByFactory(ctx context.Context, factoryID string) ([]domain.OrderItem, error)
	ListAll(ctx context.Context) ([]domain.OrderItem, error)

	// Apply loads the items, lets fn replace them and persists the result together with the
	// refreshed status of every affected order. Nothing is written when fn fails.
	Apply(ctx context.Context, itemIDs []string, fn ItemMutator) ([]domain.OrderItem, error)
	// Transfer converts the item into a product exactly once. A repeated call returns the
	// existing product with AlreadyTransferred set and does not invoke mint.
	Transfer(ctx context.Context, itemID string, mint TransferMinter) (domain.TransferResult, error)
	// Delete removes items by ID. Missing IDs are ignored.
	Delete(ctx context.Context, itemIDs []string) (int, error)
}

// DirectoryRepository stores the factories and models referenced by orders.
type DirectoryRepository interface {
	GetFactory(ctx context.Context, factoryID string) (domain.Factory, error)
	GetModel(ctx context.Context, modelID string) (domain.Model, error)
	ListFactories(ctx context.Context) ([]domain.Factory, error)
	ListModels(ctx context.Context) ([]domain.Model, error)
	// UpsertFactory creates or replaces a factory. A code already used by another factory
	// returns a RecordError with code RecordErrorDuplicate.
	UpsertFactory(ctx context.Context, factory domain.Factory) (domain.Factory, error)
	UpsertModel(ctx context.Context, model domain.Model) (domain.Model, error)
}

// ProductRepository reads products minted by transfers.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Product, error)
}
