package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/ujala-development/serials/internal/platform/firestore"
	"github.com/ujala-development/serials/internal/repositories"
)

// Registry implements repositories.Registry on Cloud Firestore.
// Serial numbers and directory codes are made unique through claim documents
// created in the same transaction as the records that own them.
type Registry struct {
	provider *pfirestore.Provider
	clock    func() time.Time

	factories *pfirestore.BaseRepository[directoryDocument]
	models    *pfirestore.BaseRepository[directoryDocument]
	counters  *pfirestore.BaseRepository[counterDocument]
	sequences *pfirestore.BaseRepository[sequenceDocument]
	orders    *pfirestore.BaseRepository[orderDocument]
	items     *pfirestore.BaseRepository[itemDocument]
	products  *pfirestore.BaseRepository[productDocument]
	serials   *pfirestore.BaseRepository[indexDocument]
	codes     *pfirestore.BaseRepository[indexDocument]
}

// Option customises the registry.
type Option func(*Registry)

// WithClock overrides the clock used for counter and directory timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry wires every collection onto the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	r := &Registry{
		provider:  provider,
		clock:     time.Now,
		factories: pfirestore.NewBaseRepository[directoryDocument](provider, factoriesCollection, nil),
		models:    pfirestore.NewBaseRepository[directoryDocument](provider, modelsCollection, nil),
		counters:  pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil),
		sequences: pfirestore.NewBaseRepository[sequenceDocument](provider, sequencesCollection, nil),
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		items:     pfirestore.NewBaseRepository[itemDocument](provider, itemsCollection, nil),
		products:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
		serials:   pfirestore.NewBaseRepository[indexDocument](provider, serialIndexCollection, nil),
		codes:     pfirestore.NewBaseRepository[indexDocument](provider, codesCollection, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Ping performs a one-document read against the orders collection.
func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx, ordersCollection)
}

func (r *Registry) Counters() repositories.CounterRepository    { return counterStore{r} }
func (r *Registry) Orders() repositories.OrderRepository        { return orderStore{r} }
func (r *Registry) Items() repositories.ItemRepository          { return itemStore{r} }
func (r *Registry) Directory() repositories.DirectoryRepository { return directoryStore{r} }
func (r *Registry) Products() repositories.ProductRepository    { return productStore{r} }

func (r *Registry) now() time.Time {
	return r.clock().UTC()
}

func (r *Registry) runTx(ctx context.Context, fn pfirestore.TxFunc) error {
	return r.provider.RunTransaction(ctx, fn)
}

// ref resolves an ID the caller already validated. An invalid ID yields nil, which the
// transaction rejects on use.
func ref[T any](ctx context.Context, base *pfirestore.BaseRepository[T], id string) *firestore.DocumentRef {
	doc, err := base.DocumentRef(ctx, id)
	if err != nil {
		return nil
	}
	return doc
}

func refs[T any](ctx context.Context, base *pfirestore.BaseRepository[T], ids []string) ([]*firestore.DocumentRef, error) {
	out := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		doc, err := base.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) {
		return fsErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}

// translate maps commit failures onto record errors. kind and key describe the write that
// most likely collided when Firestore reports an existing document.
func translate(op string, err error, kind, key string) error {
	if err == nil {
		return nil
	}
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) && fsErr.IsAlreadyExists() {
		dup := repositories.Duplicate(kind, key, err)
		dup.Op = op
		return dup
	}
	var recErr *repositories.RecordError
	if errors.As(err, &recErr) {
		return err
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		return err
	}
	return pfirestore.WrapError(op, err)
}
