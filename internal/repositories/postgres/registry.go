package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/ujala-development/serials/internal/platform/postgres"
	"github.com/ujala-development/serials/internal/repositories"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Registry implements repositories.Registry on PostgreSQL. Serial and code uniqueness
// is enforced by unique indexes.
type Registry struct {
	pool   *pgxpool.Pool
	clock  func() time.Time
	txOpts []ppostgres.TxOption
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

// WithTxOptions sets the retry budget applied to every transaction.
func WithTxOptions(opts ...ppostgres.TxOption) Option {
	return func(r *Registry) {
		r.txOpts = append(r.txOpts, opts...)
	}
}

// NewRegistry wraps an open pool.
func NewRegistry(pool *pgxpool.Pool, opts ...Option) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry requires pool")
	}
	r := &Registry{pool: pool, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// EnsureSchema creates missing tables and indexes.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Registry) Counters() repositories.CounterRepository    { return counterStore{r} }
func (r *Registry) Orders() repositories.OrderRepository        { return orderStore{r} }
func (r *Registry) Items() repositories.ItemRepository          { return itemStore{r} }
func (r *Registry) Directory() repositories.DirectoryRepository { return directoryStore{r} }
func (r *Registry) Products() repositories.ProductRepository    { return productStore{r} }

func (r *Registry) now() time.Time {
	return r.clock().UTC()
}

func (r *Registry) runTx(ctx context.Context, fn ppostgres.TxFunc) error {
	return ppostgres.RunTransaction(ctx, r.pool, fn, r.txOpts...)
}

// translate maps driver failures onto record errors. kind and key describe the write that
// most likely collided when the server reports a unique violation.
func translate(op string, err error, kind, key string) error {
	if err == nil {
		return nil
	}
	var recErr *repositories.RecordError
	if errors.As(err, &recErr) {
		return err
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		return err
	}
	wrapped := ppostgres.WrapError(op, err)
	var pgErr *ppostgres.Error
	if errors.As(wrapped, &pgErr) {
		switch {
		case pgErr.IsUniqueViolation():
			dup := repositories.Duplicate(kind, key, wrapped)
			dup.Op = op
			return dup
		case pgErr.Code() == ppostgres.CodeNumericOutOfRange:
			return repositories.NewCounterError(repositories.CounterErrorOverflow, "counter exceeds the storable range", wrapped)
		}
	}
	return wrapped
}
