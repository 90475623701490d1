package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ujala-development/serials/internal/platform/config"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeNumericOutOfRange    = "22003"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// Open creates a connection pool and verifies it answers.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Error classifies pgx failures the same way the Firestore platform error does.
type Error struct {
	op         string
	err        error
	code       string
	constraint string
	notFound   bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Code returns the SQLSTATE, if the server reported one.
func (e *Error) Code() string { return e.code }

// Constraint returns the violated constraint or index name.
func (e *Error) Constraint() string { return e.constraint }

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsUniqueViolation reports whether an insert collided with a unique index.
func (e *Error) IsUniqueViolation() bool { return e != nil && e.code == CodeUniqueViolation }

func (e *Error) IsConflict() bool {
	return e != nil && (e.code == CodeUniqueViolation || e.retryable())
}

func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	return e.retryable() || strings.HasPrefix(e.code, "08") || strings.HasPrefix(e.code, "53") || e.code == "57P01"
}

func (e *Error) retryable() bool {
	return e.code == CodeSerializationFailure || e.code == CodeDeadlockDetected
}

// WrapError annotates pgx errors. Context errors pass through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	e := &Error{op: op, err: err}
	if errors.Is(err, pgx.ErrNoRows) {
		e.notFound = true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e.code = pgErr.Code
		e.constraint = pgErr.ConstraintName
	}
	return e
}

// TxFunc is executed within a database transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides how often serialization failures are retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// TxOptionsFromConfig converts the storage retry budget into transaction options.
func TxOptionsFromConfig(cfg config.StorageConfig) []TxOption {
	return []TxOption{WithTxAttempts(cfg.TxAttempts), WithTxTimeout(cfg.TxTimeout)}
}

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunTransaction runs fn in a transaction, retrying on serialization failures and deadlocks.
// Errors returned by fn that do not come from the server are returned untouched.
func RunTransaction(ctx context.Context, db Beginner, fn TxFunc, opts ...TxOption) error {
	if db == nil {
		return errors.New("postgres: database is nil")
	}
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	var err error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		err = runOnce(txnCtx, db, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || (pgErr.Code != CodeSerializationFailure && pgErr.Code != CodeDeadlockDetected) {
			break
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrNoRows) {
		return WrapError("transaction", err)
	}
	return err
}

func runOnce(ctx context.Context, db Beginner, fn TxFunc) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
