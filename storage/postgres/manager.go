package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"tuiter/storage"
)

type txKey struct{}

// querier is the subset shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Manager struct {
	connectionPool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Manager, error) {
	connectionPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %v: %w", err, storage.ErrInvalid)
	}
	if err := connectionPool.Ping(ctx); err != nil {
		connectionPool.Close()
		return nil, fmt.Errorf("ping postgres: %v: %w", err, storage.ErrUnavailable)
	}
	return &Manager{connectionPool: connectionPool}, nil
}

func (m *Manager) Backend() storage.Backend {
	return storage.Backend{
		Reactions: &ReactionStore{m},
		Posts:     &PostRepository{m},
		Versions:  &VersionStore{m},
		Users:     &UserLookup{m},
		Tx:        m,
		Close: func(context.Context) error {
			m.connectionPool.Close()
			return nil
		},
	}
}

// WithinTransaction runs operation in a transaction that the stores pick up
// from ctx. Nested calls join the outer transaction.
func (m *Manager) WithinTransaction(ctx context.Context, operation func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return operation(ctx)
	}

	err := pgx.BeginTxFunc(ctx, m.connectionPool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return operation(context.WithValue(ctx, txKey{}, tx))
	})
	return wrapError("transaction", err)
}

func (m *Manager) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return m.connectionPool
}

func isDomainError(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrConflict) ||
		errors.Is(err, storage.ErrInvalid) ||
		errors.Is(err, storage.ErrUnavailable)
}

// wrapError maps pgx errors onto the storage sentinels.
func wrapError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, storage.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, storage.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, storage.ErrInvalid)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
