// internal/repository/postgres/db.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the part of pgxpool.Pool and pgx.Tx the repositories use.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DB struct {
	pool Pool
}

func NewDB(pool Pool) *DB {
	return &DB{pool: pool}
}

func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

func (db *DB) Pool() Pool {
	return db.pool
}

// Store is the Postgres repository.Store. A Store bound to a transaction carries tx.
type Store struct {
	db *DB
	q  Querier
	tx pgx.Tx
}

func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.pool}
}

func (s *Store) Tariffs() repository.TariffRepository {
	return NewTariffRepository(s.q)
}

func (s *Store) Subscriptions() repository.SubscriptionRepository {
	return NewSubscriptionRepository(s.q)
}

func (s *Store) History() repository.HistoryRepository {
	return NewHistoryRepository(s.q)
}

func (s *Store) Reminders() repository.ReminderRepository {
	return NewReminderRepository(s.q)
}

func (s *Store) Notifications() repository.NotificationRepository {
	return NewNotificationRepository(s.q)
}

func (s *Store) Users() repository.UserRepository {
	return NewUserRepository(s.q)
}

func (s *Store) Atomic(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return xerrors.Fail(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return xerrors.Fail(mapError(err), "failed to commit transaction")
	}
	return nil
}

var _ repository.Store = (*Store)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapError translates driver errors into xerrors kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", xerrors.ErrConflict, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", xerrors.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
