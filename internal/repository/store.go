package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"credit-billing/internal/service"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Migrate applies the ledger schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", mapError(err))
	}
	return nil
}

// Store is the Postgres implementation of service.Store.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *logrus.Logger
}

func NewStore(db *sql.DB, lockTimeout time.Duration, logger *logrus.Logger) *Store {
	return &Store{db: db, lockTimeout: lockTimeout, logger: logger}
}

func (s *Store) GetDB() *sql.DB {
	return s.db
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the ForUpdate methods wait
// at most lockTimeout; a timeout surfaces as model.ErrTransient.
func (s *Store) WithinTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", mapError(err))
		}
	}

	if err := fn(&pgTx{q: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *Store) Read() service.Tx {
	return &pgTx{q: s.db, logger: s.logger}
}

type pgTx struct {
	q      querier
	logger *logrus.Logger
}

func (t *pgTx) Statements() service.StatementStore {
	return &StatementRepository{q: t.q, logger: t.logger}
}

func (t *pgTx) Lines() service.LineStore {
	return &LineRepository{q: t.q, logger: t.logger}
}

func (t *pgTx) Capacities() service.CapacityStore {
	return &CapacityRepository{q: t.q, logger: t.logger}
}
