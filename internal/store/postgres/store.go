// Package postgres implements rbac.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

//go:embed schema.sql
var schema string

var (
	_ rbac.Store      = (*Store)(nil)
	_ rbac.Transactor = (*Store)(nil)
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Store persists the access model in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// WithTx runs fn against a Store bound to one transaction. Nested calls join
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{pool: s.pool, db: tx, inTx: true})
	})
	return mapErr("tx", err)
}

func (s *Store) tx(ctx context.Context, fn func(*Store) error) error {
	return s.WithTx(ctx, func(ctx context.Context, st rbac.Store) error {
		return fn(st.(*Store))
	})
}

// mapErr converts driver failures into the shared error taxonomy. Errors
// already classified pass through unchanged.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range []error{shared.ErrNotFound, shared.ErrDuplicateName, shared.ErrValidation, shared.ErrConflict, shared.ErrStoreUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return shared.DuplicateName(entityOf(pgErr.ConstraintName), pgErr.Detail)
		case "23503":
			return shared.NotFound(entityOf(pgErr.ConstraintName), pgErr.Detail)
		case "23514":
			return shared.Invalid(pgErr.ConstraintName, pgErr.Message)
		}
	}
	return shared.StoreUnavailable(op, err)
}

func entityOf(constraint string) string {
	switch {
	case strings.Contains(constraint, "permission"):
		return "permission"
	case strings.Contains(constraint, "role"):
		return "role"
	case strings.Contains(constraint, "page"):
		return "page"
	default:
		return "record"
	}
}

// likePattern folds term the way name_key and description_key are folded
// and escapes it for a LIKE substring match.
func likePattern(term string) string {
	term = shared.NameKey(term)
	if term == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
