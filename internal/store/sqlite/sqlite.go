// Package sqlite implements store.Store on an embedded SQLite database (modernc.org/sqlite).
//
// The store runs on a single connection with immediate transactions, so writers are
// serialized; this is what makes the session row lock of store.Tx hold here.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/victornm/gema/internal/store"
)

//go:embed migrations/001_schema.sql
var schema string

const memory = ":memory:"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}
	if path != memory {
		params = append(params, "_pragma=journal_mode(WAL)")
	}

	db, err := sql.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: an in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		reader: reader{q: db},
		db:     db,
	}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, t.Rollback())
		}
	}()

	if err = fn(ctx, &tx{reader: reader{q: t}}); err != nil {
		return err
	}

	return t.Commit()
}

type reader struct {
	q querier
}

type tx struct {
	reader
}

var _ store.Tx = (*tx)(nil)

func notFound(err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func conflict(err error) error {
	var se *sqlite.Error
	// Primary key violations report as "UNIQUE constraint failed" as well.
	if stderrors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE") {
		return fmt.Errorf("%w: %s", store.ErrConflict, se.Error())
	}
	return err
}
