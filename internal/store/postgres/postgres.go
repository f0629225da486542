// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/gema/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const codeUniqueViolation = "23505"

type Config struct {
	Addr string
	User string
	Pass string
	Name string
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	reader
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool and pings the database.
func Connect(ctx context.Context, c Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return New(db), nil
}

func New(db *pgxpool.Pool) *Store {
	return &Store{
		reader: reader{q: db},
		db:     db,
	}
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate runs the embedded SQL migrations in file name order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		slog.InfoContext(ctx, fmt.Sprintf("postgres: applied migration %s", name))
	}

	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	t, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, t.Rollback(ctx))
		}
	}()

	if err = fn(ctx, &tx{reader: reader{q: t}}); err != nil {
		return err
	}

	return t.Commit(ctx)
}

type reader struct {
	q querier
}

type tx struct {
	reader
}

var _ store.Tx = (*tx)(nil)

func notFound(err error) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
