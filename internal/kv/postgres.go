package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxIface is the subset of *pgxpool.Pool the Postgres store uses.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS spotlight_kv (
		namespace  TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Postgres stores namespaces as rows of a single table.
type Postgres struct {
	db      PgxIface
	closeFn func()
	timeout time.Duration
}

// OpenPostgres connects a pool to dsn and ensures the kv table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	p, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.closeFn = pool.Close
	return p, nil
}

// NewPostgres wraps an existing connection and ensures the kv table exists.
func NewPostgres(ctx context.Context, db PgxIface) (*Postgres, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Postgres{db: db, timeout: 5 * time.Second}, nil
}

func (p *Postgres) Get(namespace string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM spotlight_kv WHERE namespace = $1`, namespace).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading namespace %s: %w", namespace, err)
	}
	return value, true, nil
}

func (p *Postgres) Set(namespace, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.db.Exec(ctx, `
		INSERT INTO spotlight_kv (namespace, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (namespace) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`, namespace, value)
	if err != nil {
		return fmt.Errorf("writing namespace %s: %w", namespace, err)
	}
	return nil
}

// Close releases the pool opened by OpenPostgres.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}
