package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crypto-monitor/internal/config"
	"crypto-monitor/internal/retry"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrDuplicate indicates a uniqueness constraint rejected an insert.
	ErrDuplicate = errors.New("storage: duplicate row")
	// ErrNotFound indicates an update or delete matched no row.
	ErrNotFound = errors.New("storage: row not found")
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Store aggregates access to all durable tables behind one retry policy.
type Store struct {
	pool  *pgxpool.Pool
	retry retry.Policy
}

// NewStore wires a pgx pool and retry policy into a Store.
func NewStore(pool *pgxpool.Pool, policy retry.Policy) *Store {
	return &Store{pool: pool, retry: policy.WithRetryable(isTransientPg)}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// withRetry runs op under the shared policy. Only connection-class failures
// are retried; constraint and application errors surface immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return s.retry.Do(ctx, op)
}

// isTransientPg extends the transport predicate with PostgreSQL SQLSTATEs
// that signal a connection-level fault rather than a bad statement.
func isTransientPg(err error) bool {
	if retry.IsTransient(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P01/57P02/57P03: server shutdown.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03", "53300":
			return true
		}
	}
	return pgconn.SafeToRetry(err)
}
