package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Open opens a pgx-backed *sql.DB and waits for the first successful ping,
// retrying with exponential backoff until ConnectTimeout elapses.
func Open(ctx context.Context, dsn string, pool PoolConfig, logger *zap.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: empty database url")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = pool.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 30 * time.Second
	}

	err = backoff.RetryNotify(
		func() error {
			return db.PingContext(ctx)
		},
		backoff.WithContext(policy, ctx),
		func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("database ping failed, retrying", zap.Error(err), zap.Duration("next_attempt_in", next))
			}
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return db, nil
}
