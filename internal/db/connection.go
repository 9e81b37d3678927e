package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dream-ai/docchat/internal/domain"
)

// Options configures the pool. Zero values keep pgxpool defaults, except
// ConnectAttempts which defaults to one attempt.
type Options struct {
	ConnString      string
	MaxConns        int32
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// DB is the Postgres store of documents, chunks and conversations
type DB struct {
	pool *pgxpool.Pool
}

func poolConfig(opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection string: %v", domain.ErrValidation, err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = "docchat"
	return cfg, nil
}

// New opens a pool and waits until the server answers a ping. A server that
// is still starting is retried ConnectAttempts times with exponential backoff.
func New(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %v", domain.ErrPersistence, err)
	}

	attempts := opts.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	if opts.ConnectBackoff > 0 {
		policy.InitialInterval = opts.ConnectBackoff
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	db := &DB{pool: pool}
	if err := backoff.Retry(func() error { return db.Ping(ctx) }, retry); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Ping reports whether the database answers within five seconds.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}
