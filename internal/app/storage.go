/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complianceguardian/guardian/internal/keytable"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
	"github.com/complianceguardian/guardian/ratelimit/memstore"
	"github.com/complianceguardian/guardian/ratelimit/redisstore"
	"github.com/complianceguardian/guardian/ratelimit/sqlstore"
	"github.com/complianceguardian/guardian/retry"
)

const connectRetryInitialInterval = 200 * time.Millisecond

// Purger deletes counters whose window is over.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Storage is the counter store chosen by configuration together with the resources it owns.
type Storage struct {
	Type  ratelimit.StorageType
	Store ratelimit.Store

	// Purger is nil when the store does not need housekeeping (Redis expires keys itself).
	Purger Purger

	closeFn func() error
}

// Ping checks the connection of shared stores. In-process stores are always healthy.
func (s *Storage) Ping(ctx context.Context) error {
	if p, ok := s.Store.(ratelimit.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the connection of shared stores.
func (s *Storage) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// OpenStorage creates the store of the configured type.
// Shared stores are pinged (and the SQL schema is created) with retries, so guardian may start before its storage.
func OpenStorage(
	ctx context.Context, cfg *ratelimit.Config, logger log.FieldLogger, keysMetrics keytable.MetricsCollector,
) (*Storage, error) {
	logger = logger.With(log.String("storage", string(cfg.Storage.Type)))
	connectPolicy := retry.NewExponentialBackoffPolicy(connectRetryInitialInterval, cfg.Storage.ConnectMaxAttempts)

	switch {
	case cfg.Storage.Type == ratelimit.StorageMemory:
		store, err := memstore.New(cfg.MaxKeys, keysMetrics)
		if err != nil {
			return nil, fmt.Errorf("create in-memory store: %w", err)
		}
		return &Storage{Type: cfg.Storage.Type, Store: store, Purger: store}, nil

	case cfg.Storage.Type == ratelimit.StorageRedis:
		client := redisstore.NewUniversalClient(cfg.Storage.Redis)
		store := redisstore.New(client, redisstore.Opts{KeyPrefix: cfg.Storage.Redis.KeyPrefix})
		if err := retry.DoWithRetry(ctx, connectPolicy, nil,
			retry.LogNotify(logger, "cannot connect to rate limit storage, will retry"), store.Ping); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to rate limit storage", log.Strings("addrs", cfg.Storage.Redis.Addrs))
		return &Storage{Type: cfg.Storage.Type, Store: store, closeFn: redisCloser(client)}, nil

	case cfg.Storage.Type.IsSQL():
		dialect := sqlstore.Dialect(cfg.Storage.Type)
		db, err := sqlstore.Open(ctx, dialect, cfg.Storage.SQL.DSN, sqlstore.OpenOpts{MaxOpenConns: cfg.Storage.SQL.MaxOpenConns})
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.New(db, dialect, sqlstore.Opts{Table: cfg.Storage.SQL.Table})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err = retry.DoWithRetry(ctx, connectPolicy, nil,
			retry.LogNotify(logger, "cannot prepare rate limit storage, will retry"), store.EnsureSchema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare %s storage: %w", dialect, err)
		}
		logger.Info("connected to rate limit storage")
		return &Storage{Type: cfg.Storage.Type, Store: store, Purger: store, closeFn: sqlCloser(db)}, nil
	}
	return nil, fmt.Errorf("unknown rate limit storage type %q", cfg.Storage.Type)
}

func redisCloser(client redis.UniversalClient) func() error {
	return func() error {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
		return nil
	}
}

func sqlCloser(db *sql.DB) func() error {
	return db.Close
}
