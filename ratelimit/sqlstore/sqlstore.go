/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package sqlstore provides a fixed window counter store shared between instances through a SQL database.
// Each counter is a row of the table (limit_key, hits, reset_at_ms) updated by a single atomic upsert.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/complianceguardian/guardian/ratelimit"
)

// DefaultTable is the name of the counters table unless Opts.Table is set.
const DefaultTable = ratelimit.DefaultSQLTable

// MaxKeyLength is the length of the limit_key column.
// Longer keys are stored as "sha256:" followed by the hex digest of the key.
const MaxKeyLength = 255

const digestKeyPrefix = "sha256:"

// storedKey returns the value of the limit_key column for the key.
func storedKey(key string) string {
	if len(key) <= MaxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return digestKeyPrefix + hex.EncodeToString(sum[:])
}

// Opts represents options for Store.
type Opts struct {
	Table string
	// Now replaces time.Now.
	Now func() time.Time
}

// Store keeps counters in a SQL table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	queries queries
	now     func() time.Time
}

var (
	_ ratelimit.Store  = (*Store)(nil)
	_ ratelimit.Pinger = (*Store)(nil)
)

// New creates a new Store. The database is owned by the caller.
func New(db *sql.DB, dialect Dialect, opts Opts) (*Store, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if err := validateTableName(opts.Table); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, dialect: dialect, queries: newQueries(dialect, opts.Table), now: opts.Now}, nil
}

// EnsureSchema creates the counters table and its index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.queries.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create rate limits schema: %w", err)
		}
	}
	return nil
}

// Increment implements ratelimit.Store.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, maxCount int64) (ratelimit.Entry, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	args := s.queries.upsertArgs(storedKey(key), nowMs+window.Milliseconds(), nowMs, maxCount)

	var hits, resetAtMs int64
	if s.queries.upsertReturning {
		if err := s.db.QueryRowContext(ctx, s.queries.upsert, args...).Scan(&hits, &resetAtMs); err != nil {
			return ratelimit.Entry{}, fmt.Errorf("upsert counter: %w", err)
		}
	} else if err := s.upsertInTx(ctx, storedKey(key), args, &hits, &resetAtMs); err != nil {
		return ratelimit.Entry{}, err
	}
	return ratelimit.Entry{Key: key, Count: hits, ResetAt: time.UnixMilli(resetAtMs)}, nil
}

// upsertInTx reads the row back in the same transaction, so the row lock taken by the upsert
// is held until the values are read.
func (s *Store) upsertInTx(ctx context.Context, key string, args []interface{}, hits, resetAtMs *int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, s.queries.upsert, args...); err != nil {
		return fmt.Errorf("upsert counter: %w", err)
	}
	if err = tx.QueryRowContext(ctx, s.queries.selectRow, key).Scan(hits, resetAtMs); err != nil {
		return fmt.Errorf("select counter: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get implements ratelimit.Store. Rows whose window is over are reported as absent.
func (s *Store) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	var hits, resetAtMs int64
	err := s.db.QueryRowContext(ctx, s.queries.selectRow, storedKey(key)).Scan(&hits, &resetAtMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.Entry{}, false, nil
		}
		return ratelimit.Entry{}, false, fmt.Errorf("select counter: %w", err)
	}
	entry := ratelimit.Entry{Key: key, Count: hits, ResetAt: time.UnixMilli(resetAtMs)}
	if entry.Expired(s.now()) {
		return ratelimit.Entry{}, false, nil
	}
	return entry, true, nil
}

// Reset implements ratelimit.Store.
func (s *Store) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.deleteRow, storedKey(key)); err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows whose window is over at the given moment and returns their number.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.queries.purgeExpired, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired counters: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get number of purged counters: %w", err)
	}
	return deleted, nil
}

// Ping implements ratelimit.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
