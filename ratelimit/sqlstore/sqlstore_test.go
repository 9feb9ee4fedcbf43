/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/complianceguardian/guardian/ratelimit"
)

type StoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	now   atomic.Int64
	store *Store
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	var err error
	s.db, err = Open(context.Background(), DialectSQLite, filepath.Join(s.T().TempDir(), "limits.db"), OpenOpts{})
	s.Require().NoError(err)
	s.now.Store(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	s.store, err = New(s.db, DialectSQLite, Opts{Now: func() time.Time { return time.UnixMilli(s.now.Load()) }})
	s.Require().NoError(err)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
	s.Require().NoError(s.store.EnsureSchema(context.Background()), "schema creation must be idempotent")
}

func (s *StoreTestSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *StoreTestSuite) advance(d time.Duration) {
	s.now.Add(d.Milliseconds())
}

func (s *StoreTestSuite) TestIncrement() {
	ctx := context.Background()
	start := time.UnixMilli(s.now.Load())
	for i := int64(1); i <= 3; i++ {
		entry, err := s.store.Increment(ctx, "k", time.Minute, 0)
		s.Require().NoError(err)
		s.Require().Equal(i, entry.Count)
		s.Require().True(start.Add(time.Minute).Equal(entry.ResetAt))
	}

	s.advance(59 * time.Second)
	entry, err := s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(4), entry.Count)
	s.Require().True(start.Add(time.Minute).Equal(entry.ResetAt))

	s.advance(time.Second)
	entry, err = s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), entry.Count)
	s.Require().True(start.Add(2 * time.Minute).Equal(entry.ResetAt))
}

func (s *StoreTestSuite) TestIncrement_MaxCount() {
	ctx := context.Background()
	var entry ratelimit.Entry
	for i := 0; i < 10; i++ {
		var err error
		entry, err = s.store.Increment(ctx, "k", time.Minute, 4)
		s.Require().NoError(err)
	}
	s.Require().Equal(int64(4), entry.Count)
}

func (s *StoreTestSuite) TestGetResetPurge() {
	ctx := context.Background()
	_, found, err := s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().False(found)

	_, err = s.store.Increment(ctx, "k", time.Minute, 0)
	s.Require().NoError(err)
	_, err = s.store.Increment(ctx, "short", time.Second, 0)
	s.Require().NoError(err)

	entry, found, err := s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(int64(1), entry.Count)

	s.Require().NoError(s.store.Reset(ctx, "k"))
	_, found, err = s.store.Get(ctx, "k")
	s.Require().NoError(err)
	s.Require().False(found)

	s.advance(2 * time.Second)
	_, found, err = s.store.Get(ctx, "short")
	s.Require().NoError(err)
	s.Require().False(found, "expired row must not be reported")

	deleted, err := s.store.PurgeExpired(ctx, time.UnixMilli(s.now.Load()))
	s.Require().NoError(err)
	s.Require().Equal(int64(1), deleted)
	s.Require().NoError(s.store.Ping(ctx))
}

func (s *StoreTestSuite) TestLongKey() {
	ctx := context.Background()
	path := "/" + strings.Repeat("a", 300)
	key := "default:192.0.2.1|GET " + path
	otherKey := key + "b"

	for i := int64(1); i <= 3; i++ {
		entry, err := s.store.Increment(ctx, key, time.Minute, 0)
		s.Require().NoError(err)
		s.Require().Equal(i, entry.Count)
		s.Require().Equal(key, entry.Key)
	}
	entry, err := s.store.Increment(ctx, key, time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(4), entry.Count)

	entry, err = s.store.Increment(ctx, otherKey, time.Minute, 0)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), entry.Count, "keys sharing a long prefix must have separate counters")

	var storedKeys []string
	rows, err := s.db.QueryContext(ctx, "SELECT limit_key FROM "+DefaultTable)
	s.Require().NoError(err)
	for rows.Next() {
		var k string
		s.Require().NoError(rows.Scan(&k))
		storedKeys = append(storedKeys, k)
	}
	s.Require().NoError(rows.Err())
	s.Require().NoError(rows.Close())
	s.Require().Len(storedKeys, 2)
	for _, k := range storedKeys {
		s.Require().LessOrEqual(len(k), MaxKeyLength)
		s.Require().True(strings.HasPrefix(k, "sha256:"))
	}

	got, found, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(int64(4), got.Count)
	s.Require().Equal(key, got.Key)

	s.Require().NoError(s.store.Reset(ctx, key))
	_, found, err = s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().False(found)
}

func TestStoredKey(t *testing.T) {
	short := strings.Repeat("k", MaxKeyLength)
	require.Equal(t, short, storedKey(short))
	long := short + "k"
	require.Len(t, storedKey(long), len("sha256:")+64)
	require.Equal(t, storedKey(long), storedKey(long))
	require.NotEqual(t, storedKey(long), storedKey(long+"k"))
}

func (s *StoreTestSuite) TestConcurrentIncrement() {
	const maxRequests = 20
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := s.store.Increment(context.Background(), "k", time.Minute, maxRequests+1)
			if err == nil && entry.Count <= maxRequests {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(int64(maxRequests), admitted.Load())
}

func (s *StoreTestSuite) TestClosedDatabase() {
	s.Require().NoError(s.db.Close())
	_, err := s.store.Increment(context.Background(), "k", time.Minute, 0)
	s.Require().Error(err)
	s.Require().Error(s.store.Ping(context.Background()))

	s.db, err = Open(context.Background(), DialectSQLite, filepath.Join(s.T().TempDir(), "other.db"), OpenOpts{})
	s.Require().NoError(err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Dialect("oracle"), Opts{})
	require.EqualError(t, err, `unsupported SQL dialect "oracle"`)
	_, err = New(nil, DialectPostgres, Opts{Table: "limits; DROP TABLE users"})
	require.ErrorContains(t, err, "invalid table name")
	_, err = New(nil, DialectPostgres, Opts{Table: "1limits"})
	require.ErrorContains(t, err, "invalid table name")
	_, err = New(nil, DialectMySQL, Opts{Table: "rate_limits_v2"})
	require.NoError(t, err)
}

func TestQueries(t *testing.T) {
	pg := newQueries(DialectPostgres, "limits")
	require.True(t, pg.upsertReturning)
	require.Contains(t, pg.upsert, "ON CONFLICT (limit_key) DO UPDATE")
	require.Contains(t, pg.upsert, "$4::BIGINT")
	require.Equal(t, "DELETE FROM limits WHERE limit_key = $1", pg.deleteRow)

	my := newQueries(DialectMySQL, "limits")
	require.False(t, my.upsertReturning)
	require.Contains(t, my.upsert, "ON DUPLICATE KEY UPDATE")
	require.Equal(t, strings.Count(my.upsert, "?"), len(my.upsertArgs("k", 2, 1, 0)))
	require.Equal(t, "SELECT hits, reset_at_ms FROM limits WHERE limit_key = ?", my.selectRow)
	require.Len(t, my.schema, 1)

	lite := newQueries(DialectSQLite, "limits")
	require.Contains(t, lite.upsert, "?4")
	require.Len(t, lite.schema, 2)
	require.Equal(t, "sqlite3", DialectSQLite.DriverName())
}
