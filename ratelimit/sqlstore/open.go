/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
)

// OpenOpts represents options for Open.
type OpenOpts struct {
	MaxOpenConns int
}

// Open opens a database of the dialect.
// SQLite is limited to a single connection since it allows one writer at a time.
func Open(ctx context.Context, dialect Dialect, dsn string, opts OpenOpts) (*sql.DB, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=10000"} {
			if _, err = db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("exec %q: %w", pragma, err)
			}
		}
	}
	return db, nil
}
