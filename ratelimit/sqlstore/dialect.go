/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sqlstore

import "fmt"

// Dialect is a SQL database flavor.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return string(d)
}

func (d Dialect) validate() error {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return nil
	}
	return fmt.Errorf("unsupported SQL dialect %q", d)
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", n)
	case DialectSQLite:
		return fmt.Sprintf("?%d", n)
	}
	return "?"
}

type queries struct {
	schema []string

	// upsert returns the row when the dialect supports RETURNING, otherwise selectRow must follow it.
	upsert          string
	upsertArgs      func(key string, resetAtMs, nowMs, maxCount int64) []interface{}
	upsertReturning bool

	selectRow    string
	deleteRow    string
	purgeExpired string
}

// Parameters of the upsert: key, reset time of a new window, current time, count cap (0 means no cap).
// Column assignments read the old values of the row in all dialects; MySQL evaluates
// them left to right, so hits is assigned before reset_at_ms.
func newQueries(d Dialect, table string) queries {
	p := d.placeholder
	q := queries{
		selectRow:    fmt.Sprintf("SELECT hits, reset_at_ms FROM %s WHERE limit_key = %s", table, p(1)),
		deleteRow:    fmt.Sprintf("DELETE FROM %s WHERE limit_key = %s", table, p(1)),
		purgeExpired: fmt.Sprintf("DELETE FROM %s WHERE reset_at_ms <= %s", table, p(1)),
	}

	switch d {
	case DialectMySQL:
		q.schema = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	limit_key VARCHAR(255) NOT NULL PRIMARY KEY,
	hits BIGINT NOT NULL,
	reset_at_ms BIGINT NOT NULL,
	INDEX %s_reset_at_idx (reset_at_ms)
)`, table, table)}
		q.upsert = fmt.Sprintf(`INSERT INTO %s (limit_key, hits, reset_at_ms) VALUES (?, 1, ?)
ON DUPLICATE KEY UPDATE
	hits = CASE WHEN reset_at_ms <= ? THEN 1 WHEN ? > 0 AND hits >= ? THEN hits ELSE hits + 1 END,
	reset_at_ms = CASE WHEN reset_at_ms <= ? THEN ? ELSE reset_at_ms END`, table)
		q.upsertArgs = func(key string, resetAtMs, nowMs, maxCount int64) []interface{} {
			return []interface{}{key, resetAtMs, nowMs, maxCount, maxCount, nowMs, resetAtMs}
		}

	default:
		cast := func(s string) string { return s }
		if d == DialectPostgres {
			cast = func(s string) string { return s + "::BIGINT" }
		}
		q.schema = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	limit_key VARCHAR(255) NOT NULL PRIMARY KEY,
	hits BIGINT NOT NULL,
	reset_at_ms BIGINT NOT NULL
)`, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_reset_at_idx ON %s (reset_at_ms)", table, table),
		}
		q.upsert = fmt.Sprintf(`INSERT INTO %[1]s (limit_key, hits, reset_at_ms) VALUES (%[2]s, 1, %[3]s)
ON CONFLICT (limit_key) DO UPDATE SET
	hits = CASE WHEN %[1]s.reset_at_ms <= %[4]s THEN 1 WHEN %[5]s > 0 AND %[1]s.hits >= %[5]s THEN %[1]s.hits ELSE %[1]s.hits + 1 END,
	reset_at_ms = CASE WHEN %[1]s.reset_at_ms <= %[4]s THEN %[3]s ELSE %[1]s.reset_at_ms END
RETURNING hits, reset_at_ms`, table, p(1), cast(p(2)), cast(p(3)), cast(p(4)))
		q.upsertArgs = func(key string, resetAtMs, nowMs, maxCount int64) []interface{} {
			return []interface{}{key, resetAtMs, nowMs, maxCount}
		}
		q.upsertReturning = true
	}
	return q
}

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	for i, r := range name {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if !isLetter && (i == 0 || r < '0' || r > '9') {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}
