package pool

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL dialect the pooled sessions speak. The
// transaction-begin statement, the row-lock clause and the placeholder
// style all vary per dialect, and the pool normalizes them at the
// connection layer so callers write one form of SQL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a database/sql driver name to its dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// BeginStmt returns the statement that opens a transaction. SQLite uses
// BEGIN IMMEDIATE, which takes the write lock up front and stands in
// for the FOR UPDATE clause the other dialects use.
func (d Dialect) BeginStmt() string {
	if d == DialectSQLite {
		return "BEGIN IMMEDIATE"
	}
	return "BEGIN"
}

// RowLockSuffix returns the clause appended to a row-locking query.
// SQLite has no FOR UPDATE syntax; the write lock is already held by
// BEGIN IMMEDIATE, so the suffix is empty there.
func (d Dialect) RowLockSuffix() string {
	if d == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Rebind rewrites ? placeholders into the dialect's native form.
// PostgreSQL takes numbered $1..$n placeholders; the other dialects
// use ? as-is. A ? inside a single-quoted literal is left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.ContainsRune(query, '?') {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
