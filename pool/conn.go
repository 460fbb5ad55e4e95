package pool

import (
	"context"
	"database/sql"
	"time"
)

// ConnState represents the lifecycle state of a pooled connection.
type ConnState int

const (
	// StateFree means the connection is owned by the pool and available.
	StateFree ConnState = iota
	// StateInUse means the connection is checked out by exactly one caller.
	StateInUse
	// StateClosed means the connection was closed during pool teardown.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateInUse:
		return "in_use"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn wraps one live database session. A Conn is owned exclusively by
// the pool while free and by exactly one caller while checked out; it is
// never shared across concurrent callers.
//
// The session is a dedicated *sql.DB configured for a single underlying
// connection, so statements issued through a Conn (including BEGIN and
// COMMIT) always hit the same physical session.
type Conn struct {
	id      uint64
	db      *sql.DB
	dialect Dialect

	// state and the usage counters are guarded by the owning pool's mutex.
	state      ConnState
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   uint64
}

// ID returns the pool-assigned identifier of this connection.
func (c *Conn) ID() uint64 {
	return c.id
}

// DB exposes the underlying session for callers that need driver-level
// access (for example the migration runner).
func (c *Conn) DB() *sql.DB {
	return c.db
}

// ExecContext executes a statement that does not return rows.
// Placeholders are rewritten for the pool's dialect.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryContext executes a statement that returns rows.
// Placeholders are rewritten for the pool's dialect.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryRowContext executes a statement that returns at most one row.
// Placeholders are rewritten for the pool's dialect.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// PingContext verifies the session is still alive.
func (c *Conn) PingContext(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
