package tx

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/BaSui01/dbflow/pool"
)

// newSQLiteExecutor 在临时文件库上构造真实 SQLite 栈，
// 不经 sqlmock，验证方言语句能被引擎接受。
func newSQLiteExecutor(t *testing.T) *Executor {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	factory := func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	p := pool.New(pool.Config{Capacity: 2, AcquireTimeout: time.Second}, factory,
		zap.NewNop(), pool.WithDialect(pool.DialectSQLite))
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(p.CloseAll)

	exec := New(p, DefaultConfig(), zap.NewNop())

	seed := func(ctx context.Context, conn *pool.Conn) (any, error) {
		if _, err := conn.ExecContext(ctx,
			`CREATE TABLE prospects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				status TEXT NOT NULL
			)`); err != nil {
			return nil, err
		}
		_, err := conn.ExecContext(ctx,
			`INSERT INTO prospects (id, name, status) VALUES (?, ?, ?)`,
			"p1", "Acme", "new")
		return nil, err
	}
	_, err := exec.Run(context.Background(), seed)
	require.NoError(t, err)

	return exec
}

func TestRunWithLockSQLite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	exec := newSQLiteExecutor(t)
	ctx := context.Background()

	result, err := exec.RunWithLock(ctx, "prospects", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			assert.Equal(t, "Acme", row["name"])
			assert.Equal(t, "new", row["status"])
			_, err := conn.ExecContext(ctx,
				`UPDATE prospects SET status = ? WHERE id = ?`, "won", "p1")
			return row["id"], err
		})
	require.NoError(t, err)
	assert.Equal(t, "p1", result)

	// 提交后在新事务里读回修改
	status, err := exec.Run(ctx, func(ctx context.Context, conn *pool.Conn) (any, error) {
		var s string
		err := conn.QueryRowContext(ctx,
			`SELECT status FROM prospects WHERE id = ?`, "p1").Scan(&s)
		return s, err
	})
	require.NoError(t, err)
	assert.Equal(t, "won", status)
}

func TestRunWithLockSQLiteNotFound_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	exec := newSQLiteExecutor(t)

	invoked := false
	_, err := exec.RunWithLock(context.Background(), "prospects", "ghost",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			invoked = true
			return nil, nil
		})

	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.False(t, invoked)
}
