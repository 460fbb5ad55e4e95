package tx

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/pool"
)

// =============================================================================
// 🧪 事务执行器测试
// =============================================================================

// newTestExecutor 构造容量为 1 的池和执行器，所有事务都落在同一个
// sqlmock 会话上，便于按顺序设置期望。
func newTestExecutor(t *testing.T, cfg Config) (*Executor, sqlmock.Sqlmock) {
	return newDialectExecutor(t, cfg, pool.Dialect(""))
}

// newDialectExecutor 构造指定方言、容量为 1 的池和执行器。
func newDialectExecutor(t *testing.T, cfg Config, d pool.Dialect) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	factory := func(ctx context.Context) (*sql.DB, error) {
		return db, nil
	}
	p := pool.New(pool.Config{Capacity: 1, AcquireTimeout: time.Second}, factory,
		zap.NewNop(), pool.WithDialect(d))
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(p.CloseAll)

	return New(p, cfg, zap.NewNop()), mock
}

func expectBegin(mock sqlmock.Sqlmock) {
	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectCommit(mock sqlmock.Sqlmock) {
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectRollback(mock sqlmock.Sqlmock) {
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRunCommitsOnSuccess(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	mock.ExpectExec("INSERT INTO prospects (id) VALUES (?)").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectCommit(mock)

	result, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		if _, err := conn.ExecContext(ctx, "INSERT INTO prospects (id) VALUES (?)", "p1"); err != nil {
			return nil, err
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRetriesDeadlockWithLinearBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}
	exec, mock := newTestExecutor(t, cfg)

	// 前两次尝试死锁回滚，第三次提交
	expectBegin(mock)
	expectRollback(mock)
	expectBegin(mock)
	expectRollback(mock)
	expectBegin(mock)
	expectCommit(mock)

	attempts := 0
	start := time.Now()
	result, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("deadlock detected")
		}
		return attempts, nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, result)
	assert.Equal(t, 3, attempts)
	// 线性退避：10ms + 20ms
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunExhaustsRetries(t *testing.T) {
	cfg := Config{MaxRetries: 2, BaseDelay: 5 * time.Millisecond}
	exec, mock := newTestExecutor(t, cfg)

	expectBegin(mock)
	expectRollback(mock)
	expectBegin(mock)
	expectRollback(mock)

	attempts := 0
	_, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		attempts++
		return nil, errors.New("Deadlock found when trying to get lock")
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDomainErrorNotRetried(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	expectRollback(mock)

	attempts := 0
	_, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		attempts++
		return nil, Domainf("insufficient funds")
	})

	assert.True(t, IsDomain(err))
	assert.Equal(t, 1, attempts)
	// 领域错误原样透出，不额外包装
	assert.Equal(t, "insufficient funds", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNonRetryableErrorFailsImmediately(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	expectRollback(mock)

	attempts := 0
	_, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		attempts++
		return nil, errors.New("syntax error at or near SELEKT")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction failed")
	assert.Equal(t, 1, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRollsBackOnCommitFailure(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	mock.ExpectExec("COMMIT").WillReturnError(errors.New("disk I/O error"))
	expectRollback(mock)

	_, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		return nil, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunReleasesConnectionBetweenAttempts(t *testing.T) {
	cfg := Config{MaxRetries: 2, BaseDelay: time.Millisecond}
	exec, mock := newTestExecutor(t, cfg)

	expectBegin(mock)
	expectRollback(mock)
	expectBegin(mock)
	expectCommit(mock)

	attempts := 0
	_, err := exec.Run(context.Background(), func(ctx context.Context, conn *pool.Conn) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("serialization failure")
		}
		return nil, nil
	})

	// 容量为 1 的池：若失败尝试不归还连接，第二次 Acquire 必然超时
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// 🔒 悲观行锁测试
// =============================================================================

const lockProspectQuery = "SELECT * FROM prospects WHERE id = ? FOR UPDATE"

func TestRunWithLockInvokesWorkWithRow(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	mock.ExpectQuery(lockProspectQuery).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}).
			AddRow("p1", "Acme", "new"))
	mock.ExpectExec("UPDATE prospects SET status = ? WHERE id = ?").
		WithArgs("won", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectCommit(mock)

	result, err := exec.RunWithLock(context.Background(), "prospects", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			assert.Equal(t, "Acme", row["name"])
			assert.Equal(t, "new", row["status"])
			_, err := conn.ExecContext(ctx, "UPDATE prospects SET status = ? WHERE id = ?", "won", "p1")
			return row["id"], err
		})

	require.NoError(t, err)
	assert.Equal(t, "p1", result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithLockRecordNotFound(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	mock.ExpectQuery(lockProspectQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}))
	expectRollback(mock)

	invoked := false
	_, err := exec.RunWithLock(context.Background(), "prospects", "missing",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			invoked = true
			return nil, nil
		})

	assert.ErrorIs(t, err, ErrRecordNotFound)
	// 找不到行时不得调用工作函数
	assert.False(t, invoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithLockRollsBackOnWorkFailure(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	expectBegin(mock)
	mock.ExpectQuery(lockProspectQuery).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	expectRollback(mock)

	_, err := exec.RunWithLock(context.Background(), "prospects", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			return nil, Domainf("prospect %v is deleted", row["id"])
		})

	assert.True(t, IsDomain(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithLockRejectsBadTableName(t *testing.T) {
	exec, mock := newTestExecutor(t, DefaultConfig())

	_, err := exec.RunWithLock(context.Background(), "prospects; DROP TABLE x", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			return nil, nil
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithLockSQLiteUsesImmediateTransaction(t *testing.T) {
	exec, mock := newDialectExecutor(t, DefaultConfig(), pool.DialectSQLite)

	// SQLite 无 FOR UPDATE 语法，写锁由 BEGIN IMMEDIATE 取得
	mock.ExpectExec("BEGIN IMMEDIATE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT * FROM prospects WHERE id = ?").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("p1", "new"))
	expectCommit(mock)

	result, err := exec.RunWithLock(context.Background(), "prospects", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			return row["id"], nil
		})

	require.NoError(t, err)
	assert.Equal(t, "p1", result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithLockPostgresRebindsPlaceholders(t *testing.T) {
	exec, mock := newDialectExecutor(t, DefaultConfig(), pool.DialectPostgres)

	expectBegin(mock)
	mock.ExpectQuery("SELECT * FROM prospects WHERE id = $1 FOR UPDATE").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("p1", "new"))
	mock.ExpectExec("UPDATE prospects SET status = $1 WHERE id = $2").
		WithArgs("won", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectCommit(mock)

	_, err := exec.RunWithLock(context.Background(), "prospects", "p1",
		func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
			_, err := conn.ExecContext(ctx, "UPDATE prospects SET status = ? WHERE id = ?", "won", "p1")
			return nil, err
		})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// ⚙️ 配置测试
// =============================================================================

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxRetries: 0, BaseDelay: time.Millisecond}.Validate())
	assert.Error(t, Config{MaxRetries: 3, BaseDelay: 0}.Validate())
}
