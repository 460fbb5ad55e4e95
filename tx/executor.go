package tx

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/internal/metrics"
	"github.com/BaSui01/dbflow/pool"
)

// =============================================================================
// 🔄 事务执行器
// =============================================================================

// UnitOfWork 事务回调函数类型，在一个已开启的事务内执行多条语句
type UnitOfWork func(ctx context.Context, conn *pool.Conn) (any, error)

// LockedUnitOfWork 持锁事务回调函数类型，row 为已锁定行的字段快照
type LockedUnitOfWork func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error)

// Config 事务执行器配置
type Config struct {
	// 最大尝试次数（含首次）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 重试基础延迟，第 k 次重试前等待 BaseDelay*k
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

// DefaultConfig 返回默认事务配置
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive, got %d", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", c.BaseDelay)
	}
	return nil
}

// Executor 在池化连接上执行原子工作单元，死锁时自动退避重试。
// 所有连接均经由池的 Acquire/Release 获取，不绕过容量约束。
type Executor struct {
	pool    *pool.Pool
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option 自定义 Executor
type Option func(*Executor)

// WithMetrics 挂接指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = c
	}
}

// New 创建事务执行器
func New(p *pool.Pool, cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		pool:   p,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "tx_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Run executes work inside BEGIN/COMMIT with up to MaxRetries attempts.
// Deadlock-class failures are retried after a linear backoff of
// BaseDelay*attempt; domain failures propagate immediately; anything
// else is wrapped and propagated without retry. The connection used for
// a failed attempt is always released before the next attempt acquires
// a (possibly different) one.
func (e *Executor) Run(ctx context.Context, work UnitOfWork) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		result, err := e.runOnce(ctx, work)
		if err == nil {
			e.recordOutcome("committed")
			e.recordAttempts(attempt)
			return result, nil
		}

		if IsDomain(err) {
			e.recordOutcome("domain")
			return nil, err
		}

		if !IsDeadlock(err) {
			e.recordOutcome("failed")
			return nil, fmt.Errorf("transaction failed: %w", err)
		}

		lastErr = err
		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.cfg.BaseDelay * time.Duration(attempt)
		e.logger.Warn("deadlock detected, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		e.recordOutcome("retried")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	e.recordOutcome("exhausted")
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, e.cfg.MaxRetries, lastErr)
}

// runOnce 执行单次事务尝试
func (e *Executor) runOnce(ctx context.Context, work UnitOfWork) (any, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	if _, err := conn.ExecContext(ctx, e.pool.Dialect().BeginStmt()); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	result, err := work(ctx, conn)
	if err != nil {
		e.rollback(ctx, conn, err)
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		e.rollback(ctx, conn, err)
		return nil, err
	}

	return result, nil
}

// rollback 回滚当前事务。回滚自身的失败只记录日志，
// 不覆盖已经发生的主错误
func (e *Executor) rollback(ctx context.Context, conn *pool.Conn, cause error) {
	if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
		e.logger.Warn("rollback failed",
			zap.Error(rbErr),
			zap.NamedError("cause", cause),
		)
	}
}

// =============================================================================
// 🔒 悲观行锁
// =============================================================================

// identPattern 限定表名只能是普通标识符，表名无法参数化，
// 必须在拼接前校验
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunWithLock locks the row identified by recordID in table (SELECT
// ... FOR UPDATE, or BEGIN IMMEDIATE on SQLite), then invokes work
// with the locked row's fields.
// The whole call is wrapped in BEGIN/COMMIT so the lock is held
// for the full lifetime of the unit of work and released on commit or
// rollback. Fails with ErrRecordNotFound, without invoking work, when
// no row matches.
func (e *Executor) RunWithLock(ctx context.Context, table, recordID string, work LockedUnitOfWork) (any, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	if _, err := conn.ExecContext(ctx, e.pool.Dialect().BeginStmt()); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	row, err := e.lockRow(ctx, conn, table, recordID)
	if err != nil {
		e.rollback(ctx, conn, err)
		e.recordOutcome("failed")
		return nil, err
	}

	result, err := work(ctx, conn, row)
	if err != nil {
		e.rollback(ctx, conn, err)
		if IsDomain(err) {
			e.recordOutcome("domain")
			return nil, err
		}
		e.recordOutcome("failed")
		return nil, fmt.Errorf("transaction failed: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		e.rollback(ctx, conn, err)
		e.recordOutcome("failed")
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	e.recordOutcome("committed")
	e.recordAttempts(1)
	return result, nil
}

// lockRow 读取并锁定一行，返回字段名到值的快照。锁定子句随方言
// 变化：SQLite 下为空，写锁由 BEGIN IMMEDIATE 承担
func (e *Executor) lockRow(ctx context.Context, conn *pool.Conn, table, recordID string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?%s", table, e.pool.Dialect().RowLockSuffix())

	rows, err := conn.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("locking row: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading locked row columns: %w", err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("locking row: %w", err)
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, recordID)
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning locked row: %w", err)
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[col] = v
	}
	return row, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (e *Executor) recordOutcome(outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordTxOutcome(outcome)
}

func (e *Executor) recordAttempts(attempts int) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordTxAttempts(attempts)
}
