// Copyright (c) DBFlow Authors.
// Licensed under the MIT License.

/*
包 dbflow 是事务数据访问层的顶层入口，把连接池、事务执行器、
审计日志与业务存储装配成一个可用的整体。

# 快速开始

	cfg := config.DefaultConfig()
	logger, _ := zap.NewProduction()

	db, err := dbflow.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open failed", zap.Error(err))
	}
	defer db.Close()

	err = db.Store.CreateProspect(ctx, &store.Prospect{Name: "Acme"}, "usr-1", "api")

每个池化连接持有独立的数据库会话，BEGIN/COMMIT 等裸语句
始终落在同一物理会话上。
*/
package dbflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	// 注册 database/sql 驱动。
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/BaSui01/dbflow/audit"
	"github.com/BaSui01/dbflow/config"
	"github.com/BaSui01/dbflow/internal/metrics"
	"github.com/BaSui01/dbflow/pool"
	"github.com/BaSui01/dbflow/store"
	"github.com/BaSui01/dbflow/tx"
)

// =============================================================================
// 🎯 顶层装配
// =============================================================================

// DBFlow bundles the initialized data-access stack.
type DBFlow struct {
	Pool  *pool.Pool
	Tx    *tx.Executor
	Audit *audit.Logger
	Store *store.Store

	cfg    *config.Config
	logger *zap.Logger
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer selects the Prometheus registry for the stack's
// metrics. Defaults to prometheus.DefaultRegisterer; pass nil to
// disable metrics entirely.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *openOptions) { o.registerer = r }
}

// Open validates cfg, initializes the connection pool and wires the
// executor, audit logger and store on top of it. The returned DBFlow
// owns the pool; call Close when done.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*DBFlow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := openOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.NewCollector("dbflow", o.registerer, logger)
	}

	dialect, err := pool.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	driverName := cfg.Database.DriverName()
	dsn := cfg.Database.DSN()

	// 每次工厂调用打开一个独立会话，连接数固定为 1，
	// 保证裸 BEGIN/COMMIT 语句绑定到同一物理连接。
	factory := func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	p := pool.New(pool.Config{
		Capacity:       cfg.Pool.Capacity,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	}, factory, logger, pool.WithMetrics(collector), pool.WithDialect(dialect))

	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing pool: %w", err)
	}

	exec := tx.New(p, tx.Config{
		MaxRetries: cfg.Tx.MaxRetries,
		BaseDelay:  cfg.Tx.BaseDelay,
	}, logger, tx.WithMetrics(collector))

	auditLog := audit.New(logger, audit.WithMetrics(collector))
	st := store.New(p, exec, auditLog, logger)

	logger.Info("dbflow ready",
		zap.String("driver", driverName),
		zap.Int("pool_capacity", cfg.Pool.Capacity))

	return &DBFlow{
		Pool:   p,
		Tx:     exec,
		Audit:  auditLog,
		Store:  st,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Health reports the pool's current state.
func (d *DBFlow) Health() pool.Health {
	return d.Pool.Health()
}

// Close tears down the pool. Waiting acquirers fail with ErrPoolClosed.
func (d *DBFlow) Close() {
	d.logger.Info("dbflow closing")
	d.Pool.CloseAll()
}
