package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/internal/metrics"
)

// Factory opens one database session. Each call must return an
// independent session; the pool configures nothing on it beyond
// ownership, so the factory is responsible for driver settings.
type Factory func(ctx context.Context) (*sql.DB, error)

// Config holds pool configuration.
type Config struct {
	// Capacity is the fixed number of connections the pool tries to open.
	Capacity int `yaml:"capacity" json:"capacity"`

	// AcquireTimeout bounds how long Acquire waits for a free connection.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:       5,
		AcquireTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be positive, got %d", c.Capacity)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire timeout must be positive, got %s", c.AcquireTimeout)
	}
	return nil
}

// waitResult is what a queued waiter eventually receives.
type waitResult struct {
	conn *Conn
	err  error
}

// waiter is one suspended Acquire call. resolved is guarded by the pool
// mutex; once set, the waiter has been (or is being) handed a result and
// must not be removed from the queue by the timeout path.
type waiter struct {
	ch       chan waitResult
	resolved bool
}

// Pool owns a fixed-capacity set of connections and arbitrates access
// with FIFO fairness. The free list, the waiter queue and every Conn
// state transition are guarded by a single mutex.
type Pool struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	factory     Factory
	conns       map[uint64]*Conn
	free        []*Conn
	waiters     []*waiter
	nextID      uint64

	dialect Dialect
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option customizes a Pool.
type Option func(*Pool)

// WithMetrics attaches a metrics collector to the pool.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) {
		p.metrics = c
	}
}

// WithDialect declares the SQL dialect of the sessions the factory
// opens. Connections rewrite placeholders for it, and transaction and
// locking statements built on top of the pool adapt to it. The zero
// value keeps statements untouched.
func WithDialect(d Dialect) Option {
	return func(p *Pool) {
		p.dialect = d
	}
}

// New creates a pool. The pool is Uninitialized until Initialize is
// called; Acquire fails with ErrNotInitialized before that.
func New(cfg Config, factory Factory, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		conns:   make(map[uint64]*Conn),
		logger:  logger.With(zap.String("component", "conn_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize opens up to Capacity connections sequentially. A connection
// that fails to open is skipped and logged, not retried. It fails with
// ErrInit only when zero connections succeeded. Calling Initialize on an
// already-initialized pool is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		p.logger.Warn("pool already initialized, ignoring")
		return nil
	}

	var lastErr error
	for i := 0; i < p.cfg.Capacity; i++ {
		db, err := p.factory(ctx)
		if err != nil {
			lastErr = err
			p.logger.Warn("failed to open connection, skipping slot",
				zap.Int("slot", i),
				zap.Error(err),
			)
			continue
		}

		p.nextID++
		c := &Conn{
			id:         p.nextID,
			db:         db,
			dialect:    p.dialect,
			state:      StateFree,
			createdAt:  time.Now(),
			lastUsedAt: time.Now(),
		}
		p.conns[c.id] = c
		p.free = append(p.free, c)
	}

	if len(p.conns) == 0 {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", ErrInit, lastErr)
		}
		return ErrInit
	}

	p.initialized = true
	p.updateGaugesLocked()

	p.logger.Info("pool initialized",
		zap.Int("capacity", p.cfg.Capacity),
		zap.Int("opened", len(p.conns)),
	)
	return nil
}

// Dialect reports the SQL dialect the pool was configured with.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Acquire checks out a connection using the configured acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.AcquireTimeout(ctx, p.cfg.AcquireTimeout)
}

// AcquireTimeout checks out a connection, waiting at most the given
// timeout. If a free connection exists it is returned immediately;
// otherwise the caller is queued FIFO behind earlier waiters. On timeout
// the waiter is removed from the queue under the pool mutex, so a
// release racing with expiry can never leak: the connection is re-routed
// to the next waiter or back to the free list.
func (p *Pool) AcquireTimeout(ctx context.Context, timeout time.Duration) (*Conn, error) {
	start := time.Now()

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}

	if len(p.free) > 0 {
		c := p.free[0]
		p.free = p.free[1:]
		p.leaseLocked(c)
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.recordAcquire("hit", time.Since(start))
		return c, nil
	}

	w := &waiter{ch: make(chan waitResult, 1)}
	p.waiters = append(p.waiters, w)
	p.updateGaugesLocked()
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res.err != nil {
			p.recordAcquire("closed", time.Since(start))
			return nil, res.err
		}
		p.recordAcquire("wait", time.Since(start))
		return res.conn, nil
	case <-timer.C:
		p.abandonWaiter(w)
		p.recordAcquire("timeout", time.Since(start))
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, timeout)
	case <-ctx.Done():
		p.abandonWaiter(w)
		p.recordAcquire("cancelled", time.Since(start))
		return nil, ctx.Err()
	}
}

// abandonWaiter removes w from the queue. If a release already resolved
// the waiter, the handed-off connection is put back into circulation.
func (p *Pool) abandonWaiter(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w.resolved {
		// Lost the race: a release picked this waiter before the timeout
		// path took the mutex. The result is already buffered in the
		// channel, take it back so the connection is not leaked.
		res := <-w.ch
		if res.conn != nil {
			p.returnLocked(res.conn)
		}
		return
	}

	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.updateGaugesLocked()
}

// Release returns a connection to the pool. If any waiter is queued, the
// oldest one receives the connection directly; otherwise it goes back to
// the free list. Releasing a connection not tracked by this pool is a
// no-op with a warning.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tracked, ok := p.conns[c.id]
	if !ok || tracked != c {
		p.logger.Warn("release of untracked connection ignored", zap.Uint64("conn_id", c.id))
		return
	}
	if c.state != StateInUse {
		p.logger.Warn("release of connection that is not in use ignored",
			zap.Uint64("conn_id", c.id),
			zap.String("state", c.state.String()),
		)
		return
	}

	p.returnLocked(c)
	p.updateGaugesLocked()
}

// returnLocked routes a connection to the oldest waiter or the free
// list. Caller must hold p.mu.
func (p *Pool) returnLocked(c *Conn) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.resolved = true
		p.leaseLocked(c)
		w.ch <- waitResult{conn: c}
		return
	}

	c.state = StateFree
	c.lastUsedAt = time.Now()
	p.free = append(p.free, c)
}

// leaseLocked marks a connection as checked out. Caller must hold p.mu.
func (p *Pool) leaseLocked(c *Conn) {
	c.state = StateInUse
	c.lastUsedAt = time.Now()
	c.useCount++
}

// WithConn acquires a connection, invokes fn and releases the connection
// on every exit path of fn, including panic.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return fn(c)
}

// Health is a point-in-time snapshot of pool state.
type Health struct {
	Initialized bool    `json:"initialized"`
	Capacity    int     `json:"capacity"`
	Total       int     `json:"total"`
	Available   int     `json:"available"`
	InUse       int     `json:"in_use"`
	Waiting     int     `json:"waiting"`
	Utilization float64 `json:"utilization"`
}

// Health returns a snapshot of the pool. Pure read, no mutation.
func (p *Pool) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	for _, c := range p.conns {
		if c.state == StateInUse {
			inUse++
		}
	}

	h := Health{
		Initialized: p.initialized,
		Capacity:    p.cfg.Capacity,
		Total:       len(p.conns),
		Available:   len(p.free),
		InUse:       inUse,
		Waiting:     len(p.waiters),
	}
	if h.Total > 0 {
		h.Utilization = float64(inUse) / float64(h.Total) * 100
	}
	return h
}

// CloseAll closes every tracked connection, fails queued waiters with
// ErrPoolClosed and resets the pool to Uninitialized. Per-connection
// close failures are logged and do not abort the loop.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.waiters {
		w.resolved = true
		w.ch <- waitResult{err: ErrPoolClosed}
	}
	p.waiters = nil

	for _, c := range p.conns {
		if c.state == StateInUse {
			p.logger.Warn("closing connection that is still checked out", zap.Uint64("conn_id", c.id))
		}
		if err := c.db.Close(); err != nil {
			p.logger.Warn("failed to close connection",
				zap.Uint64("conn_id", c.id),
				zap.Error(err),
			)
		}
		c.state = StateClosed
	}

	closed := len(p.conns)
	p.conns = make(map[uint64]*Conn)
	p.free = nil
	p.initialized = false
	p.updateGaugesLocked()

	p.logger.Info("pool closed", zap.Int("connections_closed", closed))
}

// updateGaugesLocked pushes the current pool state to the metrics
// collector. Caller must hold p.mu.
func (p *Pool) updateGaugesLocked() {
	if p.metrics == nil {
		return
	}
	inUse := 0
	for _, c := range p.conns {
		if c.state == StateInUse {
			inUse++
		}
	}
	p.metrics.SetPoolState(inUse, len(p.free), len(p.waiters))
}

func (p *Pool) recordAcquire(result string, wait time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordAcquire(result, wait)
}
