package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 连接池指标
	poolConnectionsInUse prometheus.Gauge
	poolConnectionsFree  prometheus.Gauge
	poolWaiters          prometheus.Gauge
	poolAcquiresTotal    *prometheus.CounterVec
	poolAcquireWait      prometheus.Histogram

	// 事务指标
	txOutcomesTotal *prometheus.CounterVec
	txAttempts      prometheus.Histogram

	// 审计指标
	auditRecordsTotal  *prometheus.CounterVec
	auditFailuresTotal prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 允许为每个连接池使用独立的 Registry，避免测试中重复注册冲突
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 连接池指标
	c.poolConnectionsInUse = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_in_use",
		Help:      "Number of connections currently checked out",
	})

	c.poolConnectionsFree = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connections_free",
		Help:      "Number of idle connections in the pool",
	})

	c.poolWaiters = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_waiters",
		Help:      "Number of callers queued for a connection",
	})

	c.poolAcquiresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquires_total",
			Help:      "Total number of acquire calls by result",
		},
		[]string{"result"}, // result: hit, wait, timeout, cancelled, closed
	)

	c.poolAcquireWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_acquire_wait_seconds",
		Help:      "Time spent waiting for a connection",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	})

	// 事务指标
	c.txOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_outcomes_total",
			Help:      "Total number of transaction outcomes",
		},
		[]string{"outcome"}, // outcome: committed, retried, exhausted, domain, failed
	)

	c.txAttempts = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tx_attempts",
		Help:      "Attempts used per committed transaction",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	// 审计指标
	c.auditRecordsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Total number of audit records written",
		},
		[]string{"action"},
	)

	c.auditFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_failures_total",
		Help:      "Total number of swallowed audit write failures",
	})

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🗄️ 连接池指标记录
// =============================================================================

// SetPoolState 记录连接池当前状态
func (c *Collector) SetPoolState(inUse, free, waiting int) {
	c.poolConnectionsInUse.Set(float64(inUse))
	c.poolConnectionsFree.Set(float64(free))
	c.poolWaiters.Set(float64(waiting))
}

// RecordAcquire 记录一次连接获取
func (c *Collector) RecordAcquire(result string, wait time.Duration) {
	c.poolAcquiresTotal.WithLabelValues(result).Inc()
	c.poolAcquireWait.Observe(wait.Seconds())
}

// =============================================================================
// 🔄 事务指标记录
// =============================================================================

// RecordTxOutcome 记录一次事务结果
func (c *Collector) RecordTxOutcome(outcome string) {
	c.txOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordTxAttempts 记录提交事务所用的尝试次数
func (c *Collector) RecordTxAttempts(attempts int) {
	c.txAttempts.Observe(float64(attempts))
}

// =============================================================================
// 📝 审计指标记录
// =============================================================================

// RecordAuditRecord 记录一条审计写入
func (c *Collector) RecordAuditRecord(action string) {
	c.auditRecordsTotal.WithLabelValues(action).Inc()
}

// RecordAuditFailure 记录一次被吞掉的审计失败
func (c *Collector) RecordAuditFailure() {
	c.auditFailuresTotal.Inc()
}
