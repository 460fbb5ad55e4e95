package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("dbflow", reg, zap.NewNop()), reg
}

func TestSetPoolState(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPoolState(2, 3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.poolConnectionsInUse))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.poolConnectionsFree))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolWaiters))
}

func TestRecordAcquire(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordAcquire("hit", time.Millisecond)
	c.RecordAcquire("hit", time.Millisecond)
	c.RecordAcquire("timeout", 30*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.poolAcquiresTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolAcquiresTotal.WithLabelValues("timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.poolAcquiresTotal.WithLabelValues("wait")))
}

func TestRecordTxOutcomes(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTxOutcome("committed")
	c.RecordTxOutcome("committed")
	c.RecordTxOutcome("retried")
	c.RecordTxOutcome("exhausted")
	c.RecordTxAttempts(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.txOutcomesTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.txOutcomesTotal.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.txOutcomesTotal.WithLabelValues("exhausted")))
}

func TestRecordAudit(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordAuditRecord("insert")
	c.RecordAuditRecord("update")
	c.RecordAuditRecord("update")
	c.RecordAuditFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditRecordsTotal.WithLabelValues("insert")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.auditRecordsTotal.WithLabelValues("update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditFailuresTotal))
}

func TestAllMetricsRegistered(t *testing.T) {
	_, reg := newTestCollector(t)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"dbflow_pool_connections_in_use",
		"dbflow_pool_connections_free",
		"dbflow_pool_waiters",
		"dbflow_pool_acquire_wait_seconds",
		"dbflow_tx_attempts",
		"dbflow_audit_failures_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}
