package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/circuit"
	"arbiter/internal/engine"
)

func TestCollector_CountsEvents(t *testing.T) {
	c := NewCollector()

	c.RuleRegistered("movement")
	c.RuleRegistered("dice-first")
	c.TransactionCommitted("t1")
	c.TransactionRolledBack("t2")
	c.DeadlockDetected([]string{"t1", "t2"}, "t2")
	c.CircuitStateChanged("movement", circuit.StateClosed, circuit.StateOpen)
	c.CircuitStateChanged("movement", circuit.StateOpen, circuit.StateHalfOpen)
	c.CacheHit(engine.CacheKey{})
	c.CacheMiss(engine.CacheKey{})
	c.CacheMiss(engine.CacheKey{})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rulesRegistered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.txCommitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.txRolledBack))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deadlocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitTransitions.WithLabelValues("movement", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses))
}

func TestCollector_HandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.TransactionCommitted("t1")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbiter_transactions_committed_total 1")
}
