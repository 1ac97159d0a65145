package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted("lending_to_lending")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("lending_to_lending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSession))

	m.SessionClosed(CloseTimedOut)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues(CloseTimedOut)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSession))
}

func TestMetrics_SignPendingBalances(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SignDispatched("bridge_burn")
	m.SignDispatched("bridge_burn")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignPending))

	m.SignCompleted("bridge_burn", OutcomeSigned, time.Second)
	m.SignCompleted("bridge_burn", OutcomeSignerFailed, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SignPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignCompletions.WithLabelValues("bridge_burn", OutcomeSignerFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignRequests.WithLabelValues("bridge_burn")))
}

func TestMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Rejected("WRONG_STEP_ORDER")
	m.GateDecision("authorize", "allow")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "rebalancer_rejections_total")
	assert.Contains(t, names, "rebalancer_gate_decisions_total")

	// A second set on the same registry collides.
	assert.Panics(t, func() { New(reg) })
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("x")
		m.SessionClosed(CloseAborted)
		m.SignDispatched("x")
		m.SignCompleted("x", OutcomeSigned, 0)
		m.Rejected("x")
		m.GateDecision("register", "allow")
	})
}
