package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperationCountsByOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("deposit", "success", 10*time.Millisecond)
	m.ObserveOperation("deposit", "success", 15*time.Millisecond)
	m.ObserveOperation("charge", "insufficient_funds", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.operationsTotal.WithLabelValues("deposit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.operationsTotal.WithLabelValues("charge", "insufficient_funds")))
	assert.Equal(t, 0.0, testutil.ToFloat64(
		m.operationsTotal.WithLabelValues("charge", "success")))
}

func TestObserveReconcilerSweep(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReconcilerSweep(3, nil)
	m.ObserveReconcilerSweep(0, nil)
	m.ObserveReconcilerSweep(0, errors.New("db down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcilerRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcilerRuns.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcilerExpired))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("deposit", "success", time.Millisecond)
	m.ObserveReconcilerSweep(1, nil)
}
