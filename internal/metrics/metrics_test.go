package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTaskOutcomeIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(TasksExecutedTotal.WithLabelValues("success"))
	RecordTaskOutcome("success")
	after := testutil.ToFloat64(TasksExecutedTotal.WithLabelValues("success"))
	require.Equal(t, before+1, after)
}

func TestRecordChangeIncrementsPerType(t *testing.T) {
	before := testutil.ToFloat64(ChangeRecordsTotal.WithLabelValues("arrive"))
	RecordChange("arrive")
	after := testutil.ToFloat64(ChangeRecordsTotal.WithLabelValues("arrive"))
	require.Equal(t, before+1, after)
}

func TestSetHLSActiveSessionsSetsGaugeValue(t *testing.T) {
	SetHLSActiveSessions(3)
	require.Equal(t, float64(3), testutil.ToFloat64(HLSActiveSessions))
	SetHLSActiveSessions(0)
	require.Equal(t, float64(0), testutil.ToFloat64(HLSActiveSessions))
}

func TestObserveDetectorLatencyDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() { ObserveDetectorLatency(42.0) })
}

func TestRecordHLSSpawnFailureIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(HLSSpawnFailuresTotal)
	RecordHLSSpawnFailure()
	after := testutil.ToFloat64(HLSSpawnFailuresTotal)
	require.Equal(t, before+1, after)
}
