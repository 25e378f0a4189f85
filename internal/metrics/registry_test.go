package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_BasicStats(t *testing.T) {
	r := NewRegistry(100)
	r.Declare("latency", KindHistogram)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Record("latency", v, nil)
	}

	s := r.Summarize("latency", 0)
	require.Equal(t, 5, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.Equal(t, 3.0, s.Mean)
	assert.Equal(t, 3.0, s.P50)
}

func TestSummarize_EmptyMetric(t *testing.T) {
	r := NewRegistry(10)
	s := r.Summarize("nonexistent", 0)
	assert.Equal(t, 0, s.Count)
}

func TestRingBuffer_WrapsAtCapacity(t *testing.T) {
	r := NewRegistry(3)
	r.Declare("g", KindGauge)
	for i := 1; i <= 5; i++ {
		r.Record("g", float64(i), nil)
	}
	// Only the last 3 values (3,4,5) should survive the ring buffer.
	s := r.Summarize("g", 0)
	require.Equal(t, 3, s.Count)
	assert.Equal(t, 3.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
}

func TestTimeOperation_RecordsDurationAndCount(t *testing.T) {
	r := NewRegistry(10)
	scope := r.TimeOperation("svc:tool", nil)
	time.Sleep(time.Millisecond)
	scope.End()

	durations := r.Summarize("operation_duration_seconds", 0)
	total := r.Summarize("operations_total", 0)
	assert.Equal(t, 1, durations.Count)
	assert.Equal(t, 1, total.Count)
	assert.Greater(t, durations.Max, 0.0)
}

func TestTimeOperation_FailIncrementsErrors(t *testing.T) {
	r := NewRegistry(10)
	scope := r.TimeOperation("svc:tool", nil)
	scope.Fail(assertError{})

	errs := r.Summarize("operation_errors", 0)
	assert.Equal(t, 1, errs.Count)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestCheckThresholds_ErrorRateBreach(t *testing.T) {
	r := NewRegistry(10)
	r.Declare("operations_total", KindCounter)
	r.Declare("operation_errors", KindCounter)
	for i := 0; i < 10; i++ {
		r.Inc("operations_total", nil)
	}
	for i := 0; i < 2; i++ {
		r.Inc("operation_errors", nil)
	}

	alerts := r.CheckThresholds(DefaultThresholds(), 0)
	found := false
	for _, a := range alerts {
		if a.Metric == "error_rate" {
			found = true
		}
	}
	assert.True(t, found)
}
