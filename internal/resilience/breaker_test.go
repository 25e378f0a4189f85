package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond})

	require.NoError(t, b.Allow("svc"))
	b.RecordFailure("svc")
	require.NoError(t, b.Allow("svc"))
	b.RecordFailure("svc")

	err := b.Allow("svc")
	assert.Error(t, err)
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.RecordFailure("svc") // opens immediately at threshold 1
	require.Error(t, b.Allow("svc"))

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Allow("svc"), "recovery timeout elapsed, probe should be admitted")
	assert.Error(t, b.Allow("svc"), "a second concurrent call must not get a second probe")
}

func TestBreaker_SuccessfulProbeCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.RecordFailure("svc")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow("svc"))

	b.RecordSuccess("svc")
	status := b.Status()["svc"]
	assert.Equal(t, BreakerClosed, status.State)

	require.NoError(t, b.Allow("svc"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	b.RecordFailure("svc")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Allow("svc"))

	b.RecordFailure("svc")
	status := b.Status()["svc"]
	assert.Equal(t, BreakerOpen, status.State)
	assert.Error(t, b.Allow("svc"))
}
