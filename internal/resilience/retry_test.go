package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
)

func TestController_RetriesTransientFailures(t *testing.T) {
	ctrl := NewController(RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Strategy:    BackoffConstant,
	}, NewClassifier())

	calls := 0
	result := ctrl.Run(context.Background(), RecoveryContext{}, func(ctx context.Context, rc RecoveryContext) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, &pkgerrors.TransportError{ServiceID: "svc", Operation: "call", Cause: errors.New("boom")}
		}
		return "ok", nil
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, result.Attempts)
}

func TestController_EscalatesValidationWithoutRetry(t *testing.T) {
	ctrl := NewController(DefaultRetryConfig(), NewClassifier())

	calls := 0
	result := ctrl.Run(context.Background(), RecoveryContext{}, func(ctx context.Context, rc RecoveryContext) (interface{}, error) {
		calls++
		return nil, &pkgerrors.ValidationError{Field: "x", Message: "bad"}
	})

	assert.Error(t, result.Err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
}

func TestController_TimeoutRecoveryGrowsTimeout(t *testing.T) {
	ctrl := NewController(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Strategy: BackoffConstant}, NewClassifier())

	var seenTimeouts []time.Duration
	calls := 0
	result := ctrl.Run(context.Background(), RecoveryContext{Timeout: 100 * time.Millisecond}, func(ctx context.Context, rc RecoveryContext) (interface{}, error) {
		calls++
		seenTimeouts = append(seenTimeouts, rc.Timeout)
		if calls < 2 {
			return nil, &pkgerrors.TimeoutError{Operation: "call", Duration: rc.Timeout}
		}
		return "ok", nil
	})

	require.NoError(t, result.Err)
	require.Len(t, seenTimeouts, 2)
	assert.Greater(t, seenTimeouts[1], seenTimeouts[0])
}

func TestController_GracefulDegradationMarksDegraded(t *testing.T) {
	ctrl := NewController(DefaultRetryConfig(), NewClassifier())

	result := ctrl.Run(context.Background(), RecoveryContext{}, func(ctx context.Context, rc RecoveryContext) (interface{}, error) {
		return nil, &pkgerrors.CapacityError{Resource: "pool", Limit: 1}
	})

	assert.Error(t, result.Err)
	assert.True(t, result.Degraded)
}

func TestDelay_ExponentialWithoutJitterGrows(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2, Strategy: BackoffExponential}
	assert.Equal(t, 10*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 20*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 40*time.Millisecond, cfg.delay(3))
}

func TestDelay_RespectsMaxDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond, ExponentialBase: 2, Strategy: BackoffExponential}
	assert.Equal(t, 15*time.Millisecond, cfg.delay(5))
}
