package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/cache"
	"github.com/flowgrid/flowgrid/internal/metrics"
	"github.com/flowgrid/flowgrid/internal/pool"
	"github.com/flowgrid/flowgrid/internal/resilience"
)

type stubConn struct{}

func (stubConn) Ping(ctx context.Context) error { return nil }
func (stubConn) Close() error                   { return nil }

func newTestExecutor() *Executor {
	p := pool.New(pool.Config{MaxPerService: 2}, func(ctx context.Context, serviceID string) (pool.Conn, error) {
		return stubConn{}, nil
	})
	c := cache.New(cache.Config{MaxEntries: 10})
	b := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 10 * time.Millisecond})
	retry := resilience.NewController(resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, Strategy: resilience.BackoffConstant}, resilience.NewClassifier())
	m := metrics.NewRegistry(100)
	return New(p, c, b, retry, m)
}

func TestExecute_SuccessCachesResult(t *testing.T) {
	e := newTestExecutor()
	calls := 0

	inv := Invocation{ServiceID: "svc:tool", Operation: "read", Target: "tool", Cacheable: true, CacheTTL: time.Minute}
	call := func(ctx context.Context, conn pool.Conn, timeout time.Duration) (interface{}, error) {
		calls++
		return "value", nil
	}

	out := e.Execute(context.Background(), inv, call)
	require.NoError(t, out.Err)
	assert.Equal(t, "value", out.Value)
	assert.False(t, out.CacheHit)

	out2 := e.Execute(context.Background(), inv, call)
	require.NoError(t, out2.Err)
	assert.True(t, out2.CacheHit)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestExecute_BreakerOpensAfterFailures(t *testing.T) {
	e := newTestExecutor()
	inv := Invocation{ServiceID: "svc:flaky", Operation: "read"}
	boom := errors.New("boom")
	call := func(ctx context.Context, conn pool.Conn, timeout time.Duration) (interface{}, error) {
		return nil, boom
	}

	for i := 0; i < 2; i++ {
		out := e.Execute(context.Background(), inv, call)
		assert.Error(t, out.Err)
	}

	out := e.Execute(context.Background(), inv, call)
	assert.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "circuit breaker")
}
