package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closed   atomic.Bool
	pingErr  error
	pingCall atomic.Int32
}

func (f *fakeConn) Ping(ctx context.Context) error {
	f.pingCall.Add(1)
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func countingFactory(created *atomic.Int32) Factory {
	return func(ctx context.Context, serviceID string) (Conn, error) {
		created.Add(1)
		return &fakeConn{}, nil
	}
}

func TestAcquireRelease_Reuse(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 2}, countingFactory(&created))

	conn, id, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	require.NotNil(t, conn)
	p.Release(id)

	_, _, err = p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Load(), "second acquire should reuse the released connection")
}

func TestAcquire_RespectsMaxPerServiceAndTimesOut(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 1, AcquireTimeout: 50 * time.Millisecond}, countingFactory(&created))

	_, _, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)

	_, _, err = p.Acquire(context.Background(), "svc")
	assert.Error(t, err)
}

func TestReportError_ReconnectsUnderRetryLimit(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, countingFactory(&created))

	conn, id, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	_ = conn

	p.ReportError(context.Background(), id)
	p.wg.Wait()

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Reconnections)
	assert.EqualValues(t, 2, created.Load())
}

func TestExecute_ReleasesOnSuccessReportsOnError(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 1, MaxRetries: 0, RetryDelay: time.Millisecond}, countingFactory(&created))

	err := p.Execute(context.Background(), "svc", func(c Conn) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = p.Execute(context.Background(), "svc", func(c Conn) error { return boom })
	assert.ErrorIs(t, err, boom)

	p.wg.Wait()
	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Errors)
}

func TestActive_TracksIdleAndLeasedConnections(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 1}, countingFactory(&created))

	conn, id, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	_ = conn
	assert.True(t, p.Active(id), "a just-acquired connection should be active")

	p.Release(id)
	assert.True(t, p.Active(id), "a released (idle) connection is still active")

	assert.False(t, p.Active("does-not-exist"))
}

func TestEvict_RemovesRegardlessOfState(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 1}, countingFactory(&created))

	_, idleID, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	p.Release(idleID)

	p.Evict(idleID)
	assert.False(t, p.Active(idleID))

	conn, activeID, err := p.Acquire(context.Background(), "svc")
	require.NoError(t, err)
	fc := conn.(*fakeConn)

	p.Evict(activeID)
	assert.False(t, p.Active(activeID))
	assert.True(t, fc.closed.Load(), "Evict should close the underlying connection")
}

func TestConcurrentAcquireRelease(t *testing.T) {
	var created atomic.Int32
	p := New(Config{MaxPerService: 4}, countingFactory(&created))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			conn, id, err := p.Acquire(ctx, "svc")
			if err != nil {
				return
			}
			_ = conn
			time.Sleep(time.Millisecond)
			p.Release(id)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, created.Load(), int32(4))
}
