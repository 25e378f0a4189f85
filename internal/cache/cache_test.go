package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/workflow"
)

func TestGetPut_HitAndMiss(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
}

func TestExpiry_BasedOnCreationTime(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	defer c.Close()

	c.Put("k", "v", 10*time.Millisecond)

	// Keep the entry hot — access doesn't reset the clock per
	// entry.isExpired using createdAt, never lastAccess.
	for i := 0; i < 3; i++ {
		_, _ = c.Get("k")
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok, "entry must expire from creation time regardless of access")
}

func TestEviction_LRU(t *testing.T) {
	c := New(Config{MaxEntries: 2, Strategy: StrategyLRU, DefaultTTL: time.Minute})
	defer c.Close()

	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	c.Get("a") // a becomes most-recently-used
	c.Put("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted as least-recently-used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := New(Config{MaxEntries: 10})
	defer c.Close()

	c.Put("remote-tool:svc.a:hash1", 1, 0)
	c.Put("remote-tool:svc.a:hash2", 2, 0)
	c.Put("remote-tool:svc.b:hash3", 3, 0)

	n := c.InvalidatePrefix("remote-tool:svc.a")
	assert.Equal(t, 2, n)

	_, ok := c.Get("remote-tool:svc.b:hash3")
	assert.True(t, ok)
}

func TestKey_DeterministicRegardlessOfMapOrder(t *testing.T) {
	k1 := Key("remote-tool", "svc.fetch", map[string]interface{}{"a": 1, "b": 2})
	k2 := Key("remote-tool", "svc.fetch", map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(workflow.StepRemoteTool, "read", true))
	assert.False(t, Cacheable(workflow.StepRemoteTool, "write", true))
	assert.False(t, Cacheable(workflow.StepRemoteTool, "read", false))
	assert.True(t, Cacheable(workflow.StepFileOp, "read", true))
	assert.False(t, Cacheable(workflow.StepFileOp, "write", true))
	assert.False(t, Cacheable(workflow.StepShell, "run", true))
}
