package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

func TestStepKeyDeterministicAndSensitive(t *testing.T) {
	a := StepKey("ws-1", 0, json.RawMessage(`{"x":1}`))
	b := StepKey("ws-1", 0, json.RawMessage(`{"x":1}`))
	require.Equal(t, a, b)

	diffWorkstack := StepKey("ws-2", 0, json.RawMessage(`{"x":1}`))
	require.NotEqual(t, a, diffWorkstack)

	diffStep := StepKey("ws-1", 1, json.RawMessage(`{"x":1}`))
	require.NotEqual(t, a, diffStep)

	diffInput := StepKey("ws-1", 0, json.RawMessage(`{"x":2}`))
	require.NotEqual(t, a, diffInput)
}

func TestPutThenGetHits(t *testing.T) {
	c := NewStepCache(time.Minute)
	key := StepKey("ws-1", 0, json.RawMessage(`{"x":1}`))

	_, ok := c.Get("ws-1", key)
	require.False(t, ok)

	c.Put(key, json.RawMessage(`{"result":"ok"}`))

	out, ok := c.Get("ws-1", key)
	require.True(t, ok)
	require.JSONEq(t, `{"result":"ok"}`, string(out))

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)

	ws := c.WorkstackStats("ws-1")
	require.Equal(t, int64(1), ws.HitCount)
	require.Equal(t, int64(1), ws.MissCount)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := NewStepCache(time.Millisecond)
	key := StepKey("ws-1", 0, json.RawMessage(`{}`))
	c.Put(key, json.RawMessage(`{}`))

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("ws-1", key)
	require.False(t, ok, "stale entry must not be returned")
}

func TestSweepRemovesExpired(t *testing.T) {
	c := NewStepCache(time.Millisecond)
	c.Put(StepKey("ws-1", 0, json.RawMessage(`{}`)), json.RawMessage(`{}`))
	c.Put(StepKey("ws-1", 1, json.RawMessage(`{}`)), json.RawMessage(`{}`))

	time.Sleep(5 * time.Millisecond)

	removed := c.Sweep()
	require.Equal(t, 2, removed)
	require.Equal(t, 0, c.Stats().TotalEntries)
}

func TestInvalidateWorkstack(t *testing.T) {
	c := NewStepCache(time.Minute)
	key := StepKey("ws-1", 0, json.RawMessage(`{}`))
	c.Put(key, json.RawMessage(`{}`))

	c.InvalidateWorkstack([]string{key})

	_, ok := c.Get("ws-1", key)
	require.False(t, ok)
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	c := NewStepCache(0)
	require.Equal(t, models.DefaultCacheTTL, c.ttl)
}
