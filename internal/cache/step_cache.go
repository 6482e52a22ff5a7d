// Package cache implements the Workstack/Cache Layer: a content-addressed
// cache of tool-execution results keyed by workstack id, step index, and
// input hash, so a re-run of the same workstack can skip re-executing a
// step whose inputs haven't changed. Grounded on internal/fabric.Registry's
// mutex-guarded-map shape, specialized here to a step-result cache instead
// of a tool-instance map.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/dbusmcp/opctl/pkg/models"
)

// StepCache is a mutex-guarded map of StepKey -> CacheEntry, with a
// secondary per-workstack hit/miss index. A zero StepCache is not usable;
// construct with NewStepCache.
type StepCache struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry

	statsMu   sync.Mutex
	workstack map[string]*models.WorkstackStats

	ttl time.Duration

	hits   int64
	misses int64
}

// NewStepCache builds a StepCache with the given entry TTL. A
// non-positive ttl falls back to models.DefaultCacheTTL.
func NewStepCache(ttl time.Duration) *StepCache {
	if ttl <= 0 {
		ttl = models.DefaultCacheTTL
	}
	return &StepCache{
		entries:   make(map[string]*models.CacheEntry),
		workstack: make(map[string]*models.WorkstackStats),
		ttl:       ttl,
	}
}

// StepKey computes the content-addressed cache key for one workstack
// step: SHA256(workstackID ":" stepIndex ":" inputHash), matching
// spec.md's composite-key definition.
func StepKey(workstackID string, stepIndex int, input json.RawMessage) string {
	inputHash := sha256.Sum256(input)
	h := sha256.New()
	h.Write([]byte(workstackID))
	h.Write([]byte{':'})
	h.Write([]byte(itoa(stepIndex)))
	h.Write([]byte{':'})
	h.Write([]byte(hex.EncodeToString(inputHash[:])))
	return hex.EncodeToString(h.Sum(nil))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Get looks up key, returning (value, true) on a live hit and recording
// the hit/miss against workstackID's counters. A stale (expired) entry is
// treated as a miss and evicted.
func (c *StepCache) Get(workstackID, key string) (json.RawMessage, bool) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && entry.Stale(now) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		ok = false
	}

	c.recordOutcome(workstackID, ok)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	entry.AccessCount++
	c.mu.Unlock()

	return json.RawMessage(entry.OutputBytes), true
}

// Put stores output under key with the cache's configured TTL.
func (c *StepCache) Put(key string, output json.RawMessage) {
	now := time.Now()
	entry := &models.CacheEntry{
		OutputBytes: append([]byte(nil), output...),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
		SizeBytes:   int64(len(output)),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

func (c *StepCache) recordOutcome(workstackID string, hit bool) {
	if hit {
		c.statsMu.Lock()
		c.hits++
		c.statsMu.Unlock()
	} else {
		c.statsMu.Lock()
		c.misses++
		c.statsMu.Unlock()
	}

	if workstackID == "" {
		return
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	ws, ok := c.workstack[workstackID]
	if !ok {
		ws = &models.WorkstackStats{}
		c.workstack[workstackID] = ws
	}
	if hit {
		ws.HitCount++
	} else {
		ws.MissCount++
	}
}

// InvalidateWorkstack drops every cache entry whose key was derived from
// workstackID, for use when an upstream change invalidates a whole
// workstack's cached steps. Since keys are hashed, this requires callers
// to pass the same (workstackID, stepIndex, input) tuples back through
// StepKey to compute which keys to delete; InvalidateWorkstack instead
// accepts the already-computed key list for that reason.
func (c *StepCache) InvalidateWorkstack(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Sweep evicts every expired entry, returning the count removed.
func (c *StepCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.Stale(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// WorkstackStats returns a copy of id's hit/miss counters, or a zero
// value if id has never been seen.
func (c *StepCache) WorkstackStats(id string) models.WorkstackStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if ws, ok := c.workstack[id]; ok {
		return *ws
	}
	return models.WorkstackStats{}
}

// Stats returns the aggregate view spec.md's get_stats tool reports.
func (c *StepCache) Stats() models.CacheStats {
	now := time.Now()

	c.mu.RLock()
	total := len(c.entries)
	hot, expired := 0, 0
	for _, e := range c.entries {
		if e.Stale(now) {
			expired++
		}
		if now.Sub(e.CreatedAt) < 600*time.Second {
			hot++
		}
	}
	c.mu.RUnlock()

	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	workstackCount := len(c.workstack)
	c.statsMu.Unlock()

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return models.CacheStats{
		TotalEntries:   total,
		HotEntries:     hot,
		ExpiredEntries: expired,
		Hits:           hits,
		Misses:         misses,
		WorkstackCount: workstackCount,
		HitRate:        hitRate,
	}
}
