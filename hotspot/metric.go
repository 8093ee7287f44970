package hotspot

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/maypok86/otter"

	"github.com/Resinat/Sluice/base"
)

// Metric holds the per-value counters of one rule, each kind in its own
// LRU-bounded cache so an unbounded key space cannot grow the process.
type Metric struct {
	mu sync.Mutex

	// tokens holds the remaining token count per value (QPS reject mode).
	tokens otter.Cache[ParamKey, *atomic.Int64]
	// lastAdd holds the last refill timestamp per value.
	lastAdd otter.Cache[ParamKey, *atomic.Int64]
	// passTimes holds the leaky-bucket pass clock per value (rate-limiter
	// mode).
	passTimes otter.Cache[ParamKey, *atomic.Int64]
	// threads holds the in-flight call count per value (thread mode).
	threads otter.Cache[ParamKey, *atomic.Int64]
}

func newCounterCache(capacity int) otter.Cache[ParamKey, *atomic.Int64] {
	cache, err := otter.MustBuilder[ParamKey, *atomic.Int64](capacity).
		Cost(func(_ ParamKey, _ *atomic.Int64) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("hotspot: failed to create counter cache: " + err.Error())
	}
	return cache
}

// newMetric creates the counter caches with the given per-kind capacity.
func newMetric(capacity int) *Metric {
	return &Metric{
		tokens:    newCounterCache(capacity),
		lastAdd:   newCounterCache(capacity),
		passTimes: newCounterCache(capacity),
		threads:   newCounterCache(capacity),
	}
}

// close releases the underlying caches when a rule set is replaced.
func (m *Metric) close() {
	m.tokens.Close()
	m.lastAdd.Close()
	m.passTimes.Close()
	m.threads.Close()
}

// counter returns the live counter for key, installing initial under the
// metric lock on first sight. The second return reports installation.
func (m *Metric) counter(cache otter.Cache[ParamKey, *atomic.Int64], key ParamKey, initial int64) (*atomic.Int64, bool) {
	if c, ok := cache.Get(key); ok {
		return c, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := cache.Get(key); ok {
		return c, false
	}
	c := &atomic.Int64{}
	c.Store(initial)
	cache.Set(key, c)
	return c, true
}

// allowToken runs the per-value token bucket: capacity threshold+burst,
// refilled proportionally once a full duration elapsed, decremented by CAS
// inside the window. Contention retries with a yield.
func (m *Metric) allowToken(key ParamKey, threshold, burst, durationSec int64, acquire int64) bool {
	capacity := threshold + burst
	if acquire > capacity {
		return false
	}
	now := base.TimeMillis()

	lastAdd, created := m.counter(m.lastAdd, key, now)
	if created {
		m.counter(m.tokens, key, capacity-acquire)
		return true
	}
	tokens, _ := m.counter(m.tokens, key, capacity)

	for {
		last := lastAdd.Load()
		passTime := now - last
		if passTime > durationSec*1000 {
			toAdd := passTime * threshold / (durationSec * 1000)
			rest := tokens.Load()
			newTokens := rest + toAdd
			if newTokens > capacity {
				newTokens = capacity
			}
			newTokens -= acquire
			if newTokens < 0 {
				return false
			}
			if tokens.CompareAndSwap(rest, newTokens) {
				lastAdd.Store(now)
				return true
			}
			runtime.Gosched()
			continue
		}
		rest := tokens.Load()
		if rest-acquire < 0 {
			return false
		}
		if tokens.CompareAndSwap(rest, rest-acquire) {
			return true
		}
		runtime.Gosched()
	}
}

// throttleToken runs the per-value leaky bucket. It returns (waitMs, true)
// on admission — zero wait means pass now — and false when the queue bound
// is exceeded.
func (m *Metric) throttleToken(key ParamKey, threshold, durationSec, maxQueueingTimeMs int64, acquire int64) (int64, bool) {
	if threshold <= 0 {
		return 0, false
	}
	costTime := int64(float64(acquire*durationSec*1000)/float64(threshold) + 0.5)
	clockRef, _ := m.counter(m.passTimes, key, 0)

	for {
		now := base.TimeMillis()
		old := clockRef.Load()
		expected := old + costTime
		if expected <= now {
			if clockRef.CompareAndSwap(old, now) {
				return 0, true
			}
			runtime.Gosched()
			continue
		}
		wait := expected - now
		if wait > maxQueueingTimeMs {
			return 0, false
		}
		if clockRef.CompareAndSwap(old, expected) {
			return wait, true
		}
		runtime.Gosched()
	}
}

// allowThread admits while the value's in-flight count stays under the
// threshold. The companion IncThread/DecThread hooks move the count.
func (m *Metric) allowThread(key ParamKey, threshold int64, acquire int64) bool {
	c, _ := m.counter(m.threads, key, 0)
	return c.Load()+acquire <= threshold
}

// IncThread bumps the value's in-flight count.
func (m *Metric) IncThread(key ParamKey) {
	c, _ := m.counter(m.threads, key, 0)
	c.Add(1)
}

// DecThread drops the value's in-flight count.
func (m *Metric) DecThread(key ParamKey) {
	c, _ := m.counter(m.threads, key, 0)
	c.Add(-1)
}

// ThreadCount reads the value's in-flight count.
func (m *Metric) ThreadCount(key ParamKey) int64 {
	c, ok := m.threads.Get(key)
	if !ok {
		return 0
	}
	return c.Load()
}

// Size reports the bounded cache occupancy of the token counters.
func (m *Metric) Size() int {
	return m.tokens.Size()
}
