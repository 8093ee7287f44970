// Package stat implements the sliding-window statistics engine: a fixed ring
// of time buckets with atomic counters, recycled in place as time advances.
package stat

import (
	"math"
	"sync/atomic"
)

// Bucket accumulates the counters of one window-width span. All counters are
// atomic; windowStart transitions happen under the owning ring's update lock.
type Bucket struct {
	windowStart atomic.Int64

	pass         atomic.Int64
	block        atomic.Int64
	exception    atomic.Int64
	success      atomic.Int64
	rtSum        atomic.Int64
	minRt        atomic.Int64
	occupiedPass atomic.Int64
	waiting      atomic.Int64
}

// NewBucket creates a bucket anchored at the given window start.
func NewBucket(windowStartMs int64) *Bucket {
	b := &Bucket{}
	b.windowStart.Store(windowStartMs)
	b.minRt.Store(math.MaxInt64)
	return b
}

// WindowStart returns the bucket's anchor in epoch milliseconds.
func (b *Bucket) WindowStart() int64 { return b.windowStart.Load() }

// reset re-anchors the bucket and zeroes every counter. Must run under the
// ring's update lock so concurrent adders never see a half-reset bucket as
// current.
func (b *Bucket) reset(windowStartMs int64) {
	b.windowStart.Store(windowStartMs)
	b.pass.Store(0)
	b.block.Store(0)
	b.exception.Store(0)
	b.success.Store(0)
	b.rtSum.Store(0)
	b.minRt.Store(math.MaxInt64)
	b.occupiedPass.Store(0)
	b.waiting.Store(0)
}

// isStale reports whether the bucket lies outside the window of length
// intervalMs ending at nowMs.
func (b *Bucket) isStale(nowMs int64, intervalMs int64) bool {
	return nowMs-b.windowStart.Load() > intervalMs
}

// AddPass records n admitted calls.
func (b *Bucket) AddPass(n int64) { b.pass.Add(n) }

// AddBlock records n rejected calls.
func (b *Bucket) AddBlock(n int64) { b.block.Add(n) }

// AddException records n calls that ended in a user error.
func (b *Bucket) AddException(n int64) { b.exception.Add(n) }

// AddSuccess records n completed calls.
func (b *Bucket) AddSuccess(n int64) { b.success.Add(n) }

// AddRt records a response time observation and folds it into the minimum.
func (b *Bucket) AddRt(rtMs int64) {
	b.rtSum.Add(rtMs)
	for {
		cur := b.minRt.Load()
		if rtMs >= cur || b.minRt.CompareAndSwap(cur, rtMs) {
			return
		}
	}
}

// AddOccupiedPass records n passes pre-charged to this (future) bucket by a
// prioritized admission.
func (b *Bucket) AddOccupiedPass(n int64) { b.occupiedPass.Add(n) }

// AddWaiting records n admissions waiting for this bucket's span to begin.
func (b *Bucket) AddWaiting(n int64) { b.waiting.Add(n) }

// Pass returns the admitted-call count.
func (b *Bucket) Pass() int64 { return b.pass.Load() }

// Block returns the rejected-call count.
func (b *Bucket) Block() int64 { return b.block.Load() }

// Exception returns the errored-call count.
func (b *Bucket) Exception() int64 { return b.exception.Load() }

// Success returns the completed-call count.
func (b *Bucket) Success() int64 { return b.success.Load() }

// RtSum returns the summed response time in milliseconds.
func (b *Bucket) RtSum() int64 { return b.rtSum.Load() }

// MinRt returns the minimum observed response time, or math.MaxInt64 when
// the bucket has no observation.
func (b *Bucket) MinRt() int64 { return b.minRt.Load() }

// OccupiedPass returns passes pre-charged by prioritized admissions.
func (b *Bucket) OccupiedPass() int64 { return b.occupiedPass.Load() }

// Waiting returns admissions waiting on this bucket's span.
func (b *Bucket) Waiting() int64 { return b.waiting.Load() }
