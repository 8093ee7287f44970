package stat

import "math"

const rateEpsilon = 0.001

// Window is the read side of a Ring: aggregate queries over the non-stale
// buckets, and rates derived from the actually-covered span.
type Window struct {
	ring *Ring
}

// NewWindow creates a sliding window with the given bucket layout.
func NewWindow(sampleCount, intervalMs uint32) (*Window, error) {
	ring, err := NewRing(sampleCount, intervalMs)
	if err != nil {
		return nil, err
	}
	return &Window{ring: ring}, nil
}

// Ring exposes the underlying write side.
func (w *Window) Ring() *Ring { return w.ring }

// CurrentBucket forwards to the ring, refreshing the current span first so
// aggregate reads that follow observe a recycled lap bucket as reset.
func (w *Window) CurrentBucket(nowMs int64) *Bucket {
	return w.ring.CurrentBucket(nowMs)
}

// Pass sums admitted calls across the live window.
func (w *Window) Pass(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.Pass()
	}
	return sum
}

// Block sums rejected calls across the live window.
func (w *Window) Block(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.Block()
	}
	return sum
}

// Exception sums errored calls across the live window.
func (w *Window) Exception(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.Exception()
	}
	return sum
}

// Success sums completed calls across the live window.
func (w *Window) Success(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.Success()
	}
	return sum
}

// RtSum sums response time across the live window.
func (w *Window) RtSum(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.RtSum()
	}
	return sum
}

// MinRt returns the minimum response time across the live window, or 0 when
// no call completed inside it.
func (w *Window) MinRt(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	min := int64(math.MaxInt64)
	for _, b := range w.ring.Values(nowMs) {
		if m := b.MinRt(); m < min {
			min = m
		}
	}
	if min == math.MaxInt64 {
		return 0
	}
	return min
}

// OccupiedPass sums pre-charged prioritized passes across the live window.
func (w *Window) OccupiedPass(nowMs int64) int64 {
	w.ring.CurrentBucket(nowMs)
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.OccupiedPass()
	}
	return sum
}

// Waiting sums admissions currently parked on future spans. Future buckets
// are by definition non-stale, so no refresh is needed.
func (w *Window) Waiting(nowMs int64) int64 {
	var sum int64
	for _, b := range w.ring.Values(nowMs) {
		sum += b.Waiting()
	}
	return sum
}

// coveredSeconds is the rate denominator: the interval minus the spans lost
// to stale buckets, floored at epsilon. Slots that were never written count
// as covered, so rates right after startup divide by the full interval.
func (w *Window) coveredSeconds(nowMs int64) float64 {
	covered := float64(int64(w.ring.IntervalMs())-w.ring.StaleSpanMs(nowMs)) / 1000.0
	return math.Max(covered, rateEpsilon)
}

// PassRate returns admitted calls per second over the covered span.
func (w *Window) PassRate(nowMs int64) float64 {
	return float64(w.Pass(nowMs)) / w.coveredSeconds(nowMs)
}

// BlockRate returns rejected calls per second over the covered span.
func (w *Window) BlockRate(nowMs int64) float64 {
	return float64(w.Block(nowMs)) / w.coveredSeconds(nowMs)
}

// ExceptionRate returns errored calls per second over the covered span.
func (w *Window) ExceptionRate(nowMs int64) float64 {
	return float64(w.Exception(nowMs)) / w.coveredSeconds(nowMs)
}

// SuccessRate returns completed calls per second over the covered span.
func (w *Window) SuccessRate(nowMs int64) float64 {
	return float64(w.Success(nowMs)) / w.coveredSeconds(nowMs)
}

// OccupiedPassRate returns pre-charged passes per second over the covered span.
func (w *Window) OccupiedPassRate(nowMs int64) float64 {
	return float64(w.OccupiedPass(nowMs)) / w.coveredSeconds(nowMs)
}

// AvgRt returns mean response time per completed call, or 0 without data.
func (w *Window) AvgRt(nowMs int64) float64 {
	succ := w.Success(nowMs)
	if succ == 0 {
		return 0
	}
	return float64(w.RtSum(nowMs)) / float64(succ)
}

// AddWaiting parks count admissions on the bucket covering futureMs,
// installing it ahead of time. The span must lie within one interval of the
// present or the write would collide with a live bucket.
func (w *Window) AddWaiting(futureMs int64, count uint32) {
	w.ring.CurrentBucket(futureMs).AddWaiting(int64(count))
}

// AddOccupiedPass pre-charges count passes to the bucket covering futureMs.
func (w *Window) AddOccupiedPass(futureMs int64, count uint32) {
	w.ring.CurrentBucket(futureMs).AddOccupiedPass(int64(count))
}

// PassAt returns the pass count of the bucket anchored at the span covering
// timeMs, or 0 when none is installed.
func (w *Window) PassAt(timeMs int64) int64 {
	b := w.ring.BucketAt(timeMs)
	if b == nil {
		return 0
	}
	return b.Pass()
}
