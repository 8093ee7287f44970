package flow

import (
	"math"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
)

// DecisionKind is the outcome of one shaping evaluation.
type DecisionKind int32

const (
	// DecisionPass admits immediately.
	DecisionPass DecisionKind = iota
	// DecisionBlock rejects immediately.
	DecisionBlock
	// DecisionWait admits after sleeping WaitMs.
	DecisionWait
)

// Decision is a pure shaping verdict; the checker slot performs any sleep so
// controllers stay deterministic under test.
type Decision struct {
	Kind DecisionKind
	// WaitMs is how long to park the caller before admitting.
	WaitMs int64
	// PriorityWait marks a wait that pre-charged future capacity; the
	// statistic slot accounts it as a thread-only pass.
	PriorityWait bool
}

var (
	pass  = Decision{Kind: DecisionPass}
	block = Decision{Kind: DecisionBlock}
)

// TrafficShaper decides admit/wait/reject for one rule against the selected
// statistics node.
type TrafficShaper interface {
	BoundRule() *Rule
	Decide(n base.StatNode, acquire uint32, prioritized bool) Decision
}

func newShaper(rule *Rule, coldFactor int32) TrafficShaper {
	switch rule.ControlBehavior {
	case BehaviorRateLimiter:
		s := &ThrottlingShaper{rule: rule}
		s.latestPassedTime.Store(-1)
		return s
	case BehaviorWarmUp:
		return newWarmUpShaper(rule, coldFactor)
	case BehaviorWarmUpRateLimiter:
		s := &WarmUpThrottlingShaper{WarmUpShaper: newWarmUpShaper(rule, coldFactor)}
		s.latestPassedTime.Store(-1)
		return s
	default:
		return &RejectShaper{rule: rule}
	}
}

// RejectShaper is the default behavior: admit while usage stays under the
// threshold, reject beyond it. Prioritized QPS requests may borrow capacity
// from the next window instead of failing.
type RejectShaper struct {
	rule *Rule
}

// BoundRule returns the owning rule.
func (s *RejectShaper) BoundRule() *Rule { return s.rule }

// Decide implements TrafficShaper.
func (s *RejectShaper) Decide(n base.StatNode, acquire uint32, prioritized bool) Decision {
	if n == nil {
		return pass
	}
	if s.rule.Grade == GradeThread {
		if float64(n.CurThreadNum())+float64(acquire) <= s.rule.Count {
			return pass
		}
		return block
	}

	if n.PassQps()+float64(acquire) <= s.rule.Count {
		return pass
	}
	if prioritized {
		timeout := n.OccupyTimeoutMs()
		waitMs := n.TryOccupyNext(acquire, s.rule.Count)
		if waitMs <= timeout {
			n.AddWaiting(base.TimeMillis()+waitMs, acquire)
			return Decision{Kind: DecisionWait, WaitMs: waitMs, PriorityWait: true}
		}
	}
	return block
}

// ThrottlingShaper is the leaky bucket: it spaces admissions at
// 1000/threshold ms apart and parks callers up to MaxQueueingTimeMs.
type ThrottlingShaper struct {
	rule *Rule

	latestPassedTime atomic.Int64
}

// BoundRule returns the owning rule.
func (s *ThrottlingShaper) BoundRule() *Rule { return s.rule }

// Decide implements TrafficShaper.
func (s *ThrottlingShaper) Decide(n base.StatNode, acquire uint32, _ bool) Decision {
	return throttle(&s.latestPassedTime, s.rule.Count, s.rule.MaxQueueingTimeMs, acquire)
}

// throttle runs the shared leaky-bucket arithmetic. Contention yields
// monotonically increasing pass times across concurrent admits, so their
// waits never collide; an admit whose queue position overshoots the bound
// rolls its reservation back.
func throttle(latestPassedTime *atomic.Int64, thresholdQps float64, maxQueueingTimeMs int64, acquire uint32) Decision {
	if acquire == 0 {
		return pass
	}
	if thresholdQps <= 0 {
		return block
	}
	now := base.TimeMillis()
	costTime := int64(math.Round(1000 * float64(acquire) / thresholdQps))

	expectedTime := latestPassedTime.Load() + costTime
	if expectedTime <= now {
		latestPassedTime.Store(now)
		return pass
	}

	waitTime := costTime + latestPassedTime.Load() - now
	if waitTime > maxQueueingTimeMs {
		return block
	}
	oldTime := latestPassedTime.Add(costTime)
	waitTime = oldTime - now
	if waitTime > maxQueueingTimeMs {
		latestPassedTime.Add(-costTime)
		return block
	}
	if waitTime > 0 {
		return Decision{Kind: DecisionWait, WaitMs: waitTime}
	}
	return pass
}
