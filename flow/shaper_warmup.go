package flow

import (
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
)

// WarmUpShaper ramps the effective QPS cap from count/coldFactor up to count
// over the warm-up period, driven by a token bucket that only refills while
// the system is hot enough to deserve it.
//
// Derivations, with c = count, p = warmUpPeriodSec, k = coldFactor:
//
//	warningToken = p*c/(k-1)
//	maxToken     = warningToken + 2*p*c/(1+k)
//	slope        = (k-1)/(c*(maxToken-warningToken))
type WarmUpShaper struct {
	rule       *Rule
	coldFactor int32

	warningToken int64
	maxToken     int64
	slope        float64

	storedTokens   atomic.Int64
	lastFilledTime atomic.Int64
}

func newWarmUpShaper(rule *Rule, defaultColdFactor int32) *WarmUpShaper {
	coldFactor := rule.WarmUpColdFactor
	if coldFactor <= 1 {
		coldFactor = defaultColdFactor
	}
	if coldFactor <= 1 {
		coldFactor = 3
	}
	c := rule.Count
	p := float64(rule.WarmUpPeriodSec)
	warningToken := int64(p * c / float64(coldFactor-1))
	maxToken := warningToken + int64(2*p*c/float64(1+coldFactor))
	s := &WarmUpShaper{
		rule:         rule,
		coldFactor:   coldFactor,
		warningToken: warningToken,
		maxToken:     maxToken,
		slope:        float64(coldFactor-1) / (c * float64(maxToken-warningToken)),
	}
	s.storedTokens.Store(maxToken)
	s.lastFilledTime.Store(0)
	return s
}

// BoundRule returns the owning rule.
func (s *WarmUpShaper) BoundRule() *Rule { return s.rule }

// WarningToken exposes the hot/cold boundary of the token bucket.
func (s *WarmUpShaper) WarningToken() int64 { return s.warningToken }

// MaxToken exposes the bucket capacity.
func (s *WarmUpShaper) MaxToken() int64 { return s.maxToken }

// Slope exposes the cold-region slope of the permitted-QPS curve.
func (s *WarmUpShaper) Slope() float64 { return s.slope }

// Decide implements TrafficShaper.
func (s *WarmUpShaper) Decide(n base.StatNode, acquire uint32, _ bool) Decision {
	if n == nil {
		return pass
	}
	if s.currentPermittedQps(n)-n.PassQps() >= float64(acquire) {
		return pass
	}
	return block
}

// currentPermittedQps syncs the token bucket and returns the effective cap.
func (s *WarmUpShaper) currentPermittedQps(n base.StatNode) float64 {
	previousQps := n.PreviousPassQps()
	s.syncToken(previousQps)

	restToken := s.storedTokens.Load()
	if restToken >= s.warningToken {
		aboveToken := restToken - s.warningToken
		return 1.0 / (float64(aboveToken)*s.slope + 1.0/s.rule.Count)
	}
	return s.rule.Count
}

// syncToken drains the previous second's traffic and refills once per
// second. Refill happens in the hot region unconditionally, and in the cold
// region only while the previous QPS stayed below count/coldFactor — that
// gate is what makes the ramp nonlinear.
func (s *WarmUpShaper) syncToken(passQps float64) {
	now := base.TimeMillis()
	now = now - now%1000
	oldLastFilled := s.lastFilledTime.Load()
	if now <= oldLastFilled {
		return
	}

	oldValue := s.storedTokens.Load()
	newValue := s.coolDownTokens(now, oldLastFilled, oldValue, passQps)
	if s.storedTokens.CompareAndSwap(oldValue, newValue) {
		if current := s.storedTokens.Add(-int64(passQps)); current < 0 {
			s.storedTokens.Store(0)
		}
		s.lastFilledTime.Store(now)
	}
}

func (s *WarmUpShaper) coolDownTokens(now, lastFilled, oldValue int64, passQps float64) int64 {
	newValue := oldValue
	refill := func() int64 {
		return oldValue + int64(float64(now-lastFilled)*s.rule.Count/1000)
	}
	switch {
	case oldValue < s.warningToken:
		newValue = refill()
	case oldValue > s.warningToken:
		if passQps < s.rule.Count/float64(s.coldFactor) {
			newValue = refill()
		}
	}
	if newValue > s.maxToken {
		newValue = s.maxToken
	}
	return newValue
}

// WarmUpThrottlingShaper spaces admissions evenly at the warm-up controller's
// dynamic rate: the leaky bucket's cost derives from the current permitted
// QPS instead of the static threshold.
type WarmUpThrottlingShaper struct {
	*WarmUpShaper

	latestPassedTime atomic.Int64
}

// Decide implements TrafficShaper.
func (s *WarmUpThrottlingShaper) Decide(n base.StatNode, acquire uint32, _ bool) Decision {
	if n == nil {
		return pass
	}
	permitted := s.currentPermittedQps(n)
	if permitted <= 0 {
		return block
	}
	return throttle(&s.latestPassedTime, permitted, s.rule.MaxQueueingTimeMs, acquire)
}
