package hotspot

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/cluster"
	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/logging"
	"github.com/Resinat/Sluice/node"
)

type ruleEntry struct {
	rule     *Rule
	metric   *Metric
	specific map[ParamKey]int64
}

func (e *ruleEntry) effectiveThreshold(key ParamKey) int64 {
	if t, ok := e.specific[key]; ok {
		return t
	}
	return e.rule.Count
}

type ruleMap map[string][]*ruleEntry

var (
	loadMu      sync.Mutex
	activeRules atomic.Pointer[ruleMap]
)

func init() {
	empty := make(ruleMap)
	activeRules.Store(&empty)

	node.RegisterEntryPassHook(func(ec *base.EntryContext) {
		eachThreadRuleValue(ec, func(m *Metric, key ParamKey) { m.IncThread(key) })
	})
	node.RegisterExitHook(func(ec *base.EntryContext) {
		eachThreadRuleValue(ec, func(m *Metric, key ParamKey) { m.DecThread(key) })
	})
}

func eachThreadRuleValue(ec *base.EntryContext, fn func(*Metric, ParamKey)) {
	for _, e := range (*activeRules.Load())[ec.Resource.Name()] {
		if e.rule.Grade != GradeThread {
			continue
		}
		values, ok := valuesAt(ec.Args, e.rule)
		if !ok {
			continue
		}
		for _, v := range values {
			fn(e.metric, KeyOf(v))
		}
	}
}

// metricCapacity bounds each counter cache to
// min(baseCapacity * durationInSec, totalCap); a duration of one second or
// less uses baseCapacity unscaled.
func metricCapacity(r *Rule) int {
	cfg := config.Global()
	capacity := cfg.ParamCacheBaseCapacity
	if r.DurationInSec > 1 {
		capacity = capacity * int(r.DurationInSec)
	}
	if capacity > cfg.ParamCacheTotalCap {
		capacity = cfg.ParamCacheTotalCap
	}
	return capacity
}

// LoadRules replaces the active hot-parameter rule set atomically. Metrics
// of rules that survive unchanged are carried over so their counters keep
// counting; dropped metrics are released.
func LoadRules(rules []*Rule) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	old := *activeRules.Load()
	next := make(ruleMap, len(rules))
	reused := make(map[*Metric]bool)
	for _, r := range rules {
		if err := r.validate(); err != nil {
			logging.Default().WithError(err).Warn("skipping invalid hotspot rule")
			continue
		}
		entry := &ruleEntry{rule: r, specific: compileSpecific(r)}
		for _, oldEntry := range old[r.Resource] {
			if !reused[oldEntry.metric] && reflect.DeepEqual(oldEntry.rule, r) {
				entry.metric = oldEntry.metric
				reused[oldEntry.metric] = true
				break
			}
		}
		if entry.metric == nil {
			entry.metric = newMetric(metricCapacity(r))
		}
		next[r.Resource] = append(next[r.Resource], entry)
	}
	activeRules.Store(&next)

	for _, entries := range old {
		for _, e := range entries {
			if !reused[e.metric] {
				e.metric.close()
			}
		}
	}
	return nil
}

// ClearRules drops every hot-parameter rule.
func ClearRules() {
	LoadRules(nil)
}

// GetRules returns a snapshot of every active rule.
func GetRules() []Rule {
	m := *activeRules.Load()
	out := make([]Rule, 0, len(m))
	for _, entries := range m {
		for _, e := range entries {
			out = append(out, *e.rule)
		}
	}
	return out
}

// GetRulesOfResource returns a snapshot of the rules bound to one resource.
func GetRulesOfResource(resource string) []Rule {
	entries := (*activeRules.Load())[resource]
	out := make([]Rule, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.rule)
	}
	return out
}

// MetricOfRule exposes the live metric of the first rule matching resource
// and paramIdx, for observability and tests.
func MetricOfRule(resource string, paramIdx int) *Metric {
	for _, e := range (*activeRules.Load())[resource] {
		if e.rule.ParamIdx == paramIdx {
			return e.metric
		}
	}
	return nil
}

func compileSpecific(r *Rule) map[ParamKey]int64 {
	if len(r.SpecificItems) == 0 {
		return nil
	}
	out := make(map[ParamKey]int64, len(r.SpecificItems))
	for v, threshold := range r.SpecificItems {
		out[KeyOf(v)] = threshold
	}
	return out
}

// Slot is the hot-parameter checker stage of the chain.
type Slot struct{}

// NewSlot creates the hotspot slot.
func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Name() string { return "hotspot" }

func (s *Slot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	err := base.SafeCheck(s.Name(), ec.Resource.Name(), func() error {
		for _, e := range (*activeRules.Load())[ec.Resource.Name()] {
			if err := s.checkRule(e, ec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return next()
}

func (s *Slot) Exit(_ *base.EntryContext) {}

func (s *Slot) checkRule(e *ruleEntry, ec *base.EntryContext) error {
	values, ok := valuesAt(ec.Args, e.rule)
	if !ok {
		return nil
	}
	if e.rule.ClusterMode {
		local, err := s.checkCluster(e, ec, values)
		if !local {
			return err
		}
	}
	for _, v := range values {
		if err := s.checkValue(e, ec, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slot) checkCluster(e *ruleEntry, ec *base.EntryContext, values []interface{}) (local bool, err error) {
	fallback := e.rule.ClusterConfig.FallbackToLocalWhenFail
	svc := cluster.GetTokenService()
	var result *cluster.TokenResult
	if svc != nil {
		result = svc.RequestParamToken(e.rule.ClusterConfig.FlowID, ec.Count, values)
	}
	disposition, waitMs := cluster.Dispose(result, fallback)
	switch disposition {
	case cluster.DispositionWait:
		time.Sleep(time.Duration(waitMs) * time.Millisecond)
		return false, nil
	case cluster.DispositionBlock:
		return false, base.NewBlockError(base.BlockTypeHotspot, ec.Resource.Name(),
			base.WithRule(*e.rule), base.WithBlockMsg("cluster param token denied"))
	case cluster.DispositionFallback:
		return true, nil
	default:
		return false, nil
	}
}

// checkValue rejects on the first failing element of a sequence argument.
func (s *Slot) checkValue(e *ruleEntry, ec *base.EntryContext, v interface{}) error {
	key := KeyOf(v)
	threshold := e.effectiveThreshold(key)
	acquire := int64(ec.Count)

	switch e.rule.Grade {
	case GradeThread:
		if e.metric.allowThread(key, threshold, acquire) {
			return nil
		}
	case GradeQPS:
		if e.rule.ControlBehavior == BehaviorRateLimiter {
			wait, ok := e.metric.throttleToken(key, threshold, e.rule.DurationInSec, e.rule.MaxQueueingTimeMs, acquire)
			if ok {
				if wait > 0 {
					time.Sleep(time.Duration(wait) * time.Millisecond)
				}
				return nil
			}
		} else if e.metric.allowToken(key, threshold, e.rule.BurstCount, e.rule.DurationInSec, acquire) {
			return nil
		}
	}
	return base.NewBlockError(base.BlockTypeHotspot, ec.Resource.Name(),
		base.WithRule(*e.rule), base.WithSnapshotValue(v))
}
