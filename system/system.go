// Package system implements the global inbound guard: process-wide caps on
// concurrency, response time, QPS, OS load, and CPU usage.
package system

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/logging"
	"github.com/Resinat/Sluice/node"
)

// MetricType selects which global measure a rule caps.
type MetricType int32

const (
	// MetricLoad caps the OS 1-minute load average.
	MetricLoad MetricType = iota
	// MetricAvgRT caps the global inbound average response time.
	MetricAvgRT
	// MetricConcurrency caps the global inbound in-flight count.
	MetricConcurrency
	// MetricInboundQPS caps the global inbound admission rate.
	MetricInboundQPS
	// MetricCpuUsage caps CPU usage in [0, 1].
	MetricCpuUsage
)

// Rule is one system guard rule.
type Rule struct {
	MetricType   MetricType `json:"metricType"`
	TriggerCount float64    `json:"triggerCount"`
}

func (r *Rule) validate() error {
	if r.TriggerCount < 0 {
		return fmt.Errorf("system: negative trigger count %v", r.TriggerCount)
	}
	if r.MetricType == MetricCpuUsage && r.TriggerCount > 1 {
		return fmt.Errorf("system: cpu usage trigger %v out of [0, 1]", r.TriggerCount)
	}
	return nil
}

// thresholds holds the tightest cap per metric type.
type thresholds map[MetricType]float64

var (
	loadMu     sync.Mutex
	activeCaps atomic.Pointer[thresholds]
	allRules   atomic.Pointer[[]Rule]
)

func init() {
	empty := make(thresholds)
	activeCaps.Store(&empty)
	none := make([]Rule, 0)
	allRules.Store(&none)
}

// LoadRules replaces the active system rule set atomically, keeping the
// tightest cap per metric type. Loading a non-empty set starts the usage
// collector.
func LoadRules(rules []*Rule) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	next := make(thresholds, len(rules))
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			logging.Default().WithError(err).Warn("skipping invalid system rule")
			continue
		}
		if cur, ok := next[r.MetricType]; !ok || r.TriggerCount < cur {
			next[r.MetricType] = r.TriggerCount
		}
		kept = append(kept, *r)
	}
	activeCaps.Store(&next)
	allRules.Store(&kept)
	if len(next) > 0 {
		StartCollector()
	}
	return nil
}

// ClearRules drops every system rule.
func ClearRules() {
	loadMu.Lock()
	defer loadMu.Unlock()
	empty := make(thresholds)
	activeCaps.Store(&empty)
	none := make([]Rule, 0)
	allRules.Store(&none)
}

// GetRules returns a snapshot of every active rule.
func GetRules() []Rule {
	return append([]Rule(nil), *allRules.Load()...)
}

// Slot is the global guard stage of the chain; it fires on inbound entries
// only.
type Slot struct{}

// NewSlot creates the system slot.
func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Name() string { return "system" }

func (s *Slot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	if ec.Resource.TrafficType() != base.Inbound {
		return next()
	}
	err := base.SafeCheck(s.Name(), ec.Resource.Name(), func() error {
		return checkSystem(ec)
	})
	if err != nil {
		return err
	}
	return next()
}

func (s *Slot) Exit(_ *base.EntryContext) {}

// checkSystem walks the caps in their fixed order against the global
// inbound aggregate and the sampled OS gauges.
func checkSystem(ec *base.EntryContext) error {
	caps := *activeCaps.Load()
	if len(caps) == 0 {
		return nil
	}
	global := node.InboundNode()

	if limit, ok := caps[MetricConcurrency]; ok {
		if float64(global.CurThreadNum())+float64(ec.Count) > limit {
			return blockErr(ec, MetricConcurrency, limit)
		}
	}
	if limit, ok := caps[MetricAvgRT]; ok {
		if global.AvgRt() > limit {
			return blockErr(ec, MetricAvgRT, limit)
		}
	}
	if limit, ok := caps[MetricInboundQPS]; ok {
		if global.PassQps()+float64(ec.Count) > limit {
			return blockErr(ec, MetricInboundQPS, limit)
		}
	}
	if limit, ok := caps[MetricLoad]; ok {
		if CurrentLoad() > limit {
			return blockErr(ec, MetricLoad, limit)
		}
	}
	if limit, ok := caps[MetricCpuUsage]; ok {
		if CurrentCpuUsage() > limit {
			return blockErr(ec, MetricCpuUsage, limit)
		}
	}
	return nil
}

func blockErr(ec *base.EntryContext, metricType MetricType, limit float64) *base.BlockError {
	return base.NewBlockError(base.BlockTypeSystem, ec.Resource.Name(),
		base.WithRule(Rule{MetricType: metricType, TriggerCount: limit}))
}
