// Package flow implements per-resource rate and concurrency limits: rule
// management, the checker slot, and the four traffic shaping strategies.
package flow

import "fmt"

// Grade selects which usage measure a rule limits.
type Grade int32

const (
	// GradeThread limits in-flight concurrency.
	GradeThread Grade = iota
	// GradeQPS limits admitted calls per second.
	GradeQPS
)

// Strategy selects which statistics the rule evaluates against.
type Strategy int32

const (
	// StrategyDirect evaluates the resource's own statistics.
	StrategyDirect Strategy = iota
	// StrategyRelate evaluates the referenced resource's aggregate.
	StrategyRelate
	// StrategyChain evaluates the resource's statistics only for calls
	// entering through the referenced context.
	StrategyChain
)

// Behavior selects the traffic shaping applied when usage approaches the
// threshold.
type Behavior int32

const (
	// BehaviorReject rejects immediately once the threshold is reached.
	BehaviorReject Behavior = iota
	// BehaviorWarmUp ramps the effective threshold up from a cold state.
	BehaviorWarmUp
	// BehaviorRateLimiter spaces admissions evenly, queueing up to a bound.
	BehaviorRateLimiter
	// BehaviorWarmUpRateLimiter spaces admissions at the warm-up rate.
	BehaviorWarmUpRateLimiter
)

// LimitOriginDefault applies the rule to every caller, whatever its origin.
const LimitOriginDefault = "default"

// LimitOriginOther matches callers not explicitly listed for the resource.
const LimitOriginOther = "other"

// ClusterThresholdType distinguishes how a cluster rule's threshold scales.
type ClusterThresholdType int32

const (
	// ThresholdAvgLocal treats Count as per-node; the token server multiplies
	// by the connected node count.
	ThresholdAvgLocal ClusterThresholdType = iota
	// ThresholdGlobal treats Count as the cluster-wide total.
	ThresholdGlobal
)

// ClusterConfig carries the cluster-mode settings of a rule.
type ClusterConfig struct {
	FlowID                  uint64               `json:"flowId"`
	ThresholdType           ClusterThresholdType `json:"thresholdType"`
	FallbackToLocalWhenFail bool                 `json:"fallbackToLocalWhenFail"`
}

// Rule is one flow control rule.
type Rule struct {
	Resource          string         `json:"resource"`
	LimitApp          string         `json:"limitApp"`
	Grade             Grade          `json:"grade"`
	Count             float64        `json:"count"`
	Strategy          Strategy       `json:"strategy"`
	RefResource       string         `json:"refResource"`
	ControlBehavior   Behavior       `json:"controlBehavior"`
	WarmUpPeriodSec   uint32         `json:"warmUpPeriodSec"`
	WarmUpColdFactor  int32          `json:"warmUpColdFactor"`
	MaxQueueingTimeMs int64          `json:"maxQueueingTimeMs"`
	ClusterMode       bool           `json:"clusterMode"`
	ClusterConfig     *ClusterConfig `json:"clusterConfig,omitempty"`
}

func (r *Rule) validate() error {
	if r.Resource == "" {
		return fmt.Errorf("flow: rule without resource")
	}
	if r.Count < 0 {
		return fmt.Errorf("flow: rule %s: negative count %v", r.Resource, r.Count)
	}
	switch r.ControlBehavior {
	case BehaviorWarmUp, BehaviorWarmUpRateLimiter:
		if r.WarmUpPeriodSec == 0 {
			return fmt.Errorf("flow: rule %s: warm-up behavior needs warmUpPeriodSec", r.Resource)
		}
		if r.Grade != GradeQPS {
			return fmt.Errorf("flow: rule %s: warm-up requires the QPS grade", r.Resource)
		}
	case BehaviorRateLimiter:
		if r.Grade != GradeQPS {
			return fmt.Errorf("flow: rule %s: rate limiter requires the QPS grade", r.Resource)
		}
	}
	if (r.Strategy == StrategyRelate || r.Strategy == StrategyChain) && r.RefResource == "" {
		return fmt.Errorf("flow: rule %s: relate/chain strategy needs refResource", r.Resource)
	}
	if r.ClusterMode && r.ClusterConfig == nil {
		return fmt.Errorf("flow: rule %s: cluster mode needs clusterConfig", r.Resource)
	}
	return nil
}

func (r *Rule) limitApp() string {
	if r.LimitApp == "" {
		return LimitOriginDefault
	}
	return r.LimitApp
}

func (r *Rule) String() string {
	return fmt.Sprintf("flow.Rule{resource=%s, limitApp=%s, grade=%d, count=%v, behavior=%d}",
		r.Resource, r.limitApp(), r.Grade, r.Count, r.ControlBehavior)
}
