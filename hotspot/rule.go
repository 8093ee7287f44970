// Package hotspot implements hot-parameter flow control: per-value counters
// bounded by LRU eviction, with token-bucket, rate-limiter, and concurrency
// modes.
package hotspot

import "fmt"

// Grade selects which usage measure a rule limits per parameter value.
type Grade int32

const (
	// GradeQPS limits admissions per second per value.
	GradeQPS Grade = iota
	// GradeThread limits in-flight concurrency per value.
	GradeThread
)

// Behavior selects the shaping applied in the QPS grade.
type Behavior int32

const (
	// BehaviorReject refuses once the value's token bucket runs dry.
	BehaviorReject Behavior = iota
	// BehaviorRateLimiter spaces admissions of one value evenly.
	BehaviorRateLimiter
)

// ClusterConfig carries the cluster-mode settings of a rule.
type ClusterConfig struct {
	FlowID                  uint64 `json:"flowId"`
	FallbackToLocalWhenFail bool   `json:"fallbackToLocalWhenFail"`
}

// Rule is one hot-parameter flow rule. SpecificItems overrides the
// threshold for individual parameter values.
type Rule struct {
	Resource          string                `json:"resource"`
	ParamIdx          int                   `json:"paramIdx"`
	Grade             Grade                 `json:"grade"`
	ControlBehavior   Behavior              `json:"controlBehavior"`
	Count             int64                 `json:"count"`
	DurationInSec     int64                 `json:"durationInSec"`
	BurstCount        int64                 `json:"burstCount"`
	MaxQueueingTimeMs int64                 `json:"maxQueueingTimeMs"`
	SpecificItems     map[interface{}]int64 `json:"-"`
	ClusterMode       bool                  `json:"clusterMode"`
	ClusterConfig     *ClusterConfig        `json:"clusterConfig,omitempty"`
}

func (r *Rule) validate() error {
	if r.Resource == "" {
		return fmt.Errorf("hotspot: rule without resource")
	}
	if r.Count < 0 {
		return fmt.Errorf("hotspot: rule %s: negative count %d", r.Resource, r.Count)
	}
	if r.Grade == GradeQPS && r.DurationInSec <= 0 {
		return fmt.Errorf("hotspot: rule %s: QPS grade needs a positive duration", r.Resource)
	}
	if r.BurstCount < 0 {
		return fmt.Errorf("hotspot: rule %s: negative burst %d", r.Resource, r.BurstCount)
	}
	if r.ClusterMode && r.ClusterConfig == nil {
		return fmt.Errorf("hotspot: rule %s: cluster mode needs clusterConfig", r.Resource)
	}
	return nil
}

// resolveIdx maps a negative ParamIdx onto len(args)+ParamIdx. The second
// return is false when the index is out of range for this call; the rule is
// then skipped without mutating it, so later calls with more arguments still
// see the configured index.
func (r *Rule) resolveIdx(argc int) (int, bool) {
	idx := r.ParamIdx
	if idx < 0 {
		idx = argc + idx
	}
	if idx < 0 || idx >= argc {
		return 0, false
	}
	return idx, true
}

func (r *Rule) String() string {
	return fmt.Sprintf("hotspot.Rule{resource=%s, paramIdx=%d, grade=%d, count=%d}",
		r.Resource, r.ParamIdx, r.Grade, r.Count)
}
