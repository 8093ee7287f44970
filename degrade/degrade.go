// Package degrade implements the circuit breaker: per-rule trip state over
// the resource aggregate's live statistics, with timed recovery.
package degrade

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/logging"
	"github.com/Resinat/Sluice/node"
)

// Grade selects the breaker's trip condition.
type Grade int32

const (
	// GradeAvgRT trips after sustained slow responses.
	GradeAvgRT Grade = iota
	// GradeExceptionRatio trips on the error/success ratio.
	GradeExceptionRatio
	// GradeExceptionCount trips on the minute-window error total.
	GradeExceptionCount
)

const (
	defaultMinRequestAmount    = 5
	defaultRtSlowRequestAmount = 5
)

// Rule is one circuit-breaker rule.
type Rule struct {
	Resource      string  `json:"resource"`
	Grade         Grade   `json:"grade"`
	Count         float64 `json:"count"`
	TimeWindowSec uint32  `json:"timeWindow"`
	// MinRequestAmount is the traffic floor below which the ratio grade
	// never trips. Zero means the default of 5.
	MinRequestAmount int64 `json:"minRequestAmount"`
	// RtSlowRequestAmount is the probation length of the avg-RT grade.
	// Zero means the default of 5.
	RtSlowRequestAmount int64 `json:"rtSlowRequestAmount"`
}

func (r *Rule) validate() error {
	if r.Resource == "" {
		return fmt.Errorf("degrade: rule without resource")
	}
	if r.Count < 0 {
		return fmt.Errorf("degrade: rule %s: negative count %v", r.Resource, r.Count)
	}
	if r.TimeWindowSec == 0 {
		return fmt.Errorf("degrade: rule %s: zero time window", r.Resource)
	}
	if r.Grade == GradeExceptionRatio && r.Count > 1 {
		return fmt.Errorf("degrade: rule %s: ratio count %v out of [0, 1]", r.Resource, r.Count)
	}
	return nil
}

func (r *Rule) minRequestAmount() int64 {
	if r.MinRequestAmount > 0 {
		return r.MinRequestAmount
	}
	return defaultMinRequestAmount
}

func (r *Rule) rtSlowRequestAmount() int64 {
	if r.RtSlowRequestAmount > 0 {
		return r.RtSlowRequestAmount
	}
	return defaultRtSlowRequestAmount
}

// breaker is the runtime of one rule: the shared cut flag gating every
// check, and the probation counter of the avg-RT grade.
type breaker struct {
	rule      *Rule
	cut       atomic.Bool
	probation atomic.Int64
}

// pass evaluates the breaker against the resource aggregate. A true verdict
// admits; false blocks.
func (b *breaker) pass() bool {
	if b.cut.Load() {
		return false
	}
	cn := node.GetClusterNode(b.rule.Resource)
	if cn == nil {
		return true
	}

	switch b.rule.Grade {
	case GradeAvgRT:
		if cn.AvgRt() < b.rule.Count {
			b.probation.Store(0)
			return true
		}
		// The full probation streak still admits; the observation after it
		// trips: with the default of 5, checks 1-5 pass and the 6th opens.
		if b.probation.Add(1) <= b.rule.rtSlowRequestAmount() {
			return true
		}
	case GradeExceptionRatio:
		exc := cn.ExceptionQps()
		succ := cn.SuccessQps()
		total := cn.TotalQps()
		if total < float64(b.rule.minRequestAmount()) {
			return true
		}
		// In the second window a failed call counts both success and
		// exception, so pure-failure traffic shows succ-exc <= 0.
		if succ-exc <= 0 && exc < float64(b.rule.minRequestAmount()) {
			return true
		}
		if exc/succ < b.rule.Count {
			return true
		}
	case GradeExceptionCount:
		// Minute-resolution total: a time window under 60s re-trips until
		// the minute itself rolls over.
		if float64(cn.TotalException()) < b.rule.Count {
			return true
		}
	}

	b.trip()
	return false
}

// trip opens the breaker once per window; re-trips during the open window
// are no-ops.
func (b *breaker) trip() {
	if !b.cut.CompareAndSwap(false, true) {
		return
	}
	logging.Default().
		WithField("resource", b.rule.Resource).
		WithField("grade", b.rule.Grade).
		Info("circuit breaker tripped")
	time.AfterFunc(time.Duration(b.rule.TimeWindowSec)*time.Second, func() {
		b.probation.Store(0)
		b.cut.Store(false)
	})
}

type breakerMap map[string][]*breaker

var (
	loadMu         sync.Mutex
	activeBreakers atomic.Pointer[breakerMap]
)

func init() {
	empty := make(breakerMap)
	activeBreakers.Store(&empty)
}

// LoadRules replaces the active degrade rule set atomically; trip state
// restarts closed.
func LoadRules(rules []*Rule) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	next := make(breakerMap, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			logging.Default().WithError(err).Warn("skipping invalid degrade rule")
			continue
		}
		next[r.Resource] = append(next[r.Resource], &breaker{rule: r})
	}
	activeBreakers.Store(&next)
	return nil
}

// ClearRules drops every degrade rule.
func ClearRules() {
	empty := make(breakerMap)
	activeBreakers.Store(&empty)
}

// GetRules returns a snapshot of every active rule.
func GetRules() []Rule {
	m := *activeBreakers.Load()
	out := make([]Rule, 0, len(m))
	for _, bs := range m {
		for _, b := range bs {
			out = append(out, *b.rule)
		}
	}
	return out
}

// GetRulesOfResource returns a snapshot of the rules bound to one resource.
func GetRulesOfResource(resource string) []Rule {
	bs := (*activeBreakers.Load())[resource]
	out := make([]Rule, 0, len(bs))
	for _, b := range bs {
		out = append(out, *b.rule)
	}
	return out
}

// Slot is the circuit-breaker stage of the chain.
type Slot struct{}

// NewSlot creates the degrade slot.
func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Name() string { return "degrade" }

func (s *Slot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	err := base.SafeCheck(s.Name(), ec.Resource.Name(), func() error {
		for _, b := range (*activeBreakers.Load())[ec.Resource.Name()] {
			if !b.pass() {
				return base.NewBlockError(base.BlockTypeDegrade, ec.Resource.Name(), base.WithRule(*b.rule))
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
