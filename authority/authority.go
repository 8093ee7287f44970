// Package authority implements origin-based allow/deny rules.
package authority

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/logging"
)

// Strategy selects whether the origin list admits or denies.
type Strategy int32

const (
	// StrategyWhite admits only listed origins.
	StrategyWhite Strategy = iota
	// StrategyBlack denies listed origins.
	StrategyBlack
)

// Rule is one authority rule; LimitApp is a comma-separated origin list.
type Rule struct {
	Resource string   `json:"resource"`
	LimitApp string   `json:"limitApp"`
	Strategy Strategy `json:"strategy"`
}

func (r *Rule) validate() error {
	if r.Resource == "" {
		return fmt.Errorf("authority: rule without resource")
	}
	return nil
}

type ruleMap map[string][]*Rule

var (
	loadMu      sync.Mutex
	activeRules atomic.Pointer[ruleMap]
)

func init() {
	empty := make(ruleMap)
	activeRules.Store(&empty)
}

// LoadRules replaces the active authority rule set atomically.
func LoadRules(rules []*Rule) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	next := make(ruleMap, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			logging.Default().WithError(err).Warn("skipping invalid authority rule")
			continue
		}
		next[r.Resource] = append(next[r.Resource], r)
	}
	activeRules.Store(&next)
	return nil
}

// ClearRules drops every authority rule.
func ClearRules() {
	empty := make(ruleMap)
	activeRules.Store(&empty)
}

// GetRules returns a snapshot of every active rule.
func GetRules() []Rule {
	m := *activeRules.Load()
	out := make([]Rule, 0, len(m))
	for _, rs := range m {
		for _, r := range rs {
			out = append(out, *r)
		}
	}
	return out
}

// GetRulesOfResource returns a snapshot of the rules bound to one resource.
func GetRulesOfResource(resource string) []Rule {
	rs := (*activeRules.Load())[resource]
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		out = append(out, *r)
	}
	return out
}

// passRule matches the origin against the rule's list with exact token
// comparison. An empty origin or empty list always passes.
func passRule(r *Rule, origin string) bool {
	if origin == "" || r.LimitApp == "" {
		return true
	}
	match := false
	for _, token := range strings.Split(r.LimitApp, ",") {
		if strings.TrimSpace(token) == origin {
			match = true
			break
		}
	}
	if r.Strategy == StrategyBlack {
		return !match
	}
	return match
}

// Slot is the authority stage of the chain.
type Slot struct{}

// NewSlot creates the authority slot.
func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Name() string { return "authority" }

func (s *Slot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	err := base.SafeCheck(s.Name(), ec.Resource.Name(), func() error {
		origin := ec.Ctx.Origin()
		for _, r := range (*activeRules.Load())[ec.Resource.Name()] {
			if !passRule(r, origin) {
				return base.NewBlockError(base.BlockTypeAuthority, ec.Resource.Name(),
					base.WithRule(*r), base.WithSnapshotValue(origin))
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
