package flow

import (
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/logging"
)

type ruleEntry struct {
	rule   *Rule
	shaper TrafficShaper
}

type ruleMap map[string][]*ruleEntry

var (
	loadMu      sync.Mutex
	activeRules atomic.Pointer[ruleMap]
)

func init() {
	empty := make(ruleMap)
	activeRules.Store(&empty)
}

// LoadRules replaces the active flow rule set atomically. Invalid rules are
// skipped with a log line; in-flight checks keep the snapshot they started
// with. Shaping state (leaky-bucket clocks, warm-up tokens) restarts fresh.
func LoadRules(rules []*Rule) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	coldFactor := config.Global().WarmUpColdFactor
	next := make(ruleMap, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			logging.Default().WithError(err).Warn("skipping invalid flow rule")
			continue
		}
		next[r.Resource] = append(next[r.Resource], &ruleEntry{rule: r, shaper: newShaper(r, coldFactor)})
	}
	activeRules.Store(&next)
	return nil
}

// ClearRules drops every flow rule.
func ClearRules() {
	empty := make(ruleMap)
	activeRules.Store(&empty)
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

func rulesOf(resource string) []*ruleEntry {
	return (*activeRules.Load())[resource]
}

// originExplicitlyListed reports whether some rule of the resource names the
// origin as its limitApp; the "other" bucket excludes such callers.
func originExplicitlyListed(resource, origin string) bool {
	for _, e := range rulesOf(resource) {
		if e.rule.limitApp() == origin {
			return true
		}
	}
	return false
}
