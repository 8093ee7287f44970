package flow

import (
	"time"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/cluster"
	"github.com/Resinat/Sluice/node"
)

// Slot is the flow rule checker stage of the chain.
type Slot struct{}

// NewSlot creates the flow checker slot.
func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Name() string { return "flow" }

func (s *Slot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	err := base.SafeCheck(s.Name(), ec.Resource.Name(), func() error {
		return s.checkFlow(ec)
	})
	if err != nil {
		// Either a block or the priority-wait signal: the admission is
		// settled here, so the inner slots never run.
		return err
	}
	return next()
}

func (s *Slot) Exit(_ *base.EntryContext) {}

func (s *Slot) checkFlow(ec *base.EntryContext) error {
	for _, entry := range rulesOf(ec.Resource.Name()) {
		if err := s.checkRule(entry, ec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slot) checkRule(entry *ruleEntry, ec *base.EntryContext) error {
	rule := entry.rule
	if rule.ClusterMode {
		local, err := s.checkCluster(rule, ec)
		if !local {
			return err
		}
	}
	return s.checkLocal(entry, ec)
}

// checkCluster consults the token service; local=true means the caller must
// evaluate the local path instead.
func (s *Slot) checkCluster(rule *Rule, ec *base.EntryContext) (local bool, err error) {
	fallback := rule.ClusterConfig.FallbackToLocalWhenFail
	svc := cluster.GetTokenService()
	var result *cluster.TokenResult
	if svc != nil {
		result = svc.RequestToken(rule.ClusterConfig.FlowID, ec.Count, ec.Prioritized)
	}
	disposition, waitMs := cluster.Dispose(result, fallback)
	switch disposition {
	case cluster.DispositionWait:
		time.Sleep(time.Duration(waitMs) * time.Millisecond)
		return false, nil
	case cluster.DispositionBlock:
		return false, base.NewBlockError(base.BlockTypeFlow, ec.Resource.Name(),
			base.WithRule(*rule), base.WithBlockMsg("cluster token denied"))
	case cluster.DispositionFallback:
		return true, nil
	default:
		return false, nil
	}
}

func (s *Slot) checkLocal(entry *ruleEntry, ec *base.EntryContext) error {
	n := selectNode(entry.rule, ec)
	if n == nil {
		return nil
	}
	decision := entry.shaper.Decide(n, ec.Count, ec.Prioritized)
	switch decision.Kind {
	case DecisionBlock:
		return base.NewBlockError(base.BlockTypeFlow, ec.Resource.Name(), base.WithRule(*entry.rule))
	case DecisionWait:
		time.Sleep(time.Duration(decision.WaitMs) * time.Millisecond)
		if decision.PriorityWait {
			return base.NewPriorityWaitError(decision.WaitMs)
		}
		return nil
	default:
		return nil
	}
}

// selectNode picks the statistics the rule evaluates against, from
// (limitApp, strategy, origin). A nil return means the rule does not apply
// to this admission.
func selectNode(rule *Rule, ec *base.EntryContext) base.StatNode {
	limitApp := rule.limitApp()
	origin := ec.Ctx.Origin()

	if limitApp == origin && origin != LimitOriginDefault && origin != LimitOriginOther {
		if rule.Strategy == StrategyDirect {
			return ec.Entry.OriginNode()
		}
		return selectReferencedNode(rule, ec)
	}
	if limitApp == LimitOriginDefault {
		if rule.Strategy == StrategyDirect {
			if dn, ok := ec.Entry.CurNode().(*node.DefaultNode); ok {
				if cn := dn.ClusterNode(); cn != nil {
					return cn
				}
			}
			return ec.Entry.CurNode()
		}
		return selectReferencedNode(rule, ec)
	}
	if limitApp == LimitOriginOther && !originExplicitlyListed(rule.Resource, origin) {
		if rule.Strategy == StrategyDirect {
			return ec.Entry.OriginNode()
		}
		return selectReferencedNode(rule, ec)
	}
	return nil
}

func selectReferencedNode(rule *Rule, ec *base.EntryContext) base.StatNode {
	switch rule.Strategy {
	case StrategyRelate:
		if cn := node.GetClusterNode(rule.RefResource); cn != nil {
			return cn
		}
		return nil
	case StrategyChain:
		if rule.RefResource == ec.Ctx.Name() {
			return ec.Entry.CurNode()
		}
		return nil
	default:
		return nil
	}
}
