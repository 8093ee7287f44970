package flow

import (
	"testing"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/node"
)

func newEntryContext(t *testing.T, resource, ctxName, origin string) *base.EntryContext {
	t.Helper()
	ctx := base.NewContext(ctxName, origin, nil)
	ec := &base.EntryContext{
		Ctx:      ctx,
		Resource: base.NewResource(resource, base.Outbound),
		Count:    1,
	}
	e := base.NewEntry(ec, nil)

	dn := node.NewDefaultNode(resource)
	cn := node.GetOrCreateClusterNode(resource)
	dn.SetClusterNode(cn)
	e.SetCurNode(dn)
	if origin != "" {
		e.SetOriginNode(cn.OriginNode(origin))
	}
	return ec
}

func TestSelectNode_DefaultDirectUsesClusterNode(t *testing.T) {
	node.ResetNodes()
	t.Cleanup(func() { ClearRules(); node.ResetNodes() })

	ec := newEntryContext(t, "res-sel", "ctx-a", "caller-1")
	rule := &Rule{Resource: "res-sel", LimitApp: "default", Strategy: StrategyDirect}
	if got := selectNode(rule, ec); got != node.GetClusterNode("res-sel") {
		t.Fatalf("selected %T, want the resource cluster node", got)
	}
}

func TestSelectNode_OriginSpecificRule(t *testing.T) {
	node.ResetNodes()
	t.Cleanup(func() { ClearRules(); node.ResetNodes() })

	ec := newEntryContext(t, "res-sel", "ctx-a", "caller-1")
	rule := &Rule{Resource: "res-sel", LimitApp: "caller-1", Strategy: StrategyDirect}
	if got := selectNode(rule, ec); got != ec.Entry.OriginNode() {
		t.Fatalf("selected %T, want the origin node", got)
	}

	// A different caller is not addressed by this rule.
	other := newEntryContext(t, "res-sel", "ctx-a", "caller-2")
	otherRule := &Rule{Resource: "res-sel", LimitApp: "caller-1", Strategy: StrategyDirect}
	if err := LoadRules([]*Rule{otherRule}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := selectNode(otherRule, other); got != nil {
		t.Fatalf("selected %T, want nil for an unlisted caller", got)
	}
}

func TestSelectNode_OtherExcludesListedOrigins(t *testing.T) {
	node.ResetNodes()
	t.Cleanup(func() { ClearRules(); node.ResetNodes() })

	listed := &Rule{Resource: "res-sel", LimitApp: "caller-1", Strategy: StrategyDirect, Count: 5}
	otherRule := &Rule{Resource: "res-sel", LimitApp: "other", Strategy: StrategyDirect, Count: 1}
	if err := LoadRules([]*Rule{listed, otherRule}); err != nil {
		t.Fatalf("load: %v", err)
	}

	// caller-1 is explicitly listed, so the "other" bucket skips it.
	ec := newEntryContext(t, "res-sel", "ctx-a", "caller-1")
	if got := selectNode(otherRule, ec); got != nil {
		t.Fatalf("selected %T, want nil for a listed caller", got)
	}
	// caller-9 falls into the bucket.
	ec = newEntryContext(t, "res-sel", "ctx-a", "caller-9")
	if got := selectNode(otherRule, ec); got != ec.Entry.OriginNode() {
		t.Fatalf("selected %T, want the origin node", got)
	}
}

func TestSelectNode_RelateAndChain(t *testing.T) {
	node.ResetNodes()
	t.Cleanup(func() { ClearRules(); node.ResetNodes() })

	ref := node.GetOrCreateClusterNode("res-ref")
	ec := newEntryContext(t, "res-sel", "ctx-a", "")

	relate := &Rule{Resource: "res-sel", LimitApp: "default", Strategy: StrategyRelate, RefResource: "res-ref"}
	if got := selectNode(relate, ec); got != ref {
		t.Fatalf("relate selected %T, want the referenced cluster node", got)
	}

	chain := &Rule{Resource: "res-sel", LimitApp: "default", Strategy: StrategyChain, RefResource: "ctx-a"}
	if got := selectNode(chain, ec); got != ec.Entry.CurNode() {
		t.Fatalf("chain selected %T, want the current default node", got)
	}
	chainMiss := &Rule{Resource: "res-sel", LimitApp: "default", Strategy: StrategyChain, RefResource: "ctx-b"}
	if got := selectNode(chainMiss, ec); got != nil {
		t.Fatalf("chain mismatch selected %T, want nil", got)
	}
}

func TestLoadRules_ValidationAndSnapshots(t *testing.T) {
	t.Cleanup(ClearRules)

	err := LoadRules([]*Rule{
		{Resource: "ok", Grade: GradeQPS, Count: 10},
		{Resource: "", Grade: GradeQPS, Count: 10},
		{Resource: "bad-warmup", Grade: GradeQPS, Count: 10, ControlBehavior: BehaviorWarmUp},
		{Resource: "bad-relate", Grade: GradeQPS, Count: 10, Strategy: StrategyRelate},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(GetRules()); got != 1 {
		t.Fatalf("rules = %d, want only the valid one", got)
	}
	if got := GetRulesOfResource("ok"); len(got) != 1 || got[0].Count != 10 {
		t.Fatalf("resource snapshot = %+v", got)
	}
	if got := GetRulesOfResource("missing"); len(got) != 0 {
		t.Fatalf("missing resource snapshot = %+v", got)
	}
}
