package node

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/config"
)

// SelectorSlot attaches the per-(resource, context) default node to each
// admission. One instance lives per resource chain; the cache is keyed by
// context name, so the same resource entered from different contexts counts
// on different default nodes.
type SelectorSlot struct {
	nodes *xsync.Map[string, *DefaultNode]
}

// NewSelectorSlot creates the selector for one resource chain.
func NewSelectorSlot() *SelectorSlot {
	return &SelectorSlot{nodes: xsync.NewMap[string, *DefaultNode]()}
}

func (s *SelectorSlot) Name() string { return "node-selector" }

func (s *SelectorSlot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	dn, _ := s.nodes.LoadOrCompute(ec.Ctx.Name(), func() (*DefaultNode, bool) {
		return NewDefaultNode(ec.Resource.Name()), false
	})
	if last := ec.Ctx.LastNode(); last != nil {
		if tree, ok := last.(base.TreeNode); ok {
			tree.AddChild(dn)
		}
	}
	ec.Entry.SetCurNode(dn)
	return next()
}

func (s *SelectorSlot) Exit(_ *base.EntryContext) {}

// ClusterBuilderSlot links the default node to the resource's unique
// process-wide aggregate and attaches the per-origin node when the context
// declares a caller identity.
type ClusterBuilderSlot struct{}

// NewClusterBuilderSlot creates the builder for one resource chain.
func NewClusterBuilderSlot() *ClusterBuilderSlot { return &ClusterBuilderSlot{} }

func (s *ClusterBuilderSlot) Name() string { return "cluster-builder" }

func (s *ClusterBuilderSlot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	cn := GetOrCreateClusterNode(ec.Resource.Name())
	if dn, ok := ec.Entry.CurNode().(*DefaultNode); ok {
		dn.SetClusterNode(cn)
	}
	if origin := ec.Ctx.Origin(); origin != "" {
		ec.Entry.SetOriginNode(cn.OriginNode(origin))
	}
	return next()
}

func (s *ClusterBuilderSlot) Exit(_ *base.EntryContext) {}

// EntryPassHook observes an admission that passed every check.
type EntryPassHook func(ec *base.EntryContext)

// ExitHook observes the release of an admitted entry.
type ExitHook func(ec *base.EntryContext)

var (
	entryPassHooks []EntryPassHook
	exitHooks      []ExitHook
)

// RegisterEntryPassHook adds a pass observer. Registration happens at
// package init time, before any traffic flows.
func RegisterEntryPassHook(h EntryPassHook) { entryPassHooks = append(entryPassHooks, h) }

// RegisterExitHook adds an exit observer.
func RegisterExitHook(h ExitHook) { exitHooks = append(exitHooks, h) }

// StatisticSlot is the bookkeeping stage: it forwards to the rest of the
// chain and records the outcome it observes on the way back — pass,
// priority-wait, block, or internal failure — then settles RT and success on
// exit.
type StatisticSlot struct{}

// NewStatisticSlot creates the bookkeeping slot.
func NewStatisticSlot() *StatisticSlot { return &StatisticSlot{} }

func (s *StatisticSlot) Name() string { return "statistic" }

func (s *StatisticSlot) Entry(ec *base.EntryContext, next base.NextFunc) error {
	err := next()

	var pw *base.PriorityWaitError
	var be *base.BlockError
	switch {
	case err == nil:
		s.onPass(ec, true)
		for _, h := range entryPassHooks {
			h(ec)
		}
		return nil
	case errors.As(err, &pw):
		// The wait already pre-charged a future bucket; only concurrency
		// moves now.
		s.onPass(ec, false)
		for _, h := range entryPassHooks {
			h(ec)
		}
		return nil
	case errors.As(err, &be):
		forEachNode(ec, func(n base.StatNode) { n.AddBlock(ec.Count) })
		return err
	default:
		forEachNode(ec, func(n base.StatNode) { n.AddException(ec.Count) })
		return err
	}
}

func (s *StatisticSlot) onPass(ec *base.EntryContext, countPass bool) {
	forEachNode(ec, func(n base.StatNode) {
		n.IncreaseThreadNum()
		if countPass {
			n.AddPass(ec.Count)
		}
	})
}

func (s *StatisticSlot) Exit(ec *base.EntryContext) {
	e := ec.Entry
	if e == nil || e.CurNode() == nil {
		return
	}
	rt := base.TimeMillis() - e.CreateTimeMs()
	if valve := config.Global().MetricRtDropValveMs; rt > valve {
		rt = valve
	}
	if rt < 0 {
		rt = 0
	}
	forEachNode(ec, func(n base.StatNode) {
		n.AddRtAndSuccess(rt, ec.Count)
		n.DecreaseThreadNum()
	})
	for _, h := range exitHooks {
		h(ec)
	}
}

// forEachNode applies fn to the default node (which propagates to the
// cluster aggregate), the origin node when present, and the global inbound
// aggregate for inbound traffic.
func forEachNode(ec *base.EntryContext, fn func(base.StatNode)) {
	if n := ec.Entry.CurNode(); n != nil {
		fn(n)
	}
	if n := ec.Entry.OriginNode(); n != nil {
		fn(n)
	}
	if ec.Resource.TrafficType() == base.Inbound {
		fn(InboundNode())
	}
}
