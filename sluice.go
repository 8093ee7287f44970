// Package sluice is an in-process traffic governance library: every call to
// a protected resource passes through an ordered pipeline of checks — flow
// control, circuit breaking, hot-parameter limits, authority, and a global
// system guard — fed by live sliding-window statistics.
//
// Basic use:
//
//	e, b := sluice.Entry("GET:/orders")
//	if b != nil {
//		return errRejected
//	}
//	defer e.Exit()
//	// protected code
package sluice

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Resinat/Sluice/authority"
	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/degrade"
	"github.com/Resinat/Sluice/flow"
	"github.com/Resinat/Sluice/hotspot"
	"github.com/Resinat/Sluice/logging"
	"github.com/Resinat/Sluice/node"
	"github.com/Resinat/Sluice/system"
)

var chains = xsync.NewMap[string, *base.SlotChain]()

// newDefaultChain builds the fixed slot order every resource gets.
func newDefaultChain() *base.SlotChain {
	return base.NewSlotChain(
		node.NewSelectorSlot(),
		node.NewClusterBuilderSlot(),
		node.NewStatisticSlot(),
		authority.NewSlot(),
		system.NewSlot(),
		flow.NewSlot(),
		degrade.NewSlot(),
		hotspot.NewSlot(),
	)
}

// chainFor returns the resource's chain, building it lazily. Beyond the
// process-wide cap new resources get nil and their entries bypass every
// check.
func chainFor(resource string) *base.SlotChain {
	if c, ok := chains.Load(resource); ok {
		return c
	}
	if chains.Size() >= config.Global().MaxSlotChainSize {
		return nil
	}
	c, _ := chains.LoadOrCompute(resource, func() (*base.SlotChain, bool) {
		return newDefaultChain(), false
	})
	return c
}

// InitWithConfigFile loads the configuration layers (defaults, the YAML
// entity at path, SLUICE_* environment variables) and activates them.
func InitWithConfigFile(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)
	logging.SetLevel(cfg.LogLevel)
	return nil
}

// NewContext enters a named context: the entrance under which subsequent
// entries build their call tree. When the live named-context ceiling is
// reached, the shared null context is returned and entries under it skip all
// checks.
func NewContext(name, origin string) *base.Context {
	if name == "" {
		name = base.DefaultContextName
	}
	en, ok := node.GetOrCreateEntranceNode(name, config.Global().MaxContextNameSize)
	if !ok {
		return base.NullContext()
	}
	return base.NewContext(name, origin, en)
}

// Entry admits one call against the named resource. On success the returned
// entry must be released with Exit, in LIFO order when entries nest inside
// one context. On rejection the block error carries the rule kind and a rule
// snapshot.
func Entry(name string, opts ...Option) (*base.Entry, *base.BlockError) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx := o.ctx
	if ctx == nil {
		ctx = NewContext(o.contextName, o.origin)
	} else if o.origin != "" {
		ctx.SetOrigin(o.origin)
	}

	res := base.NewResource(name, o.trafficType)
	ec := &base.EntryContext{
		Ctx:         ctx,
		Resource:    res,
		Count:       o.count,
		Prioritized: o.prioritized,
		Args:        o.args,
	}

	if ctx.IsNull() {
		return base.NewEntry(ec, nil), nil
	}

	chain := chainFor(name)
	entry := base.NewEntry(ec, chain)
	if chain == nil {
		return entry, nil
	}
	if err := chain.Entry(ec); err != nil {
		entry.Abandon()
		if be, ok := base.IsBlockError(err); ok {
			return nil, be
		}
		// A non-block failure inside the pipeline must not take the call
		// down: log it and admit.
		logging.Default().WithError(err).WithField("resource", name).
			Error("slot chain failed, admitting unprotected")
		return base.NewEntry(ec, nil), nil
	}
	return entry, nil
}

// AsyncEntry admits like Entry, then unlinks the entry from the caller's
// context. The entry's Exit may run on another goroutine; the caller's
// context continues as if the async call had already returned.
func AsyncEntry(name string, opts ...Option) (*base.Entry, *base.BlockError) {
	entry, be := Entry(name, opts...)
	if be != nil {
		return nil, be
	}
	entry.Detach()
	return entry, nil
}

// FlatMetrics snapshots the minute totals of every resource for embedders to
// scrape.
func FlatMetrics() []node.MetricItem {
	return node.FlatMetrics()
}
