package base

import "sync/atomic"

// Entry is the handle returned by a successful admission. It is released
// exactly once by Exit, in LIFO order within its context.
type Entry struct {
	res          *Resource
	createTimeMs int64
	curNode      StatNode
	originNode   StatNode
	parent       *Entry
	err          atomic.Pointer[error]

	ctx    *Context
	chain  *SlotChain
	ec     *EntryContext
	exited atomic.Bool
}

// NewEntry creates an admitted entry and pushes it onto the context's stack.
func NewEntry(ec *EntryContext, chain *SlotChain) *Entry {
	e := &Entry{
		res:          ec.Resource,
		createTimeMs: TimeMillis(),
		ctx:          ec.Ctx,
		chain:        chain,
		ec:           ec,
	}
	ec.Entry = e
	if ec.Ctx != nil && !ec.Ctx.IsNull() {
		ec.Ctx.push(e)
	}
	return e
}

// Abandon removes a rejected admission from the context without running
// exit hooks; the admission path calls it when the chain blocks the call.
func (e *Entry) Abandon() {
	if e.exited.CompareAndSwap(false, true) && e.ctx != nil && !e.ctx.IsNull() {
		e.ctx.pop(e)
	}
}

// Detach unlinks the entry from its creation context and rebinds it to a
// captured shadow context, so its exit may happen on another goroutine while
// the caller's context continues independently.
func (e *Entry) Detach() {
	if e.ctx == nil || e.ctx.IsNull() {
		return
	}
	e.ctx.pop(e)
	shadow := NewContext(e.ctx.name, e.ctx.origin, e.ctx.entranceNode)
	e.parent = nil
	e.ctx = shadow
	shadow.curEntry = e
	if e.ec != nil {
		e.ec.Ctx = shadow
	}
}

// Resource returns the resource this entry was admitted for.
func (e *Entry) Resource() *Resource { return e.res }

// CreateTimeMs returns the admission timestamp in epoch milliseconds.
func (e *Entry) CreateTimeMs() int64 { return e.createTimeMs }

// CurNode returns the per-(resource, context) statistics node.
func (e *Entry) CurNode() StatNode { return e.curNode }

// SetCurNode attaches the statistics node; called by the node-selector slot.
func (e *Entry) SetCurNode(n StatNode) { e.curNode = n }

// OriginNode returns the per-origin statistics node, or nil.
func (e *Entry) OriginNode() StatNode { return e.originNode }

// SetOriginNode attaches the origin node; called by the cluster-builder slot.
func (e *Entry) SetOriginNode(n StatNode) { e.originNode = n }

// Parent returns the entry below this one in the context stack.
func (e *Entry) Parent() *Entry { return e.parent }

// Context returns the context this entry belongs to.
func (e *Entry) Context() *Context { return e.ctx }

// SetError records the first user error observed during the protected call.
func (e *Entry) SetError(err error) {
	if err == nil {
		return
	}
	e.err.CompareAndSwap(nil, &err)
}

// Err returns the recorded user error, or nil.
func (e *Entry) Err() error {
	p := e.err.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Exit releases the entry: the slot chain's exit hooks run back-to-front,
// statistics record RT and success, and the entry pops off the context
// stack. Exiting twice is a no-op. If this entry is not on top of the stack
// the entries above it are unwound first and ErrEntryNotOnTop is returned.
func (e *Entry) Exit() error {
	if e.ctx == nil || e.ctx.IsNull() {
		e.exited.Store(true)
		return nil
	}
	if !e.exited.CompareAndSwap(false, true) {
		return nil
	}

	var fault error
	for e.ctx.curEntry != nil && e.ctx.curEntry != e {
		fault = ErrEntryNotOnTop
		stray := e.ctx.curEntry
		stray.exited.Store(true)
		stray.release()
	}
	e.release()
	return fault
}

func (e *Entry) release() {
	if e.chain != nil {
		e.chain.Exit(e.ec)
	}
	e.ctx.pop(e)
}
