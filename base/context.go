package base

import "github.com/google/uuid"

// DefaultContextName is the entrance used when a caller does not enter a
// named context. A fresh default context is auto-entered per top-level entry
// and auto-exits when its last entry leaves.
const DefaultContextName = "sluice_default_context"

// Context is the per-caller ambient state: an entrance name, an optional
// origin (caller identity), the entrance node rooting the call tree, and the
// current entry pointer forming a LIFO stack. A context is single-goroutine
// by convention; it is never shared across concurrent callers.
type Context struct {
	id           string
	name         string
	origin       string
	entranceNode TreeNode
	curEntry     *Entry
	isNull       bool
}

// NewContext creates a context rooted at the given entrance node. Callers go
// through the facade, which resolves the entrance node and enforces the
// named-context ceiling.
func NewContext(name, origin string, entranceNode TreeNode) *Context {
	return &Context{
		id:           uuid.NewString(),
		name:         name,
		origin:       origin,
		entranceNode: entranceNode,
	}
}

var nullContext = &Context{id: "null", name: "sluice_null_context", isNull: true}

// NullContext returns the shared degraded context used when the live
// named-context count exceeds the configured ceiling. Entries under it
// short-circuit every check.
func NullContext() *Context {
	return nullContext
}

// ID returns the unique context identifier.
func (c *Context) ID() string { return c.id }

// Name returns the entrance name.
func (c *Context) Name() string { return c.name }

// Origin returns the caller identity string, or "" when unknown.
func (c *Context) Origin() string { return c.origin }

// SetOrigin updates the caller identity.
func (c *Context) SetOrigin(origin string) { c.origin = origin }

// EntranceNode returns the root of this context's call tree.
func (c *Context) EntranceNode() TreeNode { return c.entranceNode }

// CurEntry returns the entry on top of the stack, or nil.
func (c *Context) CurEntry() *Entry { return c.curEntry }

// IsNull reports whether this is the degraded shared context.
func (c *Context) IsNull() bool { return c.isNull }

// LastNode returns the statistics node new call-tree children attach to: the
// node of the current entry's parent when there is one, otherwise the
// entrance node. An admission pushes its entry before the chain runs, so the
// parent is the enclosing call.
func (c *Context) LastNode() StatNode {
	if c.curEntry != nil && c.curEntry.parent != nil && c.curEntry.parent.curNode != nil {
		return c.curEntry.parent.curNode
	}
	if c.entranceNode == nil {
		return nil
	}
	return c.entranceNode
}

func (c *Context) push(e *Entry) {
	e.parent = c.curEntry
	c.curEntry = e
}

func (c *Context) pop(e *Entry) {
	c.curEntry = e.parent
}
