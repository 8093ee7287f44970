package node

import (
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
)

// EntranceNode roots one context's call tree. Its own counters stay empty;
// TotalPass, TotalBlock and TotalRequest aggregate over the children, while
// the other reads return the node's own counters.
type EntranceNode struct {
	*StatisticNode
	name string

	childMu  sync.Mutex
	children atomic.Pointer[[]base.TreeNode]
}

// NewEntranceNode creates the root node for a context name.
func NewEntranceNode(name string) *EntranceNode {
	n := &EntranceNode{
		StatisticNode: NewStatisticNode(),
		name:          name,
	}
	empty := make([]base.TreeNode, 0)
	n.children.Store(&empty)
	return n
}

// Name returns the entrance (context) name.
func (n *EntranceNode) Name() string { return n.name }

// AddChild appends a call-tree child once, copy-on-write.
func (n *EntranceNode) AddChild(child base.TreeNode) {
	if child == nil {
		return
	}
	n.childMu.Lock()
	defer n.childMu.Unlock()
	cur := *n.children.Load()
	for _, c := range cur {
		if c == child {
			return
		}
	}
	next := make([]base.TreeNode, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = child
	n.children.Store(&next)
}

// Children returns the current call-tree snapshot.
func (n *EntranceNode) Children() []base.TreeNode { return *n.children.Load() }

// TotalPass aggregates the children's minute-window admitted totals.
func (n *EntranceNode) TotalPass() int64 {
	var sum int64
	for _, c := range n.Children() {
		sum += c.TotalPass()
	}
	return sum
}

// TotalBlock aggregates the children's minute-window rejected totals.
func (n *EntranceNode) TotalBlock() int64 {
	var sum int64
	for _, c := range n.Children() {
		sum += c.TotalBlock()
	}
	return sum
}

// TotalRequest aggregates pass + block over the children.
func (n *EntranceNode) TotalRequest() int64 { return n.TotalPass() + n.TotalBlock() }

var _ base.TreeNode = (*EntranceNode)(nil)
