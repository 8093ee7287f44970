package node

import (
	"sync"
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
)

// DefaultNode holds the statistics of one resource within one context, and
// forms the call tree through its child set. Every write propagates to the
// resource's ClusterNode so the process-wide aggregate stays consistent.
type DefaultNode struct {
	*StatisticNode
	resourceName string

	clusterNode atomic.Pointer[ClusterNode]

	childMu  sync.Mutex
	children atomic.Pointer[[]base.TreeNode] // copy-on-write
}

// NewDefaultNode creates a default node for the given resource.
func NewDefaultNode(resourceName string) *DefaultNode {
	n := &DefaultNode{
		StatisticNode: NewStatisticNode(),
		resourceName:  resourceName,
	}
	empty := make([]base.TreeNode, 0)
	n.children.Store(&empty)
	return n
}

// ResourceName returns the resource this node counts.
func (n *DefaultNode) ResourceName() string { return n.resourceName }

// ClusterNode returns the linked process-wide aggregate, or nil before the
// cluster-builder slot has run.
func (n *DefaultNode) ClusterNode() *ClusterNode { return n.clusterNode.Load() }

// SetClusterNode links the process-wide aggregate.
func (n *DefaultNode) SetClusterNode(cn *ClusterNode) { n.clusterNode.Store(cn) }

// AddChild appends a call-tree child once; the slice is replaced
// copy-on-write so readers never lock.
func (n *DefaultNode) AddChild(child base.TreeNode) {
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
func (n *DefaultNode) Children() []base.TreeNode { return *n.children.Load() }

// AddPass records on this node and the cluster aggregate.
func (n *DefaultNode) AddPass(count uint32) {
	n.StatisticNode.AddPass(count)
	if cn := n.clusterNode.Load(); cn != nil {
		cn.AddPass(count)
	}
}

// AddBlock records on this node and the cluster aggregate.
func (n *DefaultNode) AddBlock(count uint32) {
	n.StatisticNode.AddBlock(count)
	if cn := n.clusterNode.Load(); cn != nil {
		cn.AddBlock(count)
	}
}

// AddException records on this node and the cluster aggregate.
func (n *DefaultNode) AddException(count uint32) {
	n.StatisticNode.AddException(count)
	if cn := n.clusterNode.Load(); cn != nil {
		cn.AddException(count)
	}
}

// AddRtAndSuccess records on this node and the cluster aggregate.
func (n *DefaultNode) AddRtAndSuccess(rtMs int64, count uint32) {
	n.StatisticNode.AddRtAndSuccess(rtMs, count)
	if cn := n.clusterNode.Load(); cn != nil {
		cn.AddRtAndSuccess(rtMs, count)
	}
}

// IncreaseThreadNum bumps this node and the cluster aggregate.
func (n *DefaultNode) IncreaseThreadNum() {
	n.StatisticNode.IncreaseThreadNum()
	if cn := n.clusterNode.Load(); cn != nil {
		cn.IncreaseThreadNum()
	}
}

// DecreaseThreadNum drops this node and the cluster aggregate.
func (n *DefaultNode) DecreaseThreadNum() {
	n.StatisticNode.DecreaseThreadNum()
	if cn := n.clusterNode.Load(); cn != nil {
		cn.DecreaseThreadNum()
	}
}

var _ base.TreeNode = (*DefaultNode)(nil)
