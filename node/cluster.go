package node

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// ClusterNode is the process-wide aggregate for one resource across every
// context, with a per-origin breakdown for caller-scoped limits.
type ClusterNode struct {
	*StatisticNode
	resourceName string

	originNodes *xsync.Map[string, *StatisticNode]
}

// NewClusterNode creates the aggregate node for a resource.
func NewClusterNode(resourceName string) *ClusterNode {
	return &ClusterNode{
		StatisticNode: NewStatisticNode(),
		resourceName:  resourceName,
		originNodes:   xsync.NewMap[string, *StatisticNode](),
	}
}

// ResourceName returns the resource this aggregate counts.
func (n *ClusterNode) ResourceName() string { return n.resourceName }

// OriginNode returns the per-caller statistics node for origin, creating it
// atomically on first use.
func (n *ClusterNode) OriginNode(origin string) *StatisticNode {
	sn, _ := n.originNodes.LoadOrCompute(origin, func() (*StatisticNode, bool) {
		return NewStatisticNode(), false
	})
	return sn
}

// RangeOriginNodes iterates the per-origin breakdown. Returning false stops
// iteration.
func (n *ClusterNode) RangeOriginNodes(fn func(origin string, sn *StatisticNode) bool) {
	n.originNodes.Range(fn)
}
