package node

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// globalInboundResource names the synthetic aggregate every inbound entry
// also counts against; the system guard reads it.
const globalInboundResource = "__global_inbound__"

var (
	clusterNodes  = xsync.NewMap[string, *ClusterNode]()
	entranceNodes = xsync.NewMap[string, *EntranceNode]()
	inboundNode   = NewClusterNode(globalInboundResource)
)

// GetOrCreateClusterNode returns the unique process-wide aggregate for the
// resource, creating it atomically on first use.
func GetOrCreateClusterNode(resourceName string) *ClusterNode {
	cn, _ := clusterNodes.LoadOrCompute(resourceName, func() (*ClusterNode, bool) {
		return NewClusterNode(resourceName), false
	})
	return cn
}

// GetClusterNode returns the aggregate for the resource, or nil when the
// resource has never been entered.
func GetClusterNode(resourceName string) *ClusterNode {
	cn, _ := clusterNodes.Load(resourceName)
	return cn
}

// RangeClusterNodes iterates every resource aggregate.
func RangeClusterNodes(fn func(resourceName string, cn *ClusterNode) bool) {
	clusterNodes.Range(fn)
}

// GetOrCreateEntranceNode returns the entrance node for a context name. When
// the name is new and the live named-context count has reached ceiling, it
// returns (nil, false) and the caller degrades to the null context.
func GetOrCreateEntranceNode(name string, ceiling int) (*EntranceNode, bool) {
	if en, ok := entranceNodes.Load(name); ok {
		return en, true
	}
	if ceiling > 0 && entranceNodes.Size() >= ceiling {
		return nil, false
	}
	en, _ := entranceNodes.LoadOrCompute(name, func() (*EntranceNode, bool) {
		return NewEntranceNode(name), false
	})
	return en, true
}

// InboundNode returns the global inbound aggregate.
func InboundNode() *ClusterNode { return inboundNode }

// MetricItem is one row of the display snapshot.
type MetricItem struct {
	Resource       string
	TotalPass      int64
	TotalBlock     int64
	TotalException int64
	TotalSuccess   int64
	PassQps        float64
	BlockQps       float64
	AvgRt          float64
	CurThreadNum   int32
}

// FlatMetrics snapshots the minute totals of every resource aggregate for
// embedders to scrape.
func FlatMetrics() []MetricItem {
	out := make([]MetricItem, 0, clusterNodes.Size())
	clusterNodes.Range(func(name string, cn *ClusterNode) bool {
		out = append(out, MetricItem{
			Resource:       name,
			TotalPass:      cn.TotalPass(),
			TotalBlock:     cn.TotalBlock(),
			TotalException: cn.TotalException(),
			TotalSuccess:   cn.TotalSuccess(),
			PassQps:        cn.PassQps(),
			BlockQps:       cn.BlockQps(),
			AvgRt:          cn.AvgRt(),
			CurThreadNum:   cn.CurThreadNum(),
		})
		return true
	})
	return out
}

// ResetNodes clears every registry and the global inbound aggregate. Test
// helper; never call with traffic in flight.
func ResetNodes() {
	clusterNodes = xsync.NewMap[string, *ClusterNode]()
	entranceNodes = xsync.NewMap[string, *EntranceNode]()
	inboundNode = NewClusterNode(globalInboundResource)
}
