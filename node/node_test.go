package node

import (
	"fmt"
	"testing"

	"github.com/Resinat/Sluice/base"
)

func pinClock(t *testing.T, ms int64) func(int64) {
	t.Helper()
	var cur int64 = ms
	base.SetClock(func() int64 { return cur })
	t.Cleanup(func() { base.SetClock(nil) })
	return func(next int64) { cur = next }
}

func TestDefaultNode_PropagatesToClusterNode(t *testing.T) {
	ResetNodes()
	pinClock(t, 1000)

	dn := NewDefaultNode("res-a")
	cn := GetOrCreateClusterNode("res-a")
	dn.SetClusterNode(cn)

	dn.AddPass(2)
	dn.AddBlock(1)
	dn.IncreaseThreadNum()
	dn.AddRtAndSuccess(40, 1)

	if got := cn.TotalPass(); got != 2 {
		t.Fatalf("cluster pass = %d, want 2", got)
	}
	if got := cn.TotalBlock(); got != 1 {
		t.Fatalf("cluster block = %d, want 1", got)
	}
	if got := cn.CurThreadNum(); got != 1 {
		t.Fatalf("cluster threads = %d, want 1", got)
	}
	if got := cn.AvgRt(); got != 40 {
		t.Fatalf("cluster avg rt = %v, want 40", got)
	}
}

func TestClusterNode_IsProcessWideSingleton(t *testing.T) {
	ResetNodes()
	a := GetOrCreateClusterNode("res-b")
	b := GetOrCreateClusterNode("res-b")
	if a != b {
		t.Fatal("same resource must share one cluster node")
	}
	if GetClusterNode("missing") != nil {
		t.Fatal("unknown resource should have no cluster node")
	}
}

func TestClusterNode_OriginBreakdown(t *testing.T) {
	ResetNodes()
	pinClock(t, 1000)
	cn := GetOrCreateClusterNode("res-c")

	o1 := cn.OriginNode("app-1")
	if cn.OriginNode("app-1") != o1 {
		t.Fatal("origin node must be stable per origin")
	}
	o1.AddPass(3)
	if got := o1.TotalPass(); got != 3 {
		t.Fatalf("origin pass = %d, want 3", got)
	}

	seen := 0
	cn.RangeOriginNodes(func(origin string, _ *StatisticNode) bool {
		seen++
		return true
	})
	if seen != 1 {
		t.Fatalf("origin count = %d, want 1", seen)
	}
}

func TestEntranceNode_Ceiling(t *testing.T) {
	ResetNodes()
	const ceiling = 5
	for i := 0; i < ceiling; i++ {
		if _, ok := GetOrCreateEntranceNode(fmt.Sprintf("ctx-%d", i), ceiling); !ok {
			t.Fatalf("entrance %d should fit under the ceiling", i)
		}
	}
	if _, ok := GetOrCreateEntranceNode("ctx-overflow", ceiling); ok {
		t.Fatal("new entrance beyond the ceiling must degrade")
	}
	// Existing names stay reachable at the ceiling.
	if _, ok := GetOrCreateEntranceNode("ctx-0", ceiling); !ok {
		t.Fatal("existing entrance must survive the ceiling")
	}
}

func TestStatisticNode_QpsOverPinnedClock(t *testing.T) {
	ResetNodes()
	tick := pinClock(t, 10_000)

	n := NewStatisticNode()
	for i := 0; i < 10; i++ {
		n.AddPass(1)
	}
	// Full window covered: rate = count / interval.
	tick(10_900)
	qps := n.PassQps()
	if qps < 9 || qps > 21 {
		t.Fatalf("pass qps = %v, want around 10-20", qps)
	}
}

func TestStatisticNode_PreviousPassQps(t *testing.T) {
	ResetNodes()
	tick := pinClock(t, 60_000)

	n := NewStatisticNode()
	n.AddPass(7)
	tick(61_000)
	if got := n.PreviousPassQps(); got != 7 {
		t.Fatalf("previous pass qps = %v, want 7", got)
	}
}

func TestFlatMetrics_SnapshotsClusterNodes(t *testing.T) {
	ResetNodes()
	pinClock(t, 1000)
	cn := GetOrCreateClusterNode("res-flat")
	cn.AddPass(4)
	cn.AddBlock(2)

	items := FlatMetrics()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Resource != "res-flat" || items[0].TotalPass != 4 || items[0].TotalBlock != 2 {
		t.Fatalf("unexpected snapshot: %+v", items[0])
	}
}
