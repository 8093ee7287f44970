package degrade

import (
	"testing"
	"time"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/node"
)

func setupResource(t *testing.T, resource string) *node.ClusterNode {
	t.Helper()
	node.ResetNodes()
	t.Cleanup(func() {
		ClearRules()
		node.ResetNodes()
	})
	return node.GetOrCreateClusterNode(resource)
}

func loadOne(t *testing.T, r *Rule) *breaker {
	t.Helper()
	if err := LoadRules([]*Rule{r}); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	bs := (*activeBreakers.Load())[r.Resource]
	if len(bs) != 1 {
		t.Fatalf("breakers = %d, want 1", len(bs))
	}
	return bs[0]
}

func TestAvgRt_TripsAfterProbation(t *testing.T) {
	cn := setupResource(t, "svc-rt")
	b := loadOne(t, &Rule{Resource: "svc-rt", Grade: GradeAvgRT, Count: 10, TimeWindowSec: 1})

	// Sustained slow responses: avg RT 20 >= threshold 10.
	for i := 0; i < 3; i++ {
		cn.AddRtAndSuccess(20, 1)
	}

	// Five over-threshold observations ride out probation; the sixth trips.
	for i := 0; i < 5; i++ {
		if !b.pass() {
			t.Fatalf("observation %d should still pass", i+1)
		}
	}
	if b.pass() {
		t.Fatal("sixth over-threshold observation should trip the breaker")
	}
	if b.pass() {
		t.Fatal("open breaker must keep blocking")
	}
}

func TestAvgRt_FastResponseResetsProbation(t *testing.T) {
	cn := setupResource(t, "svc-reset")
	b := loadOne(t, &Rule{Resource: "svc-reset", Grade: GradeAvgRT, Count: 10, TimeWindowSec: 1})

	cn.AddRtAndSuccess(20, 1)
	for i := 0; i < 4; i++ {
		b.pass()
	}
	if b.probation.Load() != 4 {
		t.Fatalf("probation = %d, want 4", b.probation.Load())
	}

	// A fast window clears the streak.
	node.ResetNodes()
	cn = node.GetOrCreateClusterNode("svc-reset")
	cn.AddRtAndSuccess(1, 1)
	if !b.pass() {
		t.Fatal("fast response should pass")
	}
	if b.probation.Load() != 0 {
		t.Fatalf("probation = %d, want 0 after fast response", b.probation.Load())
	}
}

func TestBreaker_RecoversAfterTimeWindow(t *testing.T) {
	cn := setupResource(t, "svc-recover")
	b := loadOne(t, &Rule{Resource: "svc-recover", Grade: GradeAvgRT, Count: 10, TimeWindowSec: 1})

	cn.AddRtAndSuccess(50, 1)
	for i := 0; i < 6; i++ {
		b.pass()
	}
	if !b.cut.Load() {
		t.Fatal("breaker should be open")
	}

	// Past the recovery window the cut clears and probation restarts.
	deadline := time.Now().Add(3 * time.Second)
	for b.cut.Load() {
		if time.Now().After(deadline) {
			t.Fatal("breaker did not close after the time window")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if b.probation.Load() != 0 {
		t.Fatalf("probation = %d, want 0 after recovery", b.probation.Load())
	}
}

func TestExceptionRatio(t *testing.T) {
	cn := setupResource(t, "svc-ratio")
	b := loadOne(t, &Rule{Resource: "svc-ratio", Grade: GradeExceptionRatio, Count: 0.2, TimeWindowSec: 1})

	// Low traffic never trips.
	cn.AddPass(1)
	cn.AddRtAndSuccess(1, 1)
	cn.AddException(1)
	if !b.pass() {
		t.Fatal("below the traffic floor the ratio grade must pass")
	}

	// 100 successes + 30 exceptions: ratio 30/130 > 0.2.
	for i := 0; i < 100; i++ {
		cn.AddPass(1)
		cn.AddRtAndSuccess(1, 1)
	}
	for i := 0; i < 30; i++ {
		cn.AddPass(1)
		cn.AddRtAndSuccess(1, 1)
		cn.AddException(1)
	}
	if b.pass() {
		t.Fatal("ratio above threshold should trip")
	}
}

func TestExceptionCount(t *testing.T) {
	cn := setupResource(t, "svc-count")
	b := loadOne(t, &Rule{Resource: "svc-count", Grade: GradeExceptionCount, Count: 5, TimeWindowSec: 1})

	for i := 0; i < 4; i++ {
		cn.AddException(1)
	}
	if !b.pass() {
		t.Fatal("below the exception total the rule must pass")
	}
	cn.AddException(1)
	if b.pass() {
		t.Fatal("at the exception total the rule must trip")
	}
}

func TestSlot_BlocksWithRuleSnapshot(t *testing.T) {
	cn := setupResource(t, "svc-slot")
	loadOne(t, &Rule{Resource: "svc-slot", Grade: GradeExceptionCount, Count: 1, TimeWindowSec: 60})
	cn.AddException(2)

	ctx := base.NewContext("test", "", nil)
	ec := &base.EntryContext{
		Ctx:      ctx,
		Resource: base.NewResource("svc-slot", base.Outbound),
		Count:    1,
	}
	base.NewEntry(ec, nil)

	s := NewSlot()
	err := s.Entry(ec, func() error { return nil })
	be, ok := base.IsBlockError(err)
	if !ok {
		t.Fatalf("slot entry = %v, want block error", err)
	}
	if be.BlockType() != base.BlockTypeDegrade {
		t.Fatalf("block type = %v, want degrade", be.BlockType())
	}
	if _, ok := be.TriggeredRule().(Rule); !ok {
		t.Fatal("block should carry the rule snapshot")
	}
}

func TestLoadRules_SkipsInvalid(t *testing.T) {
	t.Cleanup(ClearRules)
	err := LoadRules([]*Rule{
		{Resource: "", Grade: GradeAvgRT, Count: 1, TimeWindowSec: 1},
		{Resource: "ok", Grade: GradeAvgRT, Count: 1, TimeWindowSec: 1},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(GetRules()); got != 1 {
		t.Fatalf("rules = %d, want 1", got)
	}
}
