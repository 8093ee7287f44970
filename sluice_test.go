package sluice

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/cluster"
	"github.com/Resinat/Sluice/degrade"
	"github.com/Resinat/Sluice/flow"
	"github.com/Resinat/Sluice/hotspot"
	"github.com/Resinat/Sluice/node"
)

func resetAll(t *testing.T) {
	t.Helper()
	node.ResetNodes()
	t.Cleanup(func() {
		flow.ClearRules()
		degrade.ClearRules()
		hotspot.ClearRules()
		cluster.SetTokenService(nil)
		node.ResetNodes()
		base.SetClock(nil)
	})
}

func pinClock(t *testing.T, ms int64) func(int64) {
	t.Helper()
	cur := ms
	base.SetClock(func() int64 { return cur })
	return func(next int64) { cur = next }
}

func TestFlowReject_EndToEnd(t *testing.T) {
	resetAll(t)
	pinClock(t, 1_000_000)

	if err := LoadFlowRules([]*flow.Rule{{Resource: "res-A", Grade: flow.GradeQPS, Count: 10}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	var passed, blocked int
	var entries []*base.Entry
	for i := 0; i < 20; i++ {
		e, b := Entry("res-A")
		if b != nil {
			if b.BlockType() != base.BlockTypeFlow {
				t.Fatalf("block type = %v, want flow", b.BlockType())
			}
			blocked++
			continue
		}
		passed++
		entries = append(entries, e)
	}
	if passed != 10 || blocked != 10 {
		t.Fatalf("passed/blocked = %d/%d, want 10/10", passed, blocked)
	}

	cn := node.GetClusterNode("res-A")
	if cn == nil {
		t.Fatal("cluster node missing")
	}
	if got := cn.PassQps(); got != 10 {
		t.Fatalf("pass qps = %v, want 10", got)
	}
	if got := cn.BlockQps(); got != 10 {
		t.Fatalf("block qps = %v, want 10", got)
	}
	for _, e := range entries {
		if err := e.Exit(); err != nil {
			t.Fatalf("exit: %v", err)
		}
	}
	if got := cn.CurThreadNum(); got != 0 {
		t.Fatalf("threads after exits = %d, want 0", got)
	}
}

func TestRateLimiter_EndToEnd(t *testing.T) {
	resetAll(t)

	if err := LoadFlowRules([]*flow.Rule{{
		Resource:          "res-B",
		Grade:             flow.GradeQPS,
		Count:             5,
		ControlBehavior:   flow.BehaviorRateLimiter,
		MaxQueueingTimeMs: 1000,
	}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		e, b := Entry("res-B")
		if b != nil {
			t.Fatalf("request %d blocked: %v", i+1, b)
		}
		e.Exit()
	}
	elapsed := time.Since(start)
	// Three requests at 200ms spacing: the 2nd and 3rd queue.
	if elapsed < 350*time.Millisecond {
		t.Fatalf("elapsed = %v, want queued spacing of about 400ms", elapsed)
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("elapsed = %v, spacing far beyond the leaky-bucket rate", elapsed)
	}
}

func TestDegradeAvgRt_EndToEnd(t *testing.T) {
	resetAll(t)
	tick := pinClock(t, 2_000_000)

	if err := LoadDegradeRules([]*degrade.Rule{{
		Resource:      "res-C",
		Grade:         degrade.GradeAvgRT,
		Count:         10,
		TimeWindowSec: 2,
	}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Warm the aggregate above the threshold so every call below is an
	// over-threshold observation.
	cn := node.GetOrCreateClusterNode("res-C")
	for i := 0; i < 3; i++ {
		cn.AddRtAndSuccess(20, 1)
	}

	now := int64(2_000_000)
	for i := 1; i <= 5; i++ {
		e, b := Entry("res-C")
		if b != nil {
			t.Fatalf("call %d blocked during probation: %v", i, b)
		}
		now += 20
		tick(now)
		e.Exit() // records rt = 20
	}
	// The sixth observation trips; calls inside the window block.
	if _, b := Entry("res-C"); b == nil {
		t.Fatal("sixth over-threshold call should trip and block")
	}
	if _, b := Entry("res-C"); b == nil || b.BlockType() != base.BlockTypeDegrade {
		t.Fatal("open breaker must keep blocking")
	}

	// Recovery is wall-clock driven.
	time.Sleep(2100 * time.Millisecond)
	e, b := Entry("res-C")
	if b != nil {
		t.Fatalf("call after the time window blocked: %v", b)
	}
	e.Exit()
}

func TestHotspot_EndToEnd(t *testing.T) {
	resetAll(t)
	pinClock(t, 3_000_000)

	if err := LoadHotspotRules([]*hotspot.Rule{{
		Resource:      "res-D",
		ParamIdx:      0,
		Grade:         hotspot.GradeQPS,
		Count:         2,
		DurationInSec: 1,
	}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	var blocked int
	for i := 0; i < 3; i++ {
		e, b := Entry("res-D", WithArgs("x"))
		if b != nil {
			if b.BlockType() != base.BlockTypeHotspot {
				t.Fatalf("block type = %v, want hotspot", b.BlockType())
			}
			if b.TriggeredValue() != "x" {
				t.Fatalf("triggered value = %v, want x", b.TriggeredValue())
			}
			blocked++
			continue
		}
		e.Exit()
	}
	if blocked != 1 {
		t.Fatalf("blocked = %d, want 1 of 3", blocked)
	}

	// Another value keeps its own counter.
	e, b := Entry("res-D", WithArgs("y"))
	if b != nil {
		t.Fatalf("independent value blocked: %v", b)
	}
	e.Exit()
}

type scriptedTokenService struct {
	result *cluster.TokenResult
	calls  int
}

func (s *scriptedTokenService) RequestToken(uint64, uint32, bool) *cluster.TokenResult {
	s.calls++
	return s.result
}

func (s *scriptedTokenService) RequestParamToken(uint64, uint32, []interface{}) *cluster.TokenResult {
	s.calls++
	return s.result
}

func TestClusterFlow_ShouldWaitSleepsThenPasses(t *testing.T) {
	resetAll(t)

	svc := &scriptedTokenService{result: &cluster.TokenResult{Status: cluster.StatusShouldWait, WaitInMs: 50}}
	cluster.SetTokenService(svc)
	if err := LoadFlowRules([]*flow.Rule{{
		Resource:      "res-E",
		Grade:         flow.GradeQPS,
		Count:         1,
		ClusterMode:   true,
		ClusterConfig: &flow.ClusterConfig{FlowID: 42},
	}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	start := time.Now()
	e, b := Entry("res-E")
	if b != nil {
		t.Fatalf("should-wait admission blocked: %v", b)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least the instructed 50ms", elapsed)
	}
	if svc.calls != 1 {
		t.Fatalf("token service calls = %d, want 1", svc.calls)
	}
	e.Exit()
}

func TestClusterFlow_FailFallsBackToLocal(t *testing.T) {
	resetAll(t)
	pinClock(t, 4_000_000)

	svc := &scriptedTokenService{result: &cluster.TokenResult{Status: cluster.StatusFail}}
	cluster.SetTokenService(svc)

	// Local threshold zero: the fallback path must block.
	if err := LoadFlowRules([]*flow.Rule{{
		Resource:      "res-F",
		Grade:         flow.GradeQPS,
		Count:         0,
		ClusterMode:   true,
		ClusterConfig: &flow.ClusterConfig{FlowID: 43, FallbackToLocalWhenFail: true},
	}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, b := Entry("res-F"); b == nil {
		t.Fatal("fallback to a zero-threshold local rule should block")
	}

	// Without the fallback flag, failures degrade to a pass.
	if err := LoadFlowRules([]*flow.Rule{{
		Resource:      "res-F",
		Grade:         flow.GradeQPS,
		Count:         0,
		ClusterMode:   true,
		ClusterConfig: &flow.ClusterConfig{FlowID: 43},
	}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	e, b := Entry("res-F")
	if b != nil {
		t.Fatalf("fail without fallback should pass: %v", b)
	}
	e.Exit()
}

func TestTraceError_CountsException(t *testing.T) {
	resetAll(t)
	pinClock(t, 5_000_000)

	e, b := Entry("res-G")
	if b != nil {
		t.Fatalf("entry: %v", b)
	}
	errBoom := errors.New("boom")
	TraceError(e, errBoom)
	TraceError(e, errBoom, WithExceptionsToIgnore(errBoom))
	e.Exit()

	cn := node.GetClusterNode("res-G")
	if got := cn.TotalException(); got != 1 {
		t.Fatalf("exception total = %d, want 1 (ignored error must not record)", got)
	}
	if got := cn.TotalSuccess(); got != 1 {
		t.Fatalf("success total = %d, want 1", got)
	}
}

func TestNestedEntries_ShareContext(t *testing.T) {
	resetAll(t)
	pinClock(t, 6_000_000)

	ctx := NewContext("web-entrance", "app-1")
	outer, b := Entry("svc-outer", WithContext(ctx))
	if b != nil {
		t.Fatalf("outer: %v", b)
	}
	inner, b := Entry("svc-inner", WithContext(ctx))
	if b != nil {
		t.Fatalf("inner: %v", b)
	}
	if ctx.CurEntry() != inner {
		t.Fatal("inner entry should top the context stack")
	}
	if err := inner.Exit(); err != nil {
		t.Fatalf("inner exit: %v", err)
	}
	if err := outer.Exit(); err != nil {
		t.Fatalf("outer exit: %v", err)
	}

	// Per-origin statistics exist for the declared caller.
	cn := node.GetClusterNode("svc-outer")
	found := false
	cn.RangeOriginNodes(func(origin string, _ *node.StatisticNode) bool {
		found = origin == "app-1"
		return !found
	})
	if !found {
		t.Fatal("origin node for app-1 missing")
	}
}

func TestContextCeiling_DegradesToNullContext(t *testing.T) {
	resetAll(t)
	pinClock(t, 7_000_000)

	// A blocking rule proves null-context entries skip the chain.
	if err := LoadFlowRules([]*flow.Rule{{Resource: "res-H", Grade: flow.GradeQPS, Count: 0}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	ceiling := 2000
	for i := 0; i < ceiling; i++ {
		NewContext(fmt.Sprintf("ctx-%d", i), "")
	}
	ctx := NewContext("ctx-overflow", "")
	if !ctx.IsNull() {
		t.Fatal("context beyond the ceiling should be the null context")
	}
	e, b := Entry("res-H", WithContext(ctx))
	if b != nil {
		t.Fatalf("null-context entry must skip every check, got %v", b)
	}
	if err := e.Exit(); err != nil {
		t.Fatalf("exit: %v", err)
	}
}

func TestAsyncEntry_ExitsOnAnotherGoroutine(t *testing.T) {
	resetAll(t)
	pinClock(t, 8_000_000)

	ctx := NewContext("async-entrance", "")
	e, b := AsyncEntry("res-async", WithContext(ctx))
	if b != nil {
		t.Fatalf("async entry: %v", b)
	}
	if ctx.CurEntry() != nil {
		t.Fatal("caller context must be free after async entry")
	}

	done := make(chan error, 1)
	go func() { done <- e.Exit() }()
	if err := <-done; err != nil {
		t.Fatalf("async exit: %v", err)
	}
	cn := node.GetClusterNode("res-async")
	if got := cn.CurThreadNum(); got != 0 {
		t.Fatalf("threads = %d, want 0 after async exit", got)
	}
}
