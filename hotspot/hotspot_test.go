package hotspot

import (
	"testing"
	"time"

	"github.com/Resinat/Sluice/base"
)

func pinClock(t *testing.T, ms int64) func(int64) {
	t.Helper()
	cur := ms
	base.SetClock(func() int64 { return cur })
	t.Cleanup(func() { base.SetClock(nil) })
	return func(next int64) { cur = next }
}

func TestResolveIdx(t *testing.T) {
	cases := []struct {
		paramIdx int
		argc     int
		want     int
		ok       bool
	}{
		{0, 2, 0, true},
		{1, 2, 1, true},
		{2, 2, 0, false},
		{-1, 2, 1, true},
		{-2, 2, 0, true},
		{-3, 2, 0, false},
		{0, 0, 0, false},
	}
	for _, c := range cases {
		r := &Rule{ParamIdx: c.paramIdx}
		got, ok := r.resolveIdx(c.argc)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("resolveIdx(%d, argc=%d) = (%d, %v), want (%d, %v)",
				c.paramIdx, c.argc, got, ok, c.want, c.ok)
		}
	}
}

func TestResolveIdx_DoesNotMutateRule(t *testing.T) {
	r := &Rule{ParamIdx: -5}
	r.resolveIdx(2)
	if r.ParamIdx != -5 {
		t.Fatalf("paramIdx = %d, rule state must never change", r.ParamIdx)
	}
	// A later call with enough arguments resolves normally.
	if idx, ok := r.resolveIdx(6); !ok || idx != 1 {
		t.Fatalf("resolveIdx with argc=6 = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestKeyOf_DistinguishesTypesAndValues(t *testing.T) {
	if KeyOf("1") == KeyOf(1) {
		t.Fatal("string and int values must not collide")
	}
	if KeyOf("x") != KeyOf("x") {
		t.Fatal("equal strings must share a key")
	}
	if KeyOf(int32(7)) != KeyOf(int64(7)) {
		t.Fatal("integer widths project to one identity")
	}
	if KeyOf(nil) == KeyOf("") {
		t.Fatal("nil and empty string must not collide")
	}
}

func TestValuesAt_SequenceExpansion(t *testing.T) {
	r := &Rule{ParamIdx: 0}
	vals, ok := valuesAt([]interface{}{[]string{"a", "b"}}, r)
	if !ok || len(vals) != 2 || vals[0] != "a" || vals[1] != "b" {
		t.Fatalf("sequence expansion = (%v, %v)", vals, ok)
	}

	vals, ok = valuesAt([]interface{}{[]byte("raw")}, r)
	if !ok || len(vals) != 1 {
		t.Fatalf("byte slice should stay one value, got %v", vals)
	}

	vals, ok = valuesAt([]interface{}{nil}, r)
	if !ok || len(vals) != 1 || vals[0] != nil {
		t.Fatalf("nil argument = (%v, %v)", vals, ok)
	}
}

func TestTokenBucket_PerValueIndependence(t *testing.T) {
	pinClock(t, 1_000_000)
	m := newMetric(128)

	x, y := KeyOf("x"), KeyOf("y")
	// threshold 2, no burst, 1s duration.
	for i := 0; i < 2; i++ {
		if !m.allowToken(x, 2, 0, 1, 1) {
			t.Fatalf("x admission %d should pass", i+1)
		}
	}
	if m.allowToken(x, 2, 0, 1, 1) {
		t.Fatal("third x admission in the window should fail")
	}
	if !m.allowToken(y, 2, 0, 1, 1) {
		t.Fatal("y has an independent counter")
	}
}

func TestTokenBucket_RefillAfterDuration(t *testing.T) {
	tick := pinClock(t, 2_000_000)
	m := newMetric(128)
	k := KeyOf("k")

	for i := 0; i < 3; i++ {
		m.allowToken(k, 2, 1, 1, 1) // capacity 3 drains fully
	}
	if m.allowToken(k, 2, 1, 1, 1) {
		t.Fatal("drained bucket should reject")
	}

	// After more than one duration, tokens replenish proportionally.
	tick(2_002_500)
	if !m.allowToken(k, 2, 1, 1, 1) {
		t.Fatal("refilled bucket should admit")
	}
}

func TestTokenBucket_BurstExtendsCapacity(t *testing.T) {
	pinClock(t, 3_000_000)
	m := newMetric(128)
	k := KeyOf("k")

	admitted := 0
	for i := 0; i < 10; i++ {
		if m.allowToken(k, 2, 3, 1, 1) {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted = %d, want threshold+burst = 5", admitted)
	}
}

func TestThrottle_PerValueSpacing(t *testing.T) {
	tick := pinClock(t, 4_000_000)
	m := newMetric(128)
	k := KeyOf("k")

	// 5 tokens per 1s: cost 200ms each.
	if wait, ok := m.throttleToken(k, 5, 1, 1000, 1); !ok || wait != 0 {
		t.Fatalf("first = (%d, %v), want immediate pass", wait, ok)
	}
	if wait, ok := m.throttleToken(k, 5, 1, 1000, 1); !ok || wait != 200 {
		t.Fatalf("second = (%d, %v), want 200ms wait", wait, ok)
	}
	for i := 0; i < 4; i++ {
		m.throttleToken(k, 5, 1, 1000, 1)
	}
	if _, ok := m.throttleToken(k, 5, 1, 1000, 1); ok {
		t.Fatal("wait beyond the queueing cap should reject")
	}

	tick(4_003_000)
	if wait, ok := m.throttleToken(k, 5, 1, 1000, 1); !ok || wait != 0 {
		t.Fatalf("after drain = (%d, %v), want immediate pass", wait, ok)
	}
}

func TestThreadCounters(t *testing.T) {
	m := newMetric(128)
	k := KeyOf("conn")

	if !m.allowThread(k, 2, 1) {
		t.Fatal("idle value should admit")
	}
	m.IncThread(k)
	m.IncThread(k)
	if m.allowThread(k, 2, 1) {
		t.Fatal("value at the concurrency cap should reject")
	}
	m.DecThread(k)
	if !m.allowThread(k, 2, 1) {
		t.Fatal("value under the cap should admit again")
	}
}

func TestMetric_LruBound(t *testing.T) {
	pinClock(t, 5_000_000)
	const bound = 64
	m := newMetric(bound)
	for i := 0; i < bound*4; i++ {
		m.allowToken(KeyOf(i), 100, 0, 1, 1)
	}
	// The cache applies eviction from a write buffer; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for m.Size() > bound {
		if time.Now().After(deadline) {
			t.Fatalf("counter cache size = %d, want <= %d", m.Size(), bound)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadRules_ReusesUnchangedMetrics(t *testing.T) {
	t.Cleanup(func() { ClearRules() })

	r1 := &Rule{Resource: "res", ParamIdx: 0, Grade: GradeQPS, Count: 5, DurationInSec: 1}
	if err := LoadRules([]*Rule{r1}); err != nil {
		t.Fatalf("load: %v", err)
	}
	m1 := MetricOfRule("res", 0)
	if m1 == nil {
		t.Fatal("metric missing after load")
	}

	r2 := &Rule{Resource: "res", ParamIdx: 0, Grade: GradeQPS, Count: 5, DurationInSec: 1}
	if err := LoadRules([]*Rule{r2}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if MetricOfRule("res", 0) != m1 {
		t.Fatal("identical rule should keep its metric across reloads")
	}

	r3 := &Rule{Resource: "res", ParamIdx: 0, Grade: GradeQPS, Count: 9, DurationInSec: 1}
	if err := LoadRules([]*Rule{r3}); err != nil {
		t.Fatalf("reload changed: %v", err)
	}
	if MetricOfRule("res", 0) == m1 {
		t.Fatal("changed rule should rebuild its metric")
	}
}
