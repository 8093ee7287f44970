package cluster

import (
	"runtime"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/stat"
)

// FlowRule is the server-side shape of one cluster flow rule.
type FlowRule struct {
	FlowID    uint64  `json:"flowId"`
	Namespace string  `json:"namespace"`
	Count     float64 `json:"count"`
	// IsGlobalThreshold treats Count as cluster-wide; otherwise it is
	// per-node and scales with the connection count.
	IsGlobalThreshold bool `json:"isGlobalThreshold"`
	// ExceedCount relaxes the threshold by a factor; zero means 1.
	ExceedCount float64 `json:"exceedCount"`
}

func (r *FlowRule) exceedCount() float64 {
	if r.ExceedCount <= 0 {
		return 1
	}
	return r.ExceedCount
}

// ParamRule is the server-side shape of one cluster parameter rule: a
// per-value token budget over a duration.
type ParamRule struct {
	FlowID        uint64  `json:"flowId"`
	Namespace     string  `json:"namespace"`
	Count         int64   `json:"count"`
	DurationInSec int64   `json:"durationInSec"`
	BurstCount    int64   `json:"burstCount"`
}

type flowState struct {
	rule   *FlowRule
	window *stat.Window
}

type paramCell struct {
	tokens  atomic.Int64
	lastAdd atomic.Int64
}

type paramState struct {
	rule  *ParamRule
	cells *xsync.Map[string, *paramCell]
}

// Server is the embedded token server: per-flow sliding windows, the
// namespace safety limiter, and the admission arithmetic. Transport framing
// and connection management live with the embedder.
type Server struct {
	flows  *xsync.Map[uint64, *flowState]
	params *xsync.Map[uint64, *paramState]

	// namespace → request window for the safety cap.
	namespaces *xsync.Map[string, *stat.Window]

	// connectionCount reports how many client nodes a namespace has; the
	// per-node threshold type multiplies by it.
	connectionCount atomic.Pointer[func(namespace string) int]
}

// NewServer creates an empty token server.
func NewServer() *Server {
	s := &Server{
		flows:      xsync.NewMap[uint64, *flowState](),
		params:     xsync.NewMap[uint64, *paramState](),
		namespaces: xsync.NewMap[string, *stat.Window](),
	}
	one := func(string) int { return 1 }
	s.connectionCount.Store(&one)
	return s
}

// SetConnectionCounter installs the embedder's view of connected nodes per
// namespace. Pass nil to restore the single-node default.
func (s *Server) SetConnectionCounter(fn func(namespace string) int) {
	if fn == nil {
		fn = func(string) int { return 1 }
	}
	s.connectionCount.Store(&fn)
}

// LoadFlowRules replaces the server-side flow rules. Windows of surviving
// flow ids keep counting.
func (s *Server) LoadFlowRules(rules []*FlowRule) {
	keep := make(map[uint64]bool, len(rules))
	for _, r := range rules {
		keep[r.FlowID] = true
		rule := r
		st, _ := s.flows.LoadOrCompute(r.FlowID, func() (*flowState, bool) {
			w, _ := stat.NewWindow(config.Global().MetricSampleCount, config.Global().MetricIntervalMs)
			return &flowState{rule: rule, window: w}, false
		})
		st.rule = rule
	}
	s.flows.Range(func(id uint64, _ *flowState) bool {
		if !keep[id] {
			s.flows.Delete(id)
		}
		return true
	})
}

// LoadParamRules replaces the server-side parameter rules.
func (s *Server) LoadParamRules(rules []*ParamRule) {
	keep := make(map[uint64]bool, len(rules))
	for _, r := range rules {
		keep[r.FlowID] = true
		rule := r
		st, _ := s.params.LoadOrCompute(r.FlowID, func() (*paramState, bool) {
			return &paramState{rule: rule, cells: xsync.NewMap[string, *paramCell]()}, false
		})
		st.rule = rule
	}
	s.params.Range(func(id uint64, _ *paramState) bool {
		if !keep[id] {
			s.params.Delete(id)
		}
		return true
	})
}

// namespacePass enforces the namespace-wide safety cap before any rule
// evaluation.
func (s *Server) namespacePass(namespace string, count uint32) bool {
	limit := config.Global().ClusterNamespaceQPSLimit
	if limit <= 0 {
		return true
	}
	w, _ := s.namespaces.LoadOrCompute(namespace, func() (*stat.Window, bool) {
		nw, _ := stat.NewWindow(config.Global().MetricSampleCount, config.Global().MetricIntervalMs)
		return nw, false
	})
	now := base.TimeMillis()
	if w.PassRate(now)+float64(count) > limit {
		return false
	}
	w.CurrentBucket(now).AddPass(int64(count))
	return true
}

// RequestToken implements TokenService against the local registries.
func (s *Server) RequestToken(flowID uint64, count uint32, prioritized bool) *TokenResult {
	if flowID == 0 || count == 0 {
		return &TokenResult{Status: StatusBadRequest}
	}
	st, ok := s.flows.Load(flowID)
	if !ok {
		return &TokenResult{Status: StatusNoRuleExists}
	}
	if !s.namespacePass(st.rule.Namespace, count) {
		return &TokenResult{Status: StatusTooManyRequests}
	}

	threshold := st.rule.Count
	if !st.rule.IsGlobalThreshold {
		threshold *= float64((*s.connectionCount.Load())(st.rule.Namespace))
	}
	effective := threshold * st.rule.exceedCount()

	now := base.TimeMillis()
	latestQps := st.window.PassRate(now)
	if effective-latestQps-float64(count) >= 0 {
		st.window.CurrentBucket(now).AddPass(int64(count))
		return &TokenResult{Status: StatusOK, Remaining: int64(effective - latestQps - float64(count))}
	}
	if prioritized {
		if wait, ok := s.tryOccupy(st, now, count, effective); ok {
			return &TokenResult{Status: StatusShouldWait, WaitInMs: wait}
		}
	}
	return &TokenResult{Status: StatusBlocked}
}

// tryOccupy reserves capacity in the next window, bounded by
// maxOccupyRatio * threshold of already-borrowed tokens.
func (s *Server) tryOccupy(st *flowState, nowMs int64, count uint32, threshold float64) (int64, bool) {
	maxOccupy := threshold * config.Global().ClusterMaxOccupyRatio
	if float64(st.window.Waiting(nowMs))+float64(count) > maxOccupy {
		return 0, false
	}
	bucketMs := int64(st.window.Ring().BucketMs())
	waitMs := bucketMs - nowMs%bucketMs
	st.window.AddWaiting(nowMs+waitMs, count)
	return waitMs, true
}

// RequestParamToken implements the per-value path of TokenService.
func (s *Server) RequestParamToken(flowID uint64, count uint32, params []interface{}) *TokenResult {
	if flowID == 0 || count == 0 || len(params) == 0 {
		return &TokenResult{Status: StatusBadRequest}
	}
	st, ok := s.params.Load(flowID)
	if !ok {
		return &TokenResult{Status: StatusNoRuleExists}
	}
	if !s.namespacePass(st.rule.Namespace, count) {
		return &TokenResult{Status: StatusTooManyRequests}
	}
	for _, p := range params {
		if !s.paramPass(st, paramKeyString(p), int64(count)) {
			return &TokenResult{Status: StatusBlocked}
		}
	}
	return &TokenResult{Status: StatusOK}
}

func (s *Server) paramPass(st *paramState, key string, acquire int64) bool {
	capacity := st.rule.Count + st.rule.BurstCount
	if acquire > capacity {
		return false
	}
	durationMs := st.rule.DurationInSec * 1000
	now := base.TimeMillis()

	cell, _ := st.cells.LoadOrCompute(key, func() (*paramCell, bool) {
		c := &paramCell{}
		c.tokens.Store(capacity)
		c.lastAdd.Store(now)
		return c, false
	})
	for {
		last := cell.lastAdd.Load()
		if passTime := now - last; passTime > durationMs {
			toAdd := passTime * st.rule.Count / durationMs
			rest := cell.tokens.Load()
			refilled := rest + toAdd
			if refilled > capacity {
				refilled = capacity
			}
			if refilled-acquire < 0 {
				return false
			}
			if cell.tokens.CompareAndSwap(rest, refilled-acquire) {
				cell.lastAdd.Store(now)
				return true
			}
			runtime.Gosched()
			continue
		}
		rest := cell.tokens.Load()
		if rest-acquire < 0 {
			return false
		}
		if cell.tokens.CompareAndSwap(rest, rest-acquire) {
			return true
		}
		runtime.Gosched()
	}
}

var _ TokenService = (*Server)(nil)
