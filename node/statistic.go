// Package node implements the statistics node graph: primitive statistic
// nodes, per-(resource, context) default nodes, process-wide cluster nodes
// with per-origin breakdown, and entrance nodes rooting call trees. It also
// carries the three bookkeeping slots at the head of every chain.
package node

import (
	"sync/atomic"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/config"
	"github.com/Resinat/Sluice/stat"
)

const minuteSampleCount = 60
const minuteIntervalMs = 60 * 1000

// StatisticNode is the primitive statistics holder: a second-resolution
// window for live decisions, a minute-resolution window for display totals,
// and a concurrency counter. base.StatNode documents the read surface.
type StatisticNode struct {
	second       *stat.Window
	minute       *stat.Window
	curThreadNum atomic.Int32
}

// NewStatisticNode creates a node using the globally configured second
// window layout.
func NewStatisticNode() *StatisticNode {
	cfg := config.Global()
	second, err := stat.NewWindow(cfg.MetricSampleCount, cfg.MetricIntervalMs)
	if err != nil {
		// The config layer validates divisibility; fall back to the default
		// layout rather than propagating a construction error per admission.
		second, _ = stat.NewWindow(2, 1000)
	}
	minute, _ := stat.NewWindow(minuteSampleCount, minuteIntervalMs)
	return &StatisticNode{second: second, minute: minute}
}

// SecondWindow exposes the live-decision window.
func (n *StatisticNode) SecondWindow() *stat.Window { return n.second }

// MinuteWindow exposes the display window.
func (n *StatisticNode) MinuteWindow() *stat.Window { return n.minute }

// AddPass records count admitted calls.
func (n *StatisticNode) AddPass(count uint32) {
	now := base.TimeMillis()
	n.second.CurrentBucket(now).AddPass(int64(count))
	n.minute.CurrentBucket(now).AddPass(int64(count))
}

// AddBlock records count rejected calls.
func (n *StatisticNode) AddBlock(count uint32) {
	now := base.TimeMillis()
	n.second.CurrentBucket(now).AddBlock(int64(count))
	n.minute.CurrentBucket(now).AddBlock(int64(count))
}

// AddException records count errored calls.
func (n *StatisticNode) AddException(count uint32) {
	now := base.TimeMillis()
	n.second.CurrentBucket(now).AddException(int64(count))
	n.minute.CurrentBucket(now).AddException(int64(count))
}

// AddRtAndSuccess records a completed call's response time.
func (n *StatisticNode) AddRtAndSuccess(rtMs int64, count uint32) {
	now := base.TimeMillis()
	sb := n.second.CurrentBucket(now)
	sb.AddSuccess(int64(count))
	sb.AddRt(rtMs)
	mb := n.minute.CurrentBucket(now)
	mb.AddSuccess(int64(count))
	mb.AddRt(rtMs)
}

// IncreaseThreadNum bumps the concurrency counter.
func (n *StatisticNode) IncreaseThreadNum() { n.curThreadNum.Add(1) }

// DecreaseThreadNum drops the concurrency counter.
func (n *StatisticNode) DecreaseThreadNum() { n.curThreadNum.Add(-1) }

// CurThreadNum returns the in-flight call count.
func (n *StatisticNode) CurThreadNum() int32 { return n.curThreadNum.Load() }

// PassQps returns admitted calls per second over the live window.
func (n *StatisticNode) PassQps() float64 { return n.second.PassRate(base.TimeMillis()) }

// PreviousPassQps returns the admitted count of the previous whole second,
// read from the minute window's one-second buckets.
func (n *StatisticNode) PreviousPassQps() float64 {
	return float64(n.minute.PassAt(base.TimeMillis() - 1000))
}

// BlockQps returns rejected calls per second over the live window.
func (n *StatisticNode) BlockQps() float64 { return n.second.BlockRate(base.TimeMillis()) }

// ExceptionQps returns errored calls per second over the live window.
func (n *StatisticNode) ExceptionQps() float64 { return n.second.ExceptionRate(base.TimeMillis()) }

// SuccessQps returns completed calls per second over the live window.
func (n *StatisticNode) SuccessQps() float64 { return n.second.SuccessRate(base.TimeMillis()) }

// TotalQps returns pass + block per second.
func (n *StatisticNode) TotalQps() float64 { return n.PassQps() + n.BlockQps() }

// AvgRt returns mean response time per completed call in the live window.
func (n *StatisticNode) AvgRt() float64 { return n.second.AvgRt(base.TimeMillis()) }

// MinRt returns the minimum response time in the live window.
func (n *StatisticNode) MinRt() float64 { return float64(n.second.MinRt(base.TimeMillis())) }

// OccupiedPassQps returns pre-charged prioritized passes per second.
func (n *StatisticNode) OccupiedPassQps() float64 { return n.second.OccupiedPassRate(base.TimeMillis()) }

// CurrentWaiting returns admissions parked on future spans.
func (n *StatisticNode) CurrentWaiting() int64 { return n.second.Waiting(base.TimeMillis()) }

// AddWaiting parks count admissions on the span covering futureMs.
func (n *StatisticNode) AddWaiting(futureMs int64, count uint32) {
	n.second.AddWaiting(futureMs, count)
	n.second.AddOccupiedPass(futureMs, count)
}

// OccupyTimeoutMs returns the effective priority-wait timeout: the
// configured value capped at the window length.
func (n *StatisticNode) OccupyTimeoutMs() int64 {
	timeout := config.Global().OccupyTimeoutMs
	if interval := int64(n.second.Ring().IntervalMs()); timeout > interval {
		timeout = interval
	}
	return timeout
}

// TryOccupyNext walks forward from the oldest live span: as each old span
// lapses, its pass count frees capacity under threshold. Returns the wait in
// milliseconds until acquire tokens fit, or a value beyond the occupy
// timeout when they never do within one window.
func (n *StatisticNode) TryOccupyNext(acquire uint32, threshold float64) int64 {
	now := base.TimeMillis()
	ring := n.second.Ring()
	intervalMs := int64(ring.IntervalMs())
	bucketMs := int64(ring.BucketMs())
	timeout := n.OccupyTimeoutMs()

	maxCount := threshold * float64(intervalMs) / 1000
	currentBorrow := n.second.Waiting(now)
	if float64(currentBorrow)+float64(acquire) > maxCount {
		return timeout + 1
	}

	currentPass := n.second.Pass(now)
	earliest := now - now%bucketMs + bucketMs - intervalMs
	idx := int64(0)
	for earliest < now {
		waitMs := idx*bucketMs + bucketMs - now%bucketMs
		if waitMs >= timeout {
			break
		}
		windowPass := n.second.PassAt(earliest)
		if float64(currentBorrow+currentPass-windowPass)+float64(acquire) <= maxCount {
			return waitMs
		}
		earliest += bucketMs
		idx++
	}
	return timeout + 1
}

// TotalPass returns the minute-window admitted total.
func (n *StatisticNode) TotalPass() int64 { return n.minute.Pass(base.TimeMillis()) }

// TotalBlock returns the minute-window rejected total.
func (n *StatisticNode) TotalBlock() int64 { return n.minute.Block(base.TimeMillis()) }

// TotalException returns the minute-window errored total.
func (n *StatisticNode) TotalException() int64 { return n.minute.Exception(base.TimeMillis()) }

// TotalSuccess returns the minute-window completed total.
func (n *StatisticNode) TotalSuccess() int64 { return n.minute.Success(base.TimeMillis()) }

// TotalRequest returns the minute-window pass + block total.
func (n *StatisticNode) TotalRequest() int64 { return n.TotalPass() + n.TotalBlock() }

var _ base.StatNode = (*StatisticNode)(nil)
