package system

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/Resinat/Sluice/logging"
)

// Gauges are published as float bits so readers never lock.
var (
	currentLoad     atomic.Uint64
	currentCpuUsage atomic.Uint64

	collectorOnce sync.Once
	collectorCron *cron.Cron

	// disableCollectorForTest keeps tests in control of the gauges.
	disableCollectorForTest bool
)

// StartCollector begins sampling OS load and CPU usage once per second.
// Idempotent; the first call wins.
func StartCollector() {
	if disableCollectorForTest {
		return
	}
	collectorOnce.Do(func() {
		// Prime the CPU sampler so the next reading has a comparison point.
		_, _ = cpu.Percent(0, false)
		collectorCron = cron.New()
		if _, err := collectorCron.AddFunc("@every 1s", sampleOnce); err != nil {
			logging.Default().WithError(err).Error("failed to schedule system usage sampling")
			return
		}
		collectorCron.Start()
	})
}

// StopCollector halts sampling. The last published gauges stay readable.
func StopCollector() {
	if collectorCron != nil {
		collectorCron.Stop()
	}
}

func sampleOnce() {
	if avg, err := load.Avg(); err == nil {
		currentLoad.Store(math.Float64bits(avg.Load1))
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		currentCpuUsage.Store(math.Float64bits(percents[0] / 100))
	}
}

// CurrentLoad returns the last sampled 1-minute load average.
func CurrentLoad() float64 {
	return math.Float64frombits(currentLoad.Load())
}

// CurrentCpuUsage returns the last sampled CPU usage in [0, 1].
func CurrentCpuUsage() float64 {
	return math.Float64frombits(currentCpuUsage.Load())
}

// setUsageForTest pins the gauges; tests drive the guard without the OS.
func setUsageForTest(loadAvg, cpuUsage float64) {
	currentLoad.Store(math.Float64bits(loadAvg))
	currentCpuUsage.Store(math.Float64bits(cpuUsage))
}
