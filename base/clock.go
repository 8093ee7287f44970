package base

import (
	"sync/atomic"
	"time"
)

// ClockFunc returns the current time in milliseconds since the Unix epoch.
type ClockFunc func() int64

var clock atomic.Pointer[ClockFunc]

func init() {
	SetClock(nil)
}

// TimeMillis returns the current time from the active clock source.
func TimeMillis() int64 {
	return (*clock.Load())()
}

// SetClock replaces the clock source. Pass nil to restore the wall clock.
// Tests pin time by installing a fixed source.
func SetClock(f ClockFunc) {
	if f == nil {
		f = func() int64 { return time.Now().UnixMilli() }
	}
	clock.Store(&f)
}
