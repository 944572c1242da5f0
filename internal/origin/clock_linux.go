//go:build linux

package origin

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// SystemClock returns a clock backed by CLOCK_BOOTTIME, which keeps counting
// across suspend and ignores wall-clock adjustments.
func SystemClock() Clock {
	return bootClock(unix.ClockGettime)
}

// bootClock picks its source once: if the first CLOCK_BOOTTIME read fails the
// runtime clock serves every reading. A later failed read repeats the last
// good value, so readings never move backwards.
func bootClock(gettime func(clockid int32, ts *unix.Timespec) error) Clock {
	var ts unix.Timespec
	if err := gettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return runtimeClock()
	}
	var last atomic.Int64
	last.Store(ts.Nano())
	return ClockFunc(func() time.Duration {
		var ts unix.Timespec
		if err := gettime(unix.CLOCK_BOOTTIME, &ts); err == nil {
			for n := ts.Nano(); ; {
				prev := last.Load()
				if n <= prev || last.CompareAndSwap(prev, n) {
					break
				}
			}
		}
		return time.Duration(last.Load())
	})
}
