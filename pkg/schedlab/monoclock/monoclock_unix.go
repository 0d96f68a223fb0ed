//go:build linux || darwin || freebsd

package monoclock

import (
	"time"

	"golang.org/x/sys/unix"
)

func now() Instant {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is mandatory on these platforms.
		panic("monoclock: clock_gettime: " + err.Error())
	}
	return Instant(time.Duration(ts.Nano()))
}
