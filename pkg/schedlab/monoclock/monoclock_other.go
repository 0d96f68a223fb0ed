//go:build !linux && !darwin && !freebsd

package monoclock

import "time"

// origin anchors readings on platforms without a shared monotonic clock.
// Instants are then only comparable within one process.
var origin = time.Now()

func now() Instant {
	return Instant(time.Since(origin))
}
