package engine

import "time"

// Clock supplies wall time for session timestamps and timeout eviction.
//
// Thread-safety: implementations must be safe for concurrent use; the
// engine reads the clock while holding its lock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
