package origin

import "time"

// Clock reads a monotonic time source. Readings are only meaningful relative
// to each other.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Duration

func (f ClockFunc) Now() time.Duration { return f() }

// runtimeClock counts from its own creation on the runtime's monotonic reading.
func runtimeClock() Clock {
	start := time.Now()
	return ClockFunc(func() time.Duration { return time.Since(start) })
}
