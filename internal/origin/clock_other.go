//go:build !linux

package origin

// SystemClock returns a clock backed by the runtime's monotonic reading.
func SystemClock() Clock {
	return runtimeClock()
}
