package pipeline

import "time"

// Window is one half-open [Start, Stop) slice of a pull range.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Windows partitions [start, stop) into consecutive windows of at most the
// given interval, walking backward from stop so the most recent window comes
// first. The windows cover the full range with no gaps or overlaps; when
// stop is not after start no windows are produced.
func Windows(start, stop time.Time, interval time.Duration) []Window {
	var windows []Window

	for stop.After(start) {
		lower := stop.Add(-interval)
		if lower.Before(start) {
			lower = start
		}

		windows = append(windows, Window{Start: lower, Stop: stop})

		stop = stop.Add(-interval)
	}

	return windows
}
