package aggregate

import "time"

// Duration returns the elapsed time from start to end, or to now when end is
// the zero time. Negative results are returned as is: a start after the end
// marks a malformed record and should stay visible.
func Duration(start, end, now time.Time) time.Duration {
	if end.IsZero() {
		end = now
	}
	return end.Sub(start)
}
