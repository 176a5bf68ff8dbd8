package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime accepts an RFC 3339 timestamp or epoch milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or epoch milliseconds", s)
	}
	return t.UTC(), nil
}

// ParseRange builds a range from optional start and end strings. A missing
// end means now; a missing start means fallback before the end.
func ParseRange(start, end string, fallback time.Duration, now time.Time) (Range, error) {
	r := Range{End: now}
	if end != "" {
		t, err := ParseTime(end)
		if err != nil {
			return Range{}, err
		}
		r.End = t
	}

	if start == "" {
		r.Start = r.End.Add(-fallback)
	} else {
		t, err := ParseTime(start)
		if err != nil {
			return Range{}, err
		}
		r.Start = t
	}

	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}
