// Package timewindow turns a dashboard time range into an epoch-aligned
// bucket grid. Every trend chart on the dashboard is drawn on the same grid so
// series fetched independently can be compared index by index.
package timewindow

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a range starts after it ends.
var ErrInvalidRange = errors.New("invalid time range: start is after end")

const (
	day = 24 * time.Hour

	// maxLongRangeBuckets bounds the grid size for ranges past the step table.
	maxLongRangeBuckets = 120
)

// Range is a closed interval of wall-clock time.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Last returns the range of length d ending at now.
func Last(d time.Duration, now time.Time) Range {
	return Range{Start: now.Add(-d), End: now}
}

// Span returns End - Start.
func (r Range) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// Validate reports ErrInvalidRange when Start is after End.
func (r Range) Validate() error {
	if r.Start.After(r.End) {
		return fmt.Errorf("%w (start=%s end=%s)", ErrInvalidRange,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Grid is a fixed-width bucketing of an aligned range.
// Start and End are multiples of Interval since the Unix epoch and
// Count == (End - Start) / Interval.
type Grid struct {
	Interval time.Duration `json:"interval"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Count    int           `json:"count"`
}

// Range returns the aligned range covered by the grid.
func (g Grid) Range() Range {
	return Range{Start: g.Start, End: g.End}
}

// IntervalMs returns the bucket width in milliseconds.
func (g Grid) IntervalMs() int64 {
	return g.Interval.Milliseconds()
}

// IntervalMinutes returns the bucket width in whole minutes, the unit the
// metric aggregation endpoint expects.
func (g Grid) IntervalMinutes() int {
	return int(g.Interval / time.Minute)
}

// Timestamp returns the start of bucket i in epoch milliseconds.
func (g Grid) Timestamp(i int) int64 {
	return g.Start.UnixMilli() + int64(i)*g.IntervalMs()
}

// At returns the start of bucket i.
func (g Grid) At(i int) time.Time {
	return time.UnixMilli(g.Timestamp(i)).UTC()
}

// Index returns the bucket containing t and whether it falls inside the grid.
func (g Grid) Index(t time.Time) (int, bool) {
	if g.Count == 0 || t.Before(g.Start) || !t.Before(g.End) {
		return 0, false
	}
	return int(t.Sub(g.Start) / g.Interval), true
}

type step struct {
	maxSpan  time.Duration
	interval time.Duration
}

// steps must stay monotone in both columns: a wider span never maps to a
// finer bucket.
var steps = []step{
	{time.Hour, time.Minute},
	{6 * time.Hour, 5 * time.Minute},
	{day, 15 * time.Minute},
	{3 * day, time.Hour},
	{14 * day, 6 * time.Hour},
	{90 * day, day},
}

// IntervalFor picks the bucket width for a span.
func IntervalFor(span time.Duration) time.Duration {
	for _, s := range steps {
		if span <= s.maxSpan {
			return s.interval
		}
	}

	// Past the table, grow in whole days so the grid stays renderable.
	days := (span + maxLongRangeBuckets*day - 1) / (maxLongRangeBuckets * day)
	if days < 1 {
		days = 1
	}
	return days * day
}

// Resolve aligns r onto the bucket grid chosen by IntervalFor.
// A zero-length range yields an empty grid anchored at the floor of Start.
func Resolve(r Range) (Grid, error) {
	if err := r.Validate(); err != nil {
		return Grid{}, err
	}

	interval := IntervalFor(r.Span())
	start := alignDown(r.Start, interval)

	if r.Start.Equal(r.End) {
		return Grid{Interval: interval, Start: start, End: start}, nil
	}

	end := alignUp(r.End, interval)
	return Grid{
		Interval: interval,
		Start:    start,
		End:      end,
		Count:    int(end.Sub(start) / interval),
	}, nil
}

func alignDown(t time.Time, interval time.Duration) time.Time {
	ms := t.UnixMilli()
	step := interval.Milliseconds()
	aligned := ms - mod(ms, step)
	return time.UnixMilli(aligned).UTC()
}

func alignUp(t time.Time, interval time.Duration) time.Time {
	down := alignDown(t, interval)
	// Sub-millisecond remainders still push the end into the next bucket.
	if down.Before(t) {
		return down.Add(interval)
	}
	return down
}

// mod is a floor modulo so pre-epoch instants align downward too.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
