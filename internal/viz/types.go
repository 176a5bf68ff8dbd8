package viz

import "time"

// Chart is the input type for sparkline rendering: one named series of
// evenly spaced values.
// Decoupled from series types so viz is a pure rendering package.
type Chart struct {
	Name   string
	Values []float64
	Unit   string // appended to min/max/last, e.g. "%"
}

// CategoryStat describes one category for the horizontal bar chart.
type CategoryStat struct {
	Name  string
	Count int
}

// BufferStats describes buffer fill levels for the stats overview.
type BufferStats struct {
	SampleCount    int
	SampleCapacity int
	JobCount       int
	JobCapacity    int
	FileSources    int
}

// JobRow describes one job for the job table.
type JobRow struct {
	JobID    string
	JobType  string
	State    string
	Duration time.Duration
}
