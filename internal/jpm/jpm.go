// Package jpm defines the YARN job-monitoring domain shared by the store, the
// ingest paths and the dashboard: job records, job states, the tracked
// cluster metrics, and the Source capability the dashboard fetches from.
package jpm

import (
	"context"
	"time"

	"github.com/tobert/jpm-dash/internal/aggregate"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

// JobStates is the display priority of known YARN application states.
var JobStates = []string{
	"NEW",
	"NEW_SAVING",
	"SUBMITTED",
	"ACCEPTED",
	"RUNNING",
	"FINISHED",
	"SUCCEEDED",
	"FAILED",
	"KILLED",
}

// Metric names queried by the dashboard.
const (
	MetricJobCount          = "MR_JOB_COUNT"
	MetricRunningContainers = "hadoop.cluster.runningcontainers"
	MetricAllocatedVCores   = "hadoop.cluster.allocatedvcores"
	MetricAllocatedMB       = "hadoop.cluster.allocatedmb"
	MetricTotalMemory       = "hadoop.cluster.totalmemory"
)

// DefaultAggregation is the aggregation every cluster trend uses.
const DefaultAggregation = "max(value)"

// DefaultJobLimit caps the job list fetch.
const DefaultJobLimit = 100_000

// JobFields is the projection requested for the job list.
var JobFields = []string{
	"jobId",
	"jobDefId",
	"jobName",
	"jobExecId",
	"currentState",
	"user",
	"queue",
	"submissionTime",
	"startTime",
	"endTime",
	"numTotalMaps",
	"numTotalReduces",
	"runningContainers",
}

// JobRecord is one YARN job as shown in the job list.
// A zero EndTime means the job has not finished.
type JobRecord struct {
	JobID        string `json:"jobId"`
	JobDefID     string `json:"jobDefId,omitempty"`
	JobName      string `json:"jobName,omitempty"`
	JobExecID    string `json:"jobExecId,omitempty"`
	Site         string `json:"site"`
	User         string `json:"user,omitempty"`
	Queue        string `json:"queue,omitempty"`
	JobType      string `json:"jobType,omitempty"`
	CurrentState string `json:"currentState"`

	SubmissionTime time.Time `json:"submissionTime"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`

	NumTotalMaps      int `json:"numTotalMaps"`
	NumTotalReduces   int `json:"numTotalReduces"`
	RunningContainers int `json:"runningContainers"`

	// Duration is derived once per refresh by AnnotateDurations.
	Duration time.Duration `json:"duration"`
}

// Running reports whether the job has no end time yet.
func (j JobRecord) Running() bool {
	return j.EndTime.IsZero()
}

// State returns the job's current state; it is the category accessor used
// for state counting.
func State(j JobRecord) string {
	return j.CurrentState
}

// AnnotateDurations sets Duration on every job relative to now.
func AnnotateDurations(jobs []JobRecord, now time.Time) {
	for i := range jobs {
		jobs[i].Duration = aggregate.Duration(jobs[i].StartTime, jobs[i].EndTime, now)
	}
}

// CountStates tallies jobs by state in JobStates priority order.
func CountStates(jobs []JobRecord) []aggregate.CategoryCount {
	return aggregate.CountCategories(jobs, State, JobStates)
}

// JobQuery selects jobs for the job list.
type JobQuery struct {
	Site   string
	Range  timewindow.Range
	Fields []string
	Limit  int
}

// MetricQuery selects a bucketed aggregate of one metric.
// Range must be grid aligned; bucket i of the result covers
// [Range.Start + i*interval, Range.Start + (i+1)*interval).
type MetricQuery struct {
	Site            string
	Metric          string
	GroupBy         []string
	AggFn           string
	IntervalMinutes int
	Range           timewindow.Range
}

// Interval returns the bucket width.
func (q MetricQuery) Interval() time.Duration {
	return time.Duration(q.IntervalMinutes) * time.Minute
}

// Source is what the dashboard fetches from.
// Implementations must be safe for concurrent use.
type Source interface {
	FetchJobs(ctx context.Context, q JobQuery) ([]JobRecord, error)
	FetchMetricAggregate(ctx context.Context, q MetricQuery) (*series.SampleSet, error)
}
