package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/series"
)

// ErrUnknownField is returned when a job query projects a field the store
// does not know.
var ErrUnknownField = errors.New("unknown job field")

var knownJobFields = func() map[string]struct{} {
	fields := make(map[string]struct{}, len(jpm.JobFields)+2)
	for _, f := range jpm.JobFields {
		fields[f] = struct{}{}
	}
	fields["site"] = struct{}{}
	fields["jobType"] = struct{}{}
	return fields
}()

var _ jpm.Source = (*Store)(nil)

// Store provides unified access to cluster samples and job records and is
// the dashboard's jpm.Source.
type Store struct {
	metrics *MetricStorage
	jobs    *JobStorage
	now     func() time.Time
}

// NewStore creates a store with the specified capacities.
func NewStore(sampleCapacity, jobCapacity int) *Store {
	return &Store{
		metrics: NewMetricStorage(sampleCapacity),
		jobs:    NewJobStorage(jobCapacity),
		now:     time.Now,
	}
}

// SetClock replaces the clock used to bound still-running jobs.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Metrics returns the underlying sample storage for receiver integration.
func (s *Store) Metrics() *MetricStorage {
	return s.metrics
}

// Jobs returns the underlying job storage for receiver integration.
func (s *Store) Jobs() *JobStorage {
	return s.jobs
}

// ReceiveMetrics stores OTLP metrics.
func (s *Store) ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error {
	return s.metrics.ReceiveMetrics(ctx, resourceMetrics)
}

// ReceiveJobs stores job records.
func (s *Store) ReceiveJobs(ctx context.Context, jobs []jpm.JobRecord) error {
	return s.jobs.ReceiveJobs(ctx, jobs)
}

// FetchJobs returns the site's jobs overlapping the query range, newest
// start first, truncated to the query limit.
func (s *Store) FetchJobs(ctx context.Context, q jpm.JobQuery) ([]jpm.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range q.Fields {
		if _, ok := knownJobFields[f]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	if err := q.Range.Validate(); err != nil {
		return nil, err
	}

	jobs := s.jobs.Select(q.Site, q.Range.Start, q.Range.End)
	slices.SortStableFunc(jobs, func(a, b jpm.JobRecord) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})

	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	return jobs, nil
}

// FetchMetricAggregate buckets the metric's samples for the site into the
// query's interval grid, grouped by the GroupBy attributes.
// MR_JOB_COUNT is derived from job records rather than samples.
func (s *Store) FetchMetricAggregate(ctx context.Context, q jpm.MetricQuery) (*series.SampleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, err := parseAggregation(q.AggFn)
	if err != nil {
		return nil, err
	}
	if q.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("invalid interval: %d minutes", q.IntervalMinutes)
	}
	if err := q.Range.Validate(); err != nil {
		return nil, err
	}

	interval := q.Interval()
	buckets := int((q.Range.Span() + interval - 1) / interval)

	if q.Metric == jpm.MetricJobCount {
		return s.jobCounts(q, interval, buckets), nil
	}

	samples := s.metrics.Select(q.Metric, q.Site, q.Range.Start, q.Range.Start.Add(time.Duration(buckets)*interval))

	type cell struct {
		bucket int
		group  string
	}
	accs := make(map[cell]*accumulator)
	var order []cell

	for _, sample := range samples {
		c := cell{
			bucket: int(sample.Timestamp.Sub(q.Range.Start) / interval),
			group:  groupKey(q.Metric, q.GroupBy, sample.Attribute),
		}
		acc, ok := accs[c]
		if !ok {
			acc = newAccumulator()
			accs[c] = acc
			order = append(order, c)
		}
		acc.add(sample.Value)
	}

	set := series.NewSampleSet()
	for _, c := range order {
		set.Set(c.bucket, c.group, accs[c].result(kind))
	}
	return set, nil
}

// jobCounts counts, per bucket, the jobs running at any point during it.
// A job without an end time runs until the store's clock.
func (s *Store) jobCounts(q jpm.MetricQuery, interval time.Duration, buckets int) *series.SampleSet {
	now := s.now()
	end := q.Range.Start.Add(time.Duration(buckets) * interval)

	type cell struct {
		bucket int
		group  string
	}
	counts := make(map[cell]int)
	var order []cell

	for _, job := range s.jobs.Select(q.Site, q.Range.Start, end) {
		if job.StartTime.IsZero() {
			continue
		}
		jobEnd := job.EndTime
		if jobEnd.IsZero() {
			jobEnd = now
		}
		attr := func(name string) string { return jobAttribute(job, name) }
		group := groupKey(q.Metric, q.GroupBy, attr)

		for i := range buckets {
			bucketStart := q.Range.Start.Add(time.Duration(i) * interval)
			bucketEnd := bucketStart.Add(interval)
			if !job.StartTime.Before(bucketEnd) || jobEnd.Before(bucketStart) {
				continue
			}
			c := cell{bucket: i, group: group}
			if _, ok := counts[c]; !ok {
				order = append(order, c)
			}
			counts[c]++
		}
	}

	set := series.NewSampleSet()
	for _, c := range order {
		set.Set(c.bucket, c.group, float64(counts[c]))
	}
	return set
}

func groupKey(metric string, groupBy []string, attr func(string) string) string {
	if len(groupBy) == 0 {
		return metric
	}
	parts := make([]string, len(groupBy))
	for i, name := range groupBy {
		parts[i] = attr(name)
	}
	return strings.Join(parts, ",")
}

func jobAttribute(job jpm.JobRecord, name string) string {
	var v string
	switch name {
	case "site":
		v = job.Site
	case "jobType":
		v = job.JobType
	case "queue":
		v = job.Queue
	case "user":
		v = job.User
	case "currentState":
		v = job.CurrentState
	}
	if v == "" {
		return "unknown"
	}
	return v
}

// Stats returns statistics for both buffers.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Metrics: s.metrics.Stats(),
		Jobs:    s.jobs.Stats(),
	}
}

// Clear drops all stored data.
func (s *Store) Clear() {
	s.metrics.Clear()
	s.jobs.Clear()
}

// StoreStats aggregates statistics across the store.
type StoreStats struct {
	Metrics MetricStorageStats `json:"metrics"`
	Jobs    JobStorageStats    `json:"jobs"`
}
