package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobert/jpm-dash/internal/jpm"
)

// JobStorage keeps the latest record for each job, keyed by site and job ID.
// A job that reports again replaces its earlier record; when the storage is
// full the least recently inserted job is evicted.
type JobStorage struct {
	mu          sync.RWMutex
	jobs        map[string]jpm.JobRecord
	insertOrder []string
	capacity    int

	received atomic.Uint64
}

// NewJobStorage creates a job storage holding up to capacity jobs.
func NewJobStorage(capacity int) *JobStorage {
	if capacity <= 0 {
		panic("job storage capacity must be greater than zero")
	}
	return &JobStorage{
		jobs:        make(map[string]jpm.JobRecord),
		insertOrder: make([]string, 0, min(capacity, 1024)),
		capacity:    capacity,
	}
}

func jobKey(site, id string) string {
	return site + "/" + id
}

// ReceiveJobs stores job records. Records without a job ID are dropped.
func (js *JobStorage) ReceiveJobs(ctx context.Context, jobs []jpm.JobRecord) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	for _, job := range jobs {
		if job.JobID == "" {
			continue
		}
		js.received.Add(1)

		key := jobKey(job.Site, job.JobID)
		if _, exists := js.jobs[key]; !exists {
			js.insertOrder = append(js.insertOrder, key)
			js.evictLocked()
		}
		js.jobs[key] = job
	}
	return nil
}

func (js *JobStorage) evictLocked() {
	for len(js.insertOrder) > js.capacity {
		oldest := js.insertOrder[0]
		js.insertOrder = js.insertOrder[1:]
		delete(js.jobs, oldest)
	}
}

// Get returns the stored record for a job.
func (js *JobStorage) Get(site, id string) (jpm.JobRecord, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.jobs[jobKey(site, id)]
	return job, ok
}

// Select returns copies of the jobs for site that overlap [from, to].
// A job overlaps when it began at or before to and either has not ended
// or ended at or after from. Jobs that have not started are matched by
// submission time.
func (js *JobStorage) Select(site string, from, to time.Time) []jpm.JobRecord {
	js.mu.RLock()
	defer js.mu.RUnlock()

	var result []jpm.JobRecord
	for _, key := range js.insertOrder {
		job := js.jobs[key]
		if job.Site != site {
			continue
		}
		begin := job.StartTime
		if begin.IsZero() {
			begin = job.SubmissionTime
		}
		if begin.IsZero() || begin.After(to) {
			continue
		}
		if !job.EndTime.IsZero() && job.EndTime.Before(from) {
			continue
		}
		result = append(result, job)
	}
	return result
}

// Size returns the number of distinct jobs stored.
func (js *JobStorage) Size() int {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return len(js.jobs)
}

// Stats returns current storage statistics.
func (js *JobStorage) Stats() JobStorageStats {
	js.mu.RLock()
	defer js.mu.RUnlock()

	states := make(map[string]int)
	for _, job := range js.jobs {
		states[jpm.State(job)]++
	}
	return JobStorageStats{
		JobCount: len(js.jobs),
		Capacity: js.capacity,
		Received: js.received.Load(),
		States:   states,
	}
}

// Clear removes all jobs.
func (js *JobStorage) Clear() {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs = make(map[string]jpm.JobRecord)
	js.insertOrder = js.insertOrder[:0]
}

// JobStorageStats describes the job table.
type JobStorageStats struct {
	JobCount int            `json:"job_count"`
	Capacity int            `json:"capacity"`
	Received uint64         `json:"received"`
	States   map[string]int `json:"states"`
}
