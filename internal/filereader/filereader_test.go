package filereader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/tobert/jpm-dash/internal/jpm"
)

type fakeStorage struct {
	mu      sync.Mutex
	jobs    []jpm.JobRecord
	metrics []*metricspb.ResourceMetrics
}

func (f *fakeStorage) ReceiveJobs(ctx context.Context, jobs []jpm.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobs...)
	return nil
}

func (f *fakeStorage) ReceiveMetrics(ctx context.Context, rms []*metricspb.ResourceMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, rms...)
	return nil
}

func (f *fakeStorage) jobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.jobs))
	for i, j := range f.jobs {
		ids[i] = j.JobID
	}
	return ids
}

func (f *fakeStorage) metricCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.metrics)
}

const metricLine = `{"resourceMetrics":[{"resource":{"attributes":[{"key":"site","value":{"stringValue":"sandbox"}}]},` +
	`"scopeMetrics":[{"metrics":[{"name":"hadoop.cluster.runningcontainers",` +
	`"gauge":{"dataPoints":[{"timeUnixNano":"1714521600000000000","asDouble":3}]}}]}]}]}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestNewRejectsBadDirectories(t *testing.T) {
	_, err := New(Config{}, &fakeStorage{})
	assert.Error(t, err)

	_, err = New(Config{Directory: filepath.Join(t.TempDir(), "missing")}, &fakeStorage{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	writeFile(t, file, "")
	_, err = New(Config{Directory: file}, &fakeStorage{})
	assert.Error(t, err)
}

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob([]byte(`{"jobId":"job_1","jobType":"MAPREDUCE","currentState":"RUNNING","startTime":1714521600000,"endTime":0}`), "sandbox")
	require.NoError(t, err)

	assert.Equal(t, "job_1", job.JobID)
	assert.Equal(t, "sandbox", job.Site)
	assert.True(t, job.StartTime.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, job.EndTime.IsZero())
	assert.True(t, job.Running())

	_, err = decodeJob([]byte(`{"jobName":"nameless"}`), "sandbox")
	assert.Error(t, err)

	_, err = decodeJob([]byte(`not json`), "sandbox")
	assert.Error(t, err)
}

func TestInitialLoadAndTail(t *testing.T) {
	dir := t.TempDir()
	jobs := filepath.Join(dir, JobsDir, "jobs.jsonl")
	writeFile(t, jobs, `{"jobId":"a","site":"east"}`+"\n"+"garbage\n"+`{"jobId":"b"}`+"\n"+`{"jobId":"partial"`)
	writeFile(t, filepath.Join(dir, MetricsDir, "metrics.jsonl"), metricLine+"\n")

	store := &fakeStorage{}
	fs, err := New(Config{Directory: dir, DefaultSite: "sandbox"}, store)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	assert.Equal(t, []string{"a", "b"}, store.jobIDs())
	assert.Equal(t, 1, store.metricCount())

	stats := fs.Stats()
	assert.Equal(t, 2, stats.Lines[JobsDir])
	assert.Equal(t, 1, stats.Lines[MetricsDir])
	assert.Equal(t, 1, stats.BadLines)
	assert.Equal(t, 2, stats.FilesTracked)

	// Completing the partial line makes it visible.
	appendFile(t, jobs, `,"site":"west"}`+"\n"+`{"jobId":"c"}`+"\n")
	require.Eventually(t, func() bool {
		return len(store.jobIDs()) == 4
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "partial", "c"}, store.jobIDs())
}

func TestTruncatedFileIsReadFromStart(t *testing.T) {
	dir := t.TempDir()
	jobs := filepath.Join(dir, JobsDir, "jobs.jsonl")
	writeFile(t, jobs, `{"jobId":"first-generation-job-with-a-long-id"}`+"\n")

	store := &fakeStorage{}
	fs, err := New(Config{Directory: dir}, store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.load(ctx, JobsDir, jobs)
	require.NoError(t, err)

	writeFile(t, jobs, `{"jobId":"x"}`+"\n")
	count, err := fs.load(ctx, JobsDir, jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"first-generation-job-with-a-long-id", "x"}, store.jobIDs())
}

func TestActiveOnlySkipsRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, JobsDir, "jobs.jsonl"), `{"jobId":"live"}`+"\n")
	writeFile(t, filepath.Join(dir, JobsDir, "jobs-2025-12-09T13-10-56.jsonl"), `{"jobId":"archived"}`+"\n")
	writeFile(t, filepath.Join(dir, JobsDir, "notes.txt"), "ignored\n")

	store := &fakeStorage{}
	fs, err := New(Config{Directory: dir, ActiveOnly: true}, store)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	assert.Equal(t, []string{"live"}, store.jobIDs())
}
