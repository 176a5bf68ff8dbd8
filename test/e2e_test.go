package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/filereader"
	"github.com/tobert/jpm-dash/internal/logsreceiver"
	"github.com/tobert/jpm-dash/internal/metricsreceiver"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/storage"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func gauge(name string, at time.Time, value float64) *metricspb.Metric {
	return &metricspb.Metric{
		Name: name,
		Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
			DataPoints: []*metricspb.NumberDataPoint{{
				TimeUnixNano: uint64(at.UnixNano()),
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: value},
			}},
		}},
	}
}

func clusterMetrics(site string, metrics ...*metricspb.Metric) *metricspb.ResourceMetrics {
	return &metricspb.ResourceMetrics{
		Resource: &resourcepb.Resource{
			Attributes: []*commonpb.KeyValue{{
				Key:   "site",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: site}},
			}},
		},
		ScopeMetrics: []*metricspb.ScopeMetrics{{Metrics: metrics}},
	}
}

func findSeries(list []series.Series, name string) (series.Series, bool) {
	for _, s := range list {
		if s.Name == name {
			return s, true
		}
	}
	return series.Series{}, false
}

// TestEndToEnd verifies the complete workflow:
// 1. Create storage with a fixed clock
// 2. Start the OTLP receiver and a JSONL job file source
// 3. Export cluster metrics and a job event via OTLP gRPC
// 4. Refresh the dashboard over the last hour
// 5. Verify every panel of the view
func TestEndToEnd(t *testing.T) {
	// 1. Storage
	store := storage.NewStore(1000, 1000)
	store.SetClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Receivers
	jobEvents, err := logsreceiver.NewService(logsreceiver.Config{DefaultSite: "sandbox"}, store)
	if err != nil {
		t.Fatalf("failed to create job events service: %v", err)
	}
	otlpServer, err := metricsreceiver.NewServer(metricsreceiver.Config{
		Host:     "127.0.0.1",
		Port:     0,
		Services: []metricsreceiver.Service{jobEvents},
	}, store)
	if err != nil {
		t.Fatalf("failed to create OTLP server: %v", err)
	}
	go func() {
		if err := otlpServer.Serve(ctx); err != nil {
			t.Logf("OTLP server stopped: %v", err)
		}
	}()
	defer otlpServer.StopWait()

	dataDir := t.TempDir()
	jobsDir := filepath.Join(dataDir, filereader.JobsDir)
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, filereader.MetricsDir), 0o755); err != nil {
		t.Fatal(err)
	}
	jobs := `{"jobId":"job_1","jobType":"MAPREDUCE","currentState":"RUNNING","startTime":1714562400000}
{"jobId":"job_2","jobType":"MAPREDUCE","currentState":"SUCCEEDED","startTime":1714561500000,"endTime":1714562100000}
{"jobId":"job_3","jobType":"SPARK","currentState":"RUNNING","startTime":1714564200000}
{"jobId":"job_4","site":"prod","jobType":"SPARK","currentState":"RUNNING","startTime":1714564200000}
`
	if err := os.WriteFile(filepath.Join(jobsDir, "jobs.jsonl"), []byte(jobs), 0o644); err != nil {
		t.Fatal(err)
	}

	fileSource, err := filereader.New(filereader.Config{Directory: dataDir, DefaultSite: "sandbox"}, store)
	if err != nil {
		t.Fatalf("failed to create file source: %v", err)
	}
	if err := fileSource.Start(ctx); err != nil {
		t.Fatalf("failed to start file source: %v", err)
	}
	defer fileSource.Stop()

	// 3. Export metrics for two sites; only sandbox should reach the view
	conn, err := grpc.NewClient(otlpServer.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	defer conn.Close()

	at := now.Add(-30 * time.Minute)
	client := collectormetrics.NewMetricsServiceClient(conn)
	_, err = client.Export(ctx, &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			clusterMetrics("sandbox",
				gauge("hadoop.cluster.allocatedmb", at, 2048),
				gauge("hadoop.cluster.totalmemory", at, 8192),
				gauge("hadoop.cluster.runningcontainers", at, 12),
				gauge("hadoop.cluster.allocatedvcores", at, 6),
			),
			clusterMetrics("prod",
				gauge("hadoop.cluster.allocatedmb", at, 999),
			),
		},
	})
	if err != nil {
		t.Fatalf("failed to export metrics: %v", err)
	}

	if got := otlpServer.Stats().DataPoints; got != 5 {
		t.Errorf("expected 5 data points received, got %d", got)
	}

	// job_3 was written to the file as RUNNING; a later event over OTLP
	// logs moves it to FAILED.
	_, err = collectorlogs.NewLogsServiceClient(conn).Export(ctx, &collectorlogs.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			ScopeLogs: []*logspb.ScopeLogs{{LogRecords: []*logspb.LogRecord{{
				Attributes: []*commonpb.KeyValue{
					{Key: "jobId", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "job_3"}}},
					{Key: "jobType", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "SPARK"}}},
					{Key: "currentState", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "FAILED"}}},
					{Key: "startTime", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 1714564200000}}},
					{Key: "endTime", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 1714564500000}}},
				},
			}}}},
		}},
	})
	if err != nil {
		t.Fatalf("failed to export job event: %v", err)
	}
	if got := jobEvents.Stats().Jobs; got != 1 {
		t.Errorf("expected 1 job event received, got %d", got)
	}

	// 4. Refresh
	controller, err := dashboard.New(store, dashboard.Options{
		Site: "sandbox",
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	cycle, err := controller.Refresh(ctx, timewindow.Last(time.Hour, now))
	if err != nil {
		t.Fatalf("refresh rejected: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := cycle.Wait(waitCtx); err != nil {
		t.Fatalf("cycle did not complete: %v", err)
	}

	// 5. Verify
	view := controller.View()
	if len(view.Errors) != 0 {
		t.Fatalf("unexpected panel errors: %v", view.Errors)
	}
	if view.Grid.Interval != time.Minute || view.Grid.Count != 60 {
		t.Fatalf("expected 60 one-minute buckets, got %d x %s", view.Grid.Count, view.Grid.Interval)
	}
	bucket, ok := view.Grid.Index(at)
	if !ok || bucket != 30 {
		t.Fatalf("expected sample in bucket 30, got %d (%v)", bucket, ok)
	}

	if len(view.Jobs) != 3 {
		t.Errorf("expected 3 sandbox jobs, got %d", len(view.Jobs))
	}
	states := make(map[string]int)
	for _, c := range view.JobStates {
		states[c.Key] = c.Value
	}
	if states["RUNNING"] != 1 || states["FAILED"] != 1 || states["SUCCEEDED"] != 1 {
		t.Errorf("expected one RUNNING, FAILED and SUCCEEDED job, got %+v", view.JobStates)
	}

	mr, ok := findSeries(view.RunningJobs, "MAPREDUCE")
	if !ok || len(mr.Points) != 60 {
		t.Fatalf("expected dense MAPREDUCE series, got %+v", view.RunningJobs)
	}
	if mr.Points[30].Y != 1 {
		t.Errorf("expected 1 MAPREDUCE job running at 11:30, got %v", mr.Points[30].Y)
	}
	if mr.Points[10].Y != 1 {
		t.Errorf("expected the finished job counted at 11:10, got %v", mr.Points[10].Y)
	}

	memory := view.AllocatedMemory[0]
	if len(memory.Points) != 60 {
		t.Fatalf("expected dense memory series, got %d points", len(memory.Points))
	}
	if memory.Points[30].Y != 25 {
		t.Errorf("expected 25%% memory allocated, got %v", memory.Points[30].Y)
	}
	if memory.Points[0].Y != 0 {
		t.Errorf("expected empty bucket to read 0%%, got %v", memory.Points[0].Y)
	}
	if gb := view.AllocatedMemoryGB[0].Points[30].Y; gb != 2 {
		t.Errorf("expected 2 GB allocated, got %v", gb)
	}

	containers := view.RunningContainers[0]
	if len(containers.Points) != 1 || containers.Points[0].Y != 12 {
		t.Errorf("expected one sparse container point of 12, got %+v", containers.Points)
	}
	vcores := view.AllocatedVCores[0]
	if len(vcores.Points) != 1 || vcores.Points[0].Y != 6 {
		t.Errorf("expected one sparse vcore point of 6, got %+v", vcores.Points)
	}

	t.Log("End-to-end test passed: OTLP + JSONL -> Store -> Refresh -> View")
}

// TestSupersededRefresh verifies that a second refresh replaces the first
// cycle's view with real storage behind it.
func TestSupersededRefresh(t *testing.T) {
	store := storage.NewStore(100, 100)
	store.SetClock(func() time.Time { return now })

	controller, err := dashboard.New(store, dashboard.Options{
		Site: "sandbox",
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	ctx := context.Background()
	first, err := controller.Refresh(ctx, timewindow.Last(time.Hour, now))
	if err != nil {
		t.Fatal(err)
	}
	second, err := controller.Refresh(ctx, timewindow.Last(6*time.Hour, now))
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := second.Wait(waitCtx); err != nil {
		t.Fatalf("second cycle did not complete: %v", err)
	}

	view := controller.View()
	if view.Generation != second.Generation || view.CycleID != second.ID {
		t.Fatalf("expected view of cycle %d, got %d", second.Generation, view.Generation)
	}
	if first.ID == second.ID {
		t.Error("cycles must have distinct IDs")
	}
	if view.Grid.Interval != 5*time.Minute {
		t.Errorf("expected 5 minute buckets for 6h, got %s", view.Grid.Interval)
	}
	if !view.Complete() {
		t.Error("expected every panel loaded")
	}
}
