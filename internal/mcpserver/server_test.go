package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/storage"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()

	store := storage.NewStore(1000, 100)
	store.SetClock(func() time.Time { return testNow })

	controller, err := dashboard.New(store, dashboard.Options{
		Site: "sandbox",
		Now:  func() time.Time { return testNow },
	})
	require.NoError(t, err)

	srv, err := NewServer(controller, store, ServerOptions{
		Window:       time.Hour,
		OTLPEndpoint: func() string { return "127.0.0.1:4317" },
	})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv, store
}

func seedJobs(t *testing.T, store *storage.Store) {
	t.Helper()
	require.NoError(t, store.ReceiveJobs(context.Background(), []jpm.JobRecord{
		{JobID: "job_1", Site: "sandbox", JobType: "MAPREDUCE", CurrentState: "RUNNING", StartTime: testNow.Add(-30 * time.Minute)},
		{JobID: "job_2", Site: "sandbox", JobType: "MAPREDUCE", CurrentState: "SUCCEEDED", StartTime: testNow.Add(-50 * time.Minute), EndTime: testNow.Add(-40 * time.Minute)},
		{JobID: "job_3", Site: "sandbox", JobType: "SPARK", CurrentState: "RUNNING", StartTime: testNow.Add(-10 * time.Minute)},
	}))
}

func TestNewServerValidation(t *testing.T) {
	store := storage.NewStore(10, 10)
	controller, err := dashboard.New(store, dashboard.Options{Site: "sandbox"})
	require.NoError(t, err)

	_, err = NewServer(nil, store, ServerOptions{})
	assert.Error(t, err)
	_, err = NewServer(controller, nil, ServerOptions{})
	assert.Error(t, err)

	srv, err := NewServer(controller, store, ServerOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWindow, srv.opts.Window)
	assert.NotNil(t, srv.MCPServer())
}

func TestToolsAreListedOverMCP(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_dashboard", "get_job_states", "reload_dashboard",
		"add_file_source", "remove_file_source", "get_stats",
	}, names)
}

func TestDashboardBeforeFirstReload(t *testing.T) {
	srv, _ := newTestServer(t)

	_, out, err := srv.handleGetDashboard(context.Background(), nil, GetDashboardInput{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), out.Dashboard.Generation)
	assert.False(t, out.Dashboard.Complete)
	assert.Empty(t, out.Dashboard.Loaded)
	assert.Equal(t, "sandbox", out.Dashboard.Site)
}

func TestReloadAndWaitFillsEveryPanel(t *testing.T) {
	srv, store := newTestServer(t)
	seedJobs(t, store)
	ctx := context.Background()

	_, out, err := srv.handleReloadDashboard(ctx, nil, ReloadDashboardInput{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Generation)
	assert.NotEmpty(t, out.CycleID)
	assert.True(t, out.Completed)
	assert.True(t, out.Dashboard.Complete)
	assert.Equal(t, int64(60), out.Dashboard.IntervalSeconds, "one hour window uses one minute buckets")
	assert.Equal(t, 60, out.Dashboard.Buckets)
	assert.Len(t, out.Dashboard.Loaded, len(dashboard.Panels))
	assert.Empty(t, out.Dashboard.Errors)

	_, states, err := srv.handleGetJobStates(ctx, nil, GetJobStatesInput{State: "RUNNING", Limit: 10})
	require.NoError(t, err)
	assert.True(t, states.Loaded)
	assert.Equal(t, 3, states.Total)
	require.Len(t, states.States, 2)
	assert.Equal(t, "RUNNING", states.States[0].Key)
	assert.Equal(t, 2, states.States[0].Value)
	require.Len(t, states.Jobs, 2)
	assert.Equal(t, "job_3", states.Jobs[0].JobID, "newest start first")
	assert.Equal(t, 600.0, states.Jobs[0].DurationSeconds)
	assert.Empty(t, states.Jobs[0].EndTime)

	_, full, err := srv.handleGetDashboard(ctx, nil, GetDashboardInput{IncludeSeries: true})
	require.NoError(t, err)
	running := full.Dashboard.Series[string(dashboard.PanelRunningJobs)]
	require.Len(t, running, 2)
	assert.Equal(t, "MAPREDUCE", running[0].Name)
	assert.Len(t, running[0].Points, 60)
}

func TestReloadWithExplicitRange(t *testing.T) {
	srv, _ := newTestServer(t)

	_, out, err := srv.handleReloadDashboard(context.Background(), nil, ReloadDashboardInput{
		Start: "2024-04-25T00:00:00Z",
		End:   "2024-05-01T00:00:00Z",
		Wait:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6*3600), out.Dashboard.IntervalSeconds)
	assert.Equal(t, "2024-04-25T00:00:00Z", out.Dashboard.RangeStart)
}

func TestReloadRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleReloadDashboard(ctx, nil, ReloadDashboardInput{Start: "2024-05-02T00:00:00Z", End: "2024-05-01T00:00:00Z"})
	assert.Error(t, err)

	_, _, err = srv.handleReloadDashboard(ctx, nil, ReloadDashboardInput{Window: "fortnight"})
	assert.Error(t, err)

	assert.Equal(t, uint64(0), srv.controller.Generation(), "rejected reloads must not start a cycle")
}

func TestFileSourceTools(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "jobs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs", "jobs.jsonl"),
		[]byte(`{"jobId":"from_file","currentState":"RUNNING","startTime":1714563000000}`+"\n"), 0o644))

	_, added, err := srv.handleAddFileSource(ctx, nil, AddFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, added.Directories)

	job, ok := store.Jobs().Get("sandbox", "from_file")
	require.True(t, ok, "job lines without a site take the dashboard's site")
	assert.Equal(t, "RUNNING", job.CurrentState)

	_, _, err = srv.handleAddFileSource(ctx, nil, AddFileSourceInput{Directory: dir})
	assert.Error(t, err, "duplicate directory")

	_, stats, err := srv.handleGetStats(ctx, nil, GetStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4317", stats.OTLPEndpoint)
	require.Len(t, stats.FileSources, 1)
	assert.Equal(t, 1, stats.FileSources[0].Lines["jobs"])

	_, removed, err := srv.handleRemoveFileSource(ctx, nil, RemoveFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.Empty(t, removed.Directories)

	_, _, err = srv.handleRemoveFileSource(ctx, nil, RemoveFileSourceInput{Directory: dir})
	assert.Error(t, err)
}

func readReq(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}}
}

func TestDashboardResource(t *testing.T) {
	srv, store := newTestServer(t)
	seedJobs(t, store)
	ctx := context.Background()

	_, _, err := srv.handleReloadDashboard(ctx, nil, ReloadDashboardInput{Wait: true})
	require.NoError(t, err)

	result, err := srv.handleDashboardResource(ctx, readReq("jpm://dashboard"))
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var summary DashboardSummary
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &summary))
	assert.Equal(t, uint64(1), summary.Generation)
	assert.Contains(t, summary.Series, string(dashboard.PanelAllocatedMemory))
}

func TestDashboardTextResource(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleDashboardTextResource(ctx, readReq("jpm://dashboard/text"))
	require.NoError(t, err)
	assert.Contains(t, result.Contents[0].Text, "No data yet")

	seedJobs(t, store)
	_, _, err = srv.handleReloadDashboard(ctx, nil, ReloadDashboardInput{Wait: true})
	require.NoError(t, err)

	result, err = srv.handleDashboardTextResource(ctx, readReq("jpm://dashboard/text"))
	require.NoError(t, err)
	text := result.Contents[0].Text
	assert.Contains(t, text, "Dashboard: sandbox (cycle 1, idle)")
	assert.Contains(t, text, "60 x 1m0s buckets")
	assert.Contains(t, text, "Job States (3)")
	assert.Contains(t, text, "Running Jobs")
	assert.Contains(t, text, "Jobs (3)")
	assert.Contains(t, text, "job_3")
	assert.NotContains(t, text, "loading")
}

func TestStatsResource(t *testing.T) {
	srv, store := newTestServer(t)
	seedJobs(t, store)

	result, err := srv.handleStatsResource(context.Background(), readReq("jpm://stats"))
	require.NoError(t, err)
	text := result.Contents[0].Text
	assert.Contains(t, text, "Jobs:     3 / 100 (3%)")
	assert.Contains(t, text, "Samples:  0 / 1,000 (0%)")
	assert.Contains(t, text, "127.0.0.1:4317")
	assert.Contains(t, text, "Buffer Health")
}

func TestFmtNum(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1000: "1,000", 100000: "100,000", 1234567: "1,234,567", -4200: "-4,200"}
	for in, want := range tests {
		assert.Equal(t, want, fmtNum(in), "fmtNum(%d)", in)
	}
	assert.Equal(t, "─", fmtPct(1, 0))
	assert.Equal(t, "50%", fmtPct(1, 2))
}
