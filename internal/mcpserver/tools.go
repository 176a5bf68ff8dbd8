package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/jpm-dash/internal/aggregate"
	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/filereader"
	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/storage"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

// DefaultReloadWait bounds how long reload_dashboard waits for a cycle.
const DefaultReloadWait = 30 * time.Second

// Tool: get_dashboard

type GetDashboardInput struct {
	IncludeSeries bool `json:"include_series,omitempty" jsonschema:"Include the chart series, not just the summary"`
}

type DashboardSummary struct {
	Site            string                     `json:"site" jsonschema:"Cluster site"`
	Generation      uint64                     `json:"generation" jsonschema:"Refresh cycle counter; 0 means never refreshed"`
	CycleID         string                     `json:"cycle_id,omitempty" jsonschema:"Correlation ID of the cycle"`
	State           string                     `json:"state" jsonschema:"idle or fetching"`
	Complete        bool                       `json:"complete" jsonschema:"Whether every panel of the cycle has resolved"`
	RangeStart      string                     `json:"range_start,omitempty" jsonschema:"Requested range start (RFC 3339)"`
	RangeEnd        string                     `json:"range_end,omitempty" jsonschema:"Requested range end (RFC 3339)"`
	IntervalSeconds int64                      `json:"interval_seconds" jsonschema:"Bucket width"`
	Buckets         int                        `json:"buckets" jsonschema:"Number of buckets in the aligned grid"`
	UpdatedAt       string                     `json:"updated_at,omitempty" jsonschema:"Time of the last applied update (RFC 3339)"`
	JobCount        int                        `json:"job_count" jsonschema:"Jobs in the job list"`
	JobStates       []aggregate.CategoryCount  `json:"job_states" jsonschema:"Job counts by state in display priority"`
	Loaded          []string                   `json:"loaded" jsonschema:"Panels that have resolved"`
	Errors          map[string]string          `json:"errors,omitempty" jsonschema:"Per-panel fetch errors"`
	Series          map[string][]series.Series `json:"series,omitempty" jsonschema:"Chart series by panel"`
}

type GetDashboardOutput struct {
	Dashboard DashboardSummary `json:"dashboard"`
}

func (s *Server) handleGetDashboard(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetDashboardInput,
) (*mcp.CallToolResult, GetDashboardOutput, error) {
	return &mcp.CallToolResult{}, GetDashboardOutput{
		Dashboard: s.summarize(input.IncludeSeries),
	}, nil
}

// Tool: get_job_states

type GetJobStatesInput struct {
	State string `json:"state,omitempty" jsonschema:"Only list jobs in this state (e.g. RUNNING)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum jobs to list (default 0 lists none)"`
}

type JobSummary struct {
	JobID           string  `json:"job_id"`
	JobName         string  `json:"job_name,omitempty"`
	User            string  `json:"user,omitempty"`
	Queue           string  `json:"queue,omitempty"`
	JobType         string  `json:"job_type,omitempty"`
	State           string  `json:"state"`
	StartTime       string  `json:"start_time,omitempty" jsonschema:"RFC 3339"`
	EndTime         string  `json:"end_time,omitempty" jsonschema:"RFC 3339; empty while running"`
	DurationSeconds float64 `json:"duration_seconds" jsonschema:"End (or now) minus start"`
}

type GetJobStatesOutput struct {
	Generation uint64                    `json:"generation"`
	Loaded     bool                      `json:"loaded" jsonschema:"Whether the job list of the cycle has resolved"`
	Error      string                    `json:"error,omitempty"`
	Total      int                       `json:"total"`
	States     []aggregate.CategoryCount `json:"states"`
	Jobs       []JobSummary              `json:"jobs"`
}

func (s *Server) handleGetJobStates(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetJobStatesInput,
) (*mcp.CallToolResult, GetJobStatesOutput, error) {
	view := s.controller.View()

	out := GetJobStatesOutput{
		Generation: view.Generation,
		Loaded:     view.Loaded[dashboard.PanelJobs],
		Error:      view.Errors[dashboard.PanelJobs],
		Total:      aggregate.Total(view.JobStates),
		States:     nonNil(view.JobStates),
		Jobs:       []JobSummary{},
	}

	for _, job := range view.Jobs {
		if len(out.Jobs) >= input.Limit {
			break
		}
		if input.State != "" && job.CurrentState != input.State {
			continue
		}
		out.Jobs = append(out.Jobs, jobToSummary(job))
	}

	return &mcp.CallToolResult{}, out, nil
}

// Tool: reload_dashboard

type ReloadDashboardInput struct {
	Start          string `json:"start,omitempty" jsonschema:"Range start, RFC 3339 or epoch ms (default: end minus window)"`
	End            string `json:"end,omitempty" jsonschema:"Range end, RFC 3339 or epoch ms (default: now)"`
	Window         string `json:"window,omitempty" jsonschema:"Trailing window when start is omitted, e.g. 6h (default: server window)"`
	Wait           bool   `json:"wait,omitempty" jsonschema:"Block until every panel of the new cycle resolves"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"Wait limit (default 30)"`
}

type ReloadDashboardOutput struct {
	Generation uint64           `json:"generation"`
	CycleID    string           `json:"cycle_id"`
	Completed  bool             `json:"completed" jsonschema:"Whether the cycle finished before the tool returned"`
	Dashboard  DashboardSummary `json:"dashboard"`
}

func (s *Server) handleReloadDashboard(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ReloadDashboardInput,
) (*mcp.CallToolResult, ReloadDashboardOutput, error) {
	window := s.opts.Window
	if input.Window != "" {
		d, err := time.ParseDuration(input.Window)
		if err != nil || d <= 0 {
			return nil, ReloadDashboardOutput{}, fmt.Errorf("invalid window %q", input.Window)
		}
		window = d
	}

	r, err := timewindow.ParseRange(input.Start, input.End, window, s.controller.Now())
	if err != nil {
		return nil, ReloadDashboardOutput{}, err
	}

	cycle, err := s.controller.Refresh(ctx, r)
	if err != nil {
		return nil, ReloadDashboardOutput{}, fmt.Errorf("reload rejected: %w", err)
	}

	out := ReloadDashboardOutput{
		Generation: cycle.Generation,
		CycleID:    cycle.ID,
	}

	if input.Wait {
		timeout := DefaultReloadWait
		if input.TimeoutSeconds > 0 {
			timeout = time.Duration(input.TimeoutSeconds) * time.Second
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out.Completed = cycle.Wait(waitCtx) == nil
	} else {
		select {
		case <-cycle.Done():
			out.Completed = true
		default:
		}
	}

	out.Dashboard = s.summarize(false)
	return &mcp.CallToolResult{}, out, nil
}

// Tool: add_file_source

type AddFileSourceInput struct {
	Directory  string `json:"directory" jsonschema:"Directory containing jobs/ and/or metrics/ JSONL subdirectories"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Skip rotated archives, load only jobs.jsonl and metrics.jsonl"`
}

type FileSourceOutput struct {
	Directories []string `json:"directories" jsonschema:"All watched directories"`
	Message     string   `json:"message"`
}

func (s *Server) handleAddFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if input.Directory == "" {
		return nil, FileSourceOutput{}, fmt.Errorf("directory is required")
	}
	if err := s.AddFileSource(ctx, input.Directory, input.ActiveOnly); err != nil {
		return nil, FileSourceOutput{}, err
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directories: s.ListFileSources(),
		Message:     fmt.Sprintf("watching %s", input.Directory),
	}, nil
}

// Tool: remove_file_source

type RemoveFileSourceInput struct {
	Directory string `json:"directory" jsonschema:"Directory previously added with add_file_source"`
}

func (s *Server) handleRemoveFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if err := s.RemoveFileSource(input.Directory); err != nil {
		return nil, FileSourceOutput{}, err
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Directories: s.ListFileSources(),
		Message:     fmt.Sprintf("stopped watching %s", input.Directory),
	}, nil
}

// Tool: get_stats

type GetStatsInput struct{}

type GetStatsOutput struct {
	OTLPEndpoint string                     `json:"otlp_endpoint,omitempty" jsonschema:"OTLP gRPC endpoint accepting cluster metrics"`
	Samples      storage.MetricStorageStats `json:"samples"`
	Jobs         storage.JobStorageStats    `json:"jobs"`
	FileSources  []filereader.Stats         `json:"file_sources"`
}

func (s *Server) handleGetStats(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetStatsInput,
) (*mcp.CallToolResult, GetStatsOutput, error) {
	stats := s.store.Stats()
	return &mcp.CallToolResult{}, GetStatsOutput{
		OTLPEndpoint: s.opts.OTLPEndpoint(),
		Samples:      stats.Metrics,
		Jobs:         stats.Jobs,
		FileSources:  s.FileSourceStats(),
	}, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_dashboard",
		Description: "Current dashboard view: refresh generation, aligned grid, which panels have loaded, per-panel errors and job state counts. Set include_series to also get the running jobs, containers, vCores and memory chart series.",
	}, s.handleGetDashboard)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_job_states",
		Description: "Job counts by YARN state (NEW, SUBMITTED, ACCEPTED, RUNNING, FINISHED, ... in display order) for the current view, optionally listing jobs filtered by state with their durations.",
	}, s.handleGetJobStates)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "reload_dashboard",
		Description: "Start a new refresh cycle. Any cycle still in flight is superseded and its late results are discarded. Give start/end (RFC 3339 or epoch ms) or a trailing window such as 6h; set wait to block until all panels resolve.",
	}, s.handleReloadDashboard)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_file_source",
		Description: "Tail a directory of JSONL files into the store: jobs/*.jsonl (one job record per line, epoch-ms times) and metrics/*.jsonl (OTLP MetricsData as written by the collector file exporter).",
	}, s.handleAddFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_file_source",
		Description: "Stop tailing a directory added with add_file_source. Data already loaded stays in the store.",
	}, s.handleRemoveFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_stats",
		Description: "Buffer health: sample and job counts against capacity, sites and metric names seen, skipped non-numeric metrics, file source progress, and the OTLP endpoint.",
	}, s.handleGetStats)
}

// summarize condenses the current view for agents.
func (s *Server) summarize(includeSeries bool) DashboardSummary {
	view := s.controller.View()

	out := DashboardSummary{
		Site:            s.controller.Site(),
		Generation:      view.Generation,
		CycleID:         view.CycleID,
		State:           s.controller.State().String(),
		Complete:        view.Generation > 0 && view.Complete(),
		IntervalSeconds: int64(view.Grid.Interval / time.Second),
		Buckets:         view.Grid.Count,
		JobCount:        len(view.Jobs),
		JobStates:       nonNil(view.JobStates),
		Loaded:          []string{},
	}
	if view.Generation > 0 {
		out.RangeStart = view.Range.Start.Format(time.RFC3339)
		out.RangeEnd = view.Range.End.Format(time.RFC3339)
		out.UpdatedAt = view.UpdatedAt.Format(time.RFC3339)
	}

	for _, p := range dashboard.Panels {
		if view.Loaded[p] {
			out.Loaded = append(out.Loaded, string(p))
		}
		if msg, ok := view.Errors[p]; ok {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[string(p)] = msg
		}
	}

	if includeSeries {
		out.Series = map[string][]series.Series{
			string(dashboard.PanelRunningJobs):       nonNil(view.RunningJobs),
			string(dashboard.PanelRunningContainers): nonNil(view.RunningContainers),
			string(dashboard.PanelAllocatedVCores):   nonNil(view.AllocatedVCores),
			string(dashboard.PanelAllocatedMemory):   nonNil(view.AllocatedMemory),
			"allocated_memory_gb":                    nonNil(view.AllocatedMemoryGB),
		}
	}
	return out
}

func jobToSummary(job jpm.JobRecord) JobSummary {
	summary := JobSummary{
		JobID:           job.JobID,
		JobName:         job.JobName,
		User:            job.User,
		Queue:           job.Queue,
		JobType:         job.JobType,
		State:           job.CurrentState,
		DurationSeconds: job.Duration.Seconds(),
	}
	if !job.StartTime.IsZero() {
		summary.StartTime = job.StartTime.Format(time.RFC3339)
	}
	if !job.EndTime.IsZero() {
		summary.EndTime = job.EndTime.Format(time.RFC3339)
	}
	return summary
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
