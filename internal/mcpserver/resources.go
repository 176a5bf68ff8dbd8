package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/viz"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "jpm://dashboard",
		Name:        "dashboard",
		Description: "Current dashboard view as JSON, including every chart series.",
		MIMEType:    "application/json",
	}, s.handleDashboardResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "jpm://dashboard/text",
		Name:        "dashboard-text",
		Description: "Current dashboard rendered as text: job state bars, sparkline charts and the job table.",
		MIMEType:    "text/plain",
	}, s.handleDashboardTextResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "jpm://stats",
		Name:        "stats",
		Description: "Sample and job buffer usage, sites and metric names seen.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "jpm://file-sources",
		Name:        "file-sources",
		Description: "Directories being tailed for job and metric JSONL.",
		MIMEType:    "application/json",
	}, s.handleFileSourcesResource)
}

func (s *Server) handleDashboardResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return jsonResult(req.Params.URI, s.summarize(true))
}

func (s *Server) handleDashboardTextResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return textResult(req.Params.URI, s.renderDashboard()), nil
}

// renderDashboard draws the current view with the viz package.
func (s *Server) renderDashboard() string {
	view := s.controller.View()

	var b strings.Builder
	fmt.Fprintf(&b, "Dashboard: %s (cycle %d, %s)\n", s.controller.Site(), view.Generation, s.controller.State())
	if view.Generation == 0 {
		b.WriteString("\nNo data yet. Call reload_dashboard first.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Range %s .. %s, %d x %s buckets\n",
		view.Range.Start.Format(time.RFC3339), view.Range.End.Format(time.RFC3339),
		view.Grid.Count, view.Grid.Interval)

	for _, panel := range dashboard.Panels {
		if msg, failed := view.Errors[panel]; failed {
			fmt.Fprintf(&b, "❌ %s: %s\n", panel, msg)
		} else if !view.Loaded[panel] {
			fmt.Fprintf(&b, "⏳ %s: loading\n", panel)
		}
	}

	states := make([]viz.CategoryStat, 0, len(view.JobStates))
	for _, c := range view.JobStates {
		states = append(states, viz.CategoryStat{Name: c.Key, Count: c.Value})
	}
	sections := []string{
		viz.CategorySummary("Job States", states),
		viz.Charts("Running Jobs", charts(view.RunningJobs, ""), 0),
		viz.Charts("Cluster", slices.Concat(
			charts(view.RunningContainers, ""),
			charts(view.AllocatedVCores, ""),
			charts(view.AllocatedMemory, "%"),
			charts(view.AllocatedMemoryGB, " GB"),
		), 0),
		viz.RecentJobs(jobRows(view.Jobs)),
	}
	for _, section := range sections {
		if section != "" {
			b.WriteByte('\n')
			b.WriteString(section)
		}
	}
	return b.String()
}

func charts(list []series.Series, unit string) []viz.Chart {
	out := make([]viz.Chart, 0, len(list))
	for _, s := range list {
		out = append(out, viz.Chart{Name: s.Name, Values: s.Values(), Unit: unit})
	}
	return out
}

func jobRows(jobs []jpm.JobRecord) []viz.JobRow {
	rows := make([]viz.JobRow, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, viz.JobRow{JobID: j.JobID, JobType: j.JobType, State: j.CurrentState, Duration: j.Duration})
	}
	return rows
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.store.Stats()

	var b strings.Builder
	b.WriteString(viz.StatsOverview(viz.BufferStats{
		SampleCount:    stats.Metrics.SampleCount,
		SampleCapacity: stats.Metrics.Capacity,
		JobCount:       stats.Jobs.JobCount,
		JobCapacity:    stats.Jobs.Capacity,
		FileSources:    len(s.ListFileSources()),
	}))
	b.WriteByte('\n')
	b.WriteString("Buffer Statistics\n")
	b.WriteString("═════════════════\n")
	fmt.Fprintf(&b, "  Samples:  %s / %s (%s)\n",
		fmtNum(stats.Metrics.SampleCount), fmtNum(stats.Metrics.Capacity),
		fmtPct(stats.Metrics.SampleCount, stats.Metrics.Capacity))
	fmt.Fprintf(&b, "  Jobs:     %s / %s (%s)\n",
		fmtNum(stats.Jobs.JobCount), fmtNum(stats.Jobs.Capacity),
		fmtPct(stats.Jobs.JobCount, stats.Jobs.Capacity))
	fmt.Fprintf(&b, "  Received: %s samples, %s job records\n",
		fmtNum(stats.Metrics.Received), fmtNum(int(stats.Jobs.Received)))

	if len(stats.Metrics.Sites) > 0 {
		fmt.Fprintf(&b, "\n  Sites:   %s\n", strings.Join(stats.Metrics.Sites, ", "))
	}
	if len(stats.Metrics.MetricNames) > 0 {
		b.WriteString("\n  Metrics:\n")
		for _, name := range stats.Metrics.MetricNames {
			fmt.Fprintf(&b, "    • %s\n", name)
		}
	}
	if len(stats.Metrics.SkippedMetrics) > 0 {
		fmt.Fprintf(&b, "\n  Skipped (not gauge/sum): %s\n", strings.Join(stats.Metrics.SkippedMetrics, ", "))
	}
	if endpoint := s.opts.OTLPEndpoint(); endpoint != "" {
		fmt.Fprintf(&b, "\n  OTLP endpoint: %s\n", endpoint)
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return jsonResult(req.Params.URI, map[string]any{
		"directories": s.ListFileSources(),
		"sources":     s.FileSourceStats(),
	})
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:  uri,
			Text: text,
		}},
	}
}

func jsonResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		result.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fmtPct formats a percentage like "62%"; an empty capacity shows "─".
func fmtPct(count, capacity int) string {
	if capacity == 0 {
		return "─"
	}
	return fmt.Sprintf("%.0f%%", float64(count)/float64(capacity)*100)
}
