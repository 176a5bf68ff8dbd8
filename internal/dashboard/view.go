package dashboard

import (
	"maps"
	"slices"
	"time"

	"github.com/tobert/jpm-dash/internal/aggregate"
	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/series"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

// Panel names one independently updated part of the view.
type Panel string

const (
	PanelJobs              Panel = "jobs"
	PanelRunningJobs       Panel = "running_jobs"
	PanelRunningContainers Panel = "running_containers"
	PanelAllocatedVCores   Panel = "allocated_vcores"
	PanelAllocatedMemory   Panel = "allocated_memory"
)

// Panels lists every panel a refresh cycle fills, in display order.
var Panels = []Panel{
	PanelJobs,
	PanelRunningJobs,
	PanelRunningContainers,
	PanelAllocatedVCores,
	PanelAllocatedMemory,
}

// State is the orchestrator's coarse state.
type State int

const (
	StateIdle State = iota
	StateFetching
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	default:
		return "idle"
	}
}

// View is the dashboard state for one refresh cycle. Each panel is filled in
// as its fetch completes; Loaded and Errors record which panels have resolved.
type View struct {
	Generation uint64           `json:"generation"`
	CycleID    string           `json:"cycle_id"`
	Range      timewindow.Range `json:"range"`
	Grid       timewindow.Grid  `json:"grid"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	Jobs      []jpm.JobRecord           `json:"jobs"`
	JobStates []aggregate.CategoryCount `json:"job_states"`

	RunningJobs       []series.Series `json:"running_jobs"`
	RunningContainers []series.Series `json:"running_containers"`
	AllocatedVCores   []series.Series `json:"allocated_vcores"`
	// AllocatedMemory holds allocated/total memory in percent.
	AllocatedMemory []series.Series `json:"allocated_memory"`
	// AllocatedMemoryGB holds the raw allocation behind the percentage.
	AllocatedMemoryGB []series.Series `json:"allocated_memory_gb"`

	Loaded map[Panel]bool   `json:"loaded"`
	Errors map[Panel]string `json:"errors,omitempty"`
}

func newView(gen uint64, id string, r timewindow.Range, grid timewindow.Grid, now time.Time) View {
	return View{
		Generation: gen,
		CycleID:    id,
		Range:      r,
		Grid:       grid,
		StartedAt:  now,
		UpdatedAt:  now,
		Loaded:     make(map[Panel]bool, len(Panels)),
		Errors:     make(map[Panel]string),
	}
}

// Complete reports whether every panel of the cycle has resolved.
func (v View) Complete() bool {
	for _, p := range Panels {
		if !v.Loaded[p] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (v View) Clone() View {
	out := v
	out.Jobs = slices.Clone(v.Jobs)
	out.JobStates = slices.Clone(v.JobStates)
	out.RunningJobs = cloneSeries(v.RunningJobs)
	out.RunningContainers = cloneSeries(v.RunningContainers)
	out.AllocatedVCores = cloneSeries(v.AllocatedVCores)
	out.AllocatedMemory = cloneSeries(v.AllocatedMemory)
	out.AllocatedMemoryGB = cloneSeries(v.AllocatedMemoryGB)
	out.Loaded = maps.Clone(v.Loaded)
	out.Errors = maps.Clone(v.Errors)
	return out
}

func cloneSeries(in []series.Series) []series.Series {
	if in == nil {
		return nil
	}
	out := make([]series.Series, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
