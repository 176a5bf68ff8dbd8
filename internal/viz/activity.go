package viz

import (
	"fmt"
	"strings"
	"time"
)

// maxJobRows caps the job table.
const maxJobRows = 20

// RecentJobs renders a compact table of jobs in the order given.
func RecentJobs(jobs []JobRow) string {
	if len(jobs) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Jobs (%d)\n", len(jobs))

	shown := jobs
	if len(shown) > maxJobRows {
		shown = shown[:maxJobRows]
	}

	for _, j := range shown {
		id := j.JobID
		if len(id) > 32 {
			id = id[:31] + "…"
		}
		fmt.Fprintf(&b, "  %s %-32s  %-10s  %-9s  %8s\n",
			stateIcon(j.State), id, j.JobType, j.State, formatDuration(j.Duration))
	}

	if overflow := len(jobs) - len(shown); overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more jobs\n", overflow)
	}

	return b.String()
}

func stateIcon(state string) string {
	switch state {
	case "FAILED", "KILLED":
		return "✗"
	case "SUCCEEDED", "FINISHED":
		return "✓"
	case "RUNNING":
		return "▶"
	default:
		return "·"
	}
}

// formatDuration rounds to seconds; negative durations keep their sign.
func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
