package viz

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRecentJobs_Empty(t *testing.T) {
	result := RecentJobs(nil)
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestRecentJobs(t *testing.T) {
	jobs := []JobRow{
		{JobID: "job_1714564200000_0003", JobType: "SPARK", State: "RUNNING", Duration: 10 * time.Minute},
		{JobID: "job_1714561500000_0002", JobType: "MAPREDUCE", State: "FAILED", Duration: 90 * time.Second},
		{JobID: "job_1714561500000_0001", JobType: "MAPREDUCE", State: "SUCCEEDED", Duration: 1500 * time.Millisecond},
	}
	result := RecentJobs(jobs)

	if !strings.Contains(result, "Jobs (3)") {
		t.Errorf("expected header, got:\n%s", result)
	}
	for _, want := range []string{"job_1714564200000_0003", "SPARK", "10m0s", "1m30s", "2s"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in table, got:\n%s", want, result)
		}
	}
	for _, icon := range []string{"▶", "✗", "✓"} {
		if !strings.Contains(result, icon) {
			t.Errorf("expected icon %s, got:\n%s", icon, result)
		}
	}
}

func TestRecentJobs_Overflow(t *testing.T) {
	jobs := make([]JobRow, maxJobRows+5)
	for i := range jobs {
		jobs[i] = JobRow{JobID: fmt.Sprintf("job_%d", i), State: "NEW"}
	}
	result := RecentJobs(jobs)

	if !strings.Contains(result, "... +5 more jobs") {
		t.Errorf("expected overflow line, got:\n%s", result)
	}
	if strings.Contains(result, fmt.Sprintf("job_%d ", maxJobRows)) {
		t.Errorf("expected rows capped at %d, got:\n%s", maxJobRows, result)
	}
}

func TestStateIcon(t *testing.T) {
	tests := map[string]string{
		"KILLED":   "✗",
		"FINISHED": "✓",
		"RUNNING":  "▶",
		"ACCEPTED": "·",
		"":         "·",
	}
	for state, want := range tests {
		if got := stateIcon(state); got != want {
			t.Errorf("stateIcon(%q) = %q, want %q", state, got, want)
		}
	}
}
