package viz

import (
	"fmt"
	"strings"
)

// StatsOverview renders buffer fill-level bars.
func StatsOverview(stats BufferStats) string {
	var b strings.Builder

	b.WriteString("Buffer Health\n")
	writeBar(&b, "Samples", stats.SampleCount, stats.SampleCapacity)
	writeBar(&b, "Jobs", stats.JobCount, stats.JobCapacity)
	fmt.Fprintf(&b, "  File sources: %d\n", stats.FileSources)

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	// Pad label to 8 chars for alignment
	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

// CategorySummary renders a horizontal bar chart of category counts in the
// order given. Categories with a zero count are listed without a bar.
func CategorySummary(title string, cats []CategoryStat) string {
	if len(cats) == 0 {
		return ""
	}

	total := 0
	maxCount := 0
	maxNameLen := 0
	for _, c := range cats {
		total += c.Count
		maxCount = max(maxCount, c.Count)
		maxNameLen = max(maxNameLen, len(c.Name))
	}
	if maxNameLen > 20 {
		maxNameLen = 20
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", title, total)

	barBudget := 20

	for _, c := range cats {
		name := c.Name
		if len(name) > maxNameLen {
			name = name[:maxNameLen-1] + "…"
		}
		paddedName := fmt.Sprintf("%-*s", maxNameLen, name)

		barLen := 0
		if maxCount > 0 {
			barLen = c.Count * barBudget / maxCount
		}
		if barLen < 1 && c.Count > 0 {
			barLen = 1
		}
		bar := strings.Repeat("#", barLen)
		barPad := strings.Repeat(" ", barBudget-barLen)

		fmt.Fprintf(&b, "  %s  %s%s  %s\n", paddedName, bar, barPad, formatCount(c.Count))
	}

	return b.String()
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
