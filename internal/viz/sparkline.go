package viz

import (
	"fmt"
	"math"
	"strings"
)

const defaultChartWidth = 60

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a single line of block characters scaled to
// the range [min(0, lo), hi]. When there are more values than width, each
// column shows the maximum of its group. Width 0 uses a default of 60.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if width <= 0 {
		width = defaultChartWidth
	}

	cols := downsample(values, width)

	lo, hi := 0.0, math.Inf(-1)
	for _, v := range cols {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	top := float64(len(sparkLevels) - 1)
	var b strings.Builder
	for _, v := range cols {
		idx := 0
		if hi > lo {
			idx = int((v-lo)/(hi-lo)*top + 0.5)
		}
		b.WriteRune(sparkLevels[idx])
	}
	return b.String()
}

// downsample reduces values to at most width columns, keeping each group's
// maximum so short peaks stay visible.
func downsample(values []float64, width int) []float64 {
	if len(values) <= width {
		return values
	}

	group := (len(values) + width - 1) / width
	out := make([]float64, 0, width)
	for i := 0; i < len(values); i += group {
		end := min(i+group, len(values))
		peak := values[i]
		for _, v := range values[i+1 : end] {
			peak = math.Max(peak, v)
		}
		out = append(out, peak)
	}
	return out
}

// Charts renders one labelled sparkline per chart with its min, max and
// last value.
func Charts(title string, charts []Chart, width int) string {
	if len(charts) == 0 {
		return ""
	}

	nameLen := 0
	for _, c := range charts {
		nameLen = max(nameLen, len(c.Name))
	}
	if nameLen > 24 {
		nameLen = 24
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	for _, c := range charts {
		name := c.Name
		if len(name) > nameLen {
			name = name[:nameLen-1] + "…"
		}
		if len(c.Values) == 0 {
			fmt.Fprintf(&b, "  %-*s  (no data)\n", nameLen, name)
			continue
		}

		lo, hi := c.Values[0], c.Values[0]
		for _, v := range c.Values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		last := c.Values[len(c.Values)-1]

		fmt.Fprintf(&b, "  %-*s  %s  min %s%s  max %s%s  last %s%s\n",
			nameLen, name, Sparkline(c.Values, width),
			formatValue(lo), c.Unit, formatValue(hi), c.Unit, formatValue(last), c.Unit)
	}
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return formatSigned(int(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func formatSigned(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	return formatCount(n)
}
