package storage

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedAggregation is returned for aggregation expressions other
// than max, min, sum, avg or count applied to value.
var ErrUnsupportedAggregation = errors.New("unsupported aggregation")

type aggKind int

const (
	aggMax aggKind = iota
	aggMin
	aggSum
	aggAvg
	aggCount
)

var aggKinds = map[string]aggKind{
	"max":   aggMax,
	"min":   aggMin,
	"sum":   aggSum,
	"avg":   aggAvg,
	"count": aggCount,
}

// parseAggregation accepts expressions of the form fn(value).
func parseAggregation(expr string) (aggKind, error) {
	s := strings.ToLower(strings.ReplaceAll(expr, " ", ""))
	fn, rest, ok := strings.Cut(s, "(")
	if !ok || rest != "value)" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAggregation, expr)
	}
	kind, ok := aggKinds[fn]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAggregation, expr)
	}
	return kind, nil
}

// accumulator folds the values that fall into one bucket and group.
type accumulator struct {
	min, max, sum float64
	n             int
}

func newAccumulator() *accumulator {
	return &accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *accumulator) add(v float64) {
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
	a.sum += v
	a.n++
}

func (a *accumulator) result(kind aggKind) float64 {
	switch kind {
	case aggMin:
		return a.min
	case aggSum:
		return a.sum
	case aggAvg:
		return a.sum / float64(a.n)
	case aggCount:
		return float64(a.n)
	default:
		return a.max
	}
}
