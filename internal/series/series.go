// Package series reshapes bucketed metric samples into chart-ready series
// aligned to a timewindow.Grid.
package series

import (
	"errors"
	"fmt"

	"github.com/tobert/jpm-dash/internal/timewindow"
)

// ErrArityMismatch is returned when two series that must be index-aligned are not.
var ErrArityMismatch = errors.New("series are not aligned")

// Point is one chart sample. X is a bucket start in epoch milliseconds.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// Series is a named sequence of points ordered by X.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"data"`
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s.Points)
}

// Values returns the Y values in order.
func (s Series) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Y
	}
	return values
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	points := make([]Point, len(s.Points))
	copy(points, s.Points)
	return Series{Name: s.Name, Points: points}
}

// SampleSet is a sparse set of samples keyed by bucket index and sub-category.
// Sub-categories are remembered in the order they were first added so that
// anything derived from the set iterates deterministically.
type SampleSet struct {
	buckets    map[int]map[string]float64
	categories []string
	known      map[string]struct{}
	size       int
}

// NewSampleSet returns an empty set.
func NewSampleSet() *SampleSet {
	return &SampleSet{
		buckets: make(map[int]map[string]float64),
		known:   make(map[string]struct{}),
	}
}

// Set stores value for (bucket, category), replacing any earlier value.
func (s *SampleSet) Set(bucket int, category string, value float64) {
	row, ok := s.buckets[bucket]
	if !ok {
		row = make(map[string]float64)
		s.buckets[bucket] = row
	}
	if _, exists := row[category]; !exists {
		s.size++
	}
	row[category] = value

	if _, ok := s.known[category]; !ok {
		s.known[category] = struct{}{}
		s.categories = append(s.categories, category)
	}
}

// Get returns the sample for (bucket, category) if present.
func (s *SampleSet) Get(bucket int, category string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.buckets[bucket][category]
	return v, ok
}

// Categories returns sub-categories in first-seen order.
func (s *SampleSet) Categories() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.categories))
	copy(out, s.categories)
	return out
}

// Len returns the number of (bucket, category) samples present.
func (s *SampleSet) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// hasBucket reports whether any category has a sample in bucket.
func (s *SampleSet) hasBucket(bucket int) bool {
	if s == nil {
		return false
	}
	return len(s.buckets[bucket]) > 0
}

// Merge expands the set into one dense series per sub-category, each with
// grid.Count points. Missing samples are zero and all-zero series are kept so
// a chart layer never disappears. Samples outside the grid are ignored.
func Merge(set *SampleSet, grid timewindow.Grid) []Series {
	categories := set.Categories()
	out := make([]Series, 0, len(categories))

	for _, category := range categories {
		points := make([]Point, grid.Count)
		for i := range points {
			v, _ := set.Get(i, category)
			points[i] = Point{X: grid.Timestamp(i), Y: v}
		}
		out = append(out, Series{Name: category, Points: points})
	}

	return out
}

// Collapse expands the set into a single dense series whose value at each
// bucket is the sum over all sub-categories.
func Collapse(name string, set *SampleSet, grid timewindow.Grid) Series {
	categories := set.Categories()
	points := make([]Point, grid.Count)
	for i := range points {
		var total float64
		for _, category := range categories {
			if v, ok := set.Get(i, category); ok {
				total += v
			}
		}
		points[i] = Point{X: grid.Timestamp(i), Y: total}
	}
	return Series{Name: name, Points: points}
}

// Sparse builds a single series with one point per non-empty bucket, summing
// sub-categories. The result has at most grid.Count points.
func Sparse(name string, set *SampleSet, grid timewindow.Grid) Series {
	categories := set.Categories()
	points := make([]Point, 0, grid.Count)
	for i := 0; i < grid.Count; i++ {
		if !set.hasBucket(i) {
			continue
		}
		var total float64
		for _, category := range categories {
			if v, ok := set.Get(i, category); ok {
				total += v
			}
		}
		points = append(points, Point{X: grid.Timestamp(i), Y: total})
	}
	return Series{Name: name, Points: points}
}

// Scale multiplies every value by factor.
func Scale(s Series, name string, factor float64) Series {
	out := Series{Name: name, Points: make([]Point, len(s.Points))}
	for i, p := range s.Points {
		out.Points[i] = Point{X: p.X, Y: p.Y * factor}
	}
	return out
}

// Ratio divides num by den element-wise and expresses the result as a
// percentage. A zero denominator yields 0. Both series must have the same
// length and the same timestamps, otherwise ErrArityMismatch is returned.
func Ratio(name string, num, den Series) (Series, error) {
	if num.Len() != den.Len() {
		return Series{}, fmt.Errorf("%w: %q has %d points, %q has %d",
			ErrArityMismatch, num.Name, num.Len(), den.Name, den.Len())
	}

	out := Series{Name: name, Points: make([]Point, num.Len())}
	for i, n := range num.Points {
		d := den.Points[i]
		if n.X != d.X {
			return Series{}, fmt.Errorf("%w: index %d has x=%d in %q and x=%d in %q",
				ErrArityMismatch, i, n.X, num.Name, d.X, den.Name)
		}

		var v float64
		if d.Y != 0 {
			v = n.Y / d.Y * 100
		}
		out.Points[i] = Point{X: n.X, Y: v}
	}

	return out, nil
}
