// Package aggregate holds the small reductions the dashboard applies to a
// freshly fetched job list: per-state frequency counts and elapsed durations.
package aggregate

// CategoryCount is one legend entry: a category and how many records carry it.
type CategoryCount struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

// CountCategories tallies items by category.
//
// The result lists the categories named in priority first, in priority order,
// skipping those with no occurrences. Categories not in priority follow in the
// order they were first seen in items. The values sum to len(items).
func CountCategories[T any](items []T, category func(T) string, priority []string) []CategoryCount {
	tally := make(map[string]int)
	var discovered []string

	for _, item := range items {
		key := category(item)
		if _, seen := tally[key]; !seen {
			discovered = append(discovered, key)
		}
		tally[key]++
	}

	result := make([]CategoryCount, 0, len(tally))
	for _, key := range priority {
		value, ok := tally[key]
		if !ok {
			continue
		}
		delete(tally, key)
		result = append(result, CategoryCount{Key: key, Value: value})
	}

	for _, key := range discovered {
		value, ok := tally[key]
		if !ok {
			continue
		}
		result = append(result, CategoryCount{Key: key, Value: value})
	}

	return result
}

// Total sums the counts.
func Total(counts []CategoryCount) int {
	n := 0
	for _, c := range counts {
		n += c.Value
	}
	return n
}
