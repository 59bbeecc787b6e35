package collection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/proseql/proseql/internal/engine/schema"
	"github.com/proseql/proseql/pkg/slice"
)

// AggregateConfig configures the aggregation engine (spec §4.10): a
// filter, an optional set of group-by field paths, and the numeric
// aggregates to compute over each group (or the whole filtered stream,
// if GroupBy is empty).
type AggregateConfig struct {
	Where   map[string]any
	GroupBy []string
	Sum     []string
	Avg     []string
	Min     []string
	Max     []string
}

// AggregateResult is one group's (or, ungrouped, the whole stream's)
// aggregates. Sum/Avg/Min/Max are keyed by field path, mirroring the
// input field lists; a field with no non-absent values in the group is
// omitted rather than reported as zero (spec §4.10: "numeric fields that
// are absent are ignored").
type AggregateResult struct {
	Count int
	Sum   map[string]float64
	Avg   map[string]float64
	Min   map[string]any
	Max   map[string]any
	// Group carries the group-by field values this result was computed
	// over. Nil when the query has no GroupBy.
	Group map[string]any
}

// Aggregate runs cfg's filter over the collection and computes its
// requested aggregates, partitioned by GroupBy if given.
func (c *Collection) Aggregate(cfg AggregateConfig) ([]AggregateResult, error) {
	candidates := c.resolveCandidates(cfg.Where)
	rows := c.materialize(candidates, false)
	rows = filterRows(rows, cfg.Where, c.fts)

	if len(cfg.GroupBy) == 0 {
		return []AggregateResult{computeAggregate(rows, cfg, nil)}, nil
	}

	type group struct {
		key  map[string]any
		rows []schema.Entity
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	for _, e := range rows {
		keyVals := make(map[string]any, len(cfg.GroupBy))
		parts := make([]string, len(cfg.GroupBy))
		for i, field := range cfg.GroupBy {
			v, _ := e.Get(field)
			keyVals[field] = v
			parts[i] = fmt.Sprintf("%T:%v", v, v)
		}
		keyRepr := strings.Join(parts, "\x1f")
		g, ok := groups[keyRepr]
		if !ok {
			g = &group{key: keyVals}
			groups[keyRepr] = g
			order = append(order, keyRepr)
		}
		g.rows = append(g.rows, e)
	}

	sort.Strings(order)
	out := make([]AggregateResult, 0, len(order))
	for _, keyRepr := range order {
		g := groups[keyRepr]
		out = append(out, computeAggregate(g.rows, cfg, g.key))
	}
	return out, nil
}

func computeAggregate(rows []schema.Entity, cfg AggregateConfig, group map[string]any) AggregateResult {
	result := AggregateResult{Count: len(rows), Group: group}

	if len(cfg.Sum) > 0 || len(cfg.Avg) > 0 {
		sums, counts := fieldSums(rows, unionFields(cfg.Sum, cfg.Avg))
		if len(cfg.Sum) > 0 {
			result.Sum = make(map[string]float64, len(cfg.Sum))
			for _, f := range cfg.Sum {
				if counts[f] > 0 {
					result.Sum[f] = sums[f]
				}
			}
		}
		if len(cfg.Avg) > 0 {
			result.Avg = make(map[string]float64, len(cfg.Avg))
			for _, f := range cfg.Avg {
				if counts[f] > 0 {
					result.Avg[f] = sums[f] / float64(counts[f])
				}
			}
		}
	}
	if len(cfg.Min) > 0 {
		result.Min = fieldExtreme(rows, cfg.Min, -1)
	}
	if len(cfg.Max) > 0 {
		result.Max = fieldExtreme(rows, cfg.Max, 1)
	}
	return result
}

func unionFields(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	combined := append(append([]string{}, a...), b...)
	return slice.Filter(combined, func(f string) bool {
		if seen[f] {
			return false
		}
		seen[f] = true
		return true
	})
}

// fieldSum is the running sum/count accumulated for one numeric field.
type fieldSum struct {
	sum   float64
	count int
}

// fieldSums returns the sum and count of present numeric values for each
// of fields, reducing rows once per field.
func fieldSums(rows []schema.Entity, fields []string) (sums map[string]float64, counts map[string]int) {
	sums = make(map[string]float64, len(fields))
	counts = make(map[string]int, len(fields))
	for _, f := range fields {
		field := f
		acc := slice.Reduce(rows, fieldSum{}, func(acc fieldSum, e schema.Entity) fieldSum {
			v, ok := e.Get(field)
			if !ok || v == nil {
				return acc
			}
			n, ok := toFloat(v)
			if !ok {
				return acc
			}
			acc.sum += n
			acc.count++
			return acc
		})
		sums[f] = acc.sum
		counts[f] = acc.count
	}
	return sums, counts
}

// fieldExtreme returns, for each field, the min (sign < 0) or max
// (sign > 0) of its present values across rows. A field never present is
// omitted.
func fieldExtreme(rows []schema.Entity, fields []string, sign int) map[string]any {
	out := make(map[string]any, len(fields))
	set := make(map[string]bool, len(fields))
	for _, e := range rows {
		for _, f := range fields {
			v, ok := e.Get(f)
			if !ok || v == nil {
				continue
			}
			if !set[f] {
				out[f] = v
				set[f] = true
				continue
			}
			cmp := compareValues(v, out[f])
			if (sign < 0 && cmp < 0) || (sign > 0 && cmp > 0) {
				out[f] = v
			}
		}
	}
	return out
}
