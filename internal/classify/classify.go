// Package classify labels routes by congestion level using quartile
// thresholds over the current set of route averages.
//
// The quartile method is nearest-rank indexing with no interpolation:
// Q1 = sorted[floor(n*0.25)], Q3 = sorted[floor(n*0.75)]. This deliberately
// rough method is a behavioral compatibility contract with existing
// consumers; substituting an interpolating percentile method shifts the
// Heavy/Light boundaries on small datasets and is a breaking change, not a
// fix.
package classify

import (
	"math"
	"sort"

	"trafficlens/internal/aggregate"
)

// Label is the congestion level assigned to one route.
type Label string

const (
	LabelHeavy    Label = "Heavy"
	LabelModerate Label = "Moderate"
	LabelLight    Label = "Light"
	LabelNoData   Label = "NoData"
)

// Prediction is the classification result for one route.
type Prediction struct {
	Route string  `json:"route"`
	Avg   float64 `json:"avg"`
	// Known mirrors the input: false means the route had no numeric values
	// and Avg is meaningless.
	Known bool  `json:"known"`
	Label Label `json:"label"`
}

// Quartiles computes the nearest-rank Q1 and Q3 of the values. The input
// slice is not mutated. ok is false when vals is empty.
func Quartiles(vals []float64) (q1, q3 float64, ok bool) {
	n := len(vals)
	if n == 0 {
		return 0, 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	q1 = sorted[int(math.Floor(float64(n)*0.25))]
	q3 = sorted[int(math.Floor(float64(n)*0.75))]
	return q1, q3, true
}

// Classify labels every route. Thresholds are recomputed from the supplied
// averages on every call, never cached, so a replaced dataset can never leak
// stale boundaries.
//
// Label rules, in order: undefined average is NoData; avg >= Q3 is Heavy;
// avg <= Q1 is Light; everything else is Moderate. The Heavy check runs
// first so a value sitting on both boundaries (Q1 == Q3) takes the stricter
// label. Classify is pure and idempotent.
func Classify(avgs []aggregate.RouteAverage) []Prediction {
	defined := make([]float64, 0, len(avgs))
	for _, a := range avgs {
		if a.Known {
			defined = append(defined, a.Avg)
		}
	}
	q1, q3, ok := Quartiles(defined)

	out := make([]Prediction, 0, len(avgs))
	for _, a := range avgs {
		p := Prediction{Route: a.Route, Avg: a.Avg, Known: a.Known}
		switch {
		case !a.Known || !ok:
			p.Label = LabelNoData
		case a.Avg >= q3:
			p.Label = LabelHeavy
		case a.Avg <= q1:
			p.Label = LabelLight
		default:
			p.Label = LabelModerate
		}
		out = append(out, p)
	}
	return out
}

// Distribution counts predictions per label, for summary views.
func Distribution(preds []Prediction) map[Label]int {
	out := make(map[Label]int, 4)
	for _, p := range preds {
		out[p.Label]++
	}
	return out
}
