// Package recommend ranks routes by congestion and returns the least
// congested ones as recommendations.
package recommend

import (
	"sort"

	"trafficlens/internal/aggregate"
)

// DefaultTopN is the recommendation list length when the caller passes a
// non-positive topN.
const DefaultTopN = 3

// Recommend returns up to topN route identifiers sorted ascending by average
// congestion metric (lower is better). Routes without a defined average are
// excluded; ties break by route key so identical inputs always produce
// identical output. Fewer qualifying routes than topN returns all of them,
// never placeholders.
func Recommend(avgs []aggregate.RouteAverage, topN int) []string {
	if topN <= 0 {
		topN = DefaultTopN
	}

	qualified := make([]aggregate.RouteAverage, 0, len(avgs))
	for _, a := range avgs {
		if a.Known {
			qualified = append(qualified, a)
		}
	}

	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].Avg != qualified[j].Avg {
			return qualified[i].Avg < qualified[j].Avg
		}
		return qualified[i].Route < qualified[j].Route
	})

	if len(qualified) > topN {
		qualified = qualified[:topN]
	}

	out := make([]string, 0, len(qualified))
	for _, a := range qualified {
		out = append(out, a.Route)
	}
	return out
}
