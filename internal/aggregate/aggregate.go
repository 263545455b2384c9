// Package aggregate folds normalized rows into the two derived views the
// rest of the engine consumes: per-route buckets and minute-resolution time
// buckets.
//
// Both views are running sum/count pairs. Averages are derived on demand and
// are NaN-safe: an empty bucket reports no average rather than dividing by
// zero. Aggregation supports incremental folding so repeated queries over a
// growing row set stay linear.
package aggregate

import (
	"sort"
	"time"

	"trafficlens/internal/normalize"
)

// TimeBucketLayout formats a truncated timestamp as a sortable bucket key.
// Lexicographic order on these keys equals chronological order.
const TimeBucketLayout = "2006-01-02T15:04"

// Bucket is the running sum/count for one group key. Count tracks only rows
// that contributed a non-null value; sum accumulates only those values.
type Bucket struct {
	Key   string  `json:"key"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// Avg returns the bucket average and whether it is defined.
func (b Bucket) Avg() (float64, bool) {
	if b.Count == 0 {
		return 0, false
	}
	return b.Sum / float64(b.Count), true
}

// RouteAverage pairs a route with its derived average. Known is false for
// routes that accumulated no numeric values.
type RouteAverage struct {
	Route string
	Avg   float64
	Known bool
}

// TimeBucketKey truncates a timestamp to minute resolution in UTC and formats
// it as a sortable key.
func TimeBucketKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(TimeBucketLayout)
}

// Accumulator folds rows incrementally into both views. The zero value is
// not usable; construct with NewAccumulator.
type Accumulator struct {
	routes map[string]*Bucket
	times  map[string]*Bucket
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		routes: make(map[string]*Bucket),
		times:  make(map[string]*Bucket),
	}
}

// Fold adds one normalized row to both views.
//
// Route view: every row has a route key (UnknownRoute at worst), but the
// bucket's sum/count move only when the row carries a value. Time view: rows
// without a timestamp are excluded entirely, not counted anywhere.
func (a *Accumulator) Fold(row normalize.Row) {
	rb := a.bucket(a.routes, row.Route)
	if row.Value != nil {
		rb.Sum += *row.Value
		rb.Count++
	}

	if row.Timestamp == nil {
		return
	}
	tb := a.bucket(a.times, TimeBucketKey(*row.Timestamp))
	if row.Value != nil {
		tb.Sum += *row.Value
		tb.Count++
	}
}

func (a *Accumulator) bucket(m map[string]*Bucket, key string) *Bucket {
	b, ok := m[key]
	if !ok {
		b = &Bucket{Key: key}
		m[key] = b
	}
	return b
}

// Routes returns a copy of the route view keyed by route name.
func (a *Accumulator) Routes() map[string]Bucket {
	return copyBuckets(a.routes)
}

// RouteBuckets materializes the route view sorted ascending by route key.
func (a *Accumulator) RouteBuckets() []Bucket {
	out := make([]Bucket, 0, len(a.routes))
	for _, b := range a.routes {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TimeSeries materializes the time view sorted ascending by bucket key.
func (a *Accumulator) TimeSeries() []Bucket {
	out := make([]Bucket, 0, len(a.times))
	for _, b := range a.times {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RouteAverages derives per-route averages sorted by route key for
// deterministic downstream consumption.
func (a *Accumulator) RouteAverages() []RouteAverage {
	out := make([]RouteAverage, 0, len(a.routes))
	for route, b := range a.routes {
		avg, known := b.Avg()
		out = append(out, RouteAverage{Route: route, Avg: avg, Known: known})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

func copyBuckets(m map[string]*Bucket) map[string]Bucket {
	out := make(map[string]Bucket, len(m))
	for k, b := range m {
		out[k] = *b
	}
	return out
}

// ByRoute aggregates a complete row set into the route view in one pass.
func ByRoute(rows []normalize.Row) map[string]Bucket {
	a := NewAccumulator()
	for _, r := range rows {
		a.Fold(r)
	}
	return a.Routes()
}

// ByTime aggregates a complete row set into the time view in one pass,
// sorted ascending by bucket key.
func ByTime(rows []normalize.Row) []Bucket {
	a := NewAccumulator()
	for _, r := range rows {
		a.Fold(r)
	}
	return a.TimeSeries()
}
