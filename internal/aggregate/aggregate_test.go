package aggregate

import (
	"math"
	"reflect"
	"testing"
	"time"

	"trafficlens/internal/normalize"
)

func fp(f float64) *float64 { return &f }

func tp(t time.Time) *time.Time { return &t }

func TestTimeBucketKey_TruncatesToMinuteUTC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "seconds stripped",
			in:   time.Date(2024, 5, 1, 8, 30, 59, 999, time.UTC),
			want: "2024-05-01T08:30",
		},
		{
			name: "non-UTC zone converted before truncation",
			in:   time.Date(2024, 5, 1, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: "2024-05-01T08:30",
		},
	}
	for _, tt := range tests {
		if got := TimeBucketKey(tt.in); got != tt.want {
			t.Errorf("%s: TimeBucketKey = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFold_RouteBucketExistsWithoutValue(t *testing.T) {
	t.Parallel()

	// A row with no value still creates its route bucket; only sum/count
	// stay untouched. That keeps valueless routes visible as NoData
	// downstream instead of vanishing.
	a := NewAccumulator()
	a.Fold(normalize.Row{Route: "A"})

	routes := a.Routes()
	b, ok := routes["A"]
	if !ok {
		t.Fatalf("route bucket A missing")
	}
	if b.Count != 0 || b.Sum != 0 {
		t.Fatalf("bucket = %+v, want zero sum/count", b)
	}
	if _, defined := b.Avg(); defined {
		t.Fatalf("Avg() defined for empty bucket")
	}
}

func TestFold_NilTimestampExcludedFromTimeView(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Fold(normalize.Row{Route: "A", Value: fp(10)})
	if got := a.TimeSeries(); len(got) != 0 {
		t.Fatalf("TimeSeries = %v, want empty", got)
	}
	if b := a.Routes()["A"]; b.Count != 1 || b.Sum != 10 {
		t.Fatalf("route bucket = %+v, want sum=10 count=1", b)
	}
}

func TestFold_SameMinuteSharesBucket(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	a.Fold(normalize.Row{Route: "A", Timestamp: tp(base), Value: fp(10)})
	a.Fold(normalize.Row{Route: "B", Timestamp: tp(base.Add(30 * time.Second)), Value: fp(20)})
	a.Fold(normalize.Row{Route: "A", Timestamp: tp(base.Add(time.Minute)), Value: fp(30)})

	got := a.TimeSeries()
	want := []Bucket{
		{Key: "2024-05-01T08:00", Sum: 30, Count: 2},
		{Key: "2024-05-01T08:01", Sum: 30, Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TimeSeries = %+v, want %+v", got, want)
	}
}

func TestRouteBuckets_SortedByKey(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	for _, route := range []string{"zeta", "alpha", "mid"} {
		a.Fold(normalize.Row{Route: route, Value: fp(1)})
	}

	got := a.RouteBuckets()
	keys := make([]string, 0, len(got))
	for _, b := range got {
		keys = append(keys, b.Key)
	}
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("RouteBuckets keys = %v, want %v", keys, want)
	}
}

func TestIncrementalFoldMatchesOneShot(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rows := []normalize.Row{
		{Route: "A", Timestamp: tp(base), Value: fp(1.5)},
		{Route: "A", Timestamp: tp(base.Add(20 * time.Second)), Value: fp(2.5)},
		{Route: "B", Timestamp: tp(base.Add(2 * time.Minute)), Value: fp(7)},
		{Route: "B"},
	}

	inc := NewAccumulator()
	for _, r := range rows {
		inc.Fold(r)
	}

	if got, want := inc.Routes(), ByRoute(rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("route views diverge:\nincremental: %+v\none-shot:    %+v", got, want)
	}
	if got, want := inc.TimeSeries(), ByTime(rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("time views diverge:\nincremental: %+v\none-shot:    %+v", got, want)
	}
}

func TestBucketAvg_MatchesArithmeticMean(t *testing.T) {
	t.Parallel()

	vals := []float64{3.1, 4.1, 5.9, 2.6, 5.3}
	a := NewAccumulator()
	var sum float64
	for _, v := range vals {
		v := v
		a.Fold(normalize.Row{Route: "A", Value: &v})
		sum += v
	}

	avg, ok := a.Routes()["A"].Avg()
	if !ok {
		t.Fatalf("Avg() undefined")
	}
	want := sum / float64(len(vals))
	if math.Abs(avg-want) > 1e-9 {
		t.Fatalf("Avg = %v, want %v", avg, want)
	}
}

func TestRouteAverages_SortedAndKnownFlag(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Fold(normalize.Row{Route: "B", Value: fp(4)})
	a.Fold(normalize.Row{Route: "A"})

	got := a.RouteAverages()
	want := []RouteAverage{
		{Route: "A", Avg: 0, Known: false},
		{Route: "B", Avg: 4, Known: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RouteAverages = %+v, want %+v", got, want)
	}
}
