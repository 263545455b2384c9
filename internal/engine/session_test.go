package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"trafficlens/internal/classify"
	"trafficlens/internal/config"
	"trafficlens/internal/infer"
)

const sampleCSV = `route,timestamp,congestion
A,2024-05-01T08:00:00Z,250
A,2024-05-01T08:00:30Z,260
B,2024-05-01T08:01:00Z,400
`

func ingestCSV(t *testing.T, s *Session, body string, opts IngestOptions) Summary {
	t.Helper()
	sum, err := s.Ingest(context.Background(), strings.NewReader(body), opts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return sum
}

func TestSniffFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Format
	}{
		{"route,value\nA,1\n", FormatCSV},
		{"  \n\t[{\"a\":1}]", FormatJSON},
		{"{\"a\": 1}", FormatJSON},
		{"", FormatCSV},
	}
	for _, tt := range tests {
		if got := SniffFormat([]byte(tt.in)); got != tt.want {
			t.Errorf("SniffFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIngest_CSVEndToEnd(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	sum := ingestCSV(t, s, sampleCSV, IngestOptions{})

	if sum.Format != FormatCSV {
		t.Errorf("format = %q, want csv", sum.Format)
	}
	if sum.Rows != 3 || sum.Routes != 2 {
		t.Errorf("summary = %+v, want 3 rows across 2 routes", sum)
	}
	wantMapping := infer.Mapping{RouteCol: "route", TimeCol: "timestamp", ValueCol: "congestion"}
	if sum.Mapping != wantMapping {
		t.Errorf("mapping = %+v, want %+v", sum.Mapping, wantMapping)
	}

	// Route view: A averages 255 over two samples, B 400 over one.
	routes := s.Routes()
	if len(routes) != 2 {
		t.Fatalf("routes = %+v, want 2 buckets", routes)
	}
	if routes[0].Key != "A" || routes[0].Sum != 510 || routes[0].Count != 2 {
		t.Errorf("routes[0] = %+v, want A sum=510 count=2", routes[0])
	}

	// Time view: 08:00:00 and 08:00:30 share a minute bucket.
	series := s.TimeSeries()
	wantKeys := []string{"2024-05-01T08:00", "2024-05-01T08:01"}
	for i, b := range series {
		if b.Key != wantKeys[i] {
			t.Errorf("series[%d].Key = %q, want %q", i, b.Key, wantKeys[i])
		}
	}

	// Quartiles over [255 400]: Q1=255, Q3=400.
	wantLabels := map[string]classify.Label{
		"A": classify.LabelLight,
		"B": classify.LabelHeavy,
	}
	for _, p := range s.Predictions() {
		if p.Label != wantLabels[p.Route] {
			t.Errorf("route %s: label = %s, want %s", p.Route, p.Label, wantLabels[p.Route])
		}
	}

	if got := s.Recommendations(0); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("recommendations = %v, want [A B]", got)
	}
}

func TestIngest_JSONAutoSniffed(t *testing.T) {
	t.Parallel()

	body := `[
		{"route": "X", "congestion": 250},
		{"route": "Y", "congestion": 300}
	]`
	s := NewSession(config.Limits{})
	sum := ingestCSV(t, s, body, IngestOptions{})
	if sum.Format != FormatJSON {
		t.Errorf("format = %q, want json (sniffed)", sum.Format)
	}
	if sum.Rows != 2 || sum.Routes != 2 {
		t.Errorf("summary = %+v, want 2 rows across 2 routes", sum)
	}
}

func TestIngest_MappingOverrideWins(t *testing.T) {
	t.Parallel()

	// Force the measurement to come from col_b even though inference would
	// pick differently on its own.
	body := "name,col_a,col_b\nA,250,990\n"
	s := NewSession(config.Limits{})
	sum := ingestCSV(t, s, body, IngestOptions{
		Mapping: &infer.Mapping{RouteCol: "name", ValueCol: "col_b"},
	})
	if sum.Mapping.RouteCol != "name" || sum.Mapping.ValueCol != "col_b" {
		t.Fatalf("mapping = %+v, want overrides applied", sum.Mapping)
	}
	routes := s.Routes()
	if len(routes) != 1 || routes[0].Sum != 990 {
		t.Fatalf("routes = %+v, want single bucket with sum=990", routes)
	}
}

func TestIngest_ReplacesDatasetWholesale(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	ingestCSV(t, s, sampleCSV, IngestOptions{})
	ingestCSV(t, s, "route,congestion\nZ,500\n", IngestOptions{})

	routes := s.Routes()
	if len(routes) != 1 || routes[0].Key != "Z" {
		t.Fatalf("routes = %+v, want only Z (no merge with previous dataset)", routes)
	}
}

func TestIngest_ParseFailureKeepsPreviousDataset(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	ingestCSV(t, s, sampleCSV, IngestOptions{})

	_, err := s.Ingest(context.Background(), strings.NewReader(`[1, 2]`), IngestOptions{})
	if err == nil {
		t.Fatalf("Ingest of malformed input: err=nil, want error")
	}
	if routes := s.Routes(); len(routes) != 2 {
		t.Fatalf("routes = %+v, want previous dataset intact", routes)
	}
}

func TestClear_EmptiesAllViews(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	ingestCSV(t, s, sampleCSV, IngestOptions{})
	s.Clear()

	if s.Schema() != nil || s.Routes() != nil || s.TimeSeries() != nil {
		t.Fatalf("views non-empty after Clear")
	}
	if _, err := s.Export(); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("Export after Clear: err=%v, want ErrNoDataset", err)
	}
}

func TestInstall_DiscardsSupersededIngestion(t *testing.T) {
	t.Parallel()

	// Simulate an in-flight ingestion that is overtaken: once a newer
	// sequence starts, the older result must not install.
	s := NewSession(config.Limits{})
	old := s.begin()
	_ = s.begin()
	if s.install(old, &dataset{}) {
		t.Fatalf("stale install succeeded, want discard")
	}

	fresh := s.begin()
	if !s.install(fresh, &dataset{}) {
		t.Fatalf("current install rejected")
	}
}

func TestInstall_ClearSupersedesInFlightIngestion(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	seq := s.begin()
	s.Clear()
	if s.install(seq, &dataset{}) {
		t.Fatalf("install after Clear succeeded, want discard")
	}
}

func TestExport_Document(t *testing.T) {
	t.Parallel()

	s := NewSession(config.Limits{})
	ingestCSV(t, s, sampleCSV, IngestOptions{})

	doc, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Meta.GenerationID == "" {
		t.Errorf("generation ID empty")
	}
	if doc.Meta.Rows != 3 {
		t.Errorf("meta.rows = %d, want 3", doc.Meta.Rows)
	}
	if len(doc.Routes) != 2 || len(doc.Classifications) != 2 {
		t.Errorf("routes=%d classifications=%d, want 2 each", len(doc.Routes), len(doc.Classifications))
	}
	if doc.Summary.Routes != 2 || doc.Summary.Min != 255 || doc.Summary.Max != 400 {
		t.Errorf("summary = %+v, want routes=2 min=255 max=400", doc.Summary)
	}

	// Each export is a distinct generation over the same dataset.
	doc2, err := s.Export()
	if err != nil {
		t.Fatalf("second Export: %v", err)
	}
	if doc2.Meta.GenerationID == doc.Meta.GenerationID {
		t.Errorf("generation IDs equal across exports")
	}
	if !reflect.DeepEqual(doc.Routes, doc2.Routes) {
		t.Errorf("route aggregates changed between exports without ingestion")
	}
}

func TestExport_ReingestReproducesAggregates(t *testing.T) {
	t.Parallel()

	s1 := NewSession(config.Limits{})
	ingestCSV(t, s1, sampleCSV, IngestOptions{})
	doc, err := s1.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// The exported aggregates survive a JSON round trip unchanged.
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	var decoded Document
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if !reflect.DeepEqual(decoded.Routes, doc.Routes) {
		t.Errorf("routes after JSON round trip = %+v, want %+v", decoded.Routes, doc.Routes)
	}
	if !reflect.DeepEqual(decoded.TimeSeries, doc.TimeSeries) {
		t.Errorf("time series after JSON round trip = %+v, want %+v", decoded.TimeSeries, doc.TimeSeries)
	}

	// Feeding the same raw input through a fresh session reproduces the
	// exported route and time-series views exactly.
	s2 := NewSession(config.Limits{})
	ingestCSV(t, s2, sampleCSV, IngestOptions{})
	if got := s2.Routes(); !reflect.DeepEqual(got, doc.Routes) {
		t.Errorf("re-ingested routes = %+v, want %+v", got, doc.Routes)
	}
	if got := s2.TimeSeries(); !reflect.DeepEqual(got, doc.TimeSeries) {
		t.Errorf("re-ingested time series = %+v, want %+v", got, doc.TimeSeries)
	}
}

func TestIngest_RowCapDropsOverflow(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("route,congestion\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("A,250\n")
	}
	s := NewSession(config.Limits{MaxRows: 4})
	sum := ingestCSV(t, s, sb.String(), IngestOptions{})
	if sum.Rows != 4 {
		t.Fatalf("rows = %d, want 4 (capped)", sum.Rows)
	}
	// The six excess rows must be accounted for, not silently discarded.
	if sum.Stats.DroppedOverflow != 6 {
		t.Fatalf("stats.DroppedOverflow = %d, want 6", sum.Stats.DroppedOverflow)
	}
}

func TestIngest_RowCapDropsOverflowJSON(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 10; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"route": "A", "congestion": 250}`)
	}
	sb.WriteString("]")

	s := NewSession(config.Limits{MaxRows: 4})
	sum := ingestCSV(t, s, sb.String(), IngestOptions{})
	if sum.Rows != 4 {
		t.Fatalf("rows = %d, want 4 (capped)", sum.Rows)
	}
	if sum.Stats.DroppedOverflow != 6 {
		t.Fatalf("stats.DroppedOverflow = %d, want 6", sum.Stats.DroppedOverflow)
	}
}
