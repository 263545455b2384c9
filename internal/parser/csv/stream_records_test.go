package csv

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"trafficlens/internal/config"
)

func TestReadBatch_HeaderAndRecords(t *testing.T) {
	t.Parallel()

	input := "route,value\nA,10\nB,20\n"
	batch, skipped, _, err := ReadBatch(context.Background(), strings.NewReader(input), nil, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if !reflect.DeepEqual(batch.Fields, []string{"route", "value"}) {
		t.Fatalf("fields = %v", batch.Fields)
	}
	if batch.Len() != 2 {
		t.Fatalf("records = %d, want 2", batch.Len())
	}
	if v, _ := batch.Records[0].String("route"); v != "A" {
		t.Fatalf("records[0].route = %q, want A", v)
	}
	if f, ok := batch.Records[1].Float("value"); !ok || f != 20 {
		t.Fatalf("records[1].value = %v (%v), want 20", f, ok)
	}
}

func TestReadBatch_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	// The second data line has a missing column; it must be counted and
	// skipped without failing the batch.
	input := "route,value\nA,10\nB\nC,30\n"
	batch, skipped, _, err := ReadBatch(context.Background(), strings.NewReader(input), nil, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if batch.Len() != 2 {
		t.Fatalf("records = %d, want 2", batch.Len())
	}
}

func TestReadBatch_EmptyCellsBecomeNil(t *testing.T) {
	t.Parallel()

	input := "route,value\nA,\n"
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(input), nil, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if v, ok := batch.Records[0]["value"]; !ok || v != nil {
		t.Fatalf("value cell = %v (present=%v), want present nil", v, ok)
	}
}

func TestReadBatch_StripsByteOrderMark(t *testing.T) {
	t.Parallel()

	input := "\uFEFFroute,value\nA,1\n"
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(input), nil, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if batch.Fields[0] != "route" {
		t.Fatalf("fields[0] = %q, want route (BOM stripped)", batch.Fields[0])
	}
}

func TestReadBatch_CustomDelimiter(t *testing.T) {
	t.Parallel()

	input := "route;value\nA;10\n"
	opt := config.Options{"comma": ";"}
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(input), opt, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if !reflect.DeepEqual(batch.Fields, []string{"route", "value"}) {
		t.Fatalf("fields = %v", batch.Fields)
	}
}

func TestReadBatch_CountsRecordsBeyondCap(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("route,value\n")
	for i := 0; i < 100; i++ {
		sb.WriteString("A,1\n")
	}
	batch, skipped, dropped, err := ReadBatch(context.Background(), strings.NewReader(sb.String()), nil, 10)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if batch.Len() != 10 {
		t.Fatalf("records = %d, want 10 (capped)", batch.Len())
	}
	if dropped != 90 {
		t.Fatalf("dropped = %d, want 90", dropped)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
}

func TestReadBatch_NormalizesHeaders(t *testing.T) {
	t.Parallel()

	input := "Route ID,Vehicle-Count\nA,1\n"
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(input), nil, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if !reflect.DeepEqual(batch.Fields, []string{"route_id", "vehicle_count"}) {
		t.Fatalf("fields = %v, want normalized identifiers", batch.Fields)
	}
	if v, _ := batch.Records[0].String("route_id"); v != "A" {
		t.Fatalf("route_id = %q, want A", v)
	}
}

func TestReadBatch_HeaderMapRenames(t *testing.T) {
	t.Parallel()

	input := "Straße,Wert\nA,1\n"
	opt := config.Options{
		"header_map": map[string]string{"Straße": "route", "Wert": "value"},
	}
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(input), opt, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if !reflect.DeepEqual(batch.Fields, []string{"route", "value"}) {
		t.Fatalf("fields = %v, want renamed headers", batch.Fields)
	}
}

func TestReadBatch_Latin1Encoding(t *testing.T) {
	t.Parallel()

	// "Straße" in Latin-1: ß is byte 0xDF.
	raw := []byte("route,name\nA,Stra\xdfe\n")
	opt := config.Options{"encoding": "latin1"}
	batch, _, _, err := ReadBatch(context.Background(), strings.NewReader(string(raw)), opt, 0)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if v, _ := batch.Records[0].String("name"); v != "Straße" {
		t.Fatalf("name = %q, want Straße", v)
	}
}

func TestReadBatch_UnsupportedEncodingIsTerminal(t *testing.T) {
	t.Parallel()

	opt := config.Options{"encoding": "ebcdic"}
	if _, _, _, err := ReadBatch(context.Background(), strings.NewReader("a\n1\n"), opt, 0); err == nil {
		t.Fatalf("ReadBatch with unknown encoding: err=nil, want error")
	}
}
