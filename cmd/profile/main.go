// Command profile inspects a dataset sample and reports the inferred
// column roles without running the full pipeline.
//
// It reads a bounded prefix of the input (default 20KB), parses it as CSV
// or JSON, and prints the column profiles and the best column mapping as
// JSON. Useful for checking what the engine would do with a feed before
// ingesting it, and for working out which override flags an ingestion
// needs.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"trafficlens/internal/config"
	"trafficlens/internal/datasource/file"
	"trafficlens/internal/datasource/httpds"
	"trafficlens/internal/engine"
	"trafficlens/internal/infer"
	csvparser "trafficlens/internal/parser/csv"
	jsonparser "trafficlens/internal/parser/json"
	"trafficlens/pkg/records"
)

type output struct {
	Source  string                `json:"source"`
	Format  engine.Format         `json:"format"`
	Fields  []string              `json:"fields"`
	Records int                   `json:"records_sampled"`
	Columns []infer.ColumnProfile `json:"columns"`
	Mapping infer.Mapping         `json:"mapping"`
}

func main() {
	var (
		flagURL    = flag.String("url", "", "URL or path of the source file (CSV or JSON)")
		flagBytes  = flag.Int("bytes", 0, "number of bytes to sample from the start of the file (default 20000)")
		flagFormat = flag.String("format", "", "input format: csv, json (default: sniff)")
	)
	flag.Parse()

	if *flagURL == "" {
		fatalf("missing -url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	limits := config.Limits{PeekBytes: *flagBytes}
	sample, err := fetchSample(ctx, *flagURL, limits.PeekBytesOrDefault())
	if err != nil {
		fatalf("sample %s: %v", *flagURL, err)
	}

	format := engine.Format(*flagFormat)
	if format == engine.FormatAuto {
		format = engine.SniffFormat(sample)
	}

	// A truncated CSV sample usually ends mid-record; the cut line is
	// skipped as malformed. JSON frames itself, so a sample cut mid-object
	// is a parse failure.
	var batch records.Batch
	switch format {
	case engine.FormatCSV:
		batch, _, _, err = csvparser.ReadBatch(ctx, bytes.NewReader(sample), nil, limits.SampleRowsOrDefault())
	case engine.FormatJSON:
		batch, _, err = jsonparser.ReadBatch(ctx, bytes.NewReader(sample), limits.SampleRowsOrDefault())
	default:
		fatalf("unsupported format %q", format)
	}
	if err != nil {
		fatalf("parse sample: %v", err)
	}

	profiles := infer.Profile(batch, limits.SampleRowsOrDefault())
	out := output{
		Source:  *flagURL,
		Format:  format,
		Fields:  batch.Fields,
		Records: batch.Len(),
		Columns: profiles,
		Mapping: infer.BestMapping(profiles),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatalf("encode output: %v", err)
	}
}

// fetchSample reads up to n bytes from a URL or local path.
func fetchSample(ctx context.Context, input string, n int) ([]byte, error) {
	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		client := httpds.NewClient(httpds.Config{Timeout: 30 * time.Second})
		return client.FetchFirstBytes(ctx, input, n)
	}

	path := input
	if u, err := url.Parse(input); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	rc, err := file.NewLocal(path).Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, int64(n)))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "profile: "+format+"\n", args...)
	os.Exit(1)
}
