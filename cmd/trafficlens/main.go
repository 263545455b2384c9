// Command trafficlens runs the analysis pipeline over one dataset and
// prints the results.
//
// The input may be a local path, a file:// URL, or an http(s):// URL. The
// format is sniffed from the leading bytes unless -format is given. Column
// roles are inferred from the data; the -route-col/-time-col/-value-col/
// -lat-col/-lng-col flags override individual columns when inference gets
// one wrong.
//
// Output modes:
//
//   - Default: a human-readable summary plus recommendations on stdout.
//   - -export <path>: writes the full JSON export document ("-" for stdout).
//   - -html <path>: writes the HTML dashboard.
//   - -archive-kind/-archive-dsn: additionally archives the export document.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"trafficlens/internal/archive"
	_ "trafficlens/internal/archive/mssql"
	_ "trafficlens/internal/archive/postgres"
	_ "trafficlens/internal/archive/sqlite"
	"trafficlens/internal/config"
	"trafficlens/internal/datasource/file"
	"trafficlens/internal/datasource/httpds"
	"trafficlens/internal/engine"
	"trafficlens/internal/infer"
	"trafficlens/internal/metrics"
	"trafficlens/internal/metrics/datadog"
	"trafficlens/internal/report"
)

func main() {
	var (
		flagInput     = flag.String("input", "", "dataset path or URL (CSV or JSON)")
		flagFormat    = flag.String("format", "", "input format: csv, json (default: sniff)")
		flagDelimiter = flag.String("delimiter", "", "CSV delimiter override (single character)")

		flagRouteCol = flag.String("route-col", "", "column to use as the route key")
		flagTimeCol  = flag.String("time-col", "", "column to use as the timestamp")
		flagValueCol = flag.String("value-col", "", "column to use as the measurement")
		flagLatCol   = flag.String("lat-col", "", "column to use as latitude")
		flagLngCol   = flag.String("lng-col", "", "column to use as longitude")

		flagTop     = flag.Int("top", 0, "number of recommended routes (default 3)")
		flagMaxRows = flag.Int("max-rows", 0, "cap on normalized rows (default 200000)")
		flagSample  = flag.Int("sample", 0, "rows sampled for schema inference (default 500)")

		flagExport = flag.String("export", "", "write the JSON export document to this path (- for stdout)")
		flagHTML   = flag.String("html", "", "write the HTML dashboard to this path")

		flagArchiveKind = flag.String("archive-kind", "", "archive backend: sqlite, postgres, mssql (empty: no archiving)")
		flagArchiveDSN  = flag.String("archive-dsn", "", "archive backend DSN")

		flagMetrics = flag.String("metrics-backend", "none", "metrics backend: datadog, none")
		flagDDTags  = flag.String("dd-tags", "", "extra Datadog tags, comma separated (k:v,k:v)")

		flagVerbose = flag.Bool("v", false, "enable verbose logs")
	)
	flag.Parse()

	if *flagInput == "" {
		fatalf("missing -input")
	}

	ctx := context.Background()

	if *flagMetrics == "datadog" {
		backend, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "trafficlens",
			Tags:    datadog.ParseTagsCSV(*flagDDTags),
		})
		if err != nil {
			fatalf("datadog backend: %v", err)
		}
		metrics.SetBackend(backend)
		defer func() { _ = backend.Close() }()
	}

	src, err := openInput(ctx, *flagInput)
	if err != nil {
		fatalf("open input: %v", err)
	}
	defer src.Close()

	limits := config.Limits{
		SampleRows: *flagSample,
		MaxRows:    *flagMaxRows,
		TopN:       *flagTop,
	}
	session := engine.NewSession(limits)

	opts := engine.IngestOptions{Format: engine.Format(*flagFormat)}
	if *flagDelimiter != "" {
		opts.CSV = config.Options{"comma": *flagDelimiter}
	}
	if m := mappingFromFlags(*flagRouteCol, *flagTimeCol, *flagValueCol, *flagLatCol, *flagLngCol); m != nil {
		opts.Mapping = m
	}

	start := time.Now()
	summary, err := session.Ingest(ctx, src, opts)
	if err != nil {
		fatalf("ingest: %v", err)
	}
	if *flagVerbose {
		log.Printf("ingested %d rows (%d dropped, %d skipped lines) across %d routes in %s",
			summary.Rows, summary.Stats.Dropped(), summary.Skipped, summary.Routes, time.Since(start).Round(time.Millisecond))
	}

	doc, err := session.Export()
	if err != nil {
		fatalf("export: %v", err)
	}

	if *flagExport != "" {
		if err := writeExport(*flagExport, doc); err != nil {
			fatalf("write export: %v", err)
		}
	} else {
		printSummary(os.Stdout, doc)
	}

	if *flagHTML != "" {
		f, err := os.Create(*flagHTML)
		if err != nil {
			fatalf("create %s: %v", *flagHTML, err)
		}
		if err := report.RenderDashboard(f, doc); err != nil {
			fatalf("render dashboard: %v", err)
		}
		if err := f.Close(); err != nil {
			fatalf("close %s: %v", *flagHTML, err)
		}
		if *flagVerbose {
			log.Printf("dashboard written to %s", *flagHTML)
		}
	}

	if *flagArchiveKind != "" {
		store, err := archive.New(ctx, archive.Config{Kind: *flagArchiveKind, DSN: *flagArchiveDSN})
		if err != nil {
			fatalf("archive: %v", err)
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			fatalf("archive init: %v", err)
		}
		if err := store.Save(ctx, doc); err != nil {
			fatalf("archive save: %v", err)
		}
		if *flagVerbose {
			log.Printf("snapshot %s archived to %s", doc.Meta.GenerationID, *flagArchiveKind)
		}
	}

	_ = metrics.Flush()
}

// openInput resolves a path, file:// URL, or http(s):// URL into a reader.
func openInput(ctx context.Context, input string) (io.ReadCloser, error) {
	u, err := url.Parse(input)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			client := httpds.NewClient(httpds.Config{Timeout: 60 * time.Second})
			return client.Open(ctx, input)
		case "file":
			return file.NewLocal(u.Path).Open(ctx)
		}
	}
	return file.NewLocal(input).Open(ctx)
}

func mappingFromFlags(route, ts, value, lat, lng string) *infer.Mapping {
	m := infer.Mapping{RouteCol: route, TimeCol: ts, ValueCol: value, LatCol: lat, LngCol: lng}
	if m == (infer.Mapping{}) {
		return nil
	}
	return &m
}

func writeExport(path string, doc engine.Document) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// printSummary writes a terse human-readable run summary.
func printSummary(w io.Writer, doc engine.Document) {
	fmt.Fprintf(w, "routes=%d  time_buckets=%d  rows=%d\n", len(doc.Routes), len(doc.TimeSeries), doc.Meta.Rows)

	fmt.Fprintln(w, "\nclassification:")
	for _, p := range doc.Classifications {
		if !p.Known {
			fmt.Fprintf(w, "  %-30s %s\n", p.Route, p.Label)
			continue
		}
		fmt.Fprintf(w, "  %-30s %-8s avg=%.2f\n", p.Route, p.Label, p.Avg)
	}

	if len(doc.Recommended) > 0 {
		fmt.Fprintf(w, "\nrecommended: %s\n", strings.Join(doc.Recommended, ", "))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "trafficlens: "+format+"\n", args...)
	os.Exit(1)
}
