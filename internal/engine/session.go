// Package engine owns the session-scoped dataset and drives the ingestion
// pipeline: parse, infer, normalize, aggregate, classify, recommend.
//
// A Session holds at most one dataset: the most recently completed
// ingestion. Re-ingestion replaces the dataset wholesale; there is no
// row-level update path and no partial merge. If a newer ingestion starts
// while an older one is still running, the older one's results are discarded
// when it tries to install them.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"trafficlens/internal/aggregate"
	"trafficlens/internal/config"
	"trafficlens/internal/infer"
	"trafficlens/internal/metrics"
	"trafficlens/internal/normalize"
	csvparser "trafficlens/internal/parser/csv"
	jsonparser "trafficlens/internal/parser/json"
	"trafficlens/pkg/records"
)

// Format identifies the ingestion input format.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrSuperseded reports that a newer ingestion started while this one was
// running; its results were discarded and the session reflects the newer
// dataset.
var ErrSuperseded = errors.New("engine: ingestion superseded by a newer one")

// IngestOptions control one ingestion call.
type IngestOptions struct {
	// Format of the input; FormatAuto sniffs from the leading bytes.
	Format Format
	// CSV holds parser options for delimited input (comma, encoding, ...).
	CSV config.Options
	// Mapping overrides inference per field; empty entries keep the
	// inferred best guess.
	Mapping *infer.Mapping
}

// dataset is one completed ingestion snapshot. Immutable once installed.
type dataset struct {
	batch    records.Batch
	profiles []infer.ColumnProfile
	mapping  infer.Mapping
	rows     []normalize.Row
	acc      *aggregate.Accumulator
	stats    normalize.Stats
	// skipped counts malformed CSV lines discarded by the parser, before
	// normalization ever saw them.
	skipped    int
	ingestedAt time.Time
}

// Session owns the current dataset for one consumer.
type Session struct {
	limits config.Limits

	mu  sync.Mutex
	seq uint64
	cur *dataset
}

func NewSession(limits config.Limits) *Session {
	return &Session{limits: limits}
}

// Summary reports the outcome of one ingestion.
type Summary struct {
	Format     Format          `json:"format"`
	Fields     int             `json:"fields"`
	Rows       int             `json:"rows"`
	Stats      normalize.Stats `json:"stats"`
	Skipped    int             `json:"skipped_lines"`
	Routes     int             `json:"routes"`
	Mapping    infer.Mapping   `json:"mapping"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// Ingest runs the full pipeline over src and installs the result as the
// session's dataset.
//
// Failure semantics: a parse failure is terminal for this attempt and leaves
// any previously installed dataset untouched. Row-level problems never fail
// the call; they surface as counters in the summary.
func (s *Session) Ingest(ctx context.Context, src io.Reader, opts IngestOptions) (Summary, error) {
	seq := s.begin()

	ds, format, err := s.buildDataset(ctx, src, opts)
	if err != nil {
		metrics.IncCounter(metrics.MetricIngestTotal, 1, metrics.Labels{"status": "error"})
		return Summary{}, err
	}

	if !s.install(seq, ds) {
		metrics.IncCounter(metrics.MetricIngestTotal, 1, metrics.Labels{"status": "stale"})
		return Summary{}, ErrSuperseded
	}

	metrics.IncCounter(metrics.MetricIngestTotal, 1, metrics.Labels{"status": "ok"})
	return summarize(ds, format), nil
}

// Clear discards the current dataset. Derived views become empty until the
// next ingestion.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.cur = nil
}

func (s *Session) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// install publishes the dataset unless a newer ingestion (or Clear) started
// after this one began.
func (s *Session) install(seq uint64, ds *dataset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return false
	}
	s.cur = ds
	return true
}

func (s *Session) current() *dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) buildDataset(ctx context.Context, src io.Reader, opts IngestOptions) (*dataset, Format, error) {
	br := bufio.NewReaderSize(src, 4096)

	format := opts.Format
	if format == FormatAuto {
		peek, _ := br.Peek(512)
		format = SniffFormat(peek)
	}

	maxRecords := s.limits.MaxRowsOrDefault()

	parseStart := time.Now()
	var (
		batch    records.Batch
		skipped  int
		overflow int
		err      error
	)
	switch format {
	case FormatCSV:
		batch, skipped, overflow, err = csvparser.ReadBatch(ctx, br, opts.CSV, maxRecords)
	case FormatJSON:
		batch, overflow, err = jsonparser.ReadBatch(ctx, br, maxRecords)
	default:
		return nil, format, fmt.Errorf("engine: unrecognized input format")
	}
	if err != nil {
		return nil, format, fmt.Errorf("engine: parse: %w", err)
	}
	observeStage("parse", parseStart)
	metrics.IncCounter(metrics.MetricRecordsTotal, float64(batch.Len()), metrics.Labels{"kind": "parsed"})
	if skipped > 0 {
		metrics.IncCounter(metrics.MetricRecordsTotal, float64(skipped), metrics.Labels{"kind": "skipped"})
	}

	inferStart := time.Now()
	profiles := infer.Profile(batch, s.limits.SampleRowsOrDefault())
	mapping := infer.BestMapping(profiles)
	if opts.Mapping != nil {
		mapping = overlayMapping(mapping, *opts.Mapping)
	}
	observeStage("infer", inferStart)

	normStart := time.Now()
	rows, stats := normalize.Normalize(batch, mapping, s.limits)
	// Records the parser discarded past the row cap never reached Normalize;
	// they still count as overflow.
	stats.DroppedOverflow += overflow
	observeStage("normalize", normStart)
	metrics.IncCounter(metrics.MetricRecordsTotal, float64(stats.Kept), metrics.Labels{"kind": "kept"})
	metrics.IncCounter(metrics.MetricRecordsTotal, float64(stats.DroppedEmpty), metrics.Labels{"kind": "dropped_empty"})
	metrics.IncCounter(metrics.MetricRecordsTotal, float64(stats.DroppedOverflow), metrics.Labels{"kind": "dropped_overflow"})

	aggStart := time.Now()
	acc := aggregate.NewAccumulator()
	for _, r := range rows {
		acc.Fold(r)
	}
	observeStage("aggregate", aggStart)

	return &dataset{
		batch:      batch,
		profiles:   profiles,
		mapping:    mapping,
		rows:       rows,
		acc:        acc,
		stats:      stats,
		skipped:    skipped,
		ingestedAt: time.Now().UTC(),
	}, format, nil
}

func observeStage(stage string, start time.Time) {
	metrics.ObserveHistogram(metrics.MetricStageDurationSecond, time.Since(start).Seconds(), metrics.Labels{"stage": stage})
}

// overlayMapping applies non-empty override fields on top of the inferred
// mapping.
func overlayMapping(base, override infer.Mapping) infer.Mapping {
	if override.RouteCol != "" {
		base.RouteCol = override.RouteCol
	}
	if override.TimeCol != "" {
		base.TimeCol = override.TimeCol
	}
	if override.ValueCol != "" {
		base.ValueCol = override.ValueCol
	}
	if override.LatCol != "" {
		base.LatCol = override.LatCol
	}
	if override.LngCol != "" {
		base.LngCol = override.LngCol
	}
	return base
}

// SniffFormat decides CSV vs JSON from a byte sample. Heuristic and
// intentionally conservative: JSON roots start with '{' or '['; everything
// else reads as delimited text.
func SniffFormat(sample []byte) Format {
	trim := bytes.TrimSpace(sample)
	if len(trim) == 0 {
		return FormatCSV
	}
	if trim[0] == '{' || trim[0] == '[' {
		return FormatJSON
	}
	return FormatCSV
}

func summarize(ds *dataset, format Format) Summary {
	return Summary{
		Format:     format,
		Fields:     len(ds.batch.Fields),
		Rows:       len(ds.rows),
		Stats:      ds.stats,
		Skipped:    ds.skipped,
		Routes:     len(ds.acc.Routes()),
		Mapping:    ds.mapping,
		IngestedAt: ds.ingestedAt,
	}
}
