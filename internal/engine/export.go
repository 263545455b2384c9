package engine

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"trafficlens/internal/aggregate"
	"trafficlens/internal/classify"
	"trafficlens/internal/infer"
	"trafficlens/internal/normalize"
	"trafficlens/internal/recommend"
)

// ErrNoDataset reports an export attempt with nothing loaded.
var ErrNoDataset = errors.New("engine: no dataset loaded")

// Document is the full JSON export of a dataset snapshot. It is
// self-contained: routes, series, classifications and recommendations are
// all precomputed so a consumer never needs to rerun the pipeline.
type Document struct {
	Meta            Meta                   `json:"meta"`
	Schema          []infer.ColumnProfile  `json:"schema"`
	Mapping         infer.Mapping          `json:"mapping"`
	Routes          []aggregate.Bucket     `json:"routes"`
	TimeSeries      []aggregate.Bucket     `json:"time_series"`
	Classifications []classify.Prediction  `json:"classifications"`
	Distribution    map[classify.Label]int `json:"distribution"`
	Recommended     []string               `json:"recommended"`
	Summary         ValueSummary           `json:"summary"`
}

// Meta identifies one export generation.
type Meta struct {
	GenerationID string          `json:"generation_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	IngestedAt   time.Time       `json:"ingested_at"`
	Rows         int             `json:"rows"`
	Stats        normalize.Stats `json:"stats"`
	SkippedLines int             `json:"skipped_lines"`
}

// ValueSummary describes the spread of per-route average values.
type ValueSummary struct {
	Routes int     `json:"routes"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Export snapshots the current dataset into a Document. Each call mints a
// fresh generation ID.
func (s *Session) Export() (Document, error) {
	ds := s.current()
	if ds == nil {
		return Document{}, ErrNoDataset
	}

	avgs := ds.acc.RouteAverages()
	preds := classify.Classify(avgs)
	return Document{
		Meta: Meta{
			GenerationID: uuid.NewString(),
			GeneratedAt:  time.Now().UTC(),
			IngestedAt:   ds.ingestedAt,
			Rows:         len(ds.rows),
			Stats:        ds.stats,
			SkippedLines: ds.skipped,
		},
		Schema:          ds.profiles,
		Mapping:         ds.mapping,
		Routes:          ds.acc.RouteBuckets(),
		TimeSeries:      ds.acc.TimeSeries(),
		Classifications: preds,
		Distribution:    classify.Distribution(preds),
		Recommended:     recommend.Recommend(avgs, s.limits.TopNOrDefault()),
		Summary:         summarizeValues(avgs),
	}, nil
}

func summarizeValues(avgs []aggregate.RouteAverage) ValueSummary {
	var vals []float64
	for _, a := range avgs {
		if a.Known {
			vals = append(vals, a.Avg)
		}
	}
	out := ValueSummary{Routes: len(avgs)}
	if len(vals) == 0 {
		return out
	}
	out.Mean, out.StdDev = stat.MeanStdDev(vals, nil)
	if len(vals) == 1 || math.IsNaN(out.StdDev) {
		out.StdDev = 0
	}
	out.Min, out.Max = vals[0], vals[0]
	for _, v := range vals[1:] {
		out.Min = math.Min(out.Min, v)
		out.Max = math.Max(out.Max, v)
	}
	return out
}
