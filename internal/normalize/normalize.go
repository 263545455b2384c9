// Package normalize converts raw heterogeneous records into canonical rows
// using a column mapping produced by inference or supplied by the caller.
//
// Normalization is best-effort and never fails: fields that cannot be coerced
// become nil, and a record is dropped only when every mapped field coerces to
// nothing. Drop reasons are counted, not raised.
package normalize

import (
	"time"

	"trafficlens/internal/config"
	"trafficlens/internal/infer"
	"trafficlens/pkg/records"
)

// UnknownRoute is the fallback group key for records with no usable route
// value. A normalized row's route is never empty.
const UnknownRoute = "Unknown"

// Row is one record after coercion into the canonical shape. Nil pointer
// fields mean the source value was absent or failed coercion. Rows are never
// mutated after creation.
type Row struct {
	Route     string
	Timestamp *time.Time
	Value     *float64
	Lat       *float64
	Lng       *float64
	Raw       records.Record
}

// HasGeo reports whether the row carries both coordinates and is therefore
// eligible for map-marker rendering.
func (r Row) HasGeo() bool { return r.Lat != nil && r.Lng != nil }

// Stats counts the outcomes of one normalization pass.
type Stats struct {
	// Input is the number of raw records examined.
	Input int `json:"input"`
	// Kept is the number of rows produced.
	Kept int `json:"kept"`
	// DroppedEmpty counts records whose mapped fields all coerced to nothing.
	DroppedEmpty int `json:"dropped_empty"`
	// DroppedOverflow counts records beyond the row cap.
	DroppedOverflow int `json:"dropped_overflow"`
}

// Dropped is the total number of records that produced no row.
func (s Stats) Dropped() int { return s.DroppedEmpty + s.DroppedOverflow }

// Normalize maps every record of the batch through the column mapping.
//
// Per-field behavior:
//   - route: coerced to string; empty or missing falls back to UnknownRoute
//     (never drops the record)
//   - timestamp: loose parse; unparsable becomes nil and the row is kept
//   - value: finite number or nil
//   - lat/lng: finite numbers inside valid geographic bounds, else nil
//
// A record is dropped (and counted in DroppedEmpty) only when every mapped
// field is nil AND the route fell back to UnknownRoute. Records beyond
// limits.MaxRows are dropped and counted in DroppedOverflow.
func Normalize(batch records.Batch, mapping infer.Mapping, limits config.Limits) ([]Row, Stats) {
	maxRows := limits.MaxRowsOrDefault()

	rows := make([]Row, 0, min(len(batch.Records), maxRows))
	var stats Stats

	for _, rec := range batch.Records {
		stats.Input++

		if len(rows) >= maxRows {
			stats.DroppedOverflow++
			continue
		}

		row, empty := normalizeRecord(rec, mapping)
		if empty {
			stats.DroppedEmpty++
			continue
		}
		rows = append(rows, row)
		stats.Kept++
	}
	return rows, stats
}

func normalizeRecord(rec records.Record, mapping infer.Mapping) (Row, bool) {
	row := Row{Route: UnknownRoute, Raw: rec}

	routeKnown := false
	if mapping.RouteCol != "" {
		if s, ok := infer.CoerceString(rec[mapping.RouteCol]); ok {
			row.Route = s
			routeKnown = true
		}
	}
	if mapping.TimeCol != "" {
		if ts, ok := infer.ParseTime(rec[mapping.TimeCol]); ok {
			row.Timestamp = &ts
		}
	}
	if mapping.ValueCol != "" {
		if f, ok := infer.ParseNumber(rec[mapping.ValueCol]); ok {
			row.Value = &f
		}
	}
	if mapping.LatCol != "" {
		if f, ok := infer.ParseNumber(rec[mapping.LatCol]); ok && f >= -90 && f <= 90 {
			row.Lat = &f
		}
	}
	if mapping.LngCol != "" {
		if f, ok := infer.ParseNumber(rec[mapping.LngCol]); ok && f >= -180 && f <= 180 {
			row.Lng = &f
		}
	}

	empty := !routeKnown &&
		row.Timestamp == nil &&
		row.Value == nil &&
		row.Lat == nil &&
		row.Lng == nil
	return row, empty
}
