package engine

import (
	"time"

	"trafficlens/internal/aggregate"
	"trafficlens/internal/classify"
	"trafficlens/internal/infer"
	"trafficlens/internal/normalize"
	"trafficlens/internal/recommend"
)

// Marker is a map-ready point: a normalized row that carried both
// coordinates.
type Marker struct {
	Route     string     `json:"route"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Value     *float64   `json:"value,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Schema returns the column profiles of the current dataset, or nil when
// nothing is loaded.
func (s *Session) Schema() []infer.ColumnProfile {
	ds := s.current()
	if ds == nil {
		return nil
	}
	return ds.profiles
}

// Mapping returns the column mapping in effect for the current dataset.
func (s *Session) Mapping() (infer.Mapping, bool) {
	ds := s.current()
	if ds == nil {
		return infer.Mapping{}, false
	}
	return ds.mapping, true
}

// Routes returns per-route buckets sorted by route name.
func (s *Session) Routes() []aggregate.Bucket {
	ds := s.current()
	if ds == nil {
		return nil
	}
	return ds.acc.RouteBuckets()
}

// TimeSeries returns minute buckets in ascending key order.
func (s *Session) TimeSeries() []aggregate.Bucket {
	ds := s.current()
	if ds == nil {
		return nil
	}
	return ds.acc.TimeSeries()
}

// Predictions classifies every route against the dataset's quartiles.
func (s *Session) Predictions() []classify.Prediction {
	ds := s.current()
	if ds == nil {
		return nil
	}
	return classify.Classify(ds.acc.RouteAverages())
}

// Recommendations returns up to topN route names ordered best (lowest
// average) first. topN <= 0 uses the session default.
func (s *Session) Recommendations(topN int) []string {
	ds := s.current()
	if ds == nil {
		return nil
	}
	if topN <= 0 {
		topN = s.limits.TopNOrDefault()
	}
	return recommend.Recommend(ds.acc.RouteAverages(), topN)
}

// Markers returns the rows that carried usable coordinates.
func (s *Session) Markers() []Marker {
	ds := s.current()
	if ds == nil {
		return nil
	}
	var out []Marker
	for _, r := range ds.rows {
		if !r.HasGeo() {
			continue
		}
		out = append(out, Marker{
			Route:     r.Route,
			Lat:       *r.Lat,
			Lng:       *r.Lng,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

// Stats returns the normalization counters of the current dataset.
func (s *Session) Stats() (normalize.Stats, bool) {
	ds := s.current()
	if ds == nil {
		return normalize.Stats{}, false
	}
	return ds.stats, true
}
