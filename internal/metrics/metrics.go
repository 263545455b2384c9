// Package metrics defines the minimal backend interface the engine and its
// collaborators report through. The default backend is a nop so library code
// can instrument unconditionally.
package metrics

import "sync/atomic"

// Labels tag one observation.
type Labels map[string]string

// Backend receives counter increments and histogram samples. Implementations
// must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names reported by the ingestion pipeline.
const (
	MetricRecordsTotal        = "traffic_records_total"         // kind: parsed|kept|dropped_empty|dropped_overflow|skipped
	MetricIngestTotal         = "traffic_ingest_total"          // status: ok|error|stale
	MetricStageDurationSecond = "traffic_stage_duration_seconds" // stage: fetch|parse|infer|normalize|aggregate|classify
	MetricFetchBytes          = "traffic_fetch_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// backendBox gives atomic.Value a single concrete type to store regardless of
// the backend's dynamic type.
type backendBox struct{ b Backend }

var current atomic.Value

func init() { current.Store(backendBox{nopBackend{}}) }

// SetBackend installs the process-wide backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(backendBox{b})
}

func backend() Backend { return current.Load().(backendBox).b }

// IncCounter reports a counter increment to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram reports a histogram sample to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return backend().Flush() }
