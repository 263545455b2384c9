// Package records defines the untyped record shapes exchanged between the
// parsers and the analytics engine.
//
// A Record is the raw, pre-typing view of one ingested line or object. Values
// are the tagged scalar union tolerated at the ingestion boundary: string,
// json.Number, float64, bool, or nil. All downstream types are strict; the
// only place type ambiguity lives is here and in the inference/coercion
// packages that consume it.
package records

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record maps a column name to an untyped scalar. Records are treated as
// immutable once produced by a parser.
type Record map[string]any

// Batch is one complete ingestion's worth of raw records together with the
// declared field list reported by the parser.
//
// Fields preserves the source column order for CSV input. For JSON input it
// is the sorted union of keys observed across the batch; records missing a
// key are treated as having a nil value for it.
type Batch struct {
	Fields  []string
	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// String coerces a record value to its string form. Missing, nil, and empty
// values return ("", false).
func (r Record) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		return s, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// Float coerces a record value to a finite float64. Non-numeric strings and
// unsupported kinds return (0, false).
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return finite(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Has reports whether the record carries a non-nil value for field.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}
