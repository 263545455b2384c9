package infer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Loose value coercion shared by role inference and the row normalizer. All
// parsers here are permissive: they answer "could this value plausibly be an
// X" rather than enforcing one layout.

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

// Epoch magnitude cutoffs. Values in [1e9, 1e11) read as seconds (2001-5138),
// values in [1e11, 1e14) as milliseconds.
const (
	epochSecMin  = 1e9
	epochMillMin = 1e11
	epochMillMax = 1e14
)

// ParseTime coerces an untyped scalar into a timestamp. It accepts the known
// string layouts plus numeric epochs, distinguishing seconds from
// milliseconds by magnitude.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, lay := range timeLayouts {
			if ts, err := time.Parse(lay, s); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochTime(f)
		}
		return time.Time{}, false
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochTime(f)
	case float64:
		return epochTime(t)
	default:
		return time.Time{}, false
	}
}

func epochTime(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	abs := math.Abs(f)
	switch {
	case abs >= epochMillMin && abs < epochMillMax:
		return time.UnixMilli(int64(f)).UTC(), true
	case abs >= epochSecMin && abs < epochMillMin:
		return time.Unix(int64(f), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// ParseNumber coerces an untyped scalar into a finite float64.
func ParseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return finiteNumber(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return finiteNumber(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return finiteNumber(f)
	default:
		return 0, false
	}
}

func finiteNumber(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// CoerceString renders an untyped scalar as a trimmed string. It returns
// ("", false) for nil, empty, and unsupported kinds.
func CoerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func isNumericValue(v any) bool {
	_, ok := ParseNumber(v)
	return ok
}

func isTemporalValue(v any) bool {
	_, ok := ParseTime(v)
	return ok
}

func isLatitudeValue(v any) bool {
	f, ok := ParseNumber(v)
	return ok && f >= -90 && f <= 90
}

func isLongitudeValue(v any) bool {
	f, ok := ParseNumber(v)
	return ok && f >= -180 && f <= 180
}
