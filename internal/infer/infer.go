// Package infer implements semantic column-role inference over a batch of
// raw records.
//
// The inferencer is responsible for:
//   - Classifying each declared column as numeric, temporal, latitude,
//     longitude, group key, or unknown
//   - Scoring each classification with a confidence fraction
//   - Proposing a default column mapping for the row normalizer
//
// Design constraints:
//   - Inference inspects a bounded sample of the batch.
//   - All inference is best-effort and must never fail: a column that cannot
//     be classified becomes RoleUnknown with confidence 0.
//   - The package is pure; callers may override any profile without the
//     inferencer being consulted again.
package infer

import (
	"strings"

	"trafficlens/internal/config"
	"trafficlens/pkg/records"
)

// Role is the semantic role assigned to one input column.
type Role string

const (
	RoleNumeric   Role = "numeric"
	RoleTemporal  Role = "temporal"
	RoleLatitude  Role = "latitude"
	RoleLongitude Role = "longitude"
	RoleGroupKey  Role = "group_key"
	RoleUnknown   Role = "unknown"
)

// ColumnProfile is the inferred role and confidence for one column.
// Confidence is the fraction of sampled non-null values matching the chosen
// role's predicate; a pure name-token match over a valueless column scores
// 1.0.
type ColumnProfile struct {
	Name       string  `json:"name"`
	Role       Role    `json:"role"`
	Confidence float64 `json:"confidence"`
}

// Mapping names which column feeds each normalized field. Empty entries mean
// "no column" and produce null/Unknown fields downstream.
type Mapping struct {
	RouteCol string `json:"route_col"`
	TimeCol  string `json:"time_col"`
	ValueCol string `json:"value_col"`
	LatCol   string `json:"lat_col"`
	LngCol   string `json:"lng_col"`
}

// valueMatchThreshold is the fraction of sampled non-null values that must
// satisfy a role's value predicate before the role wins on shape alone.
const valueMatchThreshold = 0.80

var (
	latTokens      = []string{"latitude", "lat"}
	lngTokens      = []string{"longitude", "lng", "lon"}
	timeTokens     = []string{"timestamp", "datetime", "date", "time"}
	measureTokens  = []string{"congestion", "vehicles", "value", "count", "flow", "speed"}
	groupKeyTokens = []string{"route", "road", "segment", "link"}
)

// Profile classifies every declared field of the batch, inspecting at most
// sampleCap records. It never fails and returns exactly one profile per
// declared field, in declaration order.
func Profile(batch records.Batch, sampleCap int) []ColumnProfile {
	if sampleCap <= 0 {
		sampleCap = config.Limits{}.SampleRowsOrDefault()
	}
	sample := batch.Records
	if len(sample) > sampleCap {
		sample = sample[:sampleCap]
	}

	out := make([]ColumnProfile, 0, len(batch.Fields))
	for _, field := range batch.Fields {
		out = append(out, profileColumn(field, sample))
	}
	return out
}

// profileColumn applies the role precedence for one column. First match wins:
// latitude/longitude, temporal, numeric, group key, unknown.
func profileColumn(name string, sample []records.Record) ColumnProfile {
	vals := sampleValues(name, sample)

	if role, conf, ok := geographicRole(name, vals); ok {
		return ColumnProfile{Name: name, Role: role, Confidence: conf}
	}
	if conf, ok := shapeRole(name, vals, timeTokens, isTemporalValue); ok {
		return ColumnProfile{Name: name, Role: RoleTemporal, Confidence: conf}
	}
	if conf, ok := shapeRole(name, vals, measureTokens, isNumericValue); ok {
		return ColumnProfile{Name: name, Role: RoleNumeric, Confidence: conf}
	}
	if nameHasToken(name, groupKeyTokens) {
		return ColumnProfile{Name: name, Role: RoleGroupKey, Confidence: groupKeyConfidence(vals)}
	}
	return ColumnProfile{Name: name, Role: RoleUnknown, Confidence: 0}
}

// geographicRole checks the latitude and longitude predicates. Latitude is
// tried first so a column named plain "lat" never falls through to the wider
// longitude range check.
func geographicRole(name string, vals []any) (Role, float64, bool) {
	if conf, ok := shapeRole(name, vals, latTokens, isLatitudeValue); ok {
		return RoleLatitude, conf, true
	}
	if conf, ok := shapeRole(name, vals, lngTokens, isLongitudeValue); ok {
		return RoleLongitude, conf, true
	}
	return RoleUnknown, 0, false
}

// shapeRole decides a role from either a name token or the value-shape
// threshold, and reports the confidence for the match.
func shapeRole(name string, vals []any, tokens []string, pred func(any) bool) (float64, bool) {
	frac := matchFraction(vals, pred)

	if nameHasToken(name, tokens) {
		if len(vals) == 0 {
			return 1.0, true
		}
		return frac, true
	}
	if len(vals) > 0 && frac >= valueMatchThreshold {
		return frac, true
	}
	return 0, false
}

// groupKeyConfidence scores a token-matched group key column by how many
// sampled values are usable as keys (non-empty after coercion).
func groupKeyConfidence(vals []any) float64 {
	if len(vals) == 0 {
		return 1.0
	}
	return matchFraction(vals, func(v any) bool {
		_, ok := CoerceString(v)
		return ok
	})
}

func matchFraction(vals []any, pred func(any) bool) float64 {
	if len(vals) == 0 {
		return 0
	}
	n := 0
	for _, v := range vals {
		if pred(v) {
			n++
		}
	}
	return float64(n) / float64(len(vals))
}

// sampleValues collects the non-null values for one column across the sample.
func sampleValues(name string, sample []records.Record) []any {
	out := make([]any, 0, len(sample))
	for _, r := range sample {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func nameHasToken(name string, tokens []string) bool {
	n := strings.ToLower(name)
	for _, tok := range tokens {
		if strings.Contains(n, tok) {
			return true
		}
	}
	return false
}

// BestMapping picks the best-guess column for each normalized field from a
// profile set: the highest-confidence column per role, ties broken by
// declaration order. Roles with no qualifying column map to "".
func BestMapping(profiles []ColumnProfile) Mapping {
	var m Mapping
	best := map[Role]float64{}

	pick := func(target *string, p ColumnProfile) {
		if *target == "" || p.Confidence > best[p.Role] {
			*target = p.Name
			best[p.Role] = p.Confidence
		}
	}

	for _, p := range profiles {
		switch p.Role {
		case RoleGroupKey:
			pick(&m.RouteCol, p)
		case RoleTemporal:
			pick(&m.TimeCol, p)
		case RoleNumeric:
			pick(&m.ValueCol, p)
		case RoleLatitude:
			pick(&m.LatCol, p)
		case RoleLongitude:
			pick(&m.LngCol, p)
		}
	}
	return m
}
