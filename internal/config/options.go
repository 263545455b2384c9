// Package config holds parser option maps and engine limit defaults.
package config

import "strings"

// Options is a loosely typed option bag decoded from JSON or built by
// callers. Accessors are forgiving: a missing or mistyped value yields the
// supplied default rather than an error.
type Options map[string]any

// Bool returns the named option as a bool.
func (o Options) Bool(key string, def bool) bool {
	if o == nil {
		return def
	}
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Int returns the named option as an int. JSON numbers decode as float64, so
// both are accepted.
func (o Options) Int(key string, def int) int {
	if o == nil {
		return def
	}
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// String returns the named option as a string.
func (o Options) String(key, def string) string {
	if o == nil {
		return def
	}
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Rune returns the first rune of the named string option.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

// StringMap returns the named option as map[string]string, tolerating the
// map[string]any shape produced by encoding/json.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	if o == nil {
		return out
	}
	switch m := o[key].(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// NormalizeName converts an arbitrary header or dataset name into a safe
// lowercase identifier: lowered, separators collapsed to single underscores,
// everything outside [a-z0-9_] dropped.
func NormalizeName(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	return strings.Trim(b.String(), "_")
}
