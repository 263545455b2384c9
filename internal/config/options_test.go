package config

import "testing"

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Route ID", "route_id"},
		{"Vehicle-Count", "vehicle_count"},
		{"  lane.speed  ", "lane_speed"},
		{"a/b\\c:d;e", "a_b_c_d_e"},
		{"__already__", "already"},
		{"Straße", "strae"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
