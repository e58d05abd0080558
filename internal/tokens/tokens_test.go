package tokens

import "testing"

func TestCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   \n\t", 0},
		{"hello world", 2},
		{"Fed raises rates", 3},
		{"internationalisation", 3},
		{"ünïcödé", 1},
	}
	for _, tt := range tests {
		if got := Count(tt.in); got != tt.want {
			t.Fatalf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
