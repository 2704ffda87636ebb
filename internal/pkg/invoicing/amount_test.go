package invoicing

import "testing"

func TestFormatMinor(t *testing.T) {
	tests := map[int64]string{0: "0.00", 1: "0.01", 1999: "19.99", 100000: "1000.00"}
	for minor, want := range tests {
		if got := FormatMinor(minor); got != want {
			t.Errorf("FormatMinor(%d) = %q, want %q", minor, got, want)
		}
	}
}

func TestParseMinor(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"19.99", 1999, false},
		{"5", 500, false},
		{"0.1", 10, false},
		{"1.005", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMinor(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMinor(%q) = %d, %v", tt.raw, got, err)
		}
	}
}
