package utils

import (
	"math"
	"testing"
	"time"
)

func TestFormatUnix(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{name: "epoch", input: 0, expected: "1970-01-01T00:00:00Z"},
		{name: "specific timestamp", input: 1696320000, expected: "2023-10-03T08:00:00Z"},
		{name: "negative timestamp", input: -86400, expected: "1969-12-31T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatUnix(tt.input)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestValidUntil(t *testing.T) {
	if got := ValidUntil(1696320000, 30*time.Second); got != "2023-10-03T08:00:30Z" {
		t.Errorf("unexpected valid until %s", got)
	}
	if got := ValidUntil(1696320000, 1500*time.Millisecond); got != "2023-10-03T08:00:01Z" {
		t.Errorf("sub-second interval not truncated, got %s", got)
	}
	if got := ValidUntil(0, 30*time.Second); got != "" {
		t.Errorf("zero epoch should yield empty string, got %s", got)
	}
	if got := ValidUntil(1696320000, 0); got != "" {
		t.Errorf("zero interval should yield empty string, got %s", got)
	}
}

func TestDurationISO8601(t *testing.T) {
	tests := map[int64]string{
		0:     "PT0S",
		16:    "PT16S",
		75:    "PT1M15S",
		3600:  "PT1H",
		3725:  "PT1H2M5S",
		-30:   "-PT30S",
		-3600: "-PT1H",
	}
	for in, want := range tests {
		if got := DurationISO8601(in); got != want {
			t.Errorf("DurationISO8601(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestHaversineKM(t *testing.T) {
	// two points in Sofia, roughly 6.9 km apart
	d := HaversineKM(42.6977, 23.3219, 42.6952, 23.4062)
	if math.Abs(d-6.9) > 0.2 {
		t.Errorf("unexpected distance %.3f km", d)
	}
	if HaversineKM(10, 10, 10, 10) != 0 {
		t.Error("same point should be 0 km")
	}
	t.Logf("✓ Haversine distance %.3f km", d)
}

func TestPresentableDistance(t *testing.T) {
	tests := []struct {
		name     string
		stops    int
		curKM    float64
		nextKM   float64
		expected string
	}{
		{"at stop", 0, 0.01, 0.01, "at stop"},
		{"approaching", 0, 0.1, 0.1, "approaching"},
		{"one stop", 1, 0.3, 0.2, "1 stop"},
		{"several stops", 3, 0.7, 0.3, "3 stops"},
		{"miles", 5, 3.2187, 1.0, "2 miles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PresentableDistance(tt.stops, tt.curKM, tt.nextKM); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{42.7, 23.3, true},
		{-90, 180, true},
		{math.NaN(), 23.3, false},
		{42.7, math.NaN(), false},
		{math.Inf(1), 23.3, false},
		{42.7, math.Inf(-1), false},
		{90.5, 0, false},
		{0, -180.5, false},
	}
	for _, tt := range tests {
		if got := ValidCoordinate(tt.lat, tt.lon); got != tt.want {
			t.Errorf("ValidCoordinate(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
}
