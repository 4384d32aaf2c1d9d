package gtfs_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"08:10:00", 29400, false},
		{"7:05:09", 25509, false},
		{"25:10:00", 90600, false},
		{" 12:00:00 ", 43200, false},
		{"12:00", 0, true},
		{"12:60:00", 0, true},
		{"-1:00:00", 0, true},
		{"ab:cd:ef", 0, true},
	}
	for _, tt := range tests {
		got, err := gtfs.ParseTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTime(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := gtfs.FormatTime(90600); got != "25:10:00" {
		t.Errorf("FormatTime(90600) = %q", got)
	}
	if got := gtfs.FormatTime(gtfs.NoTime); got != "" {
		t.Errorf("FormatTime(NoTime) = %q", got)
	}
}

func TestServiceDayTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		name string
		date string
		secs int
		loc  *time.Location
		want time.Time
	}{
		{"plain day", "20250115", 8 * 3600, time.UTC, time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)},
		{"past midnight", "20250115", 25*3600 + 600, time.UTC, time.Date(2025, 1, 16, 1, 10, 0, 0, time.UTC)},
		// wall-clock times hold on transition days
		{"spring forward", "20250330", 8 * 3600, berlin, time.Date(2025, 3, 30, 8, 0, 0, 0, berlin)},
		{"fall back", "20251026", 8 * 3600, berlin, time.Date(2025, 10, 26, 8, 0, 0, 0, berlin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gtfs.ServiceDayTime(tt.date, tt.secs, tt.loc)
			if err != nil {
				t.Fatalf("ServiceDayTime failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if _, err := gtfs.ServiceDayTime("2025-01-15", 0, nil); err == nil {
		t.Error("Expected error for malformed date")
	}
}

func TestServiceDate(t *testing.T) {
	ts := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)
	if got := gtfs.ServiceDate(ts, nil); got != "20250115" {
		t.Errorf("ServiceDate = %q", got)
	}
}
