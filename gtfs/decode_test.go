package gtfs_test

import (
	"errors"
	"testing"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/internal/testutil"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

func row(file string, kv ...string) gtfs.Row {
	fields := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return gtfs.Row{File: file, Line: 2, Fields: fields}
}

func TestDecoder_Decode(t *testing.T) {
	d := &gtfs.Decoder{AgencyID: "METRO"}

	tests := []struct {
		name string
		row  gtfs.Row
		want gtfs.Entity
	}{
		{
			name: "route inherits agency",
			row:  row("routes.txt", "route_id", "R1", "route_short_name", "1", "route_type", "3"),
			want: gtfs.Route{ID: "R1", AgencyID: "METRO", ShortName: "1", Type: 3},
		},
		{
			name: "stop",
			row:  row("stops.txt", "stop_id", "S1", "stop_name", "Central", "stop_lat", "42.5", "stop_lon", " 23.25 "),
			want: gtfs.Stop{ID: "S1", Name: "Central", Lat: 42.5, Lon: 23.25},
		},
		{
			name: "stop time past midnight",
			row:  row("stop_times.txt", "trip_id", "T1", "stop_sequence", "4", "stop_id", "S9", "arrival_time", "25:10:00", "departure_time", "25:11:30"),
			want: gtfs.StopTime{TripID: "T1", StopSequence: 4, StopID: "S9", Arrival: 90600, Departure: 90690},
		},
		{
			name: "stop time copies the only time given",
			row:  row("stop_times.txt", "trip_id", "T1", "stop_sequence", "1", "stop_id", "S1", "departure_time", "7:05:00"),
			want: gtfs.StopTime{TripID: "T1", StopSequence: 1, StopID: "S1", Arrival: 25500, Departure: 25500},
		},
		{
			name: "untimed stop time",
			row:  row("stop_times.txt", "trip_id", "T1", "stop_sequence", "2", "stop_id", "S2"),
			want: gtfs.StopTime{TripID: "T1", StopSequence: 2, StopID: "S2", Arrival: gtfs.NoTime, Departure: gtfs.NoTime},
		},
		{
			name: "calendar",
			row: row("calendar.txt", "service_id", "WE", "monday", "0", "tuesday", "0", "wednesday", "0", "thursday", "0",
				"friday", "0", "saturday", "1", "sunday", "1", "start_date", "20250101", "end_date", "20251231"),
			want: gtfs.Calendar{ServiceID: "WE", Days: [7]bool{5: true, 6: true}, StartDate: "20250101", EndDate: "20251231"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(tt.row)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecoder_RejectsMalformedRows(t *testing.T) {
	d := &gtfs.Decoder{}

	tests := []struct {
		name   string
		row    gtfs.Row
		column string
	}{
		{"missing stop id", row("stops.txt", "stop_lat", "1", "stop_lon", "2"), "stop_id"},
		{"latitude out of range", row("stops.txt", "stop_id", "S", "stop_lat", "91", "stop_lon", "2"), "stop_lat"},
		{"non-numeric longitude", row("stops.txt", "stop_id", "S", "stop_lat", "1", "stop_lon", "east"), "stop_lon"},
		{"bad time", row("stop_times.txt", "trip_id", "T", "stop_sequence", "1", "stop_id", "S", "arrival_time", "8:61:00"), "arrival_time"},
		{"missing sequence", row("stop_times.txt", "trip_id", "T", "stop_id", "S"), "stop_sequence"},
		{"nameless route", row("routes.txt", "route_id", "R", "route_type", "3"), "route_short_name"},
		{"bad date", row("calendar.txt", "service_id", "X", "start_date", "2025-01-01", "end_date", "20250101"), "start_date"},
		{"trip without service", row("trips.txt", "trip_id", "T", "route_id", "R"), "service_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.row)
			var re *gtfs.RowError
			if !errors.As(err, &re) {
				t.Fatalf("Expected RowError, got %v", err)
			}
			if re.Column != tt.column {
				t.Errorf("Expected column %s, got %s (%v)", tt.column, re.Column, err)
			}
		})
	}
}

func TestDecoder_IgnoresUnknownFiles(t *testing.T) {
	e, err := (&gtfs.Decoder{}).Decode(row("fare_rules.txt", "fare_id", "F1"))
	if e != nil || err != nil {
		t.Errorf("Expected nil entity and nil error, got %v, %v", e, err)
	}
}

func TestDecoder_InPipeline(t *testing.T) {
	files := testutil.SampleGTFS()
	files["stops.txt"] += "BAD,999,Nowhere,,23.1\n"
	f := testutil.NewFetcher()
	f.Set("feed.zip", testutil.ZipBytes(t, files))

	tests := []struct {
		policy  pipeline.ErrorPolicy
		wantErr bool
	}{
		{pipeline.SkipRecord, false},
		{pipeline.FailFast, true},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			var got []gtfs.Entity
			sink := pipeline.SinkFunc[gtfs.Entity](func(rc *pipeline.RunContext, e gtfs.Entity) error {
				got = append(got, e)
				return nil
			})
			tel := pipeline.NewMemoryTelemetry()
			o, err := pipeline.New([]pipeline.StageSpec{
				{Name: "zip", Stage: &gtfs.ZipSource{Location: "feed.zip", Fetcher: f}},
				{Name: "decode", Stage: &gtfs.Decoder{}},
				{Name: "collect", Stage: sink},
			}, pipeline.WithErrorPolicy(tt.policy), pipeline.WithTelemetry(tel), pipeline.WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			err = o.Run(t.Context())
			if tt.wantErr {
				var se *pipeline.StageError
				if !errors.As(err, &se) || se.Stage != "decode" {
					t.Fatalf("Expected decode StageError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(got) != testutil.SampleEntityCount {
				t.Errorf("Expected %d entities, got %d", testutil.SampleEntityCount, len(got))
			}
			if n := tel.Counter("decode.skipped"); n != 1 {
				t.Errorf("Expected 1 skipped row, got %d", n)
			}
		})
	}
}
