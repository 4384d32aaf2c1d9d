package gtfs_test

import (
	"math"
	"testing"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
)

// three points roughly 1.11 km apart along a meridian
var meridian = []gtfs.Waypoint{
	{Longitude: 23.0, Latitude: 42.00},
	{Longitude: 23.0, Latitude: 42.01},
	{Longitude: 23.0, Latitude: 42.02},
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestPath_CumulativeDistances(t *testing.T) {
	p := gtfs.NewPath(meridian)
	if !near(p.CumulativeKM(1), 1.112, 0.01) {
		t.Errorf("Expected ~1.112 km to second point, got %f", p.CumulativeKM(1))
	}
	if !near(p.LengthKM(), 2*p.CumulativeKM(1), 1e-9) {
		t.Errorf("Expected equal segments, got length %f", p.LengthKM())
	}
	if !math.IsNaN(p.CumulativeKM(5)) {
		t.Error("Out of range index should be NaN")
	}
	if (gtfs.Path{}).LengthKM() != 0 {
		t.Error("Empty path should have zero length")
	}
}

func TestPathFromShape_SortsBySequence(t *testing.T) {
	p := gtfs.PathFromShape([]gtfs.ShapePoint{
		{ShapeID: "A", Sequence: 3, Lat: 42.02, Lon: 23},
		{ShapeID: "A", Sequence: 1, Lat: 42.00, Lon: 23},
		{ShapeID: "A", Sequence: 2, Lat: 42.01, Lon: 23},
	})
	if !near(p.LengthKM(), gtfs.NewPath(meridian).LengthKM(), 1e-9) {
		t.Errorf("Shape not ordered by sequence, length %f", p.LengthKM())
	}
}

func TestPath_PointAt(t *testing.T) {
	p := gtfs.NewPath(meridian)
	half := p.LengthKM() / 4

	tests := []struct {
		name string
		km   float64
		lat  float64
	}{
		{"before start", -1, 42.00},
		{"start", 0, 42.00},
		{"mid first segment", half, 42.005},
		{"vertex", p.CumulativeKM(1), 42.01},
		{"past end", 99, 42.02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := p.PointAt(tt.km)
			if !ok {
				t.Fatal("PointAt returned false")
			}
			if !near(w.Latitude, tt.lat, 1e-6) || w.Longitude != 23.0 {
				t.Errorf("expected lat %f, got %+v", tt.lat, w)
			}
		})
	}

	if _, ok := (gtfs.Path{}).PointAt(1); ok {
		t.Error("Empty path should not yield a point")
	}
}

func TestPath_Project(t *testing.T) {
	p := gtfs.NewPath(meridian)

	// slightly east of the middle of the second segment
	proj, ok := p.Project(gtfs.Waypoint{Longitude: 23.001, Latitude: 42.015})
	if !ok {
		t.Fatal("Project returned false")
	}
	if proj.Segment != 1 {
		t.Errorf("Expected segment 1, got %d", proj.Segment)
	}
	if !near(proj.Fraction, 0.5, 1e-6) {
		t.Errorf("Expected fraction 0.5, got %f", proj.Fraction)
	}
	if !near(proj.AlongKM, p.LengthKM()*0.75, 1e-6) {
		t.Errorf("Expected 3/4 of the path, got %f of %f", proj.AlongKM, p.LengthKM())
	}
	// 0.001 degrees of longitude at 42N is about 83 m
	if !near(proj.OffsetKM, 0.083, 0.005) {
		t.Errorf("Expected ~0.083 km offset, got %f", proj.OffsetKM)
	}

	// positions beyond the ends clamp
	proj, _ = p.Project(gtfs.Waypoint{Longitude: 23.0, Latitude: 41.9})
	if proj.Segment != 0 || proj.AlongKM != 0 {
		t.Errorf("Expected clamp to start, got %+v", proj)
	}

	if _, ok := (gtfs.Path{}).Project(meridian[0]); ok {
		t.Error("Empty path should not project")
	}
	single, _ := gtfs.NewPath(meridian[:1]).Project(meridian[2])
	if !near(single.OffsetKM, p.LengthKM(), 1e-6) {
		t.Errorf("Single point offset should be the direct distance, got %f", single.OffsetKM)
	}
}

func TestPath_ProjectRejectsNonFinitePositions(t *testing.T) {
	bad := []gtfs.Waypoint{
		{Longitude: math.NaN(), Latitude: math.NaN()},
		{Longitude: 23.0, Latitude: math.NaN()},
		{Longitude: math.Inf(-1), Latitude: 42.0},
		{Longitude: 23.0, Latitude: 91},
	}
	for _, path := range []gtfs.Path{gtfs.NewPath(meridian), gtfs.NewPath(meridian[:1])} {
		for _, w := range bad {
			if proj, ok := path.Project(w); ok {
				t.Errorf("Project(%+v) = %+v, want false", w, proj)
			}
		}
	}
	t.Log("✓ Non-finite positions are not projected")
}
