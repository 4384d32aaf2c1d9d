package gtfs

import (
	"math"
	"sort"

	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

// Path is a polyline with cumulative great-circle distances, built from a
// shape or from the ordered stops of a trip.
type Path struct {
	points []Waypoint
	cumKM  []float64
}

// NewPath computes cumulative distances for points in travel order.
func NewPath(points []Waypoint) Path {
	cum := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		cum[i] = cum[i-1] + utils.HaversineKM(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return Path{points: points, cumKM: cum}
}

// PathFromShape orders shape points by sequence and builds a Path.
func PathFromShape(pts []ShapePoint) Path {
	sorted := append([]ShapePoint(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })
	wps := make([]Waypoint, len(sorted))
	for i, p := range sorted {
		wps[i] = Waypoint{Longitude: p.Lon, Latitude: p.Lat}
	}
	return NewPath(wps)
}

func (p Path) Len() int { return len(p.points) }

// LengthKM returns the total length, 0 for fewer than two points.
func (p Path) LengthKM() float64 {
	if len(p.cumKM) == 0 {
		return 0
	}
	return p.cumKM[len(p.cumKM)-1]
}

// CumulativeKM returns the distance from the first point to point i.
func (p Path) CumulativeKM(i int) float64 {
	if i < 0 || i >= len(p.cumKM) {
		return math.NaN()
	}
	return p.cumKM[i]
}

// PointAt interpolates the coordinate km along the path. Distances outside the
// path clamp to its ends.
func (p Path) PointAt(km float64) (Waypoint, bool) {
	n := len(p.points)
	if n == 0 {
		return Waypoint{}, false
	}
	if n == 1 || km <= 0 {
		return p.points[0], true
	}
	if km >= p.LengthKM() {
		return p.points[n-1], true
	}

	seg := sort.SearchFloat64s(p.cumKM, km) - 1
	if seg < 0 {
		seg = 0
	}
	prev, next := p.cumKM[seg], p.cumKM[seg+1]
	t := 0.0
	if next > prev {
		t = (km - prev) / (next - prev)
	}
	a, b := p.points[seg], p.points[seg+1]
	return Waypoint{
		Longitude: a.Longitude + t*(b.Longitude-a.Longitude),
		Latitude:  a.Latitude + t*(b.Latitude-a.Latitude),
	}, true
}

// Projection locates a position relative to a Path.
type Projection struct {
	Segment  int     // index of the segment start point
	Fraction float64 // position within the segment, 0..1
	AlongKM  float64 // distance from the path start
	OffsetKM float64 // distance from the position to the path
}

// Project snaps w onto the closest segment. It reports false for an empty
// path or a position that is not a finite coordinate. Segments are compared
// in planar degree space, which is good enough at city scale; distances are
// haversine.
func (p Path) Project(w Waypoint) (Projection, bool) {
	if !utils.ValidCoordinate(w.Latitude, w.Longitude) {
		return Projection{}, false
	}
	switch len(p.points) {
	case 0:
		return Projection{}, false
	case 1:
		c := p.points[0]
		return Projection{OffsetKM: utils.HaversineKM(w.Latitude, w.Longitude, c.Latitude, c.Longitude)}, true
	}

	best := Projection{Segment: -1}
	minDist := math.MaxFloat64
	for i := 0; i < len(p.points)-1; i++ {
		c1, c2 := p.points[i], p.points[i+1]
		vx := c2.Longitude - c1.Longitude
		vy := c2.Latitude - c1.Latitude
		wx := w.Longitude - c1.Longitude
		wy := w.Latitude - c1.Latitude

		t := 0.0
		if denom := vx*vx + vy*vy; denom > 0 {
			t = math.Max(0, math.Min(1, (wx*vx+wy*vy)/denom))
		}
		dx := wx - t*vx
		dy := wy - t*vy
		if dist := dx*dx + dy*dy; dist < minDist {
			minDist = dist
			best = Projection{Segment: i, Fraction: t}
		}
	}

	if best.Segment < 0 {
		return Projection{}, false
	}
	i := best.Segment
	best.AlongKM = p.cumKM[i] + best.Fraction*(p.cumKM[i+1]-p.cumKM[i])
	snapped, _ := p.PointAt(best.AlongKM)
	best.OffsetKM = utils.HaversineKM(w.Latitude, w.Longitude, snapped.Latitude, snapped.Longitude)
	return best, true
}
