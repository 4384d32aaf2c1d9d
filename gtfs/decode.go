package gtfs

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

// RowError reports a row that could not be decoded into an entity.
type RowError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var errMissing = errors.New("required field is empty")

// Decoder turns Rows into Entities. AgencyID fills routes that omit
// agency_id, which GTFS allows for single-agency feeds.
type Decoder struct {
	AgencyID string
}

func (d *Decoder) InputType() reflect.Type  { return reflect.TypeFor[Row]() }
func (d *Decoder) OutputType() reflect.Type { return reflect.TypeFor[Entity]() }

func (d *Decoder) Transform(rc *pipeline.RunContext, in *pipeline.Inbox, emit pipeline.Emit) error {
	skipped := pipeline.MetricName(rc.Stage(), "skipped")
	ignored := pipeline.MetricName(rc.Stage(), "ignored")
	for item := range in.All() {
		row, err := pipeline.As[Row](item)
		if err != nil {
			return err
		}
		e, err := d.Decode(row)
		if err != nil {
			if err := rc.HandleError(err, skipped); err != nil {
				return err
			}
			continue
		}
		if e == nil {
			rc.Telemetry().Incr(ignored, 1)
			continue
		}
		if err := emit(e); err != nil {
			return err
		}
	}
	return in.Err()
}

// Decode converts one row. Rows of files the decoder does not know yield a
// nil Entity and no error.
func (d *Decoder) Decode(row Row) (Entity, error) {
	p := rowParser{row: row}
	var e Entity
	switch row.File {
	case "agency.txt":
		a := Agency{
			ID:       row.Get("agency_id"),
			Name:     p.required("agency_name"),
			URL:      row.Get("agency_url"),
			Timezone: p.required("agency_timezone"),
		}
		if a.ID == "" {
			a.ID = d.AgencyID
		}
		e = a
	case "routes.txt":
		r := Route{
			ID:        p.required("route_id"),
			AgencyID:  row.Get("agency_id"),
			ShortName: row.Get("route_short_name"),
			LongName:  row.Get("route_long_name"),
			Type:      p.integer("route_type", true),
		}
		if r.AgencyID == "" {
			r.AgencyID = d.AgencyID
		}
		if p.err == nil && r.ShortName == "" && r.LongName == "" {
			p.fail("route_short_name", fmt.Errorf("route needs a short or long name"))
		}
		e = r
	case "stops.txt":
		e = Stop{
			ID:            p.required("stop_id"),
			Code:          row.Get("stop_code"),
			Name:          row.Get("stop_name"),
			Lat:           p.coordinate("stop_lat", 90),
			Lon:           p.coordinate("stop_lon", 180),
			ParentStation: row.Get("parent_station"),
		}
	case "trips.txt":
		e = Trip{
			ID:          p.required("trip_id"),
			RouteID:     p.required("route_id"),
			ServiceID:   p.required("service_id"),
			Headsign:    row.Get("trip_headsign"),
			DirectionID: p.integer("direction_id", false),
			ShapeID:     row.Get("shape_id"),
			BlockID:     row.Get("block_id"),
		}
	case "stop_times.txt":
		st := StopTime{
			TripID:       p.required("trip_id"),
			StopSequence: p.integer("stop_sequence", true),
			StopID:       p.required("stop_id"),
			Arrival:      p.time("arrival_time"),
			Departure:    p.time("departure_time"),
			PickupType:   p.integer("pickup_type", false),
			DropOffType:  p.integer("drop_off_type", false),
			DistTraveled: p.float("shape_dist_traveled"),
		}
		// one of the two is enough; copy it across like most consumers do
		if st.Arrival == NoTime {
			st.Arrival = st.Departure
		}
		if st.Departure == NoTime {
			st.Departure = st.Arrival
		}
		e = st
	case "shapes.txt":
		e = ShapePoint{
			ShapeID:      p.required("shape_id"),
			Sequence:     p.integer("shape_pt_sequence", true),
			Lat:          p.coordinate("shape_pt_lat", 90),
			Lon:          p.coordinate("shape_pt_lon", 180),
			DistTraveled: p.float("shape_dist_traveled"),
		}
	case "calendar.txt":
		c := Calendar{
			ServiceID: p.required("service_id"),
			StartDate: p.date("start_date"),
			EndDate:   p.date("end_date"),
		}
		for i, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
			c.Days[i] = p.integer(day, true) == 1
		}
		e = c
	default:
		return nil, nil
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

// rowParser keeps the first field error so a record can be built in one
// expression and checked once.
type rowParser struct {
	row Row
	err error
}

func (p *rowParser) fail(col string, err error) {
	if p.err == nil {
		p.err = &RowError{File: p.row.File, Line: p.row.Line, Column: col, Err: err}
	}
}

func (p *rowParser) required(col string) string {
	v := p.row.Get(col)
	if v == "" {
		p.fail(col, errMissing)
	}
	return v
}

func (p *rowParser) integer(col string, required bool) int {
	v := p.row.Get(col)
	if v == "" {
		if required {
			p.fail(col, errMissing)
		}
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(col, err)
	}
	return n
}

func (p *rowParser) float(col string) float64 {
	v := p.row.Get(col)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(col, err)
	}
	return f
}

func (p *rowParser) coordinate(col string, limit float64) float64 {
	v := p.required(col)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(col, err)
		return 0
	}
	if f < -limit || f > limit {
		p.fail(col, fmt.Errorf("%v out of range", f))
	}
	return f
}

func (p *rowParser) time(col string) int {
	v := p.row.Get(col)
	if v == "" {
		return NoTime
	}
	secs, err := ParseTime(v)
	if err != nil {
		p.fail(col, err)
		return NoTime
	}
	return secs
}

func (p *rowParser) date(col string) string {
	v := p.required(col)
	if v == "" {
		return ""
	}
	if _, err := ParseDate(v, nil); err != nil {
		p.fail(col, err)
	}
	return v
}
