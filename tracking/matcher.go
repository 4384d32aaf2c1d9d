package tracking

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

var (
	ErrNoTrip      = errors.New("update has no trip id")
	ErrUnknownTrip = errors.New("trip not in schedule")
	ErrNoPosition  = errors.New("vehicle has no position")
)

// Matcher resolves realtime updates against the Schedule. Trip stops are
// cached for the lifetime of the Matcher.
type Matcher struct {
	Schedule Schedule

	once   sync.Once
	loc    *time.Location
	locErr error
	mu     sync.Mutex
	trips  map[string]gtfs.Trip
	stops  map[string][]ScheduledStop
	paths  map[string]gtfs.Path
}

func (m *Matcher) InputType() reflect.Type  { return reflect.TypeFor[gtfsrt.Update]() }
func (m *Matcher) OutputType() reflect.Type { return reflect.TypeFor[Observation]() }

func (m *Matcher) Transform(rc *pipeline.RunContext, in *pipeline.Inbox, emit pipeline.Emit) error {
	skipped := pipeline.MetricName(rc.Stage(), "skipped")
	for item := range in.All() {
		u, err := pipeline.As[gtfsrt.Update](item)
		if err != nil {
			return err
		}
		obs, err := m.Match(rc, u)
		if err != nil {
			if isRecordError(err) {
				if err := rc.HandleError(err, skipped); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := emit(obs); err != nil {
			return err
		}
	}
	return in.Err()
}

func isRecordError(err error) bool {
	return errors.Is(err, ErrNoTrip) || errors.Is(err, ErrUnknownTrip) || errors.Is(err, ErrNoPosition)
}

// Match converts one update. Record-level problems are reported with
// ErrNoTrip, ErrUnknownTrip or ErrNoPosition; other errors come from the
// Schedule.
func (m *Matcher) Match(rc *pipeline.RunContext, u gtfsrt.Update) (Observation, error) {
	switch u := u.(type) {
	case *gtfsrt.VehiclePosition:
		return m.vehicle(rc, u)
	case *gtfsrt.TripUpdate:
		return m.tripInstance(rc, u)
	case *gtfsrt.Alert:
		return &ServiceAlert{Alert: *u}, nil
	default:
		return nil, fmt.Errorf("unsupported update %T", u)
	}
}

func (m *Matcher) location(rc *pipeline.RunContext) (*time.Location, error) {
	m.once.Do(func() {
		tz, err := m.Schedule.AgencyTimezone(rc.Context())
		if err != nil {
			m.locErr = fmt.Errorf("agency timezone: %w", err)
			return
		}
		if tz == "" {
			m.loc = time.UTC
			return
		}
		m.loc, m.locErr = time.LoadLocation(tz)
	})
	return m.loc, m.locErr
}

// trip loads and caches the trip and its stops.
func (m *Matcher) trip(rc *pipeline.RunContext, tripID string) (gtfs.Trip, []ScheduledStop, error) {
	if tripID == "" {
		return gtfs.Trip{}, nil, ErrNoTrip
	}
	m.mu.Lock()
	t, ok := m.trips[tripID]
	stops := m.stops[tripID]
	m.mu.Unlock()
	if ok {
		return t, stops, nil
	}

	t, found, err := m.Schedule.Trip(rc.Context(), tripID)
	if err != nil {
		return gtfs.Trip{}, nil, err
	}
	if !found {
		return gtfs.Trip{}, nil, fmt.Errorf("%w: %s", ErrUnknownTrip, tripID)
	}
	stops, err = m.Schedule.TripStops(rc.Context(), tripID)
	if err != nil {
		return gtfs.Trip{}, nil, err
	}
	if len(stops) == 0 {
		return gtfs.Trip{}, nil, fmt.Errorf("%w: %s has no stop times", ErrUnknownTrip, tripID)
	}

	wps := make([]gtfs.Waypoint, len(stops))
	for i, s := range stops {
		wps[i] = gtfs.Waypoint{Longitude: s.Lon, Latitude: s.Lat}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trips == nil {
		m.trips = map[string]gtfs.Trip{}
		m.stops = map[string][]ScheduledStop{}
		m.paths = map[string]gtfs.Path{}
	}
	m.trips[tripID] = t
	m.stops[tripID] = stops
	m.paths[tripID] = gtfs.NewPath(wps)
	return t, stops, nil
}

func (m *Matcher) path(tripID string) gtfs.Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths[tripID]
}

// serviceDate returns startDate when the feed gives one. Otherwise it picks
// between the calendar day of ts and the day before, preferring the one whose
// scheduled span contains ts; trips past midnight belong to the previous day.
func serviceDate(startDate string, ts int64, stops []ScheduledStop, loc *time.Location) string {
	if startDate != "" {
		return startDate
	}
	at := time.Unix(ts, 0).In(loc)
	today := gtfs.ServiceDate(at, loc)
	yesterday := gtfs.ServiceDate(at.AddDate(0, 0, -1), loc)

	first, last := stops[0].Departure, stops[len(stops)-1].Arrival
	if first == gtfs.NoTime || last == gtfs.NoTime {
		return today
	}
	const slack = 3600
	for _, d := range []string{today, yesterday} {
		start, err1 := gtfs.ServiceDayTime(d, first, loc)
		end, err2 := gtfs.ServiceDayTime(d, last, loc)
		if err1 == nil && err2 == nil && ts >= start.Unix()-slack && ts <= end.Unix()+slack {
			return d
		}
	}
	return today
}

func (m *Matcher) vehicle(rc *pipeline.RunContext, vp *gtfsrt.VehiclePosition) (*VehicleState, error) {
	t, stops, err := m.trip(rc, vp.Trip.TripID)
	if err != nil {
		return nil, err
	}
	if !vp.HasPosition || !utils.ValidCoordinate(vp.Lat, vp.Lon) {
		return nil, fmt.Errorf("%w: vehicle %s on trip %s", ErrNoPosition, vp.VehicleID, vp.Trip.TripID)
	}
	loc, err := m.location(rc)
	if err != nil {
		return nil, err
	}

	vs := &VehicleState{
		VehicleID:   vp.VehicleID,
		Label:       vp.Label,
		TripID:      t.ID,
		RouteID:     t.RouteID,
		DirectionID: t.DirectionID,
		ServiceDate: serviceDate(vp.Trip.StartDate, vp.Timestamp, stops, loc),
		Lat:         vp.Lat,
		Lon:         vp.Lon,
		Bearing:     vp.Bearing,
		Timestamp:   vp.Timestamp,
	}
	if vs.VehicleID == "" {
		vs.VehicleID = vp.ID
	}

	path := m.path(t.ID)
	proj, ok := path.Project(gtfs.Waypoint{Longitude: vp.Lon, Latitude: vp.Lat})
	if !ok {
		return vs, nil
	}
	vs.DistanceAlongKM = proj.AlongKM
	vs.OffsetKM = proj.OffsetKM

	// nearest of the two stops bounding the segment
	nearest := 0
	if len(stops) > 1 {
		a, b := stops[proj.Segment], stops[proj.Segment+1]
		da := utils.HaversineKM(vp.Lat, vp.Lon, a.Lat, a.Lon)
		db := utils.HaversineKM(vp.Lat, vp.Lon, b.Lat, b.Lon)
		nearest = proj.Segment
		if db < da {
			nearest = proj.Segment + 1
		}
	}
	ns := stops[nearest]
	vs.NearestStopID = ns.StopID
	vs.NearestStopSeq = ns.StopSequence
	vs.DistanceToStopKM = math.Abs(path.CumulativeKM(nearest) - proj.AlongKM)

	next := proj.Segment
	if proj.Fraction > 0 {
		next++
	}
	if len(stops) > 1 && next < len(stops) {
		vs.NextStopID = stops[next].StopID
		vs.StopsAway = next - nearest
		if vs.StopsAway < 0 {
			vs.StopsAway = 0
		}
	}
	return vs, nil
}

func (m *Matcher) tripInstance(rc *pipeline.RunContext, tu *gtfsrt.TripUpdate) (*TripInstance, error) {
	t, stops, err := m.trip(rc, tu.Trip.TripID)
	if err != nil {
		return nil, err
	}
	loc, err := m.location(rc)
	if err != nil {
		return nil, err
	}

	ti := &TripInstance{
		TripID:      t.ID,
		ServiceDate: serviceDate(tu.Trip.StartDate, tu.Timestamp, stops, loc),
		RouteID:     t.RouteID,
		VehicleID:   tu.VehicleID,
		Timestamp:   tu.Timestamp,
	}

	updates := map[int]gtfsrt.StopTimeUpdate{}
	firstIdx := len(stops)
	for _, stu := range tu.StopTimeUpdates {
		idx := stopIndex(stops, stu)
		if idx < 0 {
			rc.Logger().Debug("stop time update matches no scheduled stop",
				"trip", t.ID, "stop", stu.StopID, "sequence", stu.StopSequence)
			continue
		}
		updates[idx] = stu
		firstIdx = min(firstIdx, idx)
	}
	if firstIdx == len(stops) && tu.Delay != nil {
		firstIdx = 0
	}

	var delay int64
	known := false
	if tu.Delay != nil {
		delay, known = int64(*tu.Delay), true
	}
	for i := firstIdx; i < len(stops); i++ {
		s := stops[i]
		if s.Arrival == gtfs.NoTime {
			continue
		}
		sched, err := gtfs.ServiceDayTime(ti.ServiceDate, s.Arrival, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: trip %s has service date %q", ErrUnknownTrip, t.ID, ti.ServiceDate)
		}
		sd := StopDelay{StopSequence: s.StopSequence, StopID: s.StopID, Scheduled: sched.Unix()}

		stu, has := updates[i]
		var exp int64
		if has {
			exp = expected(stu, sd.Scheduled)
		}
		switch {
		case has && stu.ScheduleRelationship == "SKIPPED":
			sd.ScheduleRelationship = stu.ScheduleRelationship
			ti.Stops = append(ti.Stops, sd)
			continue
		case exp != 0:
			sd.Expected = exp
			delay, known = exp-sd.Scheduled, true
			sd.ScheduleRelationship = stu.ScheduleRelationship
		case known:
			sd.Expected = sd.Scheduled + delay
			sd.Propagated = true
		default:
			continue
		}
		sd.DelaySeconds = sd.Expected - sd.Scheduled
		ti.Stops = append(ti.Stops, sd)
	}
	ti.DelaySeconds = delay
	return ti, nil
}

func stopIndex(stops []ScheduledStop, stu gtfsrt.StopTimeUpdate) int {
	for i, s := range stops {
		if stu.StopSequence >= 0 {
			if s.StopSequence == stu.StopSequence {
				return i
			}
		} else if stu.StopID != "" && s.StopID == stu.StopID {
			return i
		}
	}
	return -1
}

// expected returns the predicted arrival, falling back to the departure
// event; 0 when the update carries neither.
func expected(stu gtfsrt.StopTimeUpdate, scheduled int64) int64 {
	for _, ev := range []gtfsrt.StopTimeEvent{stu.Arrival, stu.Departure} {
		if ev.Time != 0 {
			return ev.Time
		}
		if ev.HasDelay {
			return scheduled + int64(ev.Delay)
		}
	}
	return 0
}
