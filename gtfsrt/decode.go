package gtfsrt

import (
	"fmt"
	"reflect"
	"sync"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

// Decoder unmarshals payloads into Updates. Payloads whose header timestamp is
// not newer than the last one seen for the same location are dropped, so a
// Decoder reused across runs never moves a feed backwards or re-ingests an
// unchanged snapshot.
type Decoder struct {
	// Language selects translations; the first translation is used when empty
	// or not found.
	Language string

	mu   sync.Mutex
	last map[string]int64
}

func (d *Decoder) InputType() reflect.Type  { return reflect.TypeFor[Payload]() }
func (d *Decoder) OutputType() reflect.Type { return reflect.TypeFor[Update]() }

func (d *Decoder) Transform(rc *pipeline.RunContext, in *pipeline.Inbox, emit pipeline.Emit) error {
	skipped := pipeline.MetricName(rc.Stage(), "skipped")
	stale := pipeline.MetricName(rc.Stage(), "stale")
	for item := range in.All() {
		p, err := pipeline.As[Payload](item)
		if err != nil {
			return err
		}
		updates, err := d.Decode(p.Body)
		if err != nil {
			if err := rc.HandleError(fmt.Errorf("%s: %w", p.Location, err), skipped); err != nil {
				return err
			}
			continue
		}
		if len(updates) > 0 && !d.advance(p.Location, updates[0].FeedTime()) {
			rc.Telemetry().Incr(stale, 1)
			rc.Logger().Debug("stale realtime feed dropped", "location", p.Location)
			continue
		}
		for _, u := range updates {
			if err := emit(u); err != nil {
				return err
			}
		}
	}
	return in.Err()
}

func (d *Decoder) advance(location string, ts int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		d.last = map[string]int64{}
	}
	if last, seen := d.last[location]; seen && ts != 0 && ts <= last {
		return false
	}
	d.last[location] = ts
	return true
}

// Decode parses one FeedMessage. Deleted entities are left out.
func (d *Decoder) Decode(body []byte) ([]Update, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(body, &fm); err != nil {
		return nil, fmt.Errorf("unmarshal feed: %w", err)
	}
	if fm.GetHeader() == nil {
		return nil, fmt.Errorf("feed has no header")
	}
	ts := int64(fm.GetHeader().GetTimestamp())

	var out []Update
	for _, e := range fm.GetEntity() {
		if e.GetIsDeleted() {
			continue
		}
		if tu := e.GetTripUpdate(); tu != nil {
			out = append(out, d.tripUpdate(e.GetId(), ts, tu))
		}
		if vp := e.GetVehicle(); vp != nil {
			out = append(out, d.vehicle(e.GetId(), ts, vp))
		}
		if a := e.GetAlert(); a != nil {
			out = append(out, d.alert(e.GetId(), ts, a))
		}
	}
	return out, nil
}

func trip(td *gtfsrtpb.TripDescriptor) Trip {
	if td == nil {
		return Trip{}
	}
	t := Trip{
		TripID:      td.GetTripId(),
		RouteID:     td.GetRouteId(),
		DirectionID: int(td.GetDirectionId()),
		StartDate:   td.GetStartDate(),
		StartTime:   td.GetStartTime(),
	}
	if td.ScheduleRelationship != nil {
		t.ScheduleRelationship = td.GetScheduleRelationship().String()
	}
	return t
}

func (d *Decoder) vehicle(id string, ts int64, vp *gtfsrtpb.VehiclePosition) *VehiclePosition {
	v := &VehiclePosition{
		ID:            id,
		FeedTimestamp: ts,
		Timestamp:     int64(vp.GetTimestamp()),
		Trip:          trip(vp.GetTrip()),
		VehicleID:     vp.GetVehicle().GetId(),
		Label:         vp.GetVehicle().GetLabel(),
		StopID:        vp.GetStopId(),
		StopSequence:  -1,
	}
	if v.Timestamp == 0 {
		v.Timestamp = ts
	}
	if vp.CurrentStopSequence != nil {
		v.StopSequence = int(vp.GetCurrentStopSequence())
	}
	if vp.CurrentStatus != nil {
		v.Status = vp.GetCurrentStatus().String()
	}
	if pos := vp.GetPosition(); pos != nil && pos.Latitude != nil && pos.Longitude != nil {
		v.Lat = float64(pos.GetLatitude())
		v.Lon = float64(pos.GetLongitude())
		v.HasPosition = utils.ValidCoordinate(v.Lat, v.Lon)
		if pos.Bearing != nil {
			b := float64(pos.GetBearing())
			v.Bearing = &b
		}
		if pos.Speed != nil {
			s := float64(pos.GetSpeed())
			v.Speed = &s
		}
	}
	return v
}

func event(ev *gtfsrtpb.TripUpdate_StopTimeEvent) StopTimeEvent {
	if ev == nil {
		return StopTimeEvent{}
	}
	return StopTimeEvent{Time: ev.GetTime(), Delay: ev.GetDelay(), HasDelay: ev.Delay != nil}
}

func (d *Decoder) tripUpdate(id string, ts int64, tu *gtfsrtpb.TripUpdate) *TripUpdate {
	t := &TripUpdate{
		ID:            id,
		FeedTimestamp: ts,
		Timestamp:     int64(tu.GetTimestamp()),
		Trip:          trip(tu.GetTrip()),
		VehicleID:     tu.GetVehicle().GetId(),
	}
	if t.Timestamp == 0 {
		t.Timestamp = ts
	}
	if tu.Delay != nil {
		delay := tu.GetDelay()
		t.Delay = &delay
	}
	for _, stu := range tu.GetStopTimeUpdate() {
		u := StopTimeUpdate{
			StopSequence: -1,
			StopID:       stu.GetStopId(),
			Arrival:      event(stu.GetArrival()),
			Departure:    event(stu.GetDeparture()),
		}
		if stu.StopSequence != nil {
			u.StopSequence = int(stu.GetStopSequence())
		}
		if stu.ScheduleRelationship != nil {
			u.ScheduleRelationship = stu.GetScheduleRelationship().String()
		}
		t.StopTimeUpdates = append(t.StopTimeUpdates, u)
	}
	return t
}

func (d *Decoder) alert(id string, ts int64, a *gtfsrtpb.Alert) *Alert {
	out := &Alert{
		ID:            id,
		FeedTimestamp: ts,
		Header:        d.text(a.GetHeaderText()),
		Description:   d.text(a.GetDescriptionText()),
		URL:           d.text(a.GetUrl()),
	}
	if a.Cause != nil {
		out.Cause = a.GetCause().String()
	}
	if a.Effect != nil {
		out.Effect = a.GetEffect().String()
	}
	if a.SeverityLevel != nil {
		out.Severity = a.GetSeverityLevel().String()
	}
	if len(a.GetActivePeriod()) > 0 {
		ap := a.GetActivePeriod()[0]
		out.Start = int64(ap.GetStart())
		out.End = int64(ap.GetEnd())
	}
	for _, ie := range a.GetInformedEntity() {
		if ie.RouteId != nil {
			out.RouteIDs = append(out.RouteIDs, ie.GetRouteId())
		}
		if ie.GetTrip().GetTripId() != "" {
			out.TripIDs = append(out.TripIDs, ie.GetTrip().GetTripId())
		}
		if ie.StopId != nil {
			out.StopIDs = append(out.StopIDs, ie.GetStopId())
		}
	}
	return out
}

func (d *Decoder) text(ts *gtfsrtpb.TranslatedString) string {
	tr := ts.GetTranslation()
	if len(tr) == 0 {
		return ""
	}
	if d.Language != "" {
		for _, t := range tr {
			if t.GetLanguage() == d.Language {
				return t.GetText()
			}
		}
	}
	return tr[0].GetText()
}
