package siri

import (
	"math"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

// VehicleMonitoring represents the VehicleMonitoring delivery
type VehicleMonitoring struct {
	ResponseTimestamp string                 `json:"ResponseTimestamp"`
	ValidUntil        string                 `json:"ValidUntil,omitempty"`
	VehicleActivity   []VehicleActivityEntry `json:"VehicleActivity"`
}

// VehicleActivityEntry represents a single vehicle's activity
type VehicleActivityEntry struct {
	RecordedAtTime          string                  `json:"RecordedAtTime"`
	ValidUntilTime          string                  `json:"ValidUntilTime,omitempty"`
	MonitoredVehicleJourney MonitoredVehicleJourney `json:"MonitoredVehicleJourney"`
}

// FramedVehicleJourneyRef identifies a dated journey
type FramedVehicleJourneyRef struct {
	DataFrameRef           string `json:"DataFrameRef"`
	DatedVehicleJourneyRef string `json:"DatedVehicleJourneyRef"`
}

// MonitoredVehicleJourney contains details about a monitored vehicle journey
type MonitoredVehicleJourney struct {
	LineRef                  string                  `json:"LineRef"`
	DirectionRef             string                  `json:"DirectionRef"`
	FramedVehicleJourneyRef  FramedVehicleJourneyRef `json:"FramedVehicleJourneyRef"`
	VehicleMode              string                  `json:"VehicleMode,omitempty"`
	PublishedLineName        string                  `json:"PublishedLineName,omitempty"`
	OriginRef                string                  `json:"OriginRef,omitempty"`
	OriginName               string                  `json:"OriginName,omitempty"`
	DestinationRef           string                  `json:"DestinationRef,omitempty"`
	DestinationName          string                  `json:"DestinationName,omitempty"`
	OriginAimedDepartureTime string                  `json:"OriginAimedDepartureTime,omitempty"`
	Monitored                bool                    `json:"Monitored"`
	DataSource               string                  `json:"DataSource"`
	VehicleLocation          VehicleLocation         `json:"VehicleLocation"`
	Bearing                  *float64                `json:"Bearing,omitempty"`
	Delay                    string                  `json:"Delay"`
	VehicleRef               string                  `json:"VehicleRef"`
	MonitoredCall            *MonitoredCall          `json:"MonitoredCall,omitempty"`
	IsCompleteStopSequence   bool                    `json:"IsCompleteStopSequence"`
}

// VehicleLocation represents the geographical location of a vehicle
type VehicleLocation struct {
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
}

// MonitoredCall is the stop the vehicle is at or heading to
type MonitoredCall struct {
	StopPointRef  string `json:"StopPointRef"`
	Order         int    `json:"Order"`
	StopPointName string `json:"StopPointName,omitempty"`
	VehicleAtStop bool   `json:"VehicleAtStop"`
	Extensions    struct {
		Distances Distances `json:"Distances"`
	} `json:"Extensions"`
}

// Distances describe how far the vehicle is from the monitored call
type Distances struct {
	PresentableDistance    string  `json:"PresentableDistance"`
	DistanceFromCall       float64 `json:"DistanceFromCall"`
	StopsFromCall          int     `json:"StopsFromCall"`
	CallDistanceAlongRoute float64 `json:"CallDistanceAlongRoute"`
}

// Journey is a vehicle with the static and realtime context needed to
// describe it.
type Journey struct {
	Vehicle tracking.VehicleState
	Trip    gtfs.Trip
	Route   gtfs.Route
	Stops   []tracking.ScheduledStop
	// Delay in seconds, nil when no trip update was seen.
	Delay *int64
}

// atStopKM is the distance under which a vehicle counts as at its stop.
const atStopKM = 0.05

// BuildVehicleMonitoring renders journeys as a VM delivery.
func BuildVehicleMonitoring(journeys []Journey, o Options, now time.Time) Response {
	resp := newResponse(o, now)
	vm := VehicleMonitoring{
		ResponseTimestamp: resp.Siri.ServiceDelivery.ResponseTimestamp,
		VehicleActivity:   make([]VehicleActivityEntry, 0, len(journeys)),
	}
	if o.ReadInterval > 0 {
		vm.ValidUntil = utils.ValidUntil(now.Unix(), o.ReadInterval)
	}
	for _, j := range journeys {
		entry := VehicleActivityEntry{
			RecordedAtTime:          utils.FormatUnix(j.Vehicle.Timestamp),
			MonitoredVehicleJourney: buildMVJ(j, o),
		}
		if o.ReadInterval > 0 {
			entry.ValidUntilTime = utils.ValidUntil(j.Vehicle.Timestamp, o.ReadInterval)
		}
		vm.VehicleActivity = append(vm.VehicleActivity, entry)
	}
	resp.Siri.ServiceDelivery.VehicleMonitoringDelivery = append(resp.Siri.ServiceDelivery.VehicleMonitoringDelivery, vm)
	return resp
}

func buildMVJ(j Journey, o Options) MonitoredVehicleJourney {
	v := j.Vehicle
	routeID := v.RouteID
	if routeID == "" {
		routeID = j.Trip.RouteID
	}
	mvj := MonitoredVehicleJourney{
		LineRef:      o.ref("Line", routeID),
		DirectionRef: directionRef(v.DirectionID),
		FramedVehicleJourneyRef: FramedVehicleJourneyRef{
			DataFrameRef:           dataFrameRef(v.ServiceDate),
			DatedVehicleJourneyRef: o.ref("ServiceJourney", v.TripID),
		},
		PublishedLineName: j.Route.ShortName,
		DestinationName:   j.Trip.Headsign,
		Monitored:         true,
		DataSource:        o.codespace(),
		VehicleLocation:   VehicleLocation{Latitude: v.Lat, Longitude: v.Lon},
		Bearing:           v.Bearing,
		Delay:             "PT0S",
		VehicleRef:        o.ref("VehicleRef", v.VehicleID),
	}
	if j.Route.ID != "" {
		mvj.VehicleMode = VehicleMode(j.Route.Type)
	}
	if j.Delay != nil {
		mvj.Delay = utils.DurationISO8601(*j.Delay)
	}
	if n := len(j.Stops); n > 0 {
		origin, dest := j.Stops[0], j.Stops[n-1]
		mvj.OriginRef = o.ref("Quay", origin.StopID)
		mvj.OriginName = origin.Name
		mvj.DestinationRef = o.ref("Quay", dest.StopID)
		if mvj.DestinationName == "" {
			mvj.DestinationName = dest.Name
		}
		if v.ServiceDate != "" && origin.Departure >= 0 {
			if t, err := gtfs.ServiceDayTime(v.ServiceDate, origin.Departure, o.location()); err == nil {
				mvj.OriginAimedDepartureTime = t.Format(time.RFC3339)
			}
		}
	}
	mvj.MonitoredCall = monitoredCall(j, o)
	return mvj
}

// monitoredCall is the stop the vehicle is at, or else the next stop on
// its trip.
func monitoredCall(j Journey, o Options) *MonitoredCall {
	v := j.Vehicle
	idx := -1
	for i, s := range j.Stops {
		if s.StopID == v.NearestStopID && s.StopSequence == v.NearestStopSeq && v.DistanceToStopKM <= atStopKM {
			idx = i
			break
		}
	}
	atStop := idx >= 0
	if !atStop {
		for i, s := range j.Stops {
			if s.StopID == v.NextStopID && s.StopSequence >= v.NearestStopSeq {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil
	}

	pts := make([]gtfs.Waypoint, len(j.Stops))
	for i, s := range j.Stops {
		pts[i] = gtfs.Waypoint{Longitude: s.Lon, Latitude: s.Lat}
	}
	path := gtfs.NewPath(pts)
	callKM := path.CumulativeKM(idx)
	fromCall := max(callKM-v.DistanceAlongKM, 0)
	if atStop {
		fromCall = v.DistanceToStopKM
	}

	s := j.Stops[idx]
	call := &MonitoredCall{
		StopPointRef:  o.ref("Quay", s.StopID),
		Order:         s.StopSequence,
		StopPointName: s.Name,
		VehicleAtStop: atStop,
	}
	call.Extensions.Distances = Distances{
		PresentableDistance:    utils.PresentableDistance(0, fromCall, fromCall),
		DistanceFromCall:       round(fromCall * 1000),
		CallDistanceAlongRoute: round(callKM * 1000),
	}
	return call
}

// VehicleMode maps a GTFS route_type to a SIRI vehicle mode.
func VehicleMode(routeType int) string {
	switch routeType {
	case 0:
		return "tram"
	case 1:
		return "metro"
	case 2:
		return "rail"
	case 4:
		return "ferry"
	case 5:
		return "cableTram"
	case 6:
		return "aerialLift"
	case 7:
		return "funicular"
	case 11:
		return "trolleybus"
	case 12:
		return "monorail"
	default:
		return "bus"
	}
}

func directionRef(directionID int) string {
	if directionID == 1 {
		return "1"
	}
	return "0"
}

// dataFrameRef turns a YYYYMMDD service date into YYYY-MM-DD.
func dataFrameRef(serviceDate string) string {
	if len(serviceDate) != 8 {
		return serviceDate
	}
	return serviceDate[:4] + "-" + serviceDate[4:6] + "-" + serviceDate[6:]
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
