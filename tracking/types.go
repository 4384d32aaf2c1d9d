package tracking

import (
	"context"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
)

// ScheduledStop is a stop time joined with its stop.
type ScheduledStop struct {
	gtfs.StopTime
	Name string
	Lat  float64
	Lon  float64
}

// Schedule is the static timetable the matcher resolves realtime data
// against. An unknown trip yields found == false or no stops, not an error;
// errors are reserved for the backing store failing.
type Schedule interface {
	Trip(ctx context.Context, tripID string) (trip gtfs.Trip, found bool, err error)
	TripStops(ctx context.Context, tripID string) ([]ScheduledStop, error)
	AgencyTimezone(ctx context.Context) (string, error)
}

// Observation is a matched realtime fact ready to be stored.
type Observation interface {
	ObservationKind() string
}

const (
	KindVehicle      = "vehicle"
	KindTripInstance = "trip_instance"
	KindAlert        = "alert"
)

// VehicleState places a vehicle on its trip.
type VehicleState struct {
	VehicleID   string   `json:"vehicle_id"`
	Label       string   `json:"label,omitempty"`
	TripID      string   `json:"trip_id"`
	RouteID     string   `json:"route_id"`
	DirectionID int      `json:"direction_id"`
	ServiceDate string   `json:"service_date"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Timestamp   int64    `json:"timestamp"`

	DistanceAlongKM  float64 `json:"distance_along_km"`
	OffsetKM         float64 `json:"offset_km"`
	NearestStopID    string  `json:"nearest_stop_id"`
	NearestStopSeq   int     `json:"nearest_stop_sequence"`
	DistanceToStopKM float64 `json:"distance_to_stop_km"`
	NextStopID       string  `json:"next_stop_id,omitempty"`
	StopsAway        int     `json:"stops_away"`
}

func (v *VehicleState) ObservationKind() string { return KindVehicle }

// StopDelay compares the scheduled and expected arrival at one stop. Times
// are epoch seconds; Expected is 0 for skipped stops.
type StopDelay struct {
	StopSequence         int    `json:"stop_sequence"`
	StopID               string `json:"stop_id"`
	Scheduled            int64  `json:"scheduled"`
	Expected             int64  `json:"expected,omitempty"`
	DelaySeconds         int64  `json:"delay_seconds"`
	Propagated           bool   `json:"propagated"`
	ScheduleRelationship string `json:"schedule_relationship,omitempty"`
}

// TripInstance is one run of a trip on a service date.
type TripInstance struct {
	TripID       string      `json:"trip_id"`
	ServiceDate  string      `json:"service_date"`
	RouteID      string      `json:"route_id"`
	VehicleID    string      `json:"vehicle_id,omitempty"`
	Timestamp    int64       `json:"timestamp"`
	DelaySeconds int64       `json:"delay_seconds"`
	Stops        []StopDelay `json:"stops"`
}

func (t *TripInstance) ObservationKind() string { return KindTripInstance }

// Key identifies the instance across feed refreshes.
func (t *TripInstance) Key() string { return t.TripID + "@" + t.ServiceDate }

// ServiceAlert passes a realtime alert through to storage.
type ServiceAlert struct {
	gtfsrt.Alert
}

func (a *ServiceAlert) ObservationKind() string { return KindAlert }
