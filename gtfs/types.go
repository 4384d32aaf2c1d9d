package gtfs

import "strconv"

// Waypoint represents a geographical coordinate
type Waypoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Entity is one decoded GTFS record. Key is unique within a Kind.
type Entity interface {
	Kind() string
	Key() string
}

const (
	KindAgency     = "agency"
	KindRoute      = "route"
	KindStop       = "stop"
	KindTrip       = "trip"
	KindStopTime   = "stop_time"
	KindShapePoint = "shape_point"
	KindCalendar   = "calendar"
)

type Agency struct {
	ID       string `json:"agency_id"`
	Name     string `json:"agency_name"`
	URL      string `json:"agency_url,omitempty"`
	Timezone string `json:"agency_timezone"`
}

func (a Agency) Kind() string { return KindAgency }
func (a Agency) Key() string  { return a.ID }

type Route struct {
	ID        string `json:"route_id"`
	AgencyID  string `json:"agency_id,omitempty"`
	ShortName string `json:"route_short_name,omitempty"`
	LongName  string `json:"route_long_name,omitempty"`
	Type      int    `json:"route_type"`
}

func (r Route) Kind() string { return KindRoute }
func (r Route) Key() string  { return r.ID }

type Stop struct {
	ID            string  `json:"stop_id"`
	Code          string  `json:"stop_code,omitempty"`
	Name          string  `json:"stop_name"`
	Lat           float64 `json:"stop_lat"`
	Lon           float64 `json:"stop_lon"`
	ParentStation string  `json:"parent_station,omitempty"`
}

func (s Stop) Kind() string { return KindStop }
func (s Stop) Key() string  { return s.ID }

type Trip struct {
	ID          string `json:"trip_id"`
	RouteID     string `json:"route_id"`
	ServiceID   string `json:"service_id"`
	Headsign    string `json:"trip_headsign,omitempty"`
	DirectionID int    `json:"direction_id"`
	ShapeID     string `json:"shape_id,omitempty"`
	BlockID     string `json:"block_id,omitempty"`
}

func (t Trip) Kind() string { return KindTrip }
func (t Trip) Key() string  { return t.ID }

// StopTime holds arrival and departure as seconds since the start of the
// service day, NoTime when absent.
type StopTime struct {
	TripID       string  `json:"trip_id"`
	StopSequence int     `json:"stop_sequence"`
	StopID       string  `json:"stop_id"`
	Arrival      int     `json:"arrival"`
	Departure    int     `json:"departure"`
	PickupType   int     `json:"pickup_type"`
	DropOffType  int     `json:"drop_off_type"`
	DistTraveled float64 `json:"shape_dist_traveled,omitempty"`
}

func (s StopTime) Kind() string { return KindStopTime }
func (s StopTime) Key() string  { return s.TripID + "#" + strconv.Itoa(s.StopSequence) }

type ShapePoint struct {
	ShapeID      string  `json:"shape_id"`
	Sequence     int     `json:"shape_pt_sequence"`
	Lat          float64 `json:"shape_pt_lat"`
	Lon          float64 `json:"shape_pt_lon"`
	DistTraveled float64 `json:"shape_dist_traveled,omitempty"`
}

func (p ShapePoint) Kind() string { return KindShapePoint }
func (p ShapePoint) Key() string  { return p.ShapeID + "#" + strconv.Itoa(p.Sequence) }

// Calendar is a weekly service pattern; Days starts on Monday.
type Calendar struct {
	ServiceID string  `json:"service_id"`
	Days      [7]bool `json:"days"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
}

func (c Calendar) Kind() string { return KindCalendar }
func (c Calendar) Key() string  { return c.ServiceID }
