package gtfsrt

import "time"

// Payload is one fetched feed body.
type Payload struct {
	Location  string
	Body      []byte
	FetchedAt time.Time
}

// Update is one decoded feed entity: a *VehiclePosition, *TripUpdate or *Alert.
type Update interface {
	EntityID() string
	FeedTime() int64
}

// Trip identifies the trip instance an update refers to.
type Trip struct {
	TripID               string `json:"trip_id"`
	RouteID              string `json:"route_id,omitempty"`
	DirectionID          int    `json:"direction_id"`
	StartDate            string `json:"start_date,omitempty"` // YYYYMMDD
	StartTime            string `json:"start_time,omitempty"`
	ScheduleRelationship string `json:"schedule_relationship,omitempty"`
}

type VehiclePosition struct {
	ID            string   `json:"id"`
	FeedTimestamp int64    `json:"feed_timestamp"`
	Timestamp     int64    `json:"timestamp"`
	Trip          Trip     `json:"trip"`
	VehicleID     string   `json:"vehicle_id"`
	Label         string   `json:"label,omitempty"`
	HasPosition   bool     `json:"has_position"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Bearing       *float64 `json:"bearing,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	StopID        string   `json:"stop_id,omitempty"`
	StopSequence  int      `json:"stop_sequence"` // -1 when absent
	Status        string   `json:"status,omitempty"`
}

func (v *VehiclePosition) EntityID() string { return v.ID }
func (v *VehiclePosition) FeedTime() int64  { return v.FeedTimestamp }

// StopTimeEvent is an arrival or departure prediction. Time is epoch seconds,
// 0 when the feed only carries a delay.
type StopTimeEvent struct {
	Time     int64 `json:"time,omitempty"`
	Delay    int32 `json:"delay,omitempty"`
	HasDelay bool  `json:"has_delay"`
}

func (e StopTimeEvent) Empty() bool { return e.Time == 0 && !e.HasDelay }

type StopTimeUpdate struct {
	StopSequence         int           `json:"stop_sequence"` // -1 when absent
	StopID               string        `json:"stop_id,omitempty"`
	Arrival              StopTimeEvent `json:"arrival"`
	Departure            StopTimeEvent `json:"departure"`
	ScheduleRelationship string        `json:"schedule_relationship,omitempty"`
}

type TripUpdate struct {
	ID              string           `json:"id"`
	FeedTimestamp   int64            `json:"feed_timestamp"`
	Timestamp       int64            `json:"timestamp"`
	Trip            Trip             `json:"trip"`
	VehicleID       string           `json:"vehicle_id,omitempty"`
	Delay           *int32           `json:"delay,omitempty"`
	StopTimeUpdates []StopTimeUpdate `json:"stop_time_updates"`
}

func (t *TripUpdate) EntityID() string { return t.ID }
func (t *TripUpdate) FeedTime() int64  { return t.FeedTimestamp }

// Alert is a simplified service alert. Start and End come from the first
// active period; 0 means unbounded.
type Alert struct {
	ID            string   `json:"id"`
	FeedTimestamp int64    `json:"feed_timestamp"`
	Header        string   `json:"header"`
	Description   string   `json:"description,omitempty"`
	URL           string   `json:"url,omitempty"`
	Cause         string   `json:"cause,omitempty"`
	Effect        string   `json:"effect,omitempty"`
	Severity      string   `json:"severity,omitempty"`
	Start         int64    `json:"start,omitempty"`
	End           int64    `json:"end,omitempty"`
	RouteIDs      []string `json:"route_ids,omitempty"`
	StopIDs       []string `json:"stop_ids,omitempty"`
	TripIDs       []string `json:"trip_ids,omitempty"`
}

func (a *Alert) EntityID() string { return a.ID }
func (a *Alert) FeedTime() int64  { return a.FeedTimestamp }

// ActiveAt reports whether the alert applies at epoch.
func (a *Alert) ActiveAt(epoch int64) bool {
	return (a.Start == 0 || epoch >= a.Start) && (a.End == 0 || epoch <= a.End)
}
