package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
	"github.com/theoremus-urban-solutions/gtfs-ingest/utils"
)

var _ tracking.Schedule = (*Store)(nil)

func (s *Store) GetStop(ctx context.Context, id string) (gtfs.Stop, error) {
	var st gtfs.Stop
	err := s.db.QueryRowContext(ctx,
		`SELECT stop_id, code, name, lat, lon, parent_station FROM stops WHERE stop_id = ?`, id).
		Scan(&st.ID, &st.Code, &st.Name, &st.Lat, &st.Lon, &st.ParentStation)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfs.Stop{}, fmt.Errorf("stop %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return gtfs.Stop{}, fmt.Errorf("failed to get stop: %w", err)
	}
	return st, nil
}

// StopDistance is a stop with its distance from a query point.
type StopDistance struct {
	gtfs.Stop
	DistanceKM float64 `json:"distance_km"`
}

// NearestStops returns up to limit stops ordered by great-circle distance.
// Candidates are preselected in SQL with an equirectangular approximation.
func (s *Store) NearestStops(ctx context.Context, lat, lon float64, limit int) ([]StopDistance, error) {
	if limit <= 0 {
		limit = 10
	}
	k := math.Cos(lat * math.Pi / 180)
	rows, err := s.db.QueryContext(ctx, `SELECT stop_id, code, name, lat, lon, parent_station FROM stops
		ORDER BY (lat - ?) * (lat - ?) + ((lon - ?) * ?) * ((lon - ?) * ?)
		LIMIT ?`, lat, lat, lon, k, lon, k, limit*2)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var out []StopDistance
	for rows.Next() {
		var sd StopDistance
		if err := rows.Scan(&sd.ID, &sd.Code, &sd.Name, &sd.Lat, &sd.Lon, &sd.ParentStation); err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		sd.DistanceKM = utils.HaversineKM(lat, lon, sd.Lat, sd.Lon)
		out = append(out, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKM < out[j].DistanceKM })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Trip implements tracking.Schedule.
func (s *Store) Trip(ctx context.Context, tripID string) (gtfs.Trip, bool, error) {
	var t gtfs.Trip
	err := s.db.QueryRowContext(ctx, `SELECT trip_id, route_id, service_id, headsign, direction_id, shape_id, block_id
		FROM trips WHERE trip_id = ?`, tripID).
		Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.DirectionID, &t.ShapeID, &t.BlockID)
	if errors.Is(err, sql.ErrNoRows) {
		return gtfs.Trip{}, false, nil
	}
	if err != nil {
		return gtfs.Trip{}, false, fmt.Errorf("failed to get trip: %w", err)
	}
	return t, true, nil
}

// TripStops implements tracking.Schedule. Stop times whose stop is missing
// from stops.txt are left out.
func (s *Store) TripStops(ctx context.Context, tripID string) ([]tracking.ScheduledStop, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT st.trip_id, st.stop_sequence, st.stop_id, st.arrival, st.departure,
			st.pickup_type, st.drop_off_type, COALESCE(st.dist_traveled, 0), COALESCE(s.name, ''), s.lat, s.lon
		FROM stop_times st JOIN stops s ON s.stop_id = st.stop_id
		WHERE st.trip_id = ?
		ORDER BY st.stop_sequence`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop times: %w", err)
	}
	defer rows.Close()

	var out []tracking.ScheduledStop
	for rows.Next() {
		var ss tracking.ScheduledStop
		if err := rows.Scan(&ss.TripID, &ss.StopSequence, &ss.StopID, &ss.Arrival, &ss.Departure,
			&ss.PickupType, &ss.DropOffType, &ss.DistTraveled, &ss.Name, &ss.Lat, &ss.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan stop time: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// AgencyTimezone implements tracking.Schedule. Feeds share one timezone
// across agencies; the first agency's is returned, "" without agencies.
func (s *Store) AgencyTimezone(ctx context.Context) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM agencies ORDER BY agency_id LIMIT 1`).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get agency timezone: %w", err)
	}
	return tz, nil
}

// TripDetail is a trip with its route and ordered stops.
type TripDetail struct {
	gtfs.Trip
	Route gtfs.Route               `json:"route"`
	Stops []tracking.ScheduledStop `json:"stops"`
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (TripDetail, error) {
	t, found, err := s.Trip(ctx, tripID)
	if err != nil {
		return TripDetail{}, err
	}
	if !found {
		return TripDetail{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	d := TripDetail{Trip: t}
	err = s.db.QueryRowContext(ctx, `SELECT route_id, agency_id, short_name, long_name, route_type
		FROM routes WHERE route_id = ?`, t.RouteID).
		Scan(&d.Route.ID, &d.Route.AgencyID, &d.Route.ShortName, &d.Route.LongName, &d.Route.Type)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return TripDetail{}, fmt.Errorf("failed to get route: %w", err)
	}
	if d.Stops, err = s.TripStops(ctx, tripID); err != nil {
		return TripDetail{}, err
	}
	return d, nil
}

// ListVehicles returns the latest state of every vehicle, optionally limited
// to one route, ordered by vehicle id.
func (s *Store) ListVehicles(ctx context.Context, routeID string) ([]tracking.VehicleState, error) {
	query := `SELECT vehicle_id, COALESCE(label, ''), trip_id, COALESCE(route_id, ''), direction_id,
			COALESCE(service_date, ''), lat, lon, bearing, timestamp, COALESCE(distance_along_km, 0),
			COALESCE(offset_km, 0), COALESCE(nearest_stop_id, ''), COALESCE(nearest_stop_sequence, 0),
			COALESCE(distance_to_stop_km, 0), COALESCE(next_stop_id, ''), COALESCE(stops_away, 0)
		FROM vehicle_states`
	var args []any
	if routeID != "" {
		query += ` WHERE route_id = ?`
		args = append(args, routeID)
	}
	query += ` ORDER BY vehicle_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var out []tracking.VehicleState
	for rows.Next() {
		var v tracking.VehicleState
		var bearing sql.NullFloat64
		if err := rows.Scan(&v.VehicleID, &v.Label, &v.TripID, &v.RouteID, &v.DirectionID, &v.ServiceDate,
			&v.Lat, &v.Lon, &bearing, &v.Timestamp, &v.DistanceAlongKM, &v.OffsetKM, &v.NearestStopID,
			&v.NearestStopSeq, &v.DistanceToStopKM, &v.NextStopID, &v.StopsAway); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		if bearing.Valid {
			b := bearing.Float64
			v.Bearing = &b
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetTripInstance returns a trip instance with its stop delays. An empty
// serviceDate selects the most recently updated instance of the trip.
func (s *Store) GetTripInstance(ctx context.Context, tripID, serviceDate string) (tracking.TripInstance, error) {
	var ti tracking.TripInstance
	query := `SELECT trip_id, service_date, COALESCE(route_id, ''), COALESCE(vehicle_id, ''), timestamp, delay_seconds
		FROM trip_instances WHERE trip_id = ?`
	args := []any{tripID}
	if serviceDate != "" {
		query += ` AND service_date = ?`
		args = append(args, serviceDate)
	}
	query += ` ORDER BY timestamp DESC LIMIT 1`

	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&ti.TripID, &ti.ServiceDate, &ti.RouteID, &ti.VehicleID, &ti.Timestamp, &ti.DelaySeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.TripInstance{}, fmt.Errorf("trip instance %s: %w", tripID, ErrNotFound)
	}
	if err != nil {
		return tracking.TripInstance{}, fmt.Errorf("failed to get trip instance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT stop_sequence, stop_id, scheduled, COALESCE(expected, 0),
			delay_seconds, propagated, COALESCE(schedule_relationship, '')
		FROM stop_delays WHERE trip_id = ? AND service_date = ?
		ORDER BY stop_sequence`, ti.TripID, ti.ServiceDate)
	if err != nil {
		return tracking.TripInstance{}, fmt.Errorf("failed to query stop delays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sd tracking.StopDelay
		var propagated int
		if err := rows.Scan(&sd.StopSequence, &sd.StopID, &sd.Scheduled, &sd.Expected, &sd.DelaySeconds,
			&propagated, &sd.ScheduleRelationship); err != nil {
			return tracking.TripInstance{}, fmt.Errorf("failed to scan stop delay: %w", err)
		}
		sd.Propagated = propagated == 1
		ti.Stops = append(ti.Stops, sd)
	}
	return ti, rows.Err()
}

// ListAlerts returns alerts active at epoch, or all alerts when epoch is 0.
func (s *Store) ListAlerts(ctx context.Context, epoch int64) ([]gtfsrt.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alert_id, feed_timestamp, COALESCE(header, ''),
			COALESCE(description, ''), COALESCE(url, ''), COALESCE(cause, ''), COALESCE(effect, ''),
			COALESCE(severity, ''), start_time, end_time, route_ids, stop_ids, trip_ids
		FROM alerts
		WHERE ? = 0 OR ((start_time = 0 OR start_time <= ?) AND (end_time = 0 OR end_time >= ?))
		ORDER BY alert_id`, epoch, epoch, epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []gtfsrt.Alert
	for rows.Next() {
		var a gtfsrt.Alert
		var routes, stops, trips sql.NullString
		if err := rows.Scan(&a.ID, &a.FeedTimestamp, &a.Header, &a.Description, &a.URL, &a.Cause, &a.Effect,
			&a.Severity, &a.Start, &a.End, &routes, &stops, &trips); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		for _, f := range []struct {
			raw sql.NullString
			dst *[]string
		}{{routes, &a.RouteIDs}, {stops, &a.StopIDs}, {trips, &a.TripIDs}} {
			if f.raw.Valid && f.raw.String != "" {
				if err := json.Unmarshal([]byte(f.raw.String), f.dst); err != nil {
					return nil, fmt.Errorf("failed to unmarshal alert %s entities: %w", a.ID, err)
				}
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestRealtimeEpoch returns the newest realtime timestamp stored, 0 when
// no realtime data has been ingested.
func (s *Store) LatestRealtimeEpoch(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(
			COALESCE((SELECT MAX(timestamp) FROM vehicle_states), 0),
			COALESCE((SELECT MAX(timestamp) FROM trip_instances), 0),
			COALESCE((SELECT MAX(feed_timestamp) FROM alerts), 0))`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest realtime timestamp: %w", err)
	}
	return ts, nil
}

var countedTables = []string{
	"agencies", "routes", "stops", "trips", "stop_times", "shapes", "calendars",
	"vehicle_states", "trip_instances", "stop_delays", "alerts",
}

// Counts returns the number of rows per table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
