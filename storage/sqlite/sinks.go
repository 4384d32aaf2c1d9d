package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
)

// DefaultBatchSize is the number of items written per transaction.
const DefaultBatchSize = 500

// BatchSink buffers items and upserts them in one transaction per batch. A
// failed row is a record-level error; a failed commit fails the stage.
type BatchSink[T any] struct {
	store *Store
	size  int
	write func(ctx context.Context, tx *sql.Tx, item T) error
}

// EntitySink writes gtfs.Entity values.
func (s *Store) EntitySink(batchSize int) *BatchSink[gtfs.Entity] {
	return newBatchSink(s, batchSize, writeEntity)
}

// ObservationSink writes tracking.Observation values.
func (s *Store) ObservationSink(batchSize int) *BatchSink[tracking.Observation] {
	return newBatchSink(s, batchSize, writeObservation)
}

func newBatchSink[T any](s *Store, size int, write func(context.Context, *sql.Tx, T) error) *BatchSink[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchSink[T]{store: s, size: size, write: write}
}

func (b *BatchSink[T]) InputType() reflect.Type { return reflect.TypeFor[T]() }

func (b *BatchSink[T]) Consume(rc *pipeline.RunContext, in *pipeline.Inbox) error {
	batch := make([]T, 0, b.size)
	for item := range in.All() {
		v, err := pipeline.As[T](item)
		if err != nil {
			return err
		}
		batch = append(batch, v)
		if len(batch) == b.size {
			if err := b.flush(rc, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := in.Err(); err != nil {
		return err
	}
	return b.flush(rc, batch)
}

func (b *BatchSink[T]) flush(rc *pipeline.RunContext, batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if rc.Aborted() {
		return pipeline.ErrAborted
	}
	ctx := rc.Context()
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	skipped := pipeline.MetricName(rc.Stage(), "skipped")
	written := 0
	for _, item := range batch {
		if err := b.writeOne(ctx, tx, item); err != nil {
			// a cancelled write is not the record's fault
			if rc.Aborted() {
				return pipeline.ErrAborted
			}
			if err := rc.HandleError(err, skipped); err != nil {
				return err
			}
			continue
		}
		written++
	}
	if rc.Aborted() {
		return pipeline.ErrAborted
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	rc.Telemetry().Incr(pipeline.MetricName(rc.Stage(), "written"), int64(written))
	rc.Telemetry().Incr(pipeline.MetricName(rc.Stage(), "batches"), 1)
	return nil
}

// writeOne wraps a write in a savepoint so a record spanning several
// statements is either stored whole or not at all.
func (b *BatchSink[T]) writeOne(ctx context.Context, tx *sql.Tx, item T) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT record"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := b.write(ctx, tx, item); err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO record"); rerr != nil {
			return errors.Join(err, rerr)
		}
		_, _ = tx.ExecContext(ctx, "RELEASE record")
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE record")
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeEntity(ctx context.Context, tx *sql.Tx, e gtfs.Entity) error {
	var err error
	switch e := e.(type) {
	case gtfs.Agency:
		_, err = tx.ExecContext(ctx, `INSERT INTO agencies (agency_id, name, url, timezone) VALUES (?, ?, ?, ?)
			ON CONFLICT(agency_id) DO UPDATE SET name = excluded.name, url = excluded.url, timezone = excluded.timezone`,
			e.ID, e.Name, e.URL, e.Timezone)
	case gtfs.Route:
		_, err = tx.ExecContext(ctx, `INSERT INTO routes (route_id, agency_id, short_name, long_name, route_type) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(route_id) DO UPDATE SET agency_id = excluded.agency_id, short_name = excluded.short_name,
				long_name = excluded.long_name, route_type = excluded.route_type`,
			e.ID, e.AgencyID, e.ShortName, e.LongName, e.Type)
	case gtfs.Stop:
		_, err = tx.ExecContext(ctx, `INSERT INTO stops (stop_id, code, name, lat, lon, parent_station) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(stop_id) DO UPDATE SET code = excluded.code, name = excluded.name, lat = excluded.lat,
				lon = excluded.lon, parent_station = excluded.parent_station`,
			e.ID, e.Code, e.Name, e.Lat, e.Lon, e.ParentStation)
	case gtfs.Trip:
		_, err = tx.ExecContext(ctx, `INSERT INTO trips (trip_id, route_id, service_id, headsign, direction_id, shape_id, block_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trip_id) DO UPDATE SET route_id = excluded.route_id, service_id = excluded.service_id,
				headsign = excluded.headsign, direction_id = excluded.direction_id, shape_id = excluded.shape_id,
				block_id = excluded.block_id`,
			e.ID, e.RouteID, e.ServiceID, e.Headsign, e.DirectionID, e.ShapeID, e.BlockID)
	case gtfs.StopTime:
		_, err = tx.ExecContext(ctx, `INSERT INTO stop_times (trip_id, stop_sequence, stop_id, arrival, departure,
				pickup_type, drop_off_type, dist_traveled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trip_id, stop_sequence) DO UPDATE SET stop_id = excluded.stop_id, arrival = excluded.arrival,
				departure = excluded.departure, pickup_type = excluded.pickup_type,
				drop_off_type = excluded.drop_off_type, dist_traveled = excluded.dist_traveled`,
			e.TripID, e.StopSequence, e.StopID, e.Arrival, e.Departure, e.PickupType, e.DropOffType, e.DistTraveled)
	case gtfs.ShapePoint:
		_, err = tx.ExecContext(ctx, `INSERT INTO shapes (shape_id, sequence, lat, lon, dist_traveled) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(shape_id, sequence) DO UPDATE SET lat = excluded.lat, lon = excluded.lon,
				dist_traveled = excluded.dist_traveled`,
			e.ShapeID, e.Sequence, e.Lat, e.Lon, e.DistTraveled)
	case gtfs.Calendar:
		days := make([]byte, len(e.Days))
		for i, on := range e.Days {
			days[i] = byte('0' + boolInt(on))
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO calendars (service_id, days, start_date, end_date) VALUES (?, ?, ?, ?)
			ON CONFLICT(service_id) DO UPDATE SET days = excluded.days, start_date = excluded.start_date,
				end_date = excluded.end_date`,
			e.ServiceID, string(days), e.StartDate, e.EndDate)
	default:
		return fmt.Errorf("unsupported entity %T", e)
	}
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", e.Kind(), e.Key(), err)
	}
	return nil
}

func writeObservation(ctx context.Context, tx *sql.Tx, o tracking.Observation) error {
	switch o := o.(type) {
	case *tracking.VehicleState:
		var bearing sql.NullFloat64
		if o.Bearing != nil {
			bearing = sql.NullFloat64{Float64: *o.Bearing, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO vehicle_states (vehicle_id, label, trip_id, route_id, direction_id,
				service_date, lat, lon, bearing, timestamp, distance_along_km, offset_km, nearest_stop_id,
				nearest_stop_sequence, distance_to_stop_km, next_stop_id, stops_away)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(vehicle_id) DO UPDATE SET label = excluded.label, trip_id = excluded.trip_id,
				route_id = excluded.route_id, direction_id = excluded.direction_id, service_date = excluded.service_date,
				lat = excluded.lat, lon = excluded.lon, bearing = excluded.bearing, timestamp = excluded.timestamp,
				distance_along_km = excluded.distance_along_km, offset_km = excluded.offset_km,
				nearest_stop_id = excluded.nearest_stop_id, nearest_stop_sequence = excluded.nearest_stop_sequence,
				distance_to_stop_km = excluded.distance_to_stop_km, next_stop_id = excluded.next_stop_id,
				stops_away = excluded.stops_away
			WHERE excluded.timestamp >= vehicle_states.timestamp`,
			o.VehicleID, o.Label, o.TripID, o.RouteID, o.DirectionID, o.ServiceDate, o.Lat, o.Lon, bearing,
			o.Timestamp, o.DistanceAlongKM, o.OffsetKM, o.NearestStopID, o.NearestStopSeq, o.DistanceToStopKM,
			o.NextStopID, o.StopsAway)
		if err != nil {
			return fmt.Errorf("upsert vehicle %s: %w", o.VehicleID, err)
		}
	case *tracking.TripInstance:
		return writeTripInstance(ctx, tx, o)
	case *tracking.ServiceAlert:
		ids := func(v []string) string {
			b, _ := json.Marshal(v)
			return string(b)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO alerts (alert_id, feed_timestamp, header, description, url, cause,
				effect, severity, start_time, end_time, route_ids, stop_ids, trip_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(alert_id) DO UPDATE SET feed_timestamp = excluded.feed_timestamp, header = excluded.header,
				description = excluded.description, url = excluded.url, cause = excluded.cause,
				effect = excluded.effect, severity = excluded.severity, start_time = excluded.start_time,
				end_time = excluded.end_time, route_ids = excluded.route_ids, stop_ids = excluded.stop_ids,
				trip_ids = excluded.trip_ids`,
			o.ID, o.FeedTimestamp, o.Header, o.Description, o.URL, o.Cause, o.Effect, o.Severity, o.Start, o.End,
			ids(o.RouteIDs), ids(o.StopIDs), ids(o.TripIDs))
		if err != nil {
			return fmt.Errorf("upsert alert %s: %w", o.ID, err)
		}
	default:
		return fmt.Errorf("unsupported observation %T", o)
	}
	return nil
}

// writeTripInstance replaces the stop delays of the instance so stops that
// dropped out of the feed do not linger.
func writeTripInstance(ctx context.Context, tx *sql.Tx, ti *tracking.TripInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trip_instances (trip_id, service_date, route_id, vehicle_id, timestamp, delay_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trip_id, service_date) DO UPDATE SET route_id = excluded.route_id, vehicle_id = excluded.vehicle_id,
			timestamp = excluded.timestamp, delay_seconds = excluded.delay_seconds`,
		ti.TripID, ti.ServiceDate, ti.RouteID, ti.VehicleID, ti.Timestamp, ti.DelaySeconds)
	if err != nil {
		return fmt.Errorf("upsert trip instance %s: %w", ti.Key(), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stop_delays WHERE trip_id = ? AND service_date = ?`,
		ti.TripID, ti.ServiceDate); err != nil {
		return fmt.Errorf("clear stop delays %s: %w", ti.Key(), err)
	}
	for _, sd := range ti.Stops {
		var exp sql.NullInt64
		if sd.Expected != 0 {
			exp = sql.NullInt64{Int64: sd.Expected, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO stop_delays (trip_id, service_date, stop_sequence, stop_id, scheduled,
				expected, delay_seconds, propagated, schedule_relationship)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ti.TripID, ti.ServiceDate, sd.StopSequence, sd.StopID, sd.Scheduled, exp, sd.DelaySeconds,
			boolInt(sd.Propagated), sd.ScheduleRelationship)
		if err != nil {
			return fmt.Errorf("insert stop delay %s#%d: %w", ti.Key(), sd.StopSequence, err)
		}
	}
	return nil
}
