// Package sqlite persists decoded GTFS entities and matched realtime
// observations in SQLite and answers the queries behind the HTTP API.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups of a single row that does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed GTFS store. It also serves as the tracking
// Schedule.
type Store struct {
	db *sql.DB
}

// New opens dsn, enables WAL and creates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: pragmas apply to it and writers never contend
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agencies (
			agency_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT,
			timezone TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS routes (
			route_id TEXT PRIMARY KEY,
			agency_id TEXT,
			short_name TEXT,
			long_name TEXT,
			route_type INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stops (
			stop_id TEXT PRIMARY KEY,
			code TEXT,
			name TEXT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			parent_station TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trips (
			trip_id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			service_id TEXT NOT NULL,
			headsign TEXT,
			direction_id INTEGER NOT NULL DEFAULT 0,
			shape_id TEXT,
			block_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stop_times (
			trip_id TEXT NOT NULL,
			stop_sequence INTEGER NOT NULL,
			stop_id TEXT NOT NULL,
			arrival INTEGER NOT NULL,
			departure INTEGER NOT NULL,
			pickup_type INTEGER NOT NULL DEFAULT 0,
			drop_off_type INTEGER NOT NULL DEFAULT 0,
			dist_traveled REAL,
			PRIMARY KEY (trip_id, stop_sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS shapes (
			shape_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			dist_traveled REAL,
			PRIMARY KEY (shape_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			service_id TEXT PRIMARY KEY,
			days TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vehicle_states (
			vehicle_id TEXT PRIMARY KEY,
			label TEXT,
			trip_id TEXT NOT NULL,
			route_id TEXT,
			direction_id INTEGER NOT NULL DEFAULT 0,
			service_date TEXT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			bearing REAL,
			timestamp INTEGER NOT NULL,
			distance_along_km REAL,
			offset_km REAL,
			nearest_stop_id TEXT,
			nearest_stop_sequence INTEGER,
			distance_to_stop_km REAL,
			next_stop_id TEXT,
			stops_away INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS trip_instances (
			trip_id TEXT NOT NULL,
			service_date TEXT NOT NULL,
			route_id TEXT,
			vehicle_id TEXT,
			timestamp INTEGER NOT NULL,
			delay_seconds INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (trip_id, service_date)
		)`,
		`CREATE TABLE IF NOT EXISTS stop_delays (
			trip_id TEXT NOT NULL,
			service_date TEXT NOT NULL,
			stop_sequence INTEGER NOT NULL,
			stop_id TEXT NOT NULL,
			scheduled INTEGER NOT NULL,
			expected INTEGER,
			delay_seconds INTEGER NOT NULL DEFAULT 0,
			propagated INTEGER NOT NULL DEFAULT 0,
			schedule_relationship TEXT,
			PRIMARY KEY (trip_id, service_date, stop_sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			feed_timestamp INTEGER NOT NULL,
			header TEXT,
			description TEXT,
			url TEXT,
			cause TEXT,
			effect TEXT,
			severity TEXT,
			start_time INTEGER NOT NULL DEFAULT 0,
			end_time INTEGER NOT NULL DEFAULT 0,
			route_ids TEXT,
			stop_ids TEXT,
			trip_ids TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times(stop_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_route ON trips(route_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stops_lat ON stops(lat)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicle_states_route ON vehicle_states(route_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_instances_timestamp ON trip_instances(timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
