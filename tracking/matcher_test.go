package tracking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-ingest/gtfsrt"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
	"github.com/theoremus-urban-solutions/gtfs-ingest/tracking"
)

// fakeSchedule mirrors testutil.SampleGTFS.
type fakeSchedule struct {
	tz        string
	stopCalls atomic.Int32
	err       error
}

var sampleStops = []tracking.ScheduledStop{
	{StopTime: gtfs.StopTime{StopSequence: 1, StopID: "S1", Arrival: 8 * 3600, Departure: 8 * 3600}, Name: "Central", Lat: 42.6977, Lon: 23.3219},
	{StopTime: gtfs.StopTime{StopSequence: 2, StopID: "S2", Arrival: 8*3600 + 600, Departure: 8*3600 + 660}, Name: "Market", Lat: 42.7000, Lon: 23.3300},
	{StopTime: gtfs.StopTime{StopSequence: 3, StopID: "S3", Arrival: 8*3600 + 1200, Departure: 8*3600 + 1200}, Name: "North", Lat: 42.7050, Lon: 23.3400},
}

func (f *fakeSchedule) Trip(ctx context.Context, tripID string) (gtfs.Trip, bool, error) {
	if f.err != nil {
		return gtfs.Trip{}, false, f.err
	}
	switch tripID {
	case "T1", "T2":
		return gtfs.Trip{ID: tripID, RouteID: "R1", ServiceID: "WK"}, true, nil
	}
	return gtfs.Trip{}, false, nil
}

func (f *fakeSchedule) TripStops(ctx context.Context, tripID string) ([]tracking.ScheduledStop, error) {
	f.stopCalls.Add(1)
	stops := make([]tracking.ScheduledStop, len(sampleStops))
	copy(stops, sampleStops)
	if tripID == "T2" {
		for i := range stops {
			stops[i].TripID = "T2"
			stops[i].Arrival += 16*3600 + 50*60
			stops[i].Departure += 16*3600 + 50*60
		}
	}
	return stops, nil
}

func (f *fakeSchedule) AgencyTimezone(ctx context.Context) (string, error) { return f.tz, nil }

func newRC(policy pipeline.ErrorPolicy) *pipeline.RunContext {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.NewRunContext(context.Background(), "test", policy, logger, nil).ForStage("match")
}

func at(date string, clock string) int64 {
	t, err := time.ParseInLocation("20060102 15:04:05", date+" "+clock, time.UTC)
	if err != nil {
		panic(err)
	}
	return t.Unix()
}

func TestMatcher_VehicleState(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}
	vp := &gtfsrt.VehiclePosition{
		ID:          "e1",
		VehicleID:   "V1",
		Trip:        gtfsrt.Trip{TripID: "T1", StartDate: "20250115"},
		HasPosition: true,
		Lat:         42.6995,
		Lon:         23.3290,
		Timestamp:   at("20250115", "08:08:00"),
	}

	obs, err := m.Match(newRC(pipeline.FailFast), vp)
	require.NoError(t, err)
	vs, ok := obs.(*tracking.VehicleState)
	require.True(t, ok)

	assert.Equal(t, tracking.KindVehicle, vs.ObservationKind())
	assert.Equal(t, "R1", vs.RouteID)
	assert.Equal(t, "20250115", vs.ServiceDate)
	assert.Equal(t, "S2", vs.NearestStopID)
	assert.Equal(t, 2, vs.NearestStopSeq)
	assert.Equal(t, "S2", vs.NextStopID)
	assert.Equal(t, 0, vs.StopsAway)
	assert.Greater(t, vs.DistanceAlongKM, 0.5)
	assert.Less(t, vs.DistanceToStopKM, 0.2)
	assert.Less(t, vs.OffsetKM, 0.05)
}

func TestMatcher_VehicleBeforeFirstStop(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{}}
	vs, err := m.Match(newRC(pipeline.FailFast), &gtfsrt.VehiclePosition{
		VehicleID: "V1", Trip: gtfsrt.Trip{TripID: "T1", StartDate: "20250115"},
		HasPosition: true, Lat: 42.69, Lon: 23.31,
	})
	require.NoError(t, err)
	state := vs.(*tracking.VehicleState)
	assert.Equal(t, "S1", state.NearestStopID)
	assert.Equal(t, "S1", state.NextStopID)
	assert.Equal(t, 0.0, state.DistanceAlongKM)
}

func TestMatcher_RecordErrors(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}
	tests := []struct {
		name   string
		update gtfsrt.Update
		want   error
	}{
		{"no trip", &gtfsrt.VehiclePosition{HasPosition: true}, tracking.ErrNoTrip},
		{"unknown trip", &gtfsrt.TripUpdate{Trip: gtfsrt.Trip{TripID: "T9"}}, tracking.ErrUnknownTrip},
		{"no position", &gtfsrt.VehiclePosition{Trip: gtfsrt.Trip{TripID: "T1"}}, tracking.ErrNoPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Match(newRC(pipeline.FailFast), tt.update)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMatcher_TripInstanceDelays(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}
	tu := &gtfsrt.TripUpdate{
		Trip:      gtfsrt.Trip{TripID: "T1", StartDate: "20250115"},
		VehicleID: "V1",
		Timestamp: at("20250115", "08:09:00"),
		StopTimeUpdates: []gtfsrt.StopTimeUpdate{
			{StopSequence: 2, StopID: "S2", Arrival: gtfsrt.StopTimeEvent{Delay: 120, HasDelay: true}},
		},
	}

	obs, err := m.Match(newRC(pipeline.FailFast), tu)
	require.NoError(t, err)
	ti := obs.(*tracking.TripInstance)

	assert.Equal(t, "T1@20250115", ti.Key())
	assert.Equal(t, int64(120), ti.DelaySeconds)
	require.Len(t, ti.Stops, 2, "stops before the first prediction are left out")

	assert.Equal(t, tracking.StopDelay{
		StopSequence: 2, StopID: "S2",
		Scheduled: at("20250115", "08:10:00"), Expected: at("20250115", "08:12:00"), DelaySeconds: 120,
	}, ti.Stops[0])
	assert.Equal(t, tracking.StopDelay{
		StopSequence: 3, StopID: "S3",
		Scheduled: at("20250115", "08:20:00"), Expected: at("20250115", "08:22:00"), DelaySeconds: 120, Propagated: true,
	}, ti.Stops[1])
}

func TestMatcher_TripInstanceAbsoluteTimesAndSkips(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}
	tu := &gtfsrt.TripUpdate{
		Trip: gtfsrt.Trip{TripID: "T1", StartDate: "20250115"},
		StopTimeUpdates: []gtfsrt.StopTimeUpdate{
			{StopSequence: -1, StopID: "S1", Departure: gtfsrt.StopTimeEvent{Time: at("20250115", "07:59:00")}},
			{StopSequence: 2, ScheduleRelationship: "SKIPPED"},
			{StopSequence: -1, StopID: "S3", Arrival: gtfsrt.StopTimeEvent{Time: at("20250115", "08:25:00")}},
			{StopSequence: 7, StopID: "S7"},
		},
	}

	obs, err := m.Match(newRC(pipeline.FailFast), tu)
	require.NoError(t, err)
	ti := obs.(*tracking.TripInstance)

	require.Len(t, ti.Stops, 3)
	assert.Equal(t, int64(-60), ti.Stops[0].DelaySeconds)
	assert.Equal(t, "SKIPPED", ti.Stops[1].ScheduleRelationship)
	assert.Zero(t, ti.Stops[1].Expected)
	assert.Equal(t, int64(300), ti.Stops[2].DelaySeconds)
	assert.Equal(t, int64(300), ti.DelaySeconds)
}

func TestMatcher_InfersServiceDateAfterMidnight(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}
	tu := &gtfsrt.TripUpdate{
		Trip:      gtfsrt.Trip{TripID: "T2"},
		Timestamp: at("20250116", "00:55:00"),
		StopTimeUpdates: []gtfsrt.StopTimeUpdate{
			{StopSequence: 2, Arrival: gtfsrt.StopTimeEvent{Delay: 0, HasDelay: true}},
		},
	}
	obs, err := m.Match(newRC(pipeline.FailFast), tu)
	require.NoError(t, err)
	ti := obs.(*tracking.TripInstance)
	assert.Equal(t, "20250115", ti.ServiceDate)
	assert.Equal(t, at("20250116", "01:00:00"), ti.Stops[0].Scheduled)
}

func TestMatcher_AlertPassThrough(t *testing.T) {
	m := &tracking.Matcher{Schedule: &fakeSchedule{}}
	obs, err := m.Match(newRC(pipeline.FailFast), &gtfsrt.Alert{ID: "A1", Header: "Detour"})
	require.NoError(t, err)
	sa := obs.(*tracking.ServiceAlert)
	assert.Equal(t, "A1", sa.ID)
	assert.Equal(t, tracking.KindAlert, sa.ObservationKind())
}

func TestMatcher_CachesTripStops(t *testing.T) {
	sched := &fakeSchedule{}
	m := &tracking.Matcher{Schedule: sched}
	vp := &gtfsrt.VehiclePosition{Trip: gtfsrt.Trip{TripID: "T1", StartDate: "20250115"}, HasPosition: true, Lat: 42.7, Lon: 23.33}
	for range 3 {
		_, err := m.Match(newRC(pipeline.FailFast), vp)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), sched.stopCalls.Load())
}

func TestMatcher_Transform(t *testing.T) {
	boom := errors.New("database is locked")

	t.Run("record errors are skipped", func(t *testing.T) {
		rc := newRC(pipeline.SkipRecord)
		items := make(chan any, 3)
		items <- gtfsrt.Update(&gtfsrt.VehiclePosition{Trip: gtfsrt.Trip{TripID: "T9"}})
		items <- gtfsrt.Update(&gtfsrt.Alert{ID: "A1"})
		items <- gtfsrt.Update(&gtfsrt.VehiclePosition{Trip: gtfsrt.Trip{TripID: "T1"}})
		close(items)

		var out []tracking.Observation
		m := &tracking.Matcher{Schedule: &fakeSchedule{}}
		err := m.Transform(rc, pipeline.NewInbox(rc.Context(), items), func(item any) error {
			out = append(out, item.(tracking.Observation))
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Equal(t, int64(2), rc.Telemetry().(*pipeline.MemoryTelemetry).Counter("match.skipped"))
	})

	t.Run("schedule failures are fatal", func(t *testing.T) {
		rc := newRC(pipeline.SkipRecord)
		items := make(chan any, 1)
		items <- gtfsrt.Update(&gtfsrt.VehiclePosition{Trip: gtfsrt.Trip{TripID: "T1"}, HasPosition: true})
		close(items)

		m := &tracking.Matcher{Schedule: &fakeSchedule{err: boom}}
		err := m.Transform(rc, pipeline.NewInbox(rc.Context(), items), func(any) error { return nil })
		assert.ErrorIs(t, err, boom)
	})
}

func TestMatcher_NonFinitePositionIsSkipped(t *testing.T) {
	updates := []gtfsrt.Update{
		&gtfsrt.VehiclePosition{VehicleID: "V1", Trip: gtfsrt.Trip{TripID: "T1"}, HasPosition: true, Lat: math.NaN(), Lon: math.NaN()},
		&gtfsrt.VehiclePosition{VehicleID: "V2", Trip: gtfsrt.Trip{TripID: "T1"}, HasPosition: true, Lat: math.Inf(1), Lon: 23.33},
		&gtfsrt.VehiclePosition{VehicleID: "V3", Trip: gtfsrt.Trip{TripID: "T1"}, HasPosition: true, Lat: 42.6995, Lon: 23.3290},
	}
	var got []string
	tel := pipeline.NewMemoryTelemetry()
	o, err := pipeline.New([]pipeline.StageSpec{
		{Name: "feed", Stage: pipeline.SourceFunc[gtfsrt.Update](func(rc *pipeline.RunContext, emit func(gtfsrt.Update) error) error {
			for _, u := range updates {
				if err := emit(u); err != nil {
					return err
				}
			}
			return nil
		})},
		{Name: "match", Stage: &tracking.Matcher{Schedule: &fakeSchedule{tz: "UTC"}}},
		{Name: "collect", Stage: pipeline.SinkFunc[tracking.Observation](func(rc *pipeline.RunContext, obs tracking.Observation) error {
			got = append(got, obs.(*tracking.VehicleState).VehicleID)
			return nil
		})},
	}, pipeline.WithTelemetry(tel), pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	require.NoError(t, o.Run(t.Context()))
	assert.Equal(t, []string{"V3"}, got)
	assert.Equal(t, int64(2), tel.Counter("match.skipped"))
	assert.Zero(t, tel.Counter("match.errors"))
}
