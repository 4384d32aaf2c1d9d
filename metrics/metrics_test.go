package metrics

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

func TestTelemetry_SplitsStageAndEvent(t *testing.T) {
	m := New()
	tel := m.Telemetry("static")

	tel.Incr("gtfs.zip.produced", 3)
	tel.Incr("gtfs.zip.produced", 2)
	tel.Incr("decode.skipped", 1)
	tel.Incr("bare", 1)
	tel.Incr("decode.skipped", -4)
	tel.SetGauge("decode.queue_depth", 7)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("static", "gtfs.zip", "produced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("static", "decode", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("static", "", "bare")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.StageGauges.WithLabelValues("static", "decode", "queue_depth")))
}

func TestTelemetry_DrivenByOrchestrator(t *testing.T) {
	m := New()
	src := pipeline.SourceFunc[int](func(rc *pipeline.RunContext, emit func(int) error) error {
		for i := range 4 {
			if err := emit(i); err != nil {
				return err
			}
		}
		return nil
	})
	sink := pipeline.SinkFunc[int](func(*pipeline.RunContext, int) error { return nil })

	o, err := pipeline.New([]pipeline.StageSpec{
		{Name: "numbers", Stage: src},
		{Name: "drop", Stage: sink, Parallelism: 2},
	}, pipeline.WithName("count"), pipeline.WithTelemetry(m.Telemetry("count")),
		pipeline.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	start := time.Now()
	err = o.Run(t.Context())
	m.ObserveRun("count", time.Since(start), err)
	require.NoError(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("count", "numbers", "produced")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("count", "drop", "consumed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("count", "ok")))
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, "ok", runStatus(nil))
	assert.Equal(t, "failed", runStatus(&pipeline.StageError{Stage: "x", Err: errors.New("boom")}))
	assert.Equal(t, "aborted", runStatus(pipeline.ErrAborted))
	assert.Equal(t, "error", runStatus(errors.New("other")))
}

func TestHandler_ServesTextFormat(t *testing.T) {
	m := New()
	m.Telemetry("rt").Incr("match.skipped", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body),
		`gtfs_ingest_stage_events_total{event="skipped",pipeline="rt",stage="match"} 2`), string(body))
}
