package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/theoremus-urban-solutions/gtfs-ingest/config"
	"github.com/theoremus-urban-solutions/gtfs-ingest/metrics"
	"github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"
)

// ErrUnknownPipeline is returned for a pipeline name with no definition.
var ErrUnknownPipeline = errors.New("pipeline not defined")

// Mode selects which jobs a Runner drives.
type Mode int

const (
	ModeStatic Mode = 1 << iota
	ModeRealtime
	ModeAll = ModeStatic | ModeRealtime
)

// ParseMode accepts static, realtime or all.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "static":
		return ModeStatic, nil
	case "realtime":
		return ModeRealtime, nil
	case "all", "":
		return ModeAll, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// JobStatus describes the last run of one pipeline for one feed.
type JobStatus struct {
	Feed       string             `json:"feed"`
	Pipeline   string             `json:"pipeline"`
	RunID      string             `json:"run_id"`
	Runs       int                `json:"runs"`
	Failures   int                `json:"failures"`
	Running    bool               `json:"running"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
	DurationMS int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
	Counters   map[string]int64   `json:"counters,omitempty"`
	Gauges     map[string]float64 `json:"gauges,omitempty"`
}

// Runner runs the static and realtime pipelines of feeds. Every run gets a
// new Orchestrator; the telemetry of the last run per job is kept for Status.
type Runner struct {
	Registry *Registry
	// Pipelines holds the definitions by name; DefaultPipelines when nil.
	Pipelines map[string]config.PipelineConfig
	Policy    pipeline.ErrorPolicy
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	// Once stops the realtime job after a single run.
	Once bool

	mu     sync.Mutex
	status map[string]*JobStatus
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run drives every feed concurrently until all jobs finish or ctx ends. A
// failed static load or a configuration error stops the whole group; failed
// realtime runs are logged and retried on the next interval.
func (r *Runner) Run(ctx context.Context, feeds []config.Feed, mode Mode) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, feed := range feeds {
		g.Go(func() error {
			return r.RunFeed(ctx, feed, mode)
		})
	}
	return g.Wait()
}

// RunFeed runs the static pipeline to completion, then the realtime pipeline
// every ReadInterval. Feeds without a static URL or realtime locations skip
// the corresponding job.
func (r *Runner) RunFeed(ctx context.Context, feed config.Feed, mode Mode) error {
	log := r.logger().With(slog.String("feed", feed.Name))

	if mode&ModeStatic != 0 && feed.GTFS.StaticURL != "" {
		if err := r.RunPipeline(ctx, feed, PipelineStatic); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed %s: static: %w", feed.Name, err)
		}
	}
	if mode&ModeRealtime == 0 || len(feed.GTFSRT.Locations()) == 0 {
		return nil
	}

	interval := feed.GTFSRT.ReadInterval()
	if interval <= 0 {
		interval = config.DefaultReadIntervalMS * time.Millisecond
	}
	for {
		err := r.RunPipeline(ctx, feed, PipelineRealtime)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if isConfigError(err) {
				return fmt.Errorf("feed %s: realtime: %w", feed.Name, err)
			}
			log.Warn("realtime run failed", slog.String("error", err.Error()))
		}
		if r.Once {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func isConfigError(err error) bool {
	return errors.Is(err, pipeline.ErrConfig) || errors.Is(err, ErrUnknownStage) ||
		errors.Is(err, ErrNoSource) || errors.Is(err, ErrUnknownPipeline)
}

// RunPipeline builds and runs one pipeline for feed.
func (r *Runner) RunPipeline(ctx context.Context, feed config.Feed, name string) error {
	defs := r.Pipelines
	if defs == nil {
		defs = DefaultPipelines()
	}
	def, ok := defs[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownPipeline)
	}
	specs, err := Build(r.Registry, feed, def)
	if err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}

	runID := uuid.NewString()
	job := feed.Name + "/" + name
	mem := pipeline.NewMemoryTelemetry()
	var tel pipeline.Telemetry = mem
	if r.Metrics != nil {
		tel = pipeline.Tee(mem, r.Metrics.Telemetry(job))
	}
	opts := []pipeline.Option{
		pipeline.WithName(job),
		pipeline.WithErrorPolicy(r.Policy),
		pipeline.WithTelemetry(tel),
		pipeline.WithLogger(r.logger().With(slog.String("run_id", runID))),
	}
	if r.Tracer != nil {
		opts = append(opts, pipeline.WithTracer(r.Tracer))
	}
	o, err := pipeline.New(specs, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	r.begin(feed.Name, name, runID, start)
	err = o.Run(ctx)
	r.finish(feed.Name, name, mem, time.Since(start), err)
	if r.Metrics != nil {
		r.Metrics.ObserveRun(job, time.Since(start), err)
	}
	return err
}

func (r *Runner) begin(feed, name, runID string, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		r.status = map[string]*JobStatus{}
	}
	key := feed + "/" + name
	st, ok := r.status[key]
	if !ok {
		st = &JobStatus{Feed: feed, Pipeline: name}
		r.status[key] = st
	}
	st.RunID = runID
	st.Running = true
	st.StartedAt = start
}

func (r *Runner) finish(feed, name string, mem *pipeline.MemoryTelemetry, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status[feed+"/"+name]
	st.Running = false
	st.Runs++
	st.FinishedAt = st.StartedAt.Add(elapsed)
	st.DurationMS = elapsed.Milliseconds()
	st.Counters = mem.Counters()
	st.Gauges = mem.Gauges()
	st.Error = ""
	if err != nil {
		st.Failures++
		st.Error = err.Error()
	}
}

// Status returns a snapshot of every job, ordered by feed and pipeline.
func (r *Runner) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feed != out[j].Feed {
			return out[i].Feed < out[j].Feed
		}
		return out[i].Pipeline < out[j].Pipeline
	})
	return out
}
