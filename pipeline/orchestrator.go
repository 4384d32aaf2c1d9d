package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/theoremus-urban-solutions/gtfs-ingest/pipeline"

// Orchestrator runs a validated list of stages once.
type Orchestrator struct {
	name      string
	nodes     []node
	policy    ErrorPolicy
	telemetry Telemetry
	logger    *slog.Logger
	level     *slog.Level
	tracer    trace.Tracer
	started   atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithErrorPolicy sets the policy handed to stages through RunContext.HandleError.
// The default is SkipRecord.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithTelemetry replaces the default MemoryTelemetry.
func WithTelemetry(t Telemetry) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.telemetry = t
		}
	}
}

// WithName names the pipeline. The default is "pipeline-" followed by eight
// characters of a random UUID.
func WithName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.name = name
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLogLevel builds a text logger on stdout at the given level. It is ignored
// when WithLogger is also supplied.
func WithLogLevel(level slog.Level) Option {
	return func(o *Orchestrator) { o.level = &level }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New validates stages and returns an Orchestrator ready to Run. It performs no
// I/O and calls no stage method other than the type declarations; every failure
// is a *ConfigError.
func New(stages []StageSpec, opts ...Option) (*Orchestrator, error) {
	nodes, err := buildNodes(stages)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		name:   "pipeline-" + uuid.NewString()[:8],
		nodes:  nodes,
		policy: SkipRecord,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.telemetry == nil {
		o.telemetry = NewMemoryTelemetry()
	}
	if o.logger == nil {
		if o.level != nil {
			o.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: *o.level}))
		} else {
			o.logger = slog.Default()
		}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	o.logger = o.logger.With(slog.String("pipeline", o.name))
	return o, nil
}

func (o *Orchestrator) Name() string { return o.name }

func (o *Orchestrator) Policy() ErrorPolicy { return o.policy }

// Telemetry returns the sink the run reports into; it stays readable after Run.
func (o *Orchestrator) Telemetry() Telemetry { return o.telemetry }

// Stages returns the stage specs with defaults applied.
func (o *Orchestrator) Stages() []StageSpec {
	out := make([]StageSpec, len(o.nodes))
	for i, n := range o.nodes {
		out[i] = n.spec
	}
	return out
}

// Run executes the pipeline and blocks until every stage has drained or the run
// was aborted. It returns nil on normal completion, the first *StageError
// captured from a worker, or ErrAborted when ctx was cancelled first. Run may be
// called only once.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.name", o.name),
		attribute.Int("pipeline.stages", len(o.nodes)),
		attribute.String("pipeline.error_policy", o.policy.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	o.logger.Info("pipeline started",
		slog.Int("stages", len(o.nodes)),
		slog.String("error_policy", o.policy.String()))

	err = newRun(ctx, o).execute()

	if err != nil {
		o.logger.Error("pipeline aborted",
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline completed", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// run holds the state of one execution.
type run struct {
	o      *Orchestrator
	ctx    context.Context
	cancel context.CancelCauseFunc
	rcs    []*RunContext // one per stage
	tel    Telemetry

	queues   []chan envelope // queues[i] feeds nodes[i+1]
	groups   []sync.WaitGroup
	active   []atomic.Int64
	running  []atomic.Int64 // workers of stage i that have not returned
	early    []atomic.Int64 // workers of stage i that returned before their sentinel
	done     []chan struct{}
	tasks    sync.WaitGroup
	firstErr atomic.Pointer[StageError]

	// completed is set once the final stage's workers all returned before
	// the run was aborted.
	completed atomic.Bool
}

func newRun(parent context.Context, o *Orchestrator) *run {
	ctx, cancel := context.WithCancelCause(parent)
	n := len(o.nodes)
	r := &run{
		o:       o,
		ctx:     ctx,
		cancel:  cancel,
		tel:     o.telemetry,
		queues:  make([]chan envelope, n-1),
		groups:  make([]sync.WaitGroup, n),
		active:  make([]atomic.Int64, n),
		running: make([]atomic.Int64, n),
		early:   make([]atomic.Int64, n),
		done:    make([]chan struct{}, n),
	}
	base := &RunContext{ctx: ctx, name: o.name, logger: o.logger, telemetry: o.telemetry, policy: o.policy}
	r.rcs = make([]*RunContext, n)
	for i, nd := range o.nodes {
		r.rcs[i] = base.ForStage(nd.spec.Name)
	}
	for i := range r.queues {
		r.queues[i] = make(chan envelope, o.nodes[i+1].spec.QueueSize)
	}
	for i := range r.done {
		r.done[i] = make(chan struct{})
	}
	return r
}

func (r *run) execute() error {
	defer r.cancel(nil)

	for i := range r.o.nodes {
		r.startStage(i)
	}
	for i := range r.o.nodes {
		r.tasks.Add(1)
		go r.coordinate(i)
	}

	last := r.done[len(r.done)-1]
	select {
	case <-last:
	case <-r.ctx.Done():
	}
	return r.result()
}

// result waits for every task and reports the outcome. The run succeeded only
// if the final stage drained before any abort; a cancellation arriving after
// that does not turn a finished run into a failure.
func (r *run) result() error {
	if r.completed.Load() {
		r.tasks.Wait()
		return nil
	}

	r.cancel(ErrAborted)
	r.tasks.Wait()

	if se := r.firstErr.Load(); se != nil {
		return se
	}
	if cause := context.Cause(r.ctx); cause != nil && !errors.Is(cause, ErrAborted) {
		return fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	return ErrAborted
}

func (r *run) startStage(i int) {
	n := r.o.nodes[i]
	rc := r.rcs[i]
	p := n.spec.Parallelism
	r.groups[i].Add(p)
	r.tasks.Add(p)
	r.running[i].Store(int64(p))

	switch n.role {
	case roleSource:
		items := make(chan any)
		r.tasks.Add(1)
		go r.produce(n, rc, items)
		for w := range p {
			go r.worker(i, w, func(*Inbox) error { return r.forward(i, items) })
		}
	case roleTransformer:
		for w := range p {
			go r.worker(i, w, func(in *Inbox) error {
				return n.tr.Transform(rc, in, r.emitter(i, MetricName(n.spec.Name, "transformed")))
			})
		}
	case roleSink:
		for w := range p {
			go r.worker(i, w, func(in *Inbox) error { return n.sink.Consume(rc, in) })
		}
	}
}

// produce calls Stream once and hands every item to the forwarding workers.
func (r *run) produce(n node, rc *RunContext, items chan<- any) {
	defer r.tasks.Done()
	defer close(items)

	r.guard(n.spec.Name, 0, func() error {
		return n.src.Stream(rc, func(item any) error {
			if r.ctx.Err() != nil {
				return ErrAborted
			}
			select {
			case <-r.ctx.Done():
				return ErrAborted
			case items <- item:
				return nil
			}
		})
	})
}

// forward moves source items into the first queue.
func (r *run) forward(i int, items <-chan any) error {
	produced := MetricName(r.o.nodes[i].spec.Name, "produced")
	emit := r.emitter(i, produced)
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if err := emit(item); err != nil {
				return err
			}
		}
	}
}

// emitter returns the Emit used by stage i; counter is incremented per item
// accepted by the downstream queue.
func (r *run) emitter(i int, counter string) Emit {
	q := r.queues[i]
	depth := MetricName(r.o.nodes[i+1].spec.Name, "queue_depth")
	return func(item any) error {
		if err := push(r.ctx, q, envelope{item: item}); err != nil {
			return err
		}
		r.tel.Incr(counter, 1)
		r.tel.SetGauge(depth, float64(len(q)))
		return nil
	}
}

func (r *run) worker(i, w int, body func(in *Inbox) error) {
	n := r.o.nodes[i]
	name := n.spec.Name
	defer r.tasks.Done()
	defer r.groups[i].Done()

	r.tel.SetGauge(MetricName(name, "workers_active"), float64(r.active[i].Add(1)))
	log := r.o.logger.With(slog.String("stage", name), slog.Int("worker", w))
	log.Debug("worker started")

	var in *Inbox
	if i > 0 {
		q := r.queues[i-1]
		depth := MetricName(name, "queue_depth")
		var onItem func()
		if n.role == roleSink {
			consumed := MetricName(name, "consumed")
			onItem = func() {
				r.tel.Incr(consumed, 1)
				r.tel.SetGauge(depth, float64(len(q)))
			}
		} else {
			onItem = func() { r.tel.SetGauge(depth, float64(len(q))) }
		}
		in = newInbox(r.ctx, q, onItem)
	}

	r.guard(name, w, func() error { return body(in) })

	// Siblings keep consuming after an early return; the last worker out
	// collects the sentinels nobody else will read.
	if in != nil {
		if !in.eos {
			r.early[i].Add(1)
			log.Debug("worker returned before end of input")
		}
		if r.running[i].Add(-1) == 0 {
			if discarded := drain(r.ctx, r.queues[i-1], int(r.early[i].Load())); discarded > 0 {
				r.tel.Incr(MetricName(name, "discarded"), int64(discarded))
				log.Warn("stage returned before end of input", slog.Int("discarded", discarded))
			}
		}
	}

	r.tel.Incr(MetricName(name, "workers_done"), 1)
	r.tel.SetGauge(MetricName(name, "workers_active"), float64(r.active[i].Add(-1)))
	log.Debug("worker finished")
}

// guard runs fn and turns a returned error or a panic into a stage failure.
func (r *run) guard(stage string, worker int, fn func() error) {
	var err error
	func() {
		defer func() {
			if v := recover(); v != nil {
				err = &PanicError{Value: v}
			}
		}()
		err = fn()
	}()
	if err != nil {
		r.fail(stage, worker, err)
	}
}

// fail records a stage-fatal error and aborts the run. Errors that only report
// the abort itself are not counted.
func (r *run) fail(stage string, worker int, err error) {
	if r.ctx.Err() != nil && (errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
	se := &StageError{Stage: stage, Worker: worker, Err: err}
	r.tel.Incr(MetricName(stage, "errors"), 1)
	r.o.logger.Error("stage failed",
		slog.String("stage", stage),
		slog.Int("worker", worker),
		slog.String("error", err.Error()))
	r.firstErr.CompareAndSwap(nil, se)
	r.cancel(se)
}

// coordinate waits for every worker of stage i, then sends one sentinel per
// worker of stage i+1.
func (r *run) coordinate(i int) {
	defer r.tasks.Done()
	defer close(r.done[i])

	r.groups[i].Wait()
	if i+1 >= len(r.o.nodes) {
		r.completed.Store(r.ctx.Err() == nil)
		return
	}
	next := r.o.nodes[i+1].spec
	for range next.Parallelism {
		if err := push(r.ctx, r.queues[i], sentinel); err != nil {
			return
		}
		r.tel.Incr(MetricName(next.Name, "sentinels"), 1)
	}
}
