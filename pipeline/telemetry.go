package pipeline

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Telemetry receives counters and gauges from the engine and from stages.
// Implementations must be safe for concurrent use.
type Telemetry interface {
	// Incr adds delta to a monotonic counter.
	Incr(name string, delta int64)
	// SetGauge records the current value of a gauge.
	SetGauge(name string, value float64)
}

// MemoryTelemetry keeps counters and gauges in memory. It is the default
// Telemetry of an Orchestrator and stays readable after Run returns.
type MemoryTelemetry struct {
	counters sync.Map // name -> *atomic.Int64
	gauges   sync.Map // name -> *atomic.Uint64 (float64 bits)
}

// NewMemoryTelemetry returns an empty in-memory Telemetry.
func NewMemoryTelemetry() *MemoryTelemetry {
	return &MemoryTelemetry{}
}

func (m *MemoryTelemetry) Incr(name string, delta int64) {
	v, ok := m.counters.Load(name)
	if !ok {
		v, _ = m.counters.LoadOrStore(name, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(delta)
}

func (m *MemoryTelemetry) SetGauge(name string, value float64) {
	v, ok := m.gauges.Load(name)
	if !ok {
		v, _ = m.gauges.LoadOrStore(name, new(atomic.Uint64))
	}
	v.(*atomic.Uint64).Store(math.Float64bits(value))
}

// Counter returns the current value of a counter, 0 if it was never incremented.
func (m *MemoryTelemetry) Counter(name string) int64 {
	if v, ok := m.counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Gauge returns the last value of a gauge and whether it was ever set.
func (m *MemoryTelemetry) Gauge(name string) (float64, bool) {
	if v, ok := m.gauges.Load(name); ok {
		return math.Float64frombits(v.(*atomic.Uint64).Load()), true
	}
	return 0, false
}

// Counters returns a copy of every counter.
func (m *MemoryTelemetry) Counters() map[string]int64 {
	out := map[string]int64{}
	m.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Gauges returns a copy of every gauge.
func (m *MemoryTelemetry) Gauges() map[string]float64 {
	out := map[string]float64{}
	m.gauges.Range(func(k, v any) bool {
		out[k.(string)] = math.Float64frombits(v.(*atomic.Uint64).Load())
		return true
	})
	return out
}

// Names returns the sorted names of all counters.
func (m *MemoryTelemetry) Names() []string {
	var names []string
	m.counters.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

type tee []Telemetry

func (t tee) Incr(name string, delta int64) {
	for _, s := range t {
		s.Incr(name, delta)
	}
}

func (t tee) SetGauge(name string, value float64) {
	for _, s := range t {
		s.SetGauge(name, value)
	}
}

// Tee returns a Telemetry that forwards every call to each of sinks.
// Nil entries are ignored.
func Tee(sinks ...Telemetry) Telemetry {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// MetricName joins a stage name and a metric suffix: MetricName("decode", "skipped") == "decode.skipped".
func MetricName(stage, suffix string) string {
	return stage + "." + suffix
}
