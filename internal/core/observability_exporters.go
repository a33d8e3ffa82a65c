package core

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

var (
	expvarSeq uint64
	// expvarMu makes the Get-then-Publish check atomic; expvar.Publish
	// panics on a taken name.
	expvarMu sync.Mutex
)

// ErrMetricsNameTaken is returned when an expvar name is already published.
var ErrMetricsNameTaken = errors.New("core: expvar name already published")

// ExpvarMetricsRecorder publishes operation timings, result counters and
// cache hit counts via expvar, for deployments without a Prometheus scrape.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	cache     map[string]map[string]int64
}

// ExpvarMetricsSnapshot is a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Cache       map[string]map[string]int64 `json:"cache_lookups_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated unused name when name is empty. A name that is already published
// yields ErrMetricsNameTaken.
func NewExpvarMetricsRecorder(name string) (*ExpvarMetricsRecorder, error) {
	expvarMu.Lock()
	defer expvarMu.Unlock()
	if name == "" {
		for name == "" || expvar.Get(name) != nil {
			name = fmt.Sprintf("deadline_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
		}
	} else if expvar.Get(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrMetricsNameTaken, name)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		cache:     make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec, nil
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ExpvarMetricsSnapshot{
		DurationsMS: maps.Clone(r.durations),
		Results:     cloneCounters(r.results),
		Cache:       cloneCounters(r.cache),
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records an operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	increment(r.results, operation, statusLabel(success))
	r.mu.Unlock()
}

// CacheLookup counts a hit or miss for cache.
func (r *ExpvarMetricsRecorder) CacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.mu.Lock()
	increment(r.cache, cache, result)
	r.mu.Unlock()
}

func increment(counters map[string]map[string]int64, key, status string) {
	if _, ok := counters[key]; !ok {
		counters[key] = make(map[string]int64, 2)
	}
	counters[key][status]++
}

func cloneCounters(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}

// JSONTraceEntry is one span written by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer builds a tracer writing to w; a nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     statusLabel(err == nil),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
