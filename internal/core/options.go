package core

import (
	"time"

	"deadline/pkg/domain"
)

// Clock abstracts time so sessions and countdowns can be tested.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures the store facade, the derived cache and the engine.
type Option func(*options)

type options struct {
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
	random  domain.RandomSource
}

func defaultOptions() options {
	return options{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		clock:   systemClock{},
		random:  domain.DefaultRandom{},
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets where operation metrics go.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRandom overrides the source random facts and random alterations are drawn from.
func WithRandom(src domain.RandomSource) Option {
	return func(o *options) {
		if src != nil {
			o.random = src
		}
	}
}
