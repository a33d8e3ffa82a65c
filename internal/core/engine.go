// Package core hosts the deadline engine: the collection store facade, the
// condition evaluator, the life model, the derived-data cache and the
// profile sessions built on top of them.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deadline/internal/blob"
	"deadline/internal/config"
	"deadline/internal/dataset"
	"deadline/pkg/domain"
)

type initState int

const (
	stateUninitialized initState = iota
	stateInitializing
	stateReady
	stateFailed
)

// initRun is one Init attempt. done closes once err is final.
type initRun struct {
	done chan struct{}
	err  error
	// abandoned marks a run cut short by its caller's context; the engine
	// went back to uninitialized and the next Init starts over.
	abandoned bool
}

// Engine is the caller-facing facade. Pure computations work at any time;
// anything touching the store or the random facts waits for Init.
type Engine struct {
	data  *dataset.Dataset
	db    *Database
	cache *DerivedCache
	life  *LifeModel
	opts  options

	mu    sync.Mutex
	state initState
	run   *initRun
}

// NewEngine wires an engine over a loaded dataset and an opened backend.
func NewEngine(data *dataset.Dataset, backend domain.KeyValueBackend, opts ...Option) (*Engine, error) {
	if data == nil {
		return nil, fmt.Errorf("engine: dataset required")
	}
	o := applyOptions(opts)
	db, err := NewDatabase(backend, DefaultSchema(), opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		data:  data,
		db:    db,
		cache: NewDerivedCache(db, data, opts...),
		life:  NewLifeModel(data),
		opts:  o,
	}, nil
}

// Open builds a ready engine from configuration: it loads the dataset bundle
// from the configured blob store, opens the storage backend and runs Init.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	bundles, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	data, err := dataset.Load(ctx, bundles, cfg.DatasetKey, dataset.WithRandom(o.random))
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	engine, err := NewEngine(data, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := engine.Init(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}

// Init opens the store, checks the dataset version and resolves the random
// facts, exactly once. Concurrent and later callers wait for that single run
// and get its result; a failed run is not retried. A run stopped by its own
// caller's context cancellation is not a failure: the engine stays
// uninitialized and the next Init tries again.
func (e *Engine) Init(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.state == stateUninitialized {
			run := &initRun{done: make(chan struct{})}
			e.state, e.run = stateInitializing, run
			e.mu.Unlock()
			return e.initialize(ctx, run)
		}
		run := e.run
		e.mu.Unlock()
		err := waitRun(ctx, run)
		if ctx.Err() == nil && run.abandoned {
			continue
		}
		return err
	}
}

func (e *Engine) initialize(ctx context.Context, run *initRun) error {
	err := e.instrument(ctx, "engine.init", func(ctx context.Context) error {
		if err := e.db.Init(ctx); err != nil {
			return err
		}
		return e.cache.Init(ctx)
	})

	e.mu.Lock()
	run.err = err
	switch {
	case err == nil:
		e.state = stateReady
		e.opts.logger.Info("engine ready", "dataset", e.data.Version(), "driver", e.db.Driver())
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		run.abandoned = true
		e.state = stateUninitialized
		e.opts.logger.Warn("engine init cancelled", "error", err)
	default:
		e.state = stateFailed
		e.opts.logger.Error("engine init failed", "error", err)
	}
	close(run.done)
	e.mu.Unlock()
	return err
}

// await blocks until Init finished. It fails fast when no Init is running or
// done, including after a cancelled one.
func (e *Engine) await(ctx context.Context) error {
	e.mu.Lock()
	state, run := e.state, e.run
	e.mu.Unlock()
	if state == stateUninitialized {
		return domain.ErrStoreNotInitialized
	}
	err := waitRun(ctx, run)
	if ctx.Err() == nil && run.abandoned {
		return domain.ErrStoreNotInitialized
	}
	return err
}

func waitRun(ctx context.Context, run *initRun) error {
	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) instrument(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := e.opts.tracer.Start(ctx, op)
	start := e.opts.clock.Now()
	err := fn(ctx)
	e.opts.metrics.Observe(ctx, op, err == nil, e.opts.clock.Now().Sub(start))
	span.End(err)
	return err
}

// Dataset exposes the loaded bundle.
func (e *Engine) Dataset() *dataset.Dataset { return e.data }

// Query reads a dataset table by name.
func (e *Engine) Query(table dataset.Table) (any, error) { return e.data.Query(table) }

// Check evaluates a condition against resolver.
func (e *Engine) Check(rule domain.Rule, resolver FactResolver) (bool, error) {
	return Check(rule, resolver)
}

// BaseLife is LifeModel.BaseLife over the loaded dataset.
func (e *Engine) BaseLife(country domain.Country, age domain.Age, sex domain.Sex) (float64, error) {
	return e.life.BaseLife(country, age, sex)
}

// ProcessAlt is LifeModel.ProcessAlt over the loaded dataset.
func (e *Engine) ProcessAlt(base float64, alts []float64) (AltSummary, error) {
	return e.life.ProcessAlt(base, alts)
}

// PercentBefore is LifeModel.PercentBefore over the loaded dataset.
func (e *Engine) PercentBefore(life float64, country domain.Country, age domain.Age, sex domain.Sex) (string, error) {
	return e.life.PercentBefore(life, country, age, sex)
}

// CalcLife decomposes seconds into a LifeSpan using the dataset constants.
func (e *Engine) CalcLife(seconds float64) (LifeSpan, error) { return e.life.CalcLife(seconds) }

// LifeSeconds converts years of life to seconds using the dataset year length.
func (e *Engine) LifeSeconds(life float64) (float64, error) { return e.life.LifeSeconds(life) }

// Questions returns the question set and stable outcome matrix for a profile.
func (e *Engine) Questions(ctx context.Context, country domain.Country, age domain.Age, sex domain.Sex) (QuestionSet, error) {
	if err := e.await(ctx); err != nil {
		return QuestionSet{}, err
	}
	var set QuestionSet
	err := e.instrument(ctx, "engine.questions", func(ctx context.Context) error {
		var err error
		set, err = e.cache.Questions(ctx, country, age, sex)
		return err
	})
	return set, err
}

// Random returns a global random fact.
func (e *Engine) Random(ctx context.Context, id string) (float64, error) {
	if err := e.await(ctx); err != nil {
		return 0, err
	}
	return e.cache.Random(id)
}

// ClearStore wipes every collection, then redraws the random facts and
// rewrites the version marker so the store is consistent again.
func (e *Engine) ClearStore(ctx context.Context) error {
	if err := e.await(ctx); err != nil {
		return err
	}
	return e.instrument(ctx, "engine.clear_store", func(ctx context.Context) error {
		if err := e.db.ClearAll(ctx); err != nil {
			return err
		}
		return e.cache.Init(ctx)
	})
}

// NewSession starts a profile session for the named country, age and sex at
// the current clock time.
func (e *Engine) NewSession(ctx context.Context, country string, age int, sex domain.SexValue) (*Session, error) {
	if err := e.await(ctx); err != nil {
		return nil, err
	}
	c, err := e.data.Country(country)
	if err != nil {
		return nil, err
	}
	a, err := e.data.Age(age)
	if err != nil {
		return nil, err
	}
	s, err := e.data.Sex(sex)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, e, c, a, s, e.opts.clock.Now())
}

// Close releases the store. The engine cannot be reused.
func (e *Engine) Close() error {
	return e.db.Close()
}
