package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deadline/internal/config"
	"deadline/internal/infra/persistence/memory"
	"deadline/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingBackend holds Migrate until release is closed.
type blockingBackend struct {
	domain.KeyValueBackend
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Migrate(ctx context.Context, schema domain.StoreSchema) error {
	close(b.started)
	<-b.release
	return b.KeyValueBackend.Migrate(ctx, schema)
}

func TestEngineRejectsStoreCallsBeforeInit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, fixedRandom(0.5))

	_, err := e.Random(ctx, "luck")
	assert.ErrorIs(t, err, domain.ErrStoreNotInitialized)
	_, err = e.Questions(ctx, japan, domain.Age{Value: 20}, male)
	assert.ErrorIs(t, err, domain.ErrStoreNotInitialized)
	_, err = e.NewSession(ctx, "Japan", 20, domain.SexMale)
	assert.ErrorIs(t, err, domain.ErrStoreNotInitialized)
	assert.ErrorIs(t, e.ClearStore(ctx), domain.ErrStoreNotInitialized)

	// Pure computations do not wait.
	base, err := e.BaseLife(japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	assert.Equal(t, 61.0, base)
	_, err = e.Query("country")
	assert.NoError(t, err)
}

func TestEngineInitRunsOnce(t *testing.T) {
	ctx := context.Background()
	random := &countingRandom{value: 0.5}
	e := newTestEngine(t, nil, random)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.Init(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, random.Draws(), "one random fact drawn by a single init run")

	v, err := e.Random(ctx, "luck")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
	_, err = e.Random(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownRandomKey)
}

func TestEngineCallersWaitForInit(t *testing.T) {
	backend := &blockingBackend{
		KeyValueBackend: memory.NewStore(),
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	e := newTestEngine(t, backend, fixedRandom(0.5))

	initDone := make(chan error, 1)
	go func() { initDone <- e.Init(context.Background()) }()
	<-backend.started

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Random(cancelled, "luck")
	assert.ErrorIs(t, err, context.Canceled)

	waited := make(chan float64, 1)
	go func() {
		v, err := e.Random(context.Background(), "luck")
		assert.NoError(t, err)
		waited <- v
	}()
	close(backend.release)

	require.NoError(t, <-initDone)
	select {
	case v := <-waited:
		assert.Equal(t, 0.5, v)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestEngineInitFailureIsSticky(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	require.NoError(t, backend.Close())
	e := newTestEngine(t, backend, fixedRandom(0.5))

	err := e.Init(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreTransactionFailed)

	assert.Equal(t, err, e.Init(ctx))
	_, randomErr := e.Random(ctx, "luck")
	assert.Equal(t, err, randomErr)
}

func TestEngineLifePassThroughs(t *testing.T) {
	e := newTestEngine(t, nil, fixedRandom(0.5))
	model := NewLifeModel(e.Dataset())

	base, err := e.BaseLife(japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	assert.Equal(t, 61.0, base)

	got, err := e.ProcessAlt(base, []float64{-3, 2})
	require.NoError(t, err)
	want, err := model.ProcessAlt(base, []float64{-3, 2})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	percent, err := e.PercentBefore(base, japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	assert.Equal(t, "50", percent)

	seconds, err := e.LifeSeconds(2)
	require.NoError(t, err)
	wantSeconds, err := model.LifeSeconds(2)
	require.NoError(t, err)
	assert.Equal(t, wantSeconds, seconds)

	span, err := e.CalcLife(seconds)
	require.NoError(t, err)
	wantSpan, err := model.CalcLife(seconds)
	require.NoError(t, err)
	assert.Equal(t, wantSpan, span)
}

// contextBackend fails Migrate with the caller's context error.
type contextBackend struct {
	domain.KeyValueBackend
}

func (b contextBackend) Migrate(ctx context.Context, schema domain.StoreSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.KeyValueBackend.Migrate(ctx, schema)
}

func TestEngineInitRetriesAfterCancellation(t *testing.T) {
	e := newTestEngine(t, contextBackend{memory.NewStore()}, fixedRandom(0.5))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Init(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	_, err = e.Random(context.Background(), "luck")
	assert.ErrorIs(t, err, domain.ErrStoreNotInitialized, "a cancelled init leaves the engine uninitialized")

	require.NoError(t, e.Init(context.Background()))
	v, err := e.Random(context.Background(), "luck")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestEngineClearStoreResetsDerivedData(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	e := newTestEngine(t, backend, fixedRandom(0.5))
	require.NoError(t, e.Init(ctx))

	_, err := e.Questions(ctx, japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	require.Equal(t, 1, backend.Len(CollectionQuestions))

	require.NoError(t, e.ClearStore(ctx))
	assert.Zero(t, backend.Len(CollectionQuestions))
	assert.Equal(t, 2, backend.Len(CollectionGlobal), "marker and random facts are rewritten")

	v, err := e.Random(ctx, "luck")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestEngineReportsMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	metrics, err := NewExpvarMetricsRecorder("")
	require.NoError(t, err)
	tracer := NewJSONTracer(nil)
	e := newTestEngine(t, nil, fixedRandom(0.5), WithMetricsRecorder(metrics), WithTracer(tracer))
	require.NoError(t, e.Init(ctx))
	_, err = e.Questions(ctx, japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	_, err = e.Questions(ctx, japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Results["engine.init"]["success"])
	assert.Equal(t, int64(2), snap.Results["engine.questions"]["success"])
	assert.Equal(t, int64(1), snap.Cache["questions"]["hit"])
	assert.Equal(t, int64(1), snap.Cache["questions"]["miss"])
	assert.Equal(t, int64(1), snap.Cache["random"]["miss"])

	var names []string
	for _, entry := range tracer.Entries() {
		names = append(names, entry.Operation)
	}
	assert.Contains(t, names, "engine.init")
	assert.Contains(t, names, "engine.questions")
}

func TestOpenLoadsBundleFromConfig(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.json"), testBundle(t), 0o600))

	cfg := config.Config{
		Storage:    config.Storage{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "deadline.db")},
		Blob:       config.Blob{Driver: "fs", FSRoot: root},
		DatasetKey: "data.json",
	}
	e, err := Open(ctx, cfg, WithLogger(discardLogger()), WithRandom(fixedRandom(0.5)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Equal(t, "2024.1", e.Dataset().Version())
	v, err := e.Random(ctx, "luck")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = Open(ctx, config.Config{
		Storage:    config.Storage{Driver: "memory"},
		Blob:       config.Blob{Driver: "fs", FSRoot: root},
		DatasetKey: "missing.json",
	})
	assert.Error(t, err)
}
