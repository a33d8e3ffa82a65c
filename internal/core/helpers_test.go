package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deadline/internal/dataset"
	"deadline/internal/infra/persistence/memory"
	"deadline/pkg/domain"

	"github.com/stretchr/testify/require"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

// countingRandom returns a fixed value and counts draws.
type countingRandom struct {
	mu    sync.Mutex
	value float64
	draws int
}

func (c *countingRandom) Float64() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draws++
	return c.value
}

func (c *countingRandom) Draws() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draws
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBundle(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "dataset", "testdata", "bundle.json"))
	require.NoError(t, err)
	return raw
}

func testDataset(t *testing.T, random domain.RandomSource) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Parse(testBundle(t), dataset.FormatJSON, dataset.WithRandom(random))
	require.NoError(t, err)
	return ds
}

// testDatasetVersion reparses the test bundle under another version.
func testDatasetVersion(t *testing.T, version string, random domain.RandomSource) *dataset.Dataset {
	t.Helper()
	var b dataset.Bundle
	require.NoError(t, json.Unmarshal(testBundle(t), &b))
	b.Version = version
	out, err := dataset.New(b, dataset.WithRandom(random))
	require.NoError(t, err)
	return out
}

func newTestDatabase(t *testing.T, backend domain.KeyValueBackend) *Database {
	t.Helper()
	db, err := NewDatabase(backend, DefaultSchema(), WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, db.Init(context.Background()))
	return db
}

func newTestEngine(t *testing.T, backend domain.KeyValueBackend, random domain.RandomSource, opts ...Option) *Engine {
	t.Helper()
	if backend == nil {
		backend = memory.NewStore()
	}
	opts = append([]Option{WithLogger(discardLogger()), WithRandom(random)}, opts...)
	e, err := NewEngine(testDataset(t, random), backend, opts...)
	require.NoError(t, err)
	return e
}

func fixedClock(at time.Time) Clock {
	return ClockFunc(func() time.Time { return at })
}

// failingBackend wraps a backend and fails the selected operations.
type failingBackend struct {
	domain.KeyValueBackend
	failGet   bool
	failPut   bool
	failClear bool
}

var errDiskFull = errors.New("disk full")

func (f *failingBackend) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errDiskFull
	}
	return f.KeyValueBackend.Get(ctx, collection, key)
}

func (f *failingBackend) Put(ctx context.Context, collection string, rec domain.StoredRecord) error {
	if f.failPut {
		return errDiskFull
	}
	return f.KeyValueBackend.Put(ctx, collection, rec)
}

func (f *failingBackend) Clear(ctx context.Context, collection string) error {
	if f.failClear {
		return errDiskFull
	}
	return f.KeyValueBackend.Clear(ctx, collection)
}
