package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"deadline/pkg/domain"
)

// Database is the collection facade over a key-value backend. Records are
// JSON documents; their primary and index keys are read from the declared
// key paths. Every call is one backend transaction.
type Database struct {
	backend     domain.KeyValueBackend
	schema      domain.StoreSchema
	collections map[string]domain.CollectionSpec

	logger  Logger
	metrics MetricsRecorder

	mu    sync.RWMutex
	ready bool
}

// NewDatabase validates schema and binds it to backend. Init must run before
// any other call.
func NewDatabase(backend domain.KeyValueBackend, schema domain.StoreSchema, opts ...Option) (*Database, error) {
	if backend == nil {
		return nil, fmt.Errorf("database: backend required")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	o := applyOptions(opts)
	collections := make(map[string]domain.CollectionSpec, len(schema.Collections))
	for _, c := range schema.Collections {
		collections[c.Name] = c
	}
	return &Database{
		backend:     backend,
		schema:      schema,
		collections: collections,
		logger:      o.logger,
		metrics:     o.metrics,
	}, nil
}

// Driver reports the backend in use.
func (d *Database) Driver() string { return d.backend.Driver() }

// Init migrates the backend to the declared schema. Calling it again is a no-op.
func (d *Database) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}
	start := time.Now()
	err := d.backend.Migrate(ctx, d.schema)
	d.metrics.Observe(ctx, "store.init", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrSchemaDowngrade) {
			return err
		}
		return &domain.StoreTransactionError{Collection: d.schema.Name, Op: "migrate", Err: err}
	}
	d.ready = true
	d.logger.Info("store ready", "driver", d.backend.Driver(), "schema", d.schema.Name, "version", d.schema.Version)
	return nil
}

func (d *Database) collection(name string) (domain.CollectionSpec, error) {
	d.mu.RLock()
	ready := d.ready
	d.mu.RUnlock()
	if !ready {
		return domain.CollectionSpec{}, domain.ErrStoreNotInitialized
	}
	spec, ok := d.collections[name]
	if !ok {
		return domain.CollectionSpec{}, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, name)
	}
	return spec, nil
}

// Get loads the record under key into out. With a non-empty index, key is
// matched against that index and the first record in primary key order wins.
// The boolean is false when nothing matched.
func (d *Database) Get(ctx context.Context, collection string, key []any, index string, out any) (bool, error) {
	spec, err := d.collection(collection)
	if err != nil {
		return false, err
	}
	keyPath := spec.KeyPath
	if index != "" {
		idx, ok := spec.Index(index)
		if !ok {
			return false, fmt.Errorf("%w: %s.%s", domain.ErrUnknownIndex, collection, index)
		}
		keyPath = idx.KeyPath
	}
	if len(key) != len(keyPath) {
		return false, fmt.Errorf("%s: key has %d parts, key path %v needs %d", collection, len(key), keyPath, len(keyPath))
	}
	encoded, err := domain.EncodeKey(key...)
	if err != nil {
		return false, err
	}

	start := time.Now()
	var (
		payload []byte
		found   bool
	)
	if index == "" {
		payload, found, err = d.backend.Get(ctx, collection, encoded)
	} else {
		payload, found, err = d.backend.GetByIndex(ctx, collection, index, encoded)
	}
	d.metrics.Observe(ctx, "store.get", err == nil, time.Since(start))
	if err != nil {
		return false, &domain.StoreTransactionError{Collection: collection, Op: "get", Err: err}
	}
	if !found {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return false, fmt.Errorf("%s: decode record: %w", collection, err)
		}
	}
	return true, nil
}

// Put inserts or replaces record, keyed by its key path fields.
func (d *Database) Put(ctx context.Context, collection string, record any) error {
	spec, err := d.collection(collection)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: encode record: %w", collection, err)
	}
	key, err := domain.ExtractKey(payload, spec.KeyPath)
	if err != nil {
		return fmt.Errorf("%s: %w", collection, err)
	}
	rec := domain.StoredRecord{Key: key, Payload: payload}
	if len(spec.Indexes) > 0 {
		rec.Indexes = make(map[string]string, len(spec.Indexes))
		for _, idx := range spec.Indexes {
			value, err := domain.ExtractKey(payload, idx.KeyPath)
			if err != nil {
				return fmt.Errorf("%s index %s: %w", collection, idx.Name, err)
			}
			rec.Indexes[idx.Name] = value
		}
	}
	start := time.Now()
	err = d.backend.Put(ctx, collection, rec)
	d.metrics.Observe(ctx, "store.put", err == nil, time.Since(start))
	if err != nil {
		return &domain.StoreTransactionError{Collection: collection, Op: "put", Err: err}
	}
	return nil
}

// Clear drops every record of one collection.
func (d *Database) Clear(ctx context.Context, collection string) error {
	if _, err := d.collection(collection); err != nil {
		return err
	}
	start := time.Now()
	err := d.backend.Clear(ctx, collection)
	d.metrics.Observe(ctx, "store.clear", err == nil, time.Since(start))
	if err != nil {
		return &domain.StoreTransactionError{Collection: collection, Op: "clear", Err: err}
	}
	d.logger.Debug("collection cleared", "collection", collection)
	return nil
}

// ClearAll clears every collection in declaration order, stopping at the first failure.
func (d *Database) ClearAll(ctx context.Context) error {
	for _, c := range d.schema.Collections {
		if err := d.Clear(ctx, c.Name); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the backend. Later calls fail with ErrStoreNotInitialized.
func (d *Database) Close() error {
	d.mu.Lock()
	d.ready = false
	d.mu.Unlock()
	return d.backend.Close()
}
