// Package memory provides an in-memory implementation of the key-value
// backend used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"deadline/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.KeyValueBackend = (*Store)(nil)

// Driver is the identifier reported by Store.Driver.
const Driver = "memory"

type collectionState struct {
	spec domain.CollectionSpec
	rows map[string]domain.StoredRecord
}

// Store keeps every collection in process memory. A single mutex serialises
// transactions, so each call is atomic with respect to the others.
type Store struct {
	mu          sync.Mutex
	version     int
	collections map[string]*collectionState
	closed      bool
}

// NewStore constructs an empty in-memory backend.
func NewStore() *Store {
	return &Store{collections: make(map[string]*collectionState)}
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return Driver }

// Version reports the schema version last migrated to.
func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Migrate creates missing collections and indexes and backfills new indexes
// from existing rows.
func (s *Store) Migrate(_ context.Context, schema domain.StoreSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	if schema.Version < s.version {
		return fmt.Errorf("%w: stored %d, declared %d", domain.ErrSchemaDowngrade, s.version, schema.Version)
	}
	for _, spec := range schema.Collections {
		state, ok := s.collections[spec.Name]
		if !ok {
			s.collections[spec.Name] = &collectionState{spec: spec, rows: make(map[string]domain.StoredRecord)}
			continue
		}
		for _, idx := range spec.Indexes {
			if _, exists := state.spec.Index(idx.Name); exists {
				continue
			}
			for key, row := range state.rows {
				value, err := domain.ExtractKey(row.Payload, idx.KeyPath)
				if err != nil {
					return fmt.Errorf("backfill index %s.%s: %w", spec.Name, idx.Name, err)
				}
				row.Indexes = cloneIndexes(row.Indexes)
				row.Indexes[idx.Name] = value
				state.rows[key] = row
			}
			state.spec.Indexes = append(state.spec.Indexes, idx)
		}
	}
	s.version = schema.Version
	return nil
}

func (s *Store) collection(name string) (*collectionState, error) {
	if s.closed {
		return nil, fmt.Errorf("memory store closed")
	}
	state, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCollection, name)
	}
	return state, nil
}

// Get returns a copy of the payload stored under key.
func (s *Store) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.collection(collection)
	if err != nil {
		return nil, false, err
	}
	row, ok := state.rows[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(row.Payload), true, nil
}

// GetByIndex returns the lowest-keyed row whose index value matches.
func (s *Store) GetByIndex(_ context.Context, collection, index, value string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.collection(collection)
	if err != nil {
		return nil, false, err
	}
	if _, ok := state.spec.Index(index); !ok {
		return nil, false, fmt.Errorf("%w: %s.%s", domain.ErrUnknownIndex, collection, index)
	}
	keys := make([]string, 0, len(state.rows))
	for key, row := range state.rows {
		if row.Indexes[index] == value {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	sort.Strings(keys)
	return cloneBytes(state.rows[keys[0]].Payload), true, nil
}

// Put inserts or replaces a row.
func (s *Store) Put(_ context.Context, collection string, rec domain.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.collection(collection)
	if err != nil {
		return err
	}
	state.rows[rec.Key] = domain.StoredRecord{
		Key:     rec.Key,
		Indexes: cloneIndexes(rec.Indexes),
		Payload: cloneBytes(rec.Payload),
	}
	return nil
}

// Clear drops every row of a collection.
func (s *Store) Clear(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.collection(collection)
	if err != nil {
		return err
	}
	state.rows = make(map[string]domain.StoredRecord)
	return nil
}

// Len returns the row count of a collection; zero when unknown.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.collections[collection]; ok {
		return len(state.rows)
	}
	return 0
}

// Close releases nothing but makes later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneIndexes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
