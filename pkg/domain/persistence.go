package domain

import (
	"context"
	"fmt"
)

// IndexSpec declares a secondary index over a record key path.
type IndexSpec struct {
	Name    string   `json:"name"`
	KeyPath []string `json:"key_path"`
}

// CollectionSpec declares a named collection with a composite primary key.
type CollectionSpec struct {
	Name    string      `json:"name"`
	KeyPath []string    `json:"key_path"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

// Index returns the declared index with the given name.
func (c CollectionSpec) Index(name string) (IndexSpec, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// StoreSchema is the versioned declaration a backend migrates to. Versions
// only grow; a bump applies additive changes.
type StoreSchema struct {
	Name        string           `json:"name"`
	Version     int              `json:"version"`
	Collections []CollectionSpec `json:"collections"`
}

// Validate rejects empty or duplicate names and empty key paths.
func (s StoreSchema) Validate() error {
	if s.Version < 1 {
		return fmt.Errorf("schema %q: version must be >= 1", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Collections))
	for _, c := range s.Collections {
		if c.Name == "" {
			return fmt.Errorf("schema %q: collection name required", s.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema %q: duplicate collection %q", s.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.KeyPath) == 0 {
			return fmt.Errorf("collection %q: key path required", c.Name)
		}
		idxSeen := make(map[string]struct{}, len(c.Indexes))
		for _, idx := range c.Indexes {
			if idx.Name == "" || len(idx.KeyPath) == 0 {
				return fmt.Errorf("collection %q: index needs a name and key path", c.Name)
			}
			if _, dup := idxSeen[idx.Name]; dup {
				return fmt.Errorf("collection %q: duplicate index %q", c.Name, idx.Name)
			}
			idxSeen[idx.Name] = struct{}{}
		}
	}
	return nil
}

// StoredRecord is what a backend persists: the encoded primary key, the
// encoded value of every declared index, and the JSON payload.
type StoredRecord struct {
	Key     string
	Indexes map[string]string
	Payload []byte
}

// KeyValueBackend is the durable layer under the collection facade. Every
// call runs in one backend transaction and returns only after it committed.
type KeyValueBackend interface {
	// Migrate creates missing collections and indexes for schema. Existing
	// data in untouched collections is kept.
	Migrate(ctx context.Context, schema StoreSchema) error
	Get(ctx context.Context, collection, key string) ([]byte, bool, error)
	// GetByIndex returns the first record (by primary key order) whose index value matches.
	GetByIndex(ctx context.Context, collection, index, value string) ([]byte, bool, error)
	Put(ctx context.Context, collection string, rec StoredRecord) error
	Clear(ctx context.Context, collection string) error
	Close() error
	Driver() string
}
