// Package badger provides an embedded key-value backend on BadgerDB.
//
// Layout (all keys are bytes, \x00 separates segments):
//
//	m/version                          schema version
//	m/c/<collection>                   declared key path
//	m/i/<collection>\x00<index>        declared index key path
//	r/<collection>\x00<key>            zstd-compressed record payload
//	x/<collection>\x00<index>\x00<value>\x00<key>   index entry
//	y/<collection>\x00<key>\x00<index> reverse index entry holding <value>
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"deadline/internal/infra/persistence/codec"
	"deadline/pkg/domain"

	"github.com/dgraph-io/badger/v4"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.KeyValueBackend = (*Store)(nil)

// Driver is the identifier reported by Store.Driver.
const Driver = "badger"

const sep = "\x00"

var versionKey = []byte("m/version")

// Store wraps a BadgerDB handle.
type Store struct {
	db *badger.DB

	mu    sync.RWMutex
	known map[string]map[string]domain.IndexSpec
}

// NewStore opens a BadgerDB in dir. An empty dir opens an in-memory instance.
func NewStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return Driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func collectionMetaKey(collection string) []byte { return []byte("m/c/" + collection) }

func indexMetaKey(collection, index string) []byte {
	return []byte("m/i/" + collection + sep + index)
}

func recordPrefix(collection string) []byte { return []byte("r/" + collection + sep) }

func recordKey(collection, key string) []byte {
	return append(recordPrefix(collection), key...)
}

func indexPrefix(collection string) []byte { return []byte("x/" + collection + sep) }

func indexValuePrefix(collection, index, value string) []byte {
	return []byte("x/" + collection + sep + index + sep + value + sep)
}

func reversePrefix(collection string) []byte { return []byte("y/" + collection + sep) }

func reverseKeyPrefix(collection, key string) []byte {
	return []byte("y/" + collection + sep + key + sep)
}

// Migrate declares missing collections and indexes, backfilling new indexes.
func (s *Store) Migrate(_ context.Context, schema domain.StoreSchema) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		stored, err := readVersion(txn)
		if err != nil {
			return err
		}
		if schema.Version < stored {
			return fmt.Errorf("%w: stored %d, declared %d", domain.ErrSchemaDowngrade, stored, schema.Version)
		}
		for _, c := range schema.Collections {
			if _, err := txn.Get(collectionMetaKey(c.Name)); errors.Is(err, badger.ErrKeyNotFound) {
				keyPath, _ := json.Marshal(c.KeyPath)
				if err := txn.Set(collectionMetaKey(c.Name), keyPath); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			for _, idx := range c.Indexes {
				if _, err := txn.Get(indexMetaKey(c.Name, idx.Name)); err == nil {
					continue
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				keyPath, _ := json.Marshal(idx.KeyPath)
				if err := txn.Set(indexMetaKey(c.Name, idx.Name), keyPath); err != nil {
					return err
				}
				if err := backfill(txn, c.Name, idx); err != nil {
					return err
				}
			}
		}
		return txn.Set(versionKey, []byte(strconv.Itoa(schema.Version)))
	})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	known, err := s.loadDeclarations()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
	return nil
}

func readVersion(txn *badger.Txn) (int, error) {
	item, err := txn.Get(versionKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

func backfill(txn *badger.Txn, collection string, idx domain.IndexSpec) error {
	prefix := recordPrefix(collection)
	type entry struct{ key, value string }
	var entries []entry
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := string(bytes.TrimPrefix(item.KeyCopy(nil), prefix))
		frame, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		payload, err := codec.Decompress(frame)
		if err != nil {
			it.Close()
			return err
		}
		value, err := domain.ExtractKey(payload, idx.KeyPath)
		if err != nil {
			it.Close()
			return fmt.Errorf("backfill index %s.%s: %w", collection, idx.Name, err)
		}
		entries = append(entries, entry{key, value})
	}
	it.Close()
	for _, e := range entries {
		if err := setIndexEntry(txn, collection, idx.Name, e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func setIndexEntry(txn *badger.Txn, collection, index, key, value string) error {
	if err := txn.Set(append(indexValuePrefix(collection, index, value), key...), nil); err != nil {
		return err
	}
	return txn.Set(append(reverseKeyPrefix(collection, key), index...), []byte(value))
}

func (s *Store) loadDeclarations() (map[string]map[string]domain.IndexSpec, error) {
	known := make(map[string]map[string]domain.IndexSpec)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		collPrefix := []byte("m/c/")
		for it.Seek(collPrefix); it.ValidForPrefix(collPrefix); it.Next() {
			name := string(bytes.TrimPrefix(it.Item().KeyCopy(nil), collPrefix))
			known[name] = make(map[string]domain.IndexSpec)
		}
		idxPrefix := []byte("m/i/")
		for it.Seek(idxPrefix); it.ValidForPrefix(idxPrefix); it.Next() {
			item := it.Item()
			parts := bytes.SplitN(bytes.TrimPrefix(item.KeyCopy(nil), idxPrefix), []byte(sep), 2)
			if len(parts) != 2 {
				continue
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			spec := domain.IndexSpec{Name: string(parts[1])}
			if err := json.Unmarshal(raw, &spec.KeyPath); err != nil {
				return fmt.Errorf("decode index key path: %w", err)
			}
			if indexes, ok := known[string(parts[0])]; ok {
				indexes[spec.Name] = spec
			}
		}
		return nil
	})
	return known, err
}

func (s *Store) check(collection, index string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indexes, ok := s.known[collection]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCollection, collection)
	}
	if index != "" {
		if _, ok := indexes[index]; !ok {
			return fmt.Errorf("%w: %s.%s", domain.ErrUnknownIndex, collection, index)
		}
	}
	return nil
}

// Get returns the payload stored under key.
func (s *Store) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	if err := s.check(collection, ""); err != nil {
		return nil, false, err
	}
	var frame []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, key))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	payload, err := codec.Decompress(frame)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetByIndex returns the lowest-keyed record whose index value matches.
func (s *Store) GetByIndex(_ context.Context, collection, index, value string) ([]byte, bool, error) {
	if err := s.check(collection, index); err != nil {
		return nil, false, err
	}
	var frame []byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := indexValuePrefix(collection, index, value)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return badger.ErrKeyNotFound
		}
		key := string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix))
		item, err := txn.Get(recordKey(collection, key))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	payload, err := codec.Decompress(frame)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Put writes the record and replaces its index entries in one transaction.
func (s *Store) Put(_ context.Context, collection string, rec domain.StoredRecord) error {
	if err := s.check(collection, ""); err != nil {
		return err
	}
	frame, err := codec.Compress(rec.Payload)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := dropIndexEntries(txn, collection, rec.Key); err != nil {
			return err
		}
		if err := txn.Set(recordKey(collection, rec.Key), frame); err != nil {
			return err
		}
		for name, value := range rec.Indexes {
			if err := setIndexEntry(txn, collection, name, rec.Key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func dropIndexEntries(txn *badger.Txn, collection, key string) error {
	prefix := reverseKeyPrefix(collection, key)
	type stale struct {
		reverse []byte
		index   string
		value   string
	}
	var found []stale
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		found = append(found, stale{reverse: k, index: string(bytes.TrimPrefix(k, prefix)), value: string(v)})
	}
	it.Close()
	for _, st := range found {
		if err := txn.Delete(append(indexValuePrefix(collection, st.index, st.value), key...)); err != nil {
			return err
		}
		if err := txn.Delete(st.reverse); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops the record and index key ranges of a collection.
func (s *Store) Clear(_ context.Context, collection string) error {
	if err := s.check(collection, ""); err != nil {
		return err
	}
	return s.db.DropPrefix(recordPrefix(collection), indexPrefix(collection), reversePrefix(collection))
}
