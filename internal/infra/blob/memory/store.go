// Package memory stages dataset bundles in process memory. dataset-check
// publishes a local bundle file here before loading it through the regular
// blob path, and tests use it as the store double.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"deadline/internal/blob/core"
)

// bundle is an immutable published snapshot; readers share body.
type bundle struct {
	body []byte
	info core.Info
}

// Store holds published bundles by key. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	bundles map[string]bundle
	now     func() time.Time
}

func New() *Store {
	return &Store{bundles: make(map[string]bundle), now: time.Now}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put publishes r under key. The etag is the sha256 of the body, matching
// the fs driver, so a staged bundle and its on-disk copy compare equal.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("stage %s: %w", key, err)
	}
	sum := sha256.Sum256(body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.bundles[key]; taken {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrExists, key)
	}
	b := bundle{body: body, info: core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: s.now().UTC(),
	}}
	s.bundles[key] = b
	return b.snapshot(), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	b, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return b.snapshot(), io.NopCloser(bytes.NewReader(b.body)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	b, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return b.snapshot(), nil
}

func (s *Store) lookup(key string) (bundle, error) {
	s.mu.RLock()
	b, ok := s.bundles[key]
	s.mu.RUnlock()
	if !ok {
		return bundle{}, fmt.Errorf("%w: memory://%s", core.ErrNotFound, key)
	}
	return b, nil
}

// snapshot hands out info with its own metadata map.
func (b bundle) snapshot() core.Info {
	info := b.info
	info.Metadata = maps.Clone(b.info.Metadata)
	return info
}
