package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"deadline/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHead(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "bundles/data.json", bytes.NewReader([]byte(`{"version":"1"}`)), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "bundles/data.json" || info.Size != 15 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "bundles/data.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "bundles/data.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "bundles/data.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != `{"version":"1"}` || g.ETag != h.ETag || g.ContentType != "application/json" {
		t.Fatalf("unexpected get artifacts %+v", g)
	}
	if _, _, err := store.Get(ctx, "bundles/other.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ReadsHandPlacedBundleWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.yaml"), []byte("version: '3'\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, rc, err := store.Get(ctx, "data.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = rc.Close()
	if info.Size != 13 || info.ContentType != "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestStore_PathTraversal(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "../escape.txt", "/abs.txt", "a/../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_PutCopyErrorLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "bad.json", errorReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	if _, err := store.Head(ctx, "bad.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected nothing stored, got %v", err)
	}
	entries, err := os.ReadDir(store.root)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty root, got %v %v", entries, err)
	}
}
