package memory

import (
	"context"
	"errors"
	"testing"

	"deadline/pkg/domain"
)

func testSchema(version int, indexes ...domain.IndexSpec) domain.StoreSchema {
	return domain.StoreSchema{
		Name:    "test",
		Version: version,
		Collections: []domain.CollectionSpec{
			{Name: "global", KeyPath: []string{"key"}},
			{Name: "questions", KeyPath: []string{"country", "age"}, Indexes: indexes},
		},
	}
}

func TestStoreGetPutClear(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.Migrate(ctx, testSchema(1)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, ok, err := store.Get(ctx, "global", `["random"]`); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, "global", domain.StoredRecord{Key: `["random"]`, Payload: []byte(`{"key":"random"}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, ok, err := store.Get(ctx, "global", `["random"]`)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(payload) != `{"key":"random"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	if err := store.Clear(ctx, "global"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Len("global") != 0 {
		t.Fatalf("expected empty collection after clear")
	}
}

func TestStoreUnknownCollectionAndIndex(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.Migrate(ctx, testSchema(1)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, _, err := store.Get(ctx, "missing", `["x"]`); !errors.Is(err, domain.ErrUnknownCollection) {
		t.Fatalf("expected unknown collection, got %v", err)
	}
	if _, _, err := store.GetByIndex(ctx, "questions", "version", `["v1"]`); !errors.Is(err, domain.ErrUnknownIndex) {
		t.Fatalf("expected unknown index, got %v", err)
	}
}

func TestStoreMigrationBackfillsNewIndex(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.Migrate(ctx, testSchema(1)); err != nil {
		t.Fatalf("migrate v1: %v", err)
	}
	row := domain.StoredRecord{Key: `["X",50]`, Payload: []byte(`{"country":"X","age":50,"version":"v1"}`)}
	if err := store.Put(ctx, "questions", row); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "global", domain.StoredRecord{Key: `["random"]`, Payload: []byte(`{"key":"random"}`)}); err != nil {
		t.Fatalf("put global: %v", err)
	}
	if err := store.Migrate(ctx, testSchema(2, domain.IndexSpec{Name: "version", KeyPath: []string{"version"}})); err != nil {
		t.Fatalf("migrate v2: %v", err)
	}
	if _, ok, err := store.GetByIndex(ctx, "questions", "version", `["v1"]`); err != nil || !ok {
		t.Fatalf("expected backfilled index hit, got ok=%v err=%v", ok, err)
	}
	if store.Len("global") != 1 {
		t.Fatalf("untouched collection lost data")
	}
	if store.Version() != 2 {
		t.Fatalf("expected version 2, got %d", store.Version())
	}
}

func TestStoreRejectsDowngradeAndClosedUse(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.Migrate(ctx, testSchema(3)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.Migrate(ctx, testSchema(2)); !errors.Is(err, domain.ErrSchemaDowngrade) {
		t.Fatalf("expected downgrade error, got %v", err)
	}
	if store.Driver() != Driver {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	_ = store.Close()
	if _, _, err := store.Get(ctx, "global", `["x"]`); err == nil {
		t.Fatalf("expected error after close")
	}
}
