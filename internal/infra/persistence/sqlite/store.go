// Package sqlite provides a file-local key-value backend on the pure Go
// SQLite driver. Payloads are stored zstd-compressed and the declared schema
// version lives in PRAGMA user_version.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"deadline/internal/infra/persistence/codec"
	"deadline/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.KeyValueBackend = (*Store)(nil)

// Driver is the identifier reported by Store.Driver.
const Driver = "sqlite"

// Store persists collections into four shared tables: declared collections,
// declared indexes, records and index entries.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.RWMutex
	known map[string]map[string]domain.IndexSpec
}

// NewStore opens (creating if needed) the database file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "deadline.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises transactions the way a single-writer store expects.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_collections (
			name TEXT PRIMARY KEY,
			key_path TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv_indexes (
			collection TEXT NOT NULL,
			name TEXT NOT NULL,
			key_path TEXT NOT NULL,
			PRIMARY KEY (collection, name)
		);`,
		`CREATE TABLE IF NOT EXISTS kv_records (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (collection, key)
		);`,
		`CREATE TABLE IF NOT EXISTS kv_index_entries (
			collection TEXT NOT NULL,
			index_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (collection, index_name, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kv_index_entries_value ON kv_index_entries(collection, index_name, value, key);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() string { return Driver }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies additive schema changes inside one transaction.
func (s *Store) Migrate(ctx context.Context, schema domain.StoreSchema) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var stored int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&stored); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if schema.Version < stored {
		return fmt.Errorf("%w: stored %d, declared %d", domain.ErrSchemaDowngrade, stored, schema.Version)
	}

	for _, c := range schema.Collections {
		keyPath, _ := json.Marshal(c.KeyPath)
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO kv_collections(name, key_path) VALUES(?, ?)`, c.Name, string(keyPath)); err != nil {
			return fmt.Errorf("declare collection %s: %w", c.Name, err)
		}
		for _, idx := range c.Indexes {
			if err := ensureIndex(ctx, tx, c.Name, idx); err != nil {
				return err
			}
		}
	}
	if schema.Version != stored {
		// PRAGMA values cannot be bound as parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schema.Version)); err != nil {
			return fmt.Errorf("write user_version: %w", err)
		}
	}
	known, err := loadDeclarations(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
	return nil
}

func ensureIndex(ctx context.Context, tx *sql.Tx, collection string, idx domain.IndexSpec) error {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM kv_indexes WHERE collection = ? AND name = ?`, collection, idx.Name).Scan(&found)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check index %s.%s: %w", collection, idx.Name, err)
	}
	keyPath, _ := json.Marshal(idx.KeyPath)
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_indexes(collection, name, key_path) VALUES(?, ?, ?)`, collection, idx.Name, string(keyPath)); err != nil {
		return fmt.Errorf("declare index %s.%s: %w", collection, idx.Name, err)
	}
	return backfillIndex(ctx, tx, collection, idx)
}

func backfillIndex(ctx context.Context, tx *sql.Tx, collection string, idx domain.IndexSpec) error {
	rows, err := tx.QueryContext(ctx, `SELECT key, payload FROM kv_records WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("scan %s for backfill: %w", collection, err)
	}
	type entry struct{ key, value string }
	var entries []entry
	for rows.Next() {
		var key string
		var frame []byte
		if err := rows.Scan(&key, &frame); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan: %w", err)
		}
		payload, err := codec.Decompress(frame)
		if err != nil {
			_ = rows.Close()
			return err
		}
		value, err := domain.ExtractKey(payload, idx.KeyPath)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("backfill index %s.%s: %w", collection, idx.Name, err)
		}
		entries = append(entries, entry{key, value})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO kv_index_entries(collection, index_name, key, value) VALUES(?, ?, ?, ?)`, collection, idx.Name, e.key, e.value); err != nil {
			return fmt.Errorf("backfill index %s.%s: %w", collection, idx.Name, err)
		}
	}
	return nil
}

func loadDeclarations(ctx context.Context, tx *sql.Tx) (map[string]map[string]domain.IndexSpec, error) {
	known := make(map[string]map[string]domain.IndexSpec)
	rows, err := tx.QueryContext(ctx, `SELECT name FROM kv_collections`)
	if err != nil {
		return nil, fmt.Errorf("select collections: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		known[name] = make(map[string]domain.IndexSpec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	idxRows, err := tx.QueryContext(ctx, `SELECT collection, name, key_path FROM kv_indexes`)
	if err != nil {
		return nil, fmt.Errorf("select indexes: %w", err)
	}
	defer func() { _ = idxRows.Close() }()
	for idxRows.Next() {
		var collection, name, keyPath string
		if err := idxRows.Scan(&collection, &name, &keyPath); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		spec := domain.IndexSpec{Name: name}
		if err := json.Unmarshal([]byte(keyPath), &spec.KeyPath); err != nil {
			return nil, fmt.Errorf("decode index key path: %w", err)
		}
		if _, ok := known[collection]; ok {
			known[collection][name] = spec
		}
	}
	return known, idxRows.Err()
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
func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	if err := s.check(collection, ""); err != nil {
		return nil, false, err
	}
	var frame []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM kv_records WHERE collection = ? AND key = ?`, collection, key).Scan(&frame)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select record: %w", err)
	}
	payload, err := codec.Decompress(frame)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetByIndex returns the lowest-keyed record whose index value matches.
func (s *Store) GetByIndex(ctx context.Context, collection, index, value string) ([]byte, bool, error) {
	if err := s.check(collection, index); err != nil {
		return nil, false, err
	}
	var frame []byte
	err := s.db.QueryRowContext(ctx, `SELECT r.payload FROM kv_index_entries e
		JOIN kv_records r ON r.collection = e.collection AND r.key = e.key
		WHERE e.collection = ? AND e.index_name = ? AND e.value = ?
		ORDER BY e.key LIMIT 1`, collection, index, value).Scan(&frame)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select by index: %w", err)
	}
	payload, err := codec.Decompress(frame)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Put upserts the record and rewrites its index entries in one transaction.
func (s *Store) Put(ctx context.Context, collection string, rec domain.StoredRecord) (retErr error) {
	if err := s.check(collection, ""); err != nil {
		return err
	}
	frame, err := codec.Compress(rec.Payload)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_records(collection, key, payload) VALUES(?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET payload = excluded.payload`, collection, rec.Key, frame); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_index_entries WHERE collection = ? AND key = ?`, collection, rec.Key); err != nil {
		return fmt.Errorf("reset index entries: %w", err)
	}
	for name, value := range rec.Indexes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_index_entries(collection, index_name, key, value) VALUES(?, ?, ?, ?)`, collection, name, rec.Key, value); err != nil {
			return fmt.Errorf("insert index entry %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Clear deletes every record and index entry of a collection.
func (s *Store) Clear(ctx context.Context, collection string) (retErr error) {
	if err := s.check(collection, ""); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_index_entries WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}
