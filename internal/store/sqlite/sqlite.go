// Package sqlite implements store.Backend on SQLite.
//
// Each collection is one table of JSON documents:
//
//	id         TEXT PRIMARY KEY   record identity
//	doc        TEXT NOT NULL      the record as JSON
//	expires_at INTEGER            Unix milliseconds; NULL means no expiry
//
// Indexed fields get json_extract expression indexes. The collections
// table stores each collection's schema fingerprint so EnsureIndex only
// rebuilds indexes when the schema changed.
//
// Expired rows are invisible to every read and are deleted by Sweep.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// errNoIndex is returned by record operations before EnsureIndex.
var errNoIndex = errors.New("sqlite: no collection; call EnsureIndex first")

const metaSQL = `
CREATE TABLE IF NOT EXISTS collections (
	name        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	definition  TEXT NOT NULL
)`

// Backend stores one collection in a SQLite database.
type Backend struct {
	db     *sql.DB
	clock  store.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	schema *schema.Schema
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the clock used for expiry. Defaults to the wall clock.
func WithClock(c store.Clock) Option {
	return func(b *Backend) {
		b.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

var _ store.Backend = (*Backend)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the metadata table.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(metaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create collections table: %w", err)
	}

	b := &Backend{
		db:     db,
		clock:  store.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Backend methods when available.
func (b *Backend) DB() *sql.DB {
	return b.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// collection returns the active schema and its quoted table name.
func (b *Backend) collection() (*schema.Schema, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.schema == nil {
		return nil, "", errNoIndex
	}
	return b.schema, tableName(b.schema), nil
}

// nowMillis is the expiry reference point for the current call.
func (b *Backend) nowMillis() int64 {
	return b.clock.Now().UnixMilli()
}

// Fetch returns the live record under id, or an empty Record.
func (b *Backend) Fetch(ctx context.Context, id string) (store.Record, error) {
	_, table, err := b.collection()
	if err != nil {
		return nil, err
	}

	var doc string
	err = b.db.QueryRowContext(ctx,
		"SELECT doc FROM "+table+" WHERE id = ? AND "+liveClause,
		id, b.nowMillis(),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return decodeDoc(doc)
}

// Save writes r under id. An unexpired TTL on the row is kept; an expired
// row is replaced as if it never existed.
func (b *Backend) Save(ctx context.Context, id string, r store.Record) error {
	_, table, err := b.collection()
	if err != nil {
		return err
	}

	doc, err := json.Marshal(store.NormalizeRecord(r))
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", id, err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, doc, expires_at) VALUES (?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			expires_at = CASE
				WHEN expires_at IS NOT NULL AND expires_at <= ? THEN NULL
				ELSE expires_at
			END
	`, id, string(doc), b.nowMillis())
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Remove deletes the row under id.
func (b *Backend) Remove(ctx context.Context, id string) error {
	_, table, err := b.collection()
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Expire sets the row to expire seconds from now. A non-positive value
// deletes the row immediately. Expiring a missing row is a no-op.
func (b *Backend) Expire(ctx context.Context, id string, seconds int) error {
	if seconds <= 0 {
		return b.Remove(ctx, id)
	}
	_, table, err := b.collection()
	if err != nil {
		return err
	}

	now := b.nowMillis()
	_, err = b.db.ExecContext(ctx,
		"UPDATE "+table+" SET expires_at = ? WHERE id = ? AND "+liveClause,
		now+int64(seconds)*1000, id, now,
	)
	if err != nil {
		return fmt.Errorf("expire %s: %w", id, err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (b *Backend) Sweep(ctx context.Context) (int64, error) {
	_, table, err := b.collection()
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE expires_at IS NOT NULL AND expires_at <= ?",
		b.nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	if n > 0 {
		b.logger.Debug("swept expired records", "count", n)
	}
	return n, nil
}

// Search starts a query against the collection.
func (b *Backend) Search() store.Search {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newSearch(b, b.schema)
}

func decodeDoc(doc string) (store.Record, error) {
	var r store.Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if r == nil {
		r = store.Record{}
	}
	return r, nil
}

// liveClause filters out expired rows; it takes the current time in
// milliseconds as its only parameter.
const liveClause = "(expires_at IS NULL OR expires_at > ?)"

func tableName(s *schema.Schema) string {
	return quoteIdent(s.Name)
}

func indexName(s *schema.Schema, field string) string {
	return quoteIdent("idx_" + s.Name + "_" + strings.ReplaceAll(field, ".", "_"))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// jsonPath returns the quoted JSON path literal of a field. Field names
// are restricted by schema validation, so inlining them is safe.
func jsonPath(field string) string {
	return "'$." + field + "'"
}
