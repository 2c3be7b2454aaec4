package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/recordkit/internal/schema"
)

// EnsureIndex creates the collection table and its field indexes.
//
// The schema fingerprint is compared with the one recorded in the
// collections table; when they match nothing is rebuilt. Either way the
// backend switches to s and expired rows are swept.
func (b *Backend) EnsureIndex(ctx context.Context, s *schema.Schema) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}
	fingerprint, err := s.Fingerprint()
	if err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}
	definition, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	table := tableName(s)
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		id         TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		expires_at INTEGER
	)`); err != nil {
		return false, fmt.Errorf("create table %s: %w", s.Name, err)
	}

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT fingerprint FROM collections WHERE name = ?", s.Name,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}

	rebuilt := current != fingerprint
	if rebuilt {
		if err := rebuildIndexes(ctx, tx, s); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collections (name, fingerprint, definition) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				fingerprint = excluded.fingerprint,
				definition = excluded.definition
		`, s.Name, fingerprint, string(definition)); err != nil {
			return false, fmt.Errorf("record fingerprint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	b.mu.Lock()
	b.schema = s
	b.mu.Unlock()

	if rebuilt {
		b.logger.Info("index rebuilt", "collection", s.Name, "fingerprint", fingerprint[:12])
	} else {
		b.logger.Debug("index up to date", "collection", s.Name)
	}

	if _, err := b.Sweep(ctx); err != nil {
		return rebuilt, err
	}
	return rebuilt, nil
}

// rebuildIndexes drops the collection's field indexes and creates one per
// scalar field. Array and full-text fields are scanned instead.
func rebuildIndexes(ctx context.Context, tx *sql.Tx, s *schema.Schema) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL",
		s.Name,
	)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	var existing []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan index name: %w", err)
		}
		existing = append(existing, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate indexes: %w", err)
	}
	rows.Close()

	for _, name := range existing {
		if _, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop index %s: %w", name, err)
		}
	}

	table := tableName(s)
	for _, f := range s.SortedFields() {
		if f.Type == schema.TypeStringArray || f.Type == schema.TypeText {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (json_extract(doc, %s))",
			indexName(s, f.Name), table, jsonPath(f.Name))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index on %s: %w", f.Name, err)
		}
	}

	stmt := fmt.Sprintf("CREATE INDEX %s ON %s (expires_at) WHERE expires_at IS NOT NULL",
		indexName(s, "expires_at"), table)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create expiry index: %w", err)
	}
	return nil
}
