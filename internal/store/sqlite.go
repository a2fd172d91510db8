package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/types"
	"github.com/hyperengineering/jukutatsu/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the SQLite-backed document database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := migrations.Up(db, migrations.Remote); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkKind(kind string) error {
	if !types.ValidKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// List returns the owner's documents of kind in insertion order.
func (s *SQLiteStore) List(ctx context.Context, kind, ownerID string) ([]Entity, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, body, updated_at FROM entities
		WHERE kind = ? AND owner_id = ?
		ORDER BY rowid
	`, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e := Entity{Kind: kind}
		var body, updated string
		if err := rows.Scan(&e.ID, &e.OwnerID, &body, &updated); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Body = json.RawMessage(body)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a document.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entity) error {
	if err := checkKind(e.Kind); err != nil {
		return err
	}
	if e.ID == "" || e.OwnerID == "" || !json.Valid(e.Body) {
		return ErrInvalidDocument
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, owner_id, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			owner_id = excluded.owner_id,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, e.Kind, e.ID, e.OwnerID, string(e.Body), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Patch merges top-level fields into a stored document. Identity fields
// cannot be changed.
func (s *SQLiteStore) Patch(ctx context.Context, kind, id string, fields map[string]any) (*Entity, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	e := Entity{Kind: kind, ID: id}
	var body string
	err = tx.QueryRowContext(ctx, `SELECT owner_id, body FROM entities WHERE kind = ? AND id = ?`, kind, id).
		Scan(&e.OwnerID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	for k, v := range fields {
		switch k {
		case "id", "user_id":
			if v != doc[k] {
				return nil, fmt.Errorf("%w: %s is immutable", ErrInvalidDocument, k)
			}
		}
		doc[k] = v
	}

	e.UpdatedAt = s.now()
	if ts, ok := doc["updated_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.UpdatedAt = parsed
		}
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	e.Body = merged

	if _, err := tx.ExecContext(ctx, `UPDATE entities SET body = ?, updated_at = ? WHERE kind = ? AND id = ?`,
		string(merged), e.UpdatedAt.UTC().Format(time.RFC3339Nano), kind, id); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &e, nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, kind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RegisterDevice records or refreshes a device registration.
func (s *SQLiteStore) RegisterDevice(ctx context.Context, reg types.DeviceRegistration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (installation_id, owner_id, platform, endpoint, registered_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(installation_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			platform = excluded.platform,
			endpoint = excluded.endpoint,
			registered_at = excluded.registered_at
	`, reg.InstallationID, reg.OwnerID, reg.Platform, reg.Endpoint, s.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{Entities: make(map[string]int64)}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM entities GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		stats.Entities[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&stats.Devices); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	return stats, nil
}
