// File: internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/histcore/api/schemas"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// timeLayout has a fixed width so captured_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS session_snapshots (
		traversable_id TEXT PRIMARY KEY,
		current_step   INTEGER NOT NULL,
		captured_at    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session_entries (
		traversable_id TEXT NOT NULL REFERENCES session_snapshots(traversable_id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		navigable_id   INTEGER NOT NULL,
		step           INTEGER NOT NULL,
		url            TEXT NOT NULL,
		record         TEXT NOT NULL,
		PRIMARY KEY (traversable_id, seq)
	);
`

// SQLiteStore keeps session snapshots in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and migrates it.
// MemoryDSN gives a database that lives as long as the store.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA journal_mode=WAL"} {
		if path == MemoryDSN && pragma == "PRAGMA journal_mode=WAL" {
			continue
		}
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: logger.Named("store").With(zap.String("driver", "sqlite")),
	}, nil
}

// SaveSnapshot replaces the stored snapshot of snap.TraversableID.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *schemas.SessionSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_snapshots (traversable_id, current_step, captured_at) VALUES (?, ?, ?)
		 ON CONFLICT (traversable_id) DO UPDATE SET current_step = excluded.current_step, captured_at = excluded.captured_at`,
		snap.TraversableID, snap.CurrentStep, capturedAt(snap).Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_entries WHERE traversable_id = ?`, snap.TraversableID); err != nil {
		return fmt.Errorf("failed to clear previous entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_entries (traversable_id, seq, navigable_id, step, url, record) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range snap.Entries {
		b, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, snap.TraversableID, i, int64(rec.NavigableID), rec.Step, rec.URL, string(b)); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved session snapshot", zap.String("traversable_id", snap.TraversableID), zap.Int("entries", len(snap.Entries)))
	return nil
}

// LoadSnapshot reads the snapshot of traversableID.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, traversableID string) (*schemas.SessionSnapshot, error) {
	snap := &schemas.SessionSnapshot{TraversableID: traversableID}
	var captured string
	err := s.db.QueryRowContext(ctx,
		`SELECT current_step, captured_at FROM session_snapshots WHERE traversable_id = ?`, traversableID,
	).Scan(&snap.CurrentStep, &captured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, traversableID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if snap.CapturedAt, err = time.Parse(timeLayout, captured); err != nil {
		return nil, fmt.Errorf("failed to parse captured_at %q: %w", captured, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM session_entries WHERE traversable_id = ? ORDER BY seq ASC`, traversableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		snap.Entries = append(snap.Entries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns the ids of stored snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT traversable_id FROM session_snapshots ORDER BY captured_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSnapshot removes the snapshot of traversableID and its entries.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, traversableID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE traversable_id = ?`, traversableID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, traversableID)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
