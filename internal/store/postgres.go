// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS session_snapshots (
            traversable_id TEXT PRIMARY KEY,
            current_step   INTEGER NOT NULL,
            captured_at    TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS session_entries (
            traversable_id TEXT NOT NULL REFERENCES session_snapshots(traversable_id) ON DELETE CASCADE,
            seq            INTEGER NOT NULL,
            navigable_id   BIGINT NOT NULL,
            step           INTEGER NOT NULL,
            url            TEXT NOT NULL,
            record         JSONB NOT NULL,
            PRIMARY KEY (traversable_id, seq)
        );
    `
	pgUpsertSnapshot = `
        INSERT INTO session_snapshots (traversable_id, current_step, captured_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (traversable_id) DO UPDATE SET
            current_step = EXCLUDED.current_step,
            captured_at = EXCLUDED.captured_at;
    `
	pgDeleteEntries  = `DELETE FROM session_entries WHERE traversable_id = $1;`
	pgSelectSnapshot = `SELECT current_step, captured_at FROM session_snapshots WHERE traversable_id = $1;`
	pgSelectEntries  = `SELECT record FROM session_entries WHERE traversable_id = $1 ORDER BY seq ASC;`
	pgListSnapshots  = `SELECT traversable_id FROM session_snapshots ORDER BY captured_at DESC;`
	pgDeleteSnapshot = `DELETE FROM session_snapshots WHERE traversable_id = $1;`
)

var pgEntryColumns = []string{"traversable_id", "seq", "navigable_id", "step", "url", "record"}

// PostgresStore keeps session snapshots in PostgreSQL.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a store and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store").With(zap.String("driver", "postgres")),
	}, nil
}

// EnsureSchema creates the snapshot tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot of snap.TraversableID in one
// transaction.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *schemas.SessionSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	rows := make([][]interface{}, len(snap.Entries))
	for i, rec := range snap.Entries {
		b, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		rows[i] = []interface{}{snap.TraversableID, i, int64(rec.NavigableID), rec.Step, rec.URL, b}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, pgUpsertSnapshot, snap.TraversableID, snap.CurrentStep, capturedAt(snap)); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	if _, err := tx.Exec(ctx, pgDeleteEntries, snap.TraversableID); err != nil {
		return fmt.Errorf("failed to clear previous entries: %w", err)
	}
	if len(rows) > 0 {
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"session_entries"}, pgEntryColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy entries: %w", err)
		}
		if int(copyCount) != len(rows) {
			return fmt.Errorf("mismatch in copied entries count: expected %d, got %d", len(rows), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved session snapshot", zap.String("traversable_id", snap.TraversableID), zap.Int("entries", len(rows)))
	return nil
}

// LoadSnapshot reads the snapshot of traversableID.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, traversableID string) (*schemas.SessionSnapshot, error) {
	snap := &schemas.SessionSnapshot{TraversableID: traversableID}
	err := s.pool.QueryRow(ctx, pgSelectSnapshot, traversableID).Scan(&snap.CurrentStep, &snap.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, traversableID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	rows, err := s.pool.Query(ctx, pgSelectEntries, traversableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		rec, err := decodeRecord(raw)
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
func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, pgListSnapshots)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// DeleteSnapshot removes the snapshot of traversableID and its entries.
func (s *PostgresStore) DeleteSnapshot(ctx context.Context, traversableID string) error {
	tag, err := s.pool.Exec(ctx, pgDeleteSnapshot, traversableID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, traversableID)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
