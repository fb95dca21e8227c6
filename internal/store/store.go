// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for a traversable.
	ErrSnapshotNotFound = errors.New("session snapshot not found")
	// ErrDisabled is returned by Open when the configured driver is "none".
	ErrDisabled = errors.New("session snapshot store disabled")
)

// Repository persists session snapshots, one per traversable. Saving a
// snapshot replaces any earlier one for the same traversable.
type Repository interface {
	SaveSnapshot(ctx context.Context, snap *schemas.SessionSnapshot) error
	LoadSnapshot(ctx context.Context, traversableID string) (*schemas.SessionSnapshot, error)
	ListSnapshots(ctx context.Context) ([]string, error)
	DeleteSnapshot(ctx context.Context, traversableID string) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver and makes sure its
// schema exists.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "none":
		return nil, ErrDisabled
	case "sqlite":
		path, err := cfg.ResolvedSQLitePath()
		if err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, path, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func validateSnapshot(snap *schemas.SessionSnapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot save a nil snapshot")
	}
	if snap.TraversableID == "" {
		return fmt.Errorf("snapshot has no traversable id")
	}
	return nil
}

// capturedAt normalizes the capture time to UTC, defaulting to now.
func capturedAt(snap *schemas.SessionSnapshot) time.Time {
	if snap.CapturedAt.IsZero() {
		return time.Now().UTC()
	}
	return snap.CapturedAt.UTC()
}

func encodeRecord(rec schemas.EntryRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry record: %w", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (schemas.EntryRecord, error) {
	var rec schemas.EntryRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal entry record: %w", err)
	}
	return rec, nil
}
