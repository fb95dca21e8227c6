// File: cmd/store.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/observability"
	"github.com/xkilldash9x/histcore/internal/store"
)

// storeProvider creates the snapshot repository for a command. Tests inject
// an in-memory one.
type storeProvider interface {
	// Create returns the repository and a cleanup function. It returns
	// store.ErrDisabled when no driver is configured.
	Create(ctx context.Context, cfg config.Interface) (store.Repository, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that opens the configured backend.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (store.Repository, func(), error) {
	logger := observability.GetLogger()
	repo, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := repo.Close(); err != nil {
			logger.Warn("Failed to close snapshot store", zap.Error(err))
			return
		}
		logger.Debug("Snapshot store closed", zap.String("driver", cfg.Store().Driver))
	}
	return repo, cleanup, nil
}

// openStore is Create with a friendlier error for the disabled case.
func openStore(ctx context.Context, cfg config.Interface, provider storeProvider) (store.Repository, func(), error) {
	repo, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot store (driver %q): %w", cfg.Store().Driver, err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	return repo, cleanup, nil
}
