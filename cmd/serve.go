// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/bus"
	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/constellation"
	"github.com/xkilldash9x/histcore/internal/observability"
	"github.com/xkilldash9x/histcore/internal/store"
)

const shutdownGrace = 5 * time.Second

type serveOptions struct {
	open        []string
	metricsAddr string
	restore     bool
	save        bool

	// onStart is called once the constellation owns its traversables.
	onStart func(c *constellation.Constellation, b *bus.Bus)
}

func newServeCmd(provider storeProvider) *cobra.Command {
	var opts serveOptions

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the constellation and handle script messages until interrupted",
		Long: `Owns a set of traversables and applies the script messages posted on the
message bus to them. With the NATS relay enabled, messages published by
other processes under the subject prefix are handled too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, observability.GetLogger(), cfg, opts, provider)
		},
	}

	serveCmd.Flags().StringArrayVar(&opts.open, "open", nil, "Open a traversable, as id=url (repeatable)")
	serveCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	serveCmd.Flags().BoolVar(&opts.restore, "restore", false, "Restore every stored snapshot on start")
	serveCmd.Flags().BoolVar(&opts.save, "save", false, "Save every traversable to the snapshot store on shutdown")
	serveCmd.Flags().String("store", "", "Snapshot store driver (none, sqlite, postgres)")
	serveCmd.Flags().String("sqlite-path", "", "Path of the SQLite snapshot database")
	serveCmd.Flags().Int("max-entries", 0, "Cap on session history entries per traversable (0 is unlimited)")
	serveCmd.Flags().Bool("nats", false, "Relay script messages over NATS")
	serveCmd.Flags().String("nats-url", "", "NATS server URL")
	return serveCmd
}

func parseOpenFlag(v string) (id, rawURL string, err error) {
	id, rawURL, ok := strings.Cut(v, "=")
	if !ok || id == "" || rawURL == "" {
		return "", "", fmt.Errorf("invalid --open value %q, want id=url", v)
	}
	return id, rawURL, nil
}

func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts serveOptions, provider storeProvider) error {
	var (
		metrics *observability.Metrics
		reg     *prometheus.Registry
	)
	if cfg.Metrics().Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(reg, cfg.Metrics().Prefix)
	}

	var repo store.Repository
	if opts.restore || opts.save {
		r, cleanup, err := openStore(ctx, cfg, provider)
		if err != nil {
			return err
		}
		defer cleanup()
		repo = r
	}

	b := bus.New(logger, cfg.Bus().BufferSize)
	defer b.Shutdown()
	c := constellation.New(logger, b, cfg.History(), constellation.WithMetrics(metrics))

	if opts.restore {
		if err := restoreAll(ctx, logger, cfg, c, repo, metrics); err != nil {
			_ = c.Shutdown()
			return err
		}
	}
	for _, v := range opts.open {
		id, rawURL, err := parseOpenFlag(v)
		if err == nil {
			_, err = c.Open(ctx, id, rawURL)
		}
		if err != nil {
			_ = c.Shutdown()
			return err
		}
	}

	if nc := cfg.Bus().NATS; nc.Enabled {
		conn, err := bus.Connect(nc.URL, "histcore")
		if err != nil {
			_ = c.Shutdown()
			return err
		}
		defer conn.Close()
		relay := bus.NewNATSRelay(logger, b, conn, nc.SubjectPrefix)
		if err := relay.Start(ctx); err != nil {
			_ = c.Shutdown()
			return fmt.Errorf("failed to start NATS relay: %w", err)
		}
		defer relay.Close()
		logger.Info("NATS relay started", zap.String("url", nc.URL), zap.String("subject_prefix", nc.SubjectPrefix))
	}

	if opts.onStart != nil {
		opts.onStart(c, b)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if opts.metricsAddr != "" && reg != nil {
		serveMetrics(gctx, g, logger, reg, opts.metricsAddr)
	}

	logger.Info("Constellation serving", zap.Int("traversables", len(c.Traversables())))
	runErr := g.Wait()

	if opts.save {
		saveAll(logger, c, repo)
	}
	if err := c.Shutdown(); err != nil {
		logger.Warn("Constellation shutdown failed", zap.Error(err))
	}
	logger.Info("Constellation stopped")
	return runErr
}

// restoreAll adds a traversable for every stored snapshot. Snapshots that
// cannot be restored are skipped.
func restoreAll(ctx context.Context, logger *zap.Logger, cfg config.Interface, c *constellation.Constellation, repo store.Repository, metrics *observability.Metrics) error {
	ids, err := repo.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, id := range ids {
		snap, err := repo.LoadSnapshot(ctx, id)
		if err != nil {
			logger.Warn("Skipping unreadable snapshot", zap.String("traversable_id", id), zap.Error(err))
			continue
		}
		t, err := navigable.Restore(logger, snap,
			navigable.WithMetrics(metrics),
			navigable.WithMaxEntries(cfg.History().MaxEntries))
		if err != nil {
			logger.Warn("Skipping snapshot that cannot be restored", zap.String("traversable_id", id), zap.Error(err))
			continue
		}
		if err := c.Add(ctx, t); err != nil {
			return err
		}
		logger.Info("Restored traversable", zap.String("traversable_id", id), zap.Int("entries", len(snap.Entries)))
	}
	return nil
}

// saveAll stores every traversable. The serve context is already done, so
// it works under its own deadline.
func saveAll(logger *zap.Logger, c *constellation.Constellation, repo store.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, t := range c.Traversables() {
		if err := repo.SaveSnapshot(ctx, t.Snapshot()); err != nil {
			logger.Error("Failed to save traversable", zap.String("traversable_id", t.ID()), zap.Error(err))
			continue
		}
		logger.Debug("Saved traversable", zap.String("traversable_id", t.ID()))
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, logger *zap.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
