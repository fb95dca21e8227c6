// File: cmd/snapshots.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/store"
)

func newSnapshotsCmd(provider storeProvider) *cobra.Command {
	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect stored session history snapshots",
	}
	snapshotsCmd.PersistentFlags().String("store", "", "Snapshot store driver (sqlite, postgres)")
	snapshotsCmd.PersistentFlags().String("sqlite-path", "", "Path of the SQLite snapshot database")

	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: withStore(provider, func(ctx context.Context, env storeEnv, _ []string) error {
			ids, err := env.repo.ListSnapshots(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(env.out, "no snapshots stored")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(env.out, id)
			}
			return nil
		}),
	})

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show <traversable-id>",
		Short: "Print the entries of a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(provider, func(ctx context.Context, env storeEnv, args []string) error {
			snap, err := env.repo.LoadSnapshot(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(env.out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprintf(env.out, "traversable %s: current step %d, captured %s\n",
				snap.TraversableID, snap.CurrentStep, snap.CapturedAt.Local().Format(time.RFC3339))
			return writeRecords(env.out, snap.CurrentStep, snap.Entries)
		}),
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	snapshotsCmd.AddCommand(showCmd)

	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "delete <traversable-id>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(provider, func(ctx context.Context, env storeEnv, args []string) error {
			if err := env.repo.DeleteSnapshot(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.out, "deleted %s\n", args[0])
			return nil
		}),
	})
	return snapshotsCmd
}

type storeEnv struct {
	repo store.Repository
	out  io.Writer
}

// withStore opens the configured store around fn.
func withStore(provider storeProvider, fn func(ctx context.Context, env storeEnv, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := getConfigFromContext(ctx)
		if err != nil {
			return err
		}
		repo, cleanup, err := openStore(ctx, cfg, provider)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(ctx, storeEnv{repo: repo, out: cmd.OutOrStdout()}, args)
	}
}

// writeRecords prints snapshot entries, marking those of the current step.
func writeRecords(out io.Writer, currentStep int, records []schemas.EntryRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAVIGABLE\tSTEP\tKEY\tURL")
	for _, rec := range records {
		marker := ""
		if rec.Step == currentStep {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", marker, rec.NavigableID, rec.Step, rec.NavigationAPIKey, rec.URL)
	}
	return w.Flush()
}
