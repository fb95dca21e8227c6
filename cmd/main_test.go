// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/observability"
	"github.com/xkilldash9x/histcore/internal/store"
)

// resetForTest is the single place test state is reset.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	// Keep ./config.yaml discovery away from the package directory.
	t.Chdir(t.TempDir())
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	rootCmd = NewRootCommand()
}

// memoryProvider hands out one shared in-memory store, so snapshots outlive
// the command that saved them.
type memoryProvider struct {
	repo *store.SQLiteStore
	err  error
}

func newMemoryProvider(t *testing.T) *memoryProvider {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), store.MemoryDSN, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return &memoryProvider{repo: repo}
}

func (p *memoryProvider) Create(context.Context, config.Interface) (store.Repository, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.repo, nil, nil
}

// executeCommand runs a fresh command tree built around provider.
func executeCommand(t *testing.T, provider storeProvider, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(provider)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// findCommand returns the subcommand of root named by path.
func findCommand(t *testing.T, root *cobra.Command, path ...string) *cobra.Command {
	t.Helper()
	found, _, err := root.Find(path)
	require.NoError(t, err)
	return found
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
