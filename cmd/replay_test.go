// File: cmd/replay_test.go
package cmd

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/store"
)

const browsingScenario = `
traversable: tab-1
url: https://example.com/
steps:
  - op: load
    url: https://example.com/a
  - op: push_state
    url: /a?page=2
    state: {page: 2}
  - op: back
  - op: navigate
    url: /b
    state: {from: a}
  - op: nav_back
  - op: traverse_to
    index: 0
  - op: forward
  - op: replace_state
    url: /a?page=3
  - op: reload
  - op: nav_forward
  - op: nav_forward
    expect_error: true
  - op: back
    steps: 5
    expect_error: true
`

// currentRow matches the marked row of the session history table.
func currentRow(step int, url string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\*\s+` + strconv.Itoa(step) + `\s+\d+\s+\S+\s+` + regexp.QuoteMeta(url) + `\s*$`)
}

func TestParseScenario(t *testing.T) {
	sc, err := parseScenario([]byte(browsingScenario))
	require.NoError(t, err)
	assert.Equal(t, "tab-1", sc.Traversable)
	require.Len(t, sc.Steps, 12)
	assert.Equal(t, map[string]any{"page": 2}, sc.Steps[1].State)
	assert.True(t, sc.Steps[10].ExpectError)

	sc, err = parseScenario([]byte("steps: []"))
	require.NoError(t, err)
	assert.Equal(t, "about:blank", sc.URL)
	assert.NotEmpty(t, sc.Traversable, "a traversable id is generated")

	_, err = parseScenario([]byte("steps:\n  - op: teleport\n"))
	assert.ErrorContains(t, err, `unknown op "teleport"`)

	_, err = parseScenario([]byte("steps: {"))
	assert.Error(t, err)
}

func TestRunReplay(t *testing.T) {
	resetForTest(t)
	cfg := config.NewDefaultConfig()
	sc, err := parseScenario([]byte(browsingScenario))
	require.NoError(t, err)

	var out strings.Builder
	err = runReplay(context.Background(), zaptest.NewLogger(t), cfg, sc, replayOptions{}, newMemoryProvider(t), &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "traversable tab-1: current step 2, 3 used steps")
	assert.Regexp(t, currentRow(2, "https://example.com/b"), got)
	assert.Contains(t, got, "https://example.com/a?page=3")
	assert.NotContains(t, got, "page=2", "the new navigation cleared forward history")
	assert.Contains(t, got, "navigation API: index 2 of 3, canGoBack=true canGoForward=false")
}

func TestRunReplay_StepFailures(t *testing.T) {
	resetForTest(t)
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	t.Run("unexpected failure stops the replay", func(t *testing.T) {
		sc, err := parseScenario([]byte("url: https://example.com/\nsteps:\n  - op: back\n"))
		require.NoError(t, err)
		err = runReplay(context.Background(), logger, cfg, sc, replayOptions{}, newMemoryProvider(t), &strings.Builder{})
		assert.ErrorContains(t, err, "step 0 (back)")
	})

	t.Run("expected failure that succeeds is an error", func(t *testing.T) {
		sc, err := parseScenario([]byte("url: https://example.com/\nsteps:\n  - op: push_state\n    url: /x\n    expect_error: true\n"))
		require.NoError(t, err)
		err = runReplay(context.Background(), logger, cfg, sc, replayOptions{}, newMemoryProvider(t), &strings.Builder{})
		assert.ErrorContains(t, err, "expected an error")
	})

	t.Run("navigation API entries are disabled on about:blank", func(t *testing.T) {
		sc, err := parseScenario([]byte("steps:\n  - op: navigate\n    url: https://example.com/\n    behavior: push\n    expect_error: true\n"))
		require.NoError(t, err)
		var out strings.Builder
		require.NoError(t, runReplay(context.Background(), logger, cfg, sc, replayOptions{}, newMemoryProvider(t), &out))
		assert.Contains(t, out.String(), "navigation API: entries disabled")
	})

	t.Run("traverse_to outside the entry list", func(t *testing.T) {
		sc, err := parseScenario([]byte("url: https://example.com/\nsteps:\n  - op: traverse_to\n    index: 4\n"))
		require.NoError(t, err)
		err = runReplay(context.Background(), logger, cfg, sc, replayOptions{}, newMemoryProvider(t), &strings.Builder{})
		assert.ErrorContains(t, err, "no navigation entry at index 4")
	})
}

func TestReplayCommand_SaveAndRestore(t *testing.T) {
	resetForTest(t)
	provider := newMemoryProvider(t)
	scenario := writeFile(t, "browse.yaml", browsingScenario)

	out, err := executeCommand(t, provider, "replay", "--save", scenario)
	require.NoError(t, err, out)
	assert.Regexp(t, currentRow(2, "https://example.com/b"), out)

	out, err = executeCommand(t, provider, "snapshots", "list")
	require.NoError(t, err)
	assert.Equal(t, "tab-1\n", out)

	resumed := writeFile(t, "resume.yaml", `
traversable: tab-2
steps:
  - op: back
  - op: push_state
    url: /a?page=4
`)
	out, err = executeCommand(t, provider, "replay", "--restore", "tab-1", "--save", resumed)
	require.NoError(t, err, out)
	assert.Contains(t, out, "traversable tab-2: current step 2")
	assert.Regexp(t, currentRow(2, "https://example.com/a?page=4"), out)
	assert.NotContains(t, out, "https://example.com/b", "pushing from the middle cleared forward history")

	stored, err := provider.repo.LoadSnapshot(context.Background(), "tab-1")
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 3, "the restored source snapshot is left untouched")

	_, err = executeCommand(t, provider, "replay", "--restore", "tab-404", scenario)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
}

func TestReplayCommand_StoreDisabled(t *testing.T) {
	resetForTest(t)
	scenario := writeFile(t, "browse.yaml", browsingScenario)

	out, err := executeCommand(t, &memoryProvider{err: store.ErrDisabled}, "replay", "--save", scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDisabled)
	assert.Contains(t, out, `driver "none"`)

	_, err = executeCommand(t, newMemoryProvider(t), "replay", "does-not-exist.yaml")
	assert.ErrorContains(t, err, "failed to read scenario")
}
