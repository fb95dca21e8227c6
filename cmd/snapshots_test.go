// File: cmd/snapshots_test.go
package cmd

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/store"
)

func seedSnapshot(t *testing.T, p *memoryProvider, id string) *schemas.SessionSnapshot {
	t.Helper()
	snap := &schemas.SessionSnapshot{
		TraversableID: id,
		CurrentStep:   1,
		CapturedAt:    time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC),
		Entries: []schemas.EntryRecord{
			{NavigableID: 1, Step: 0, URL: "https://example.com/", NavigationAPIKey: "k0", NavigationAPIID: "i0", DocumentID: 1, Origin: "https://example.com", ScrollRestoration: "auto"},
			{NavigableID: 1, Step: 1, URL: "https://example.com/a", NavigationAPIKey: "k1", NavigationAPIID: "i1", DocumentID: 2, Origin: "https://example.com", ScrollRestoration: "auto"},
		},
	}
	require.NoError(t, p.repo.SaveSnapshot(context.Background(), snap))
	return snap
}

func TestSnapshotsCommands(t *testing.T) {
	resetForTest(t)
	provider := newMemoryProvider(t)

	out, err := executeCommand(t, provider, "snapshots", "list")
	require.NoError(t, err)
	assert.Equal(t, "no snapshots stored\n", out)

	want := seedSnapshot(t, provider, "tab-1")

	out, err = executeCommand(t, provider, "snapshots", "show", "tab-1")
	require.NoError(t, err)
	assert.Contains(t, out, "traversable tab-1: current step 1")
	assert.Regexp(t, `(?m)^\*\s+1\s+1\s+k1\s+https://example.com/a$`, out)
	assert.Regexp(t, `(?m)^\s+1\s+0\s+k0\s+https://example.com/$`, out)

	out, err = executeCommand(t, provider, "snapshots", "show", "--json", "tab-1")
	require.NoError(t, err)
	var decoded schemas.SessionSnapshot
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(out, &decoded))
	assert.Equal(t, want.Entries, decoded.Entries)
	assert.True(t, want.CapturedAt.Equal(decoded.CapturedAt))

	out, err = executeCommand(t, provider, "snapshots", "delete", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "deleted tab-1\n", out)

	_, err = executeCommand(t, provider, "snapshots", "delete", "tab-1")
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	_, err = executeCommand(t, provider, "snapshots", "show", "tab-1")
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
}

func TestSnapshotsCommands_Args(t *testing.T) {
	resetForTest(t)
	provider := newMemoryProvider(t)

	_, err := executeCommand(t, provider, "snapshots", "show")
	assert.ErrorContains(t, err, "accepts 1 arg(s)")
	_, err = executeCommand(t, provider, "snapshots", "list", "extra")
	assert.Error(t, err)
}
