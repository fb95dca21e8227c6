// File: cmd/serve_test.go
package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/bus"
	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/constellation"
)

func TestParseOpenFlag(t *testing.T) {
	id, u, err := parseOpenFlag("tab-1=https://example.com/?q=a=b")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", id)
	assert.Equal(t, "https://example.com/?q=a=b", u)

	for _, bad := range []string{"tab-1", "=https://example.com/", "tab-1="} {
		_, _, err := parseOpenFlag(bad)
		assert.Error(t, err, bad)
	}
}

// jointLength asks the running constellation for the joint session history
// length of id, retrying until the consumer is subscribed.
func jointLength(t *testing.T, b *bus.Bus, id string) int {
	t.Helper()
	reply := make(chan int, 16)
	var length int
	require.Eventually(t, func() bool {
		if err := b.Post(context.Background(), schemas.MessageJointSessionHistoryLength,
			schemas.JointSessionHistoryLengthMessage{TraversableID: id, Reply: reply}); err != nil {
			return false
		}
		select {
		case length = <-reply:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	return length
}

func TestRunServe(t *testing.T) {
	resetForTest(t)
	provider := newMemoryProvider(t)
	seedSnapshot(t, provider, "restored")

	cfg := config.NewDefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan *bus.Bus, 1)
	opts := serveOptions{
		open:    []string{"tab-1=https://example.com/"},
		restore: true,
		save:    true,
		onStart: func(c *constellation.Constellation, b *bus.Bus) {
			assert.Len(t, c.Traversables(), 2)
			started <- b
		},
	}

	done := make(chan error, 1)
	go func() { done <- runServe(ctx, zaptest.NewLogger(t), cfg, opts, provider) }()

	var b *bus.Bus
	select {
	case b = <-started:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	}

	assert.Equal(t, 1, jointLength(t, b, "tab-1"))
	assert.Equal(t, 2, jointLength(t, b, "restored"))

	require.NoError(t, b.Post(ctx, schemas.MessagePushHistoryState, schemas.HistoryStateMessage{
		TraversableID: "tab-1", URL: "/pushed", State: []byte(`{"n":1}`),
	}))
	deadline := time.Now().Add(5 * time.Second)
	for jointLength(t, b, "tab-1") != 2 {
		require.True(t, time.Now().Before(deadline), "push was not applied")
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	saved, err := provider.repo.LoadSnapshot(context.Background(), "tab-1")
	require.NoError(t, err)
	require.Len(t, saved.Entries, 2)
	assert.Equal(t, "https://example.com/pushed", saved.Entries[1].URL)
	assert.JSONEq(t, `{"n":1}`, string(saved.Entries[1].ClassicState))
}

func TestRunServe_Errors(t *testing.T) {
	resetForTest(t)
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	err := runServe(context.Background(), logger, cfg, serveOptions{open: []string{"no-url"}}, newMemoryProvider(t))
	assert.ErrorContains(t, err, "invalid --open value")

	err = runServe(context.Background(), logger, cfg, serveOptions{open: []string{"a=https://a.test/", "a=https://b.test/"}}, newMemoryProvider(t))
	assert.ErrorIs(t, err, constellation.ErrDuplicateTraversable)
}
