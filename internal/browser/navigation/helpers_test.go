// File: internal/browser/navigation/helpers_test.go
package navigation

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/promise"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
)

type fixture struct {
	tr  *navigable.Traversable
	doc *TraversableDocument
	nav *Navigation
}

func newFixture(t *testing.T, raw string, opts []navigable.Option, navOpts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	ds := history.NewDocumentState(history.OriginFromURL(u), history.DocumentStateOptions{})

	tr, err := navigable.NewTopLevelTraversable(logger, ds, u, opts...)
	require.NoError(t, err)
	tr.Start(t.Context())
	t.Cleanup(tr.Stop)

	return bindFixture(t, tr, tr.Root().ID(), navOpts...)
}

func bindFixture(t *testing.T, tr *navigable.Traversable, id history.NavigableID, navOpts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	doc, err := NewDocument(tr, id, logger)
	require.NoError(t, err)
	nav, err := New(logger, doc, navOpts...)
	require.NoError(t, err)
	nav.Start(t.Context())
	t.Cleanup(nav.Stop)
	return &fixture{tr: tr, doc: doc, nav: nav}
}

func await(t *testing.T, p *promise.Promise) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	v, err := p.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "promise did not settle")
	return v, err
}

func awaitEntry(t *testing.T, p *promise.Promise) *HistoryEntry {
	t.Helper()
	v, err := await(t, p)
	require.NoError(t, err)
	entry, ok := v.(*HistoryEntry)
	require.True(t, ok, "settled with %T", v)
	return entry
}

// holdQueue blocks q until the returned channel is closed.
func holdQueue(t *testing.T, q *taskqueue.Queue) chan struct{} {
	t.Helper()
	gate := make(chan struct{})
	require.NoError(t, q.Append("hold", func(ctx context.Context) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}))
	return gate
}

func (f *fixture) push(t *testing.T, raw string) *HistoryEntry {
	t.Helper()
	entry := awaitEntry(t, f.nav.Navigate(raw, NavigateOptions{History: "push"}).Finished)
	f.sync(t)
	return entry
}

// sync waits until the traversal queue has finished the work queued so far.
// Trackers settle from change jobs, before the traversable's step moves.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.tr.Queue().Do(t.Context(), "sync", func(context.Context) {}))
}
