// File: internal/browser/navigable/helpers_test.go
package navigable

import (
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/histcore/internal/browser/history"
)

func mustURL(t testing.TB, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func docFor(t testing.TB, raw string) (*history.DocumentState, *url.URL) {
	t.Helper()
	u := mustURL(t, raw)
	return history.NewDocumentState(history.OriginFromURL(u), history.DocumentStateOptions{}), u
}

func newTestTraversable(t *testing.T, opts ...Option) *Traversable {
	t.Helper()
	ds, u := docFor(t, "https://a.test/")
	tr, err := NewTopLevelTraversable(zaptest.NewLogger(t), ds, u, opts...)
	require.NoError(t, err)
	return tr
}

// newEntryFor builds a cross-document entry for raw.
func newEntryFor(t testing.TB, raw string) *history.SessionHistoryEntry {
	t.Helper()
	ds, u := docFor(t, raw)
	return history.NewEntry(u, ds)
}

// sameDocumentEntry builds an entry sharing the document of base.
func sameDocumentEntry(t testing.TB, base *history.SessionHistoryEntry, raw string) *history.SessionHistoryEntry {
	t.Helper()
	return history.NewEntry(mustURL(t, raw), base.DocumentState)
}

func stepsOf(entries []*history.SessionHistoryEntry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, int(e.Step))
	}
	return out
}

// recorder collects StepApplied events.
type recorder struct {
	mu     sync.Mutex
	events []StepApplied
}

func (r *recorder) HistoryStepApplied(ev StepApplied) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []StepApplied {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepApplied(nil), r.events...)
}
