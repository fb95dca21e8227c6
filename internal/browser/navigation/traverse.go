// File: internal/browser/navigation/traverse.go
package navigation

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/webidl"
)

// Options are the options of back, forward and traverseTo.
type Options struct {
	Info any
}

// Back traverses to the entry before the current one.
func (n *Navigation) Back(opts Options) Result {
	n.mu.Lock()
	if n.currentIndex <= 0 || n.currentIndex >= len(n.entries) {
		n.mu.Unlock()
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "cannot go back from entry index %d", n.currentIndex))
	}
	key := n.entries[n.currentIndex-1].Key()
	n.mu.Unlock()
	return n.performTraversal(key, opts)
}

// Forward traverses to the entry after the current one.
func (n *Navigation) Forward(opts Options) Result {
	n.mu.Lock()
	if n.currentIndex < 0 || n.currentIndex >= len(n.entries)-1 {
		n.mu.Unlock()
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "cannot go forward from entry index %d", n.currentIndex))
	}
	key := n.entries[n.currentIndex+1].Key()
	n.mu.Unlock()
	return n.performTraversal(key, opts)
}

// TraverseTo traverses to the entry with the given navigation API key.
func (n *Navigation) TraverseTo(key string, opts Options) Result {
	n.mu.Lock()
	found := n.entryByKeyLocked(key) != nil
	n.mu.Unlock()
	if !found {
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "no entry with key %q", key))
	}
	return n.performTraversal(key, opts)
}

// performTraversal schedules a traversal to the entry with key. Calls for a
// key that is already scheduled share the first call's promises.
func (n *Navigation) performTraversal(key string, opts Options) Result {
	if !n.doc.IsFullyActive() {
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "document is not fully active"))
	}
	if n.doc.UnloadCounter() > 0 {
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "document is unloading"))
	}

	n.mu.Lock()
	if current := n.currentEntryLocked(); current != nil && current.Key() == key {
		n.mu.Unlock()
		return resolvedResult(current)
	}
	if v, ok := n.upcomingTraverse.Get(key); ok {
		n.mu.Unlock()
		return v.(*MethodTracker).result()
	}
	tr := n.addUpcomingTraverseTrackerLocked(key, opts.Info)
	n.mu.Unlock()

	snapshot := n.doc.SourceSnapshotParams()
	err := n.doc.AppendTraversalSteps("navigation api traversal", func(ctx context.Context) {
		n.traverse(ctx, key, tr, &snapshot)
	})
	if err != nil {
		n.rejectTracker(tr, webidl.WrapException(webidl.InvalidStateError, err, "traversal queue is unavailable"))
	}
	return tr.result()
}

func (n *Navigation) addUpcomingTraverseTrackerLocked(key string, info any) *MethodTracker {
	tr := newMethodTracker(key, info, nil)
	n.upcomingTraverse.Put(key, tr)
	n.metrics.TrackerAdded()
	return tr
}

// traverse runs on the traversal queue.
func (n *Navigation) traverse(ctx context.Context, key string, tr *MethodTracker, snapshot *navigable.SourceSnapshotParams) {
	logger := n.logger.With(zap.String("key", key))

	shes, err := n.doc.SessionHistoryEntries()
	if err != nil {
		n.settle("reject traversal", func() {
			n.rejectTracker(tr, webidl.WrapException(webidl.InvalidStateError, err, "session history is unavailable"))
		})
		return
	}
	var target *history.SessionHistoryEntry
	for _, she := range shes {
		if she.NavigationAPIKey == key {
			target = she
			break
		}
	}
	if target == nil {
		n.settle("reject traversal", func() {
			n.rejectTracker(tr, webidl.NewException(webidl.InvalidStateError, "no session history entry with key %q", key))
		})
		return
	}

	if target == n.doc.ActiveSessionHistoryEntry() {
		n.settle("resolve traversal", func() { n.resolveTracker(tr, n.wrapperFor(target)) })
		return
	}

	res, err := n.doc.ApplyHistoryStep(ctx, int(target.Step), snapshot, schemas.NavigationTypeTraverse)
	if err != nil {
		logger.Warn("Traversal did not complete", zap.Error(err))
		n.settle("reject traversal", func() {
			n.rejectTracker(tr, webidl.WrapException(webidl.AbortError, err, "traversal did not complete"))
		})
		return
	}

	switch res {
	case navigable.CanceledByBeforeUnload:
		logger.Debug("Traversal canceled by beforeunload")
		n.settle("reject traversal", func() {
			n.rejectTracker(tr, webidl.NewException(webidl.AbortError, "traversal was canceled"))
		})
	case navigable.InitiatorDisallowed:
		logger.Debug("Traversal disallowed for initiator")
		n.settle("reject traversal", func() {
			n.rejectTracker(tr, webidl.NewException(webidl.SecurityError, "not allowed to traverse to %q", key))
		})
	default:
		// Usually settled already by HistoryStepApplied.
		n.settle("resolve traversal", func() { n.resolveTracker(tr, n.wrapperFor(target)) })
	}
}

// wrapperFor returns the cached wrapper of she, creating one if needed.
func (n *Navigation) wrapperFor(she *history.SessionHistoryEntry) *HistoryEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	if w, ok := n.cache.Get(she.NavigationAPIID); ok && w.entry == she {
		return w
	}
	w := &HistoryEntry{nav: n, entry: she, index: -1}
	n.cache.Add(she.NavigationAPIID, w)
	return w
}
