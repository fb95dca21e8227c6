// File: internal/browser/navigation/navigate.go
package navigation

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/webidl"
)

// NavigateOptions are the options of navigate.
type NavigateOptions struct {
	State   any
	Info    any
	History schemas.NavigationHistoryBehavior
}

// ReloadOptions are the options of reload. A nil State keeps the current
// entry's state.
type ReloadOptions struct {
	State any
	Info  any
}

// Navigate navigates the document to rawURL, resolved against the
// document's URL.
func (n *Navigation) Navigate(rawURL string, opts NavigateOptions) Result {
	behavior := opts.History
	if behavior == "" {
		behavior = schemas.HistoryBehaviorAuto
	}
	if !behavior.Valid() {
		return earlyErrorResult(&webidl.TypeError{Message: "invalid history behavior " + string(behavior)})
	}

	u, err := n.parseURL(rawURL)
	if err != nil {
		return earlyErrorResult(webidl.WrapException(webidl.SyntaxError, err, "invalid URL "+rawURL))
	}
	if behavior == schemas.HistoryBehaviorPush && (strings.EqualFold(u.Scheme, "javascript") || n.doc.IsInitialAboutBlank()) {
		return earlyErrorResult(webidl.NewException(webidl.NotSupportedError, "cannot push a new entry for %s", u.Redacted()))
	}
	state, err := history.SerializeState(opts.State, n.maxStateBytes)
	if err != nil {
		return earlyErrorResult(webidl.WrapException(webidl.DataCloneError, err, "navigation state"))
	}
	if res, ok := n.checkActive(); !ok {
		return res
	}

	tr := n.beginNonTraverse(opts.Info, state)
	params := NavigateParams{URL: u, Behavior: behavior, State: state}
	err = n.doc.AppendTraversalSteps("navigation api navigate", func(ctx context.Context) {
		if n.isSettled(tr) {
			return
		}
		if err := n.doc.Navigate(ctx, params); err != nil {
			n.logger.Warn("Navigation failed", zap.String("url", u.Redacted()), zap.Error(err))
			n.settle("reject navigation", func() {
				n.rejectTracker(tr, webidl.WrapException(webidl.AbortError, err, "navigation failed"))
			})
		}
	})
	if err != nil {
		n.rejectTracker(tr, webidl.WrapException(webidl.InvalidStateError, err, "traversal queue is unavailable"))
	}
	return tr.result()
}

func (n *Navigation) parseURL(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if base := n.doc.URL(); base != nil {
		return base.ResolveReference(ref), nil
	}
	if !ref.IsAbs() {
		return nil, &url.Error{Op: "parse", URL: raw, Err: errRelativeWithoutBase}
	}
	return ref, nil
}

// Reload reloads the current document, optionally replacing the current
// entry's navigation API state.
func (n *Navigation) Reload(opts ReloadOptions) Result {
	var state []byte
	if opts.State != nil {
		b, err := history.SerializeState(opts.State, n.maxStateBytes)
		if err != nil {
			return earlyErrorResult(webidl.WrapException(webidl.DataCloneError, err, "reload state"))
		}
		state = b
	} else if cur := n.doc.ActiveSessionHistoryEntry(); cur != nil {
		state = cur.NavigationAPIState
	}
	if res, ok := n.checkActive(); !ok {
		return res
	}

	tr := n.beginNonTraverse(opts.Info, state)
	err := n.doc.AppendTraversalSteps("navigation api reload", func(ctx context.Context) {
		if n.isSettled(tr) {
			return
		}
		if opts.State != nil {
			if cur := n.doc.ActiveSessionHistoryEntry(); cur != nil {
				n.doc.UpdateEntryState(cur, state)
			}
		}
		if err := n.doc.Reload(ctx); err != nil {
			n.logger.Warn("Reload failed", zap.Error(err))
			n.settle("reject reload", func() {
				n.rejectTracker(tr, webidl.WrapException(webidl.AbortError, err, "reload failed"))
			})
		}
	})
	if err != nil {
		n.rejectTracker(tr, webidl.WrapException(webidl.InvalidStateError, err, "traversal queue is unavailable"))
	}
	return tr.result()
}

// UpdateCurrentEntry replaces the navigation API state of the current entry.
func (n *Navigation) UpdateCurrentEntry(state any) error {
	current := n.CurrentEntry()
	if current == nil {
		return webidl.NewException(webidl.InvalidStateError, "there is no current entry")
	}
	b, err := history.SerializeState(state, n.maxStateBytes)
	if err != nil {
		return webidl.WrapException(webidl.DataCloneError, err, "current entry state")
	}
	n.doc.UpdateEntryState(current.entry, b)

	n.mu.Lock()
	listeners := slices.Clone(n.listeners)
	n.mu.Unlock()
	for _, fn := range listeners {
		fn(CurrentEntryChange{From: current})
	}
	return nil
}

// isSettled is true for trackers that were aborted before their task ran.
func (n *Navigation) isSettled(tr *MethodTracker) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return tr.settled
}

func (n *Navigation) checkActive() (Result, bool) {
	if !n.doc.IsFullyActive() {
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "document is not fully active")), false
	}
	if n.doc.UnloadCounter() > 0 {
		return earlyErrorResult(webidl.NewException(webidl.InvalidStateError, "document is unloading")), false
	}
	return Result{}, true
}

// maybeSetUpcomingNonTraverseTrackerLocked creates a tracker and, when
// entries and events are enabled, installs it as the upcoming non-traverse
// tracker.
func (n *Navigation) maybeSetUpcomingNonTraverseTrackerLocked(info any, state []byte, enabled bool) *MethodTracker {
	tr := newMethodTracker("", info, state)
	n.metrics.TrackerAdded()
	if enabled {
		n.upcomingNonTraverse = tr
	}
	return tr
}

// beginNonTraverse installs a tracker for a navigation or reload and
// promotes it to the ongoing one, aborting the navigation it supersedes.
// Trackers of documents with entries and events disabled are never installed
// and stay pending.
func (n *Navigation) beginNonTraverse(info any, state []byte) *MethodTracker {
	enabled := !n.HasEntriesAndEventsDisabled()

	n.mu.Lock()
	tr := n.maybeSetUpcomingNonTraverseTrackerLocked(info, state, enabled)
	if !enabled {
		n.mu.Unlock()
		return tr
	}
	var superseded settlement
	if prev := n.ongoingNonTraverse; prev != nil {
		superseded = n.rejectLocked(prev, webidl.NewException(webidl.AbortError, "navigation was superseded"))
	}
	n.upcomingNonTraverse = nil
	n.ongoingNonTraverse = tr
	n.mu.Unlock()
	superseded.deliver()
	return tr
}
