// File: internal/browser/navigation/tracker.go
package navigation

import (
	"github.com/xkilldash9x/histcore/internal/browser/promise"
)

// Result is what every Navigation API method returns: committed settles
// when the new current entry is in place, finished when the navigation is
// done.
type Result struct {
	Committed *promise.Promise
	Finished  *promise.Promise
}

// MethodTracker follows one Navigation API call until it settles.
type MethodTracker struct {
	// Key is set for traversals: the navigation API key of the target entry.
	Key             string
	Info            any
	SerializedState []byte

	Committed *promise.Promise
	Finished  *promise.Promise

	committedTo *HistoryEntry
	settled     bool
}

func newMethodTracker(key string, info any, state []byte) *MethodTracker {
	tr := &MethodTracker{
		Key:             key,
		Info:            info,
		SerializedState: state,
		Committed:       promise.New(),
		Finished:        promise.New(),
	}
	// A rejected finished promise is also reported through committed.
	tr.Finished.MarkHandled()
	return tr
}

// CommittedTo returns the entry the tracked call committed to, if any.
func (tr *MethodTracker) CommittedTo() *HistoryEntry { return tr.committedTo }

func (tr *MethodTracker) result() Result {
	return Result{Committed: tr.Committed, Finished: tr.Finished}
}

// settlement is a tracker outcome decided under the Navigation lock.
// deliver must run after the lock is released: promise reactions run
// synchronously and may call back into the Navigation.
type settlement struct {
	tr    *MethodTracker
	entry *HistoryEntry
	err   error
}

func (s settlement) deliver() {
	if s.tr == nil {
		return
	}
	if s.err != nil {
		s.tr.Committed.Reject(s.err)
		s.tr.Finished.Reject(s.err)
		return
	}
	s.tr.Committed.Resolve(s.entry)
	s.tr.Finished.Resolve(s.entry)
}

type settlements []settlement

func (ss settlements) deliver() {
	for _, s := range ss {
		s.deliver()
	}
}

// earlyErrorResult is both promises already rejected with err.
func earlyErrorResult(err error) Result {
	r := Result{Committed: promise.RejectedWith(err), Finished: promise.RejectedWith(err)}
	r.Finished.MarkHandled()
	return r
}

// resolvedResult is both promises already resolved with entry.
func resolvedResult(entry *HistoryEntry) Result {
	return Result{Committed: promise.Resolved(entry), Finished: promise.Resolved(entry)}
}
