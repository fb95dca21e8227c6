// File: internal/browser/navigable/navigable.go
package navigable

import (
	"errors"
	"net/url"

	"github.com/xkilldash9x/histcore/internal/browser/history"
)

var (
	// ErrNoDocument is returned when a navigable is initialized with a
	// document state that does not refer to a document.
	ErrNoDocument = errors.New("document state has no document")
	// ErrNavigableNotFound is returned for ids unknown to the traversable.
	ErrNavigableNotFound = errors.New("navigable not found")
	// ErrEntryNotFound is returned when a navigable has no entry at or before a step.
	ErrEntryNotFound = errors.New("no session history entry at or before step")
	// ErrNoSuchStep is returned when a traversal delta leaves the joint session history.
	ErrNoSuchStep = errors.New("no history step at the requested delta")
)

// OngoingTraversal is the ongoing navigation marker of a navigable whose
// current entry is being changed by a history traversal.
const OngoingTraversal = "traversal"

// Navigable presents a document and owns a position in session history.
// Parent links are ids into the owning traversable's arena, so a child never
// keeps its parent alive.
type Navigable struct {
	t *Traversable

	id                 history.NavigableID
	parent             history.NavigableID
	hasParent          bool
	closing            bool
	delayingLoadEvents bool
	current            *history.SessionHistoryEntry
	active             *history.SessionHistoryEntry
	ongoingNavigation  string
	children           []history.NavigableID
}

// Initialize gives a detached navigable its first session history entry. The
// entry becomes both current and active and has step 0. parent is nil for a
// top-level traversable.
func (n *Navigable) Initialize(ds *history.DocumentState, u *url.URL, parent *Navigable) error {
	if !ds.HasDocument() {
		return ErrNoDocument
	}
	entry := history.NewEntry(u, ds)
	entry.SetStep(0)
	ds.EverPopulated = true

	n.current = entry
	n.active = entry
	if parent != nil {
		n.parent = parent.id
		n.hasParent = true
	} else {
		n.parent = 0
		n.hasParent = false
	}
	return nil
}

func (n *Navigable) rlock() func() {
	if n.t == nil {
		return func() {}
	}
	n.t.mu.RLock()
	return n.t.mu.RUnlock
}

// ID returns the navigable's id.
func (n *Navigable) ID() history.NavigableID { return n.id }

// Parent returns the parent's id, if any.
func (n *Navigable) Parent() (history.NavigableID, bool) {
	defer n.rlock()()
	return n.parent, n.hasParent
}

// IsTopLevel reports whether the navigable has no parent.
func (n *Navigable) IsTopLevel() bool {
	defer n.rlock()()
	return !n.hasParent
}

func (n *Navigable) IsClosing() bool {
	defer n.rlock()()
	return n.closing
}

// CurrentEntry is the entry session history considers current. During a
// traversal it can run ahead of the active entry.
func (n *Navigable) CurrentEntry() *history.SessionHistoryEntry {
	defer n.rlock()()
	return n.current
}

// ActiveEntry is the entry whose document is presented.
func (n *Navigable) ActiveEntry() *history.SessionHistoryEntry {
	defer n.rlock()()
	return n.active
}

func (n *Navigable) OngoingNavigation() string {
	defer n.rlock()()
	return n.ongoingNavigation
}

func (n *Navigable) SetDelayingLoadEvents(v bool) {
	if n.t != nil {
		n.t.mu.Lock()
		defer n.t.mu.Unlock()
	}
	n.delayingLoadEvents = v
}

func (n *Navigable) DelayingLoadEvents() bool {
	defer n.rlock()()
	return n.delayingLoadEvents
}

// Children returns the ids of the child navigables, in creation order.
func (n *Navigable) Children() []history.NavigableID {
	defer n.rlock()()
	return append([]history.NavigableID(nil), n.children...)
}
