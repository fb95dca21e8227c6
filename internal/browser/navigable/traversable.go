// File: internal/browser/navigable/traversable.go
package navigable

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
	"github.com/xkilldash9x/histcore/internal/observability"
)

// Traversable is a top-level traversable navigable. It owns the arena of all
// navigables beneath it, the top-level session history entry list, the
// current session history step and the session history traversal queue.
//
// Methods that change session history are expected to run on the traversal
// queue; the internal lock only keeps concurrent readers consistent.
type Traversable struct {
	id          string
	logger      *zap.Logger
	metrics     *observability.Metrics
	queue       *taskqueue.Queue
	unloadGuard UnloadGuard
	maxEntries  int

	mu          sync.RWMutex
	root        *Navigable
	navigables  map[history.NavigableID]*Navigable
	entries     []*history.SessionHistoryEntry
	currentStep int
	nextID      history.NavigableID
	observers   map[history.NavigableID][]*observerSlot
	taskSources map[history.NavigableID]*taskqueue.Queue
}

// Option configures a Traversable.
type Option func(*Traversable)

// WithID sets the traversable id. A random UUID is used otherwise.
func WithID(id string) Option { return func(t *Traversable) { t.id = id } }

// WithMetrics records step applications and appended entries.
func WithMetrics(m *observability.Metrics) Option { return func(t *Traversable) { t.metrics = m } }

// WithUnloadGuard installs the before-unload check used when a traversal asks
// for cancellation checks.
func WithUnloadGuard(g UnloadGuard) Option { return func(t *Traversable) { t.unloadGuard = g } }

// WithMaxEntries caps the top-level entry list; the oldest entries are evicted.
func WithMaxEntries(n int) Option { return func(t *Traversable) { t.maxEntries = n } }

func newTraversable(logger *zap.Logger, opts ...Option) *Traversable {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Traversable{
		navigables:  make(map[history.NavigableID]*Navigable),
		observers:   make(map[history.NavigableID][]*observerSlot),
		taskSources: make(map[history.NavigableID]*taskqueue.Queue),
		nextID:      1,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	t.logger = logger.Named("traversable").With(zap.String("traversable_id", t.id))
	t.queue = taskqueue.New("traversal:"+t.id, logger, taskqueue.WithMetrics(t.metrics))
	return t
}

// NewTopLevelTraversable creates a traversable whose root navigable presents
// the document described by ds at u. The initial entry gets step 0 and is the
// only entry of the list.
func NewTopLevelTraversable(logger *zap.Logger, ds *history.DocumentState, u *url.URL, opts ...Option) (*Traversable, error) {
	t := newTraversable(logger, opts...)

	root := &Navigable{t: t, id: t.allocID()}
	if err := root.Initialize(ds, u, nil); err != nil {
		return nil, fmt.Errorf("failed to initialize top-level traversable: %w", err)
	}
	t.root = root
	t.navigables[root.id] = root
	t.entries = append(t.entries, root.active)
	t.currentStep = 0

	t.metrics.RecordEntryAppended("initial")
	t.logger.Debug("Created top-level traversable", zap.String("url", root.active.URLString()))
	return t, nil
}

func (t *Traversable) allocID() history.NavigableID {
	id := t.nextID
	t.nextID++
	return id
}

// Start runs the session history traversal queue until ctx is done or Stop is called.
func (t *Traversable) Start(ctx context.Context) { t.queue.Start(ctx) }

// Stop halts the traversal queue.
func (t *Traversable) Stop() { t.queue.Stop() }

// Queue is the session history traversal queue.
func (t *Traversable) Queue() *taskqueue.Queue { return t.queue }

func (t *Traversable) ID() string { return t.id }

// Root returns the traversable's own navigable.
func (t *Traversable) Root() *Navigable { return t.root }

// Navigable looks up a navigable of this traversable by id.
func (t *Traversable) Navigable(id history.NavigableID) (*Navigable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.navigables[id]
	return n, ok
}

// CurrentStep is the traversable's current session history step.
func (t *Traversable) CurrentStep() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentStep
}

// Entries returns a copy of the top-level session history entry list.
func (t *Traversable) Entries() []*history.SessionHistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*history.SessionHistoryEntry(nil), t.entries...)
}

// Parent returns the id of id's parent, if it has one.
func (t *Traversable) Parent(id history.NavigableID) (history.NavigableID, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.navigables[id]
	if !ok {
		return 0, false, fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	return n.parent, n.hasParent, nil
}

// Ancestors returns the ids of id's ancestors, nearest first.
func (t *Traversable) Ancestors(id history.NavigableID) ([]history.NavigableID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.navigables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	return t.ancestorsLocked(n), nil
}

func (t *Traversable) ancestorsLocked(n *Navigable) []history.NavigableID {
	var out []history.NavigableID
	for n.hasParent {
		p, ok := t.navigables[n.parent]
		if !ok {
			break
		}
		out = append(out, p.id)
		n = p
	}
	return out
}

func (t *Traversable) isAncestorLocked(a, b *Navigable) bool {
	for _, id := range t.ancestorsLocked(b) {
		if id == a.id {
			return true
		}
	}
	return false
}

// CreateChildNavigable creates a navigable nested in parentID's active
// document. Its first entry takes the step of the parent entry that owns the
// parent's document state, and a nested history for it is added to that state.
func (t *Traversable) CreateChildNavigable(parentID history.NavigableID, ds *history.DocumentState, u *url.URL) (*Navigable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.navigables[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNavigableNotFound, parentID)
	}
	child := &Navigable{t: t, id: t.allocID()}
	if err := child.Initialize(ds, u, parent); err != nil {
		return nil, fmt.Errorf("failed to initialize child navigable: %w", err)
	}

	parentDocState := parent.active.DocumentState
	step := parent.active.Step
	if list, err := t.entryListLocked(parent.id); err == nil {
		for _, e := range *list {
			if e.DocumentState == parentDocState {
				step = e.Step
				break
			}
		}
	}
	child.current.Step = step
	parentDocState.AddNestedHistory(child.id, child.current)

	t.navigables[child.id] = child
	parent.children = append(parent.children, child.id)
	t.logger.Debug("Created child navigable",
		zap.Uint64("navigable_id", uint64(child.id)),
		zap.Uint64("parent_id", uint64(parent.id)),
		zap.Int("step", int(step)))
	return child, nil
}

// DestroyChildNavigable marks id and its descendants as closing, removes
// them from the arena and drops their nested histories from the parent's
// document states.
func (t *Traversable) DestroyChildNavigable(id history.NavigableID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.navigables[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	if !n.hasParent {
		return fmt.Errorf("navigable %d is top-level and cannot be destroyed as a child", id)
	}
	if parent, ok := t.navigables[n.parent]; ok {
		list, err := t.entryListLocked(parent.id)
		if err == nil {
			for _, e := range *list {
				e.DocumentState.RemoveNestedHistory(id)
			}
		}
		for i, c := range parent.children {
			if c == id {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	t.removeSubtreeLocked(n)
	return nil
}

func (t *Traversable) removeSubtreeLocked(n *Navigable) {
	n.closing = true
	for _, c := range n.children {
		if child, ok := t.navigables[c]; ok {
			t.removeSubtreeLocked(child)
		}
	}
	delete(t.navigables, n.id)
	delete(t.observers, n.id)
	delete(t.taskSources, n.id)
}

// GetSessionHistoryEntries returns a copy of id's session history entries:
// the traversable's list for the root, the matching nested history otherwise.
func (t *Traversable) GetSessionHistoryEntries(id history.NavigableID) ([]*history.SessionHistoryEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list, err := t.entryListLocked(id)
	if err != nil {
		return nil, err
	}
	return append([]*history.SessionHistoryEntry(nil), (*list)...), nil
}

// entryListLocked finds the list holding id's entries by walking document
// states breadth first, starting from the top-level entries.
func (t *Traversable) entryListLocked(id history.NavigableID) (*[]*history.SessionHistoryEntry, error) {
	if t.root != nil && id == t.root.id {
		return &t.entries, nil
	}
	seen := make(map[*history.DocumentState]bool)
	var docStates []*history.DocumentState
	push := func(ds *history.DocumentState) {
		if ds != nil && !seen[ds] {
			seen[ds] = true
			docStates = append(docStates, ds)
		}
	}
	for _, e := range t.entries {
		push(e.DocumentState)
	}
	for i := 0; i < len(docStates); i++ {
		for _, nh := range docStates[i].NestedHistories {
			if nh.ID == id {
				return &nh.Entries, nil
			}
			for _, e := range nh.Entries {
				push(e.DocumentState)
			}
		}
	}
	return nil, fmt.Errorf("%w: %d has no session history entries", ErrNavigableNotFound, id)
}

// UpdateEntryState stores serialized navigation API state on entry.
func (t *Traversable) UpdateEntryState(entry *history.SessionHistoryEntry, state []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.NavigationAPIState = state
}

// RecordScrollPosition stores the scroll offset of id's active entry.
func (t *Traversable) RecordScrollPosition(id history.NavigableID, pos history.ScrollPosition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.navigables[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	n.active.ScrollPosition = pos
	return nil
}
