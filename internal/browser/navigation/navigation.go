// File: internal/browser/navigation/navigation.go
package navigation

import (
	"context"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
	"github.com/xkilldash9x/histcore/internal/browser/webidl"
	"github.com/xkilldash9x/histcore/internal/observability"
)

const defaultEntryCacheSize = 256

// CurrentEntryChange is reported when the current entry changes. Type is
// empty for updateCurrentEntry.
type CurrentEntryChange struct {
	Type schemas.NavigationType
	From *HistoryEntry
}

// Navigation is the Navigation API of one window. Its methods may be called
// from any goroutine; the work they schedule runs on the traversable's
// traversal queue and settles on the navigation's own task source.
type Navigation struct {
	doc           Document
	logger        *zap.Logger
	metrics       *observability.Metrics
	queue         *taskqueue.Queue
	maxStateBytes int
	cacheSize     int

	mu                  sync.Mutex
	entries             []*HistoryEntry
	currentIndex        int
	cache               *lru.Cache[string, *HistoryEntry]
	upcomingNonTraverse *MethodTracker
	ongoingNonTraverse  *MethodTracker
	// upcomingTraverse maps navigation API keys to *MethodTracker in
	// insertion order.
	upcomingTraverse *linkedhashmap.Map
	listeners        []func(CurrentEntryChange)
	unobserve        func()
}

// Option configures a Navigation.
type Option func(*Navigation)

// WithMetrics reports method tracker counts to m.
func WithMetrics(m *observability.Metrics) Option { return func(n *Navigation) { n.metrics = m } }

// WithMaxStateBytes caps serialized navigation API state. Zero means no cap.
func WithMaxStateBytes(max int) Option { return func(n *Navigation) { n.maxStateBytes = max } }

// WithEntryCacheSize sets how many entry wrappers are kept for reuse.
func WithEntryCacheSize(size int) Option { return func(n *Navigation) { n.cacheSize = size } }

// New creates the Navigation API of doc and starts observing its navigable.
// Call Start before scheduling work and Stop when the window goes away.
func New(logger *zap.Logger, doc Document, opts ...Option) (*Navigation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Navigation{
		doc:              doc,
		currentIndex:     -1,
		cacheSize:        defaultEntryCacheSize,
		upcomingTraverse: linkedhashmap.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	cache, err := lru.New[string, *HistoryEntry](n.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry cache: %w", err)
	}
	n.cache = cache

	name := fmt.Sprintf("navigation:%d", doc.NavigableID())
	n.logger = logger.Named("navigation").With(zap.Uint64("navigable_id", uint64(doc.NavigableID())))
	n.queue = taskqueue.New(name, logger, taskqueue.WithMetrics(n.metrics))

	n.mu.Lock()
	n.refreshLocked()
	n.mu.Unlock()
	n.unobserve = doc.Observe(n, n.queue)
	return n, nil
}

// Start runs the navigation and traversal task source.
func (n *Navigation) Start(ctx context.Context) { n.queue.Start(ctx) }

// Stop detaches from the navigable, stops the task source and aborts every
// tracker that has not settled.
func (n *Navigation) Stop() {
	n.unobserve()
	n.queue.Stop()

	err := webidl.NewException(webidl.AbortError, "the navigation API was shut down")
	var aborted settlements
	n.mu.Lock()
	for _, v := range n.upcomingTraverse.Values() {
		aborted = append(aborted, n.rejectLocked(v.(*MethodTracker), err))
	}
	if n.ongoingNonTraverse != nil {
		aborted = append(aborted, n.rejectLocked(n.ongoingNonTraverse, err))
	}
	if n.upcomingNonTraverse != nil {
		aborted = append(aborted, n.rejectLocked(n.upcomingNonTraverse, err))
	}
	n.mu.Unlock()
	aborted.deliver()
}

// TaskSource is the queue trackers settle on.
func (n *Navigation) TaskSource() *taskqueue.Queue { return n.queue }

// HasEntriesAndEventsDisabled is true for documents that are not fully
// active, the initial about:blank document and opaque origins.
func (n *Navigation) HasEntriesAndEventsDisabled() bool {
	return !n.doc.IsFullyActive() || n.doc.IsInitialAboutBlank() || n.doc.Origin().IsOpaque()
}

// Entries returns the entry list, or nil when entries are disabled.
func (n *Navigation) Entries() []*HistoryEntry {
	if n.HasEntriesAndEventsDisabled() {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*HistoryEntry(nil), n.entries...)
}

// CurrentEntry returns the current entry, or nil.
func (n *Navigation) CurrentEntry() *HistoryEntry {
	if n.HasEntriesAndEventsDisabled() {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentEntryLocked()
}

// CurrentEntryIndex is -1 when there is no current entry.
func (n *Navigation) CurrentEntryIndex() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentIndex
}

// CanGoBack reports whether an entry precedes the current one. It is false
// while entries and events are disabled.
func (n *Navigation) CanGoBack() bool {
	if n.HasEntriesAndEventsDisabled() {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentIndex > 0
}

// CanGoForward reports whether an entry follows the current one.
func (n *Navigation) CanGoForward() bool {
	if n.HasEntriesAndEventsDisabled() {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentIndex >= 0 && n.currentIndex < len(n.entries)-1
}

// OnCurrentEntryChange registers fn for current entry changes. It is not
// called while entries and events are disabled.
func (n *Navigation) OnCurrentEntryChange(fn func(CurrentEntryChange)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// HistoryStepApplied keeps the entry list in step with session history and
// settles the trackers the change completes.
func (n *Navigation) HistoryStepApplied(ev navigable.StepApplied) {
	n.mu.Lock()
	from := n.currentEntryLocked()
	n.refreshLocked()
	if ev.IndexOnly {
		n.mu.Unlock()
		return
	}
	current := n.currentEntryLocked()

	var done settlement
	switch ev.NavigationType {
	case schemas.NavigationTypeTraverse:
		if current != nil {
			if v, ok := n.upcomingTraverse.Get(current.Key()); ok {
				done = n.resolveLocked(v.(*MethodTracker), current)
			}
		}
	default:
		if n.ongoingNonTraverse != nil && current != nil {
			done = n.resolveLocked(n.ongoingNonTraverse, current)
		}
	}

	var listeners []func(CurrentEntryChange)
	if from != current || ev.NavigationType == schemas.NavigationTypeReload {
		listeners = append(listeners, n.listeners...)
	}
	n.mu.Unlock()
	done.deliver()

	if len(listeners) == 0 || n.HasEntriesAndEventsDisabled() {
		return
	}
	change := CurrentEntryChange{Type: ev.NavigationType, From: from}
	for _, fn := range listeners {
		fn(change)
	}
}

// settle runs fn on the task source, or inline once it has stopped.
func (n *Navigation) settle(label string, fn func()) {
	if err := n.queue.Append(label, func(context.Context) { fn() }); err != nil {
		fn()
	}
}

// resolveLocked records tr as resolved with entry. The returned settlement
// is empty when tr has already settled.
func (n *Navigation) resolveLocked(tr *MethodTracker, entry *HistoryEntry) settlement {
	if tr.settled {
		return settlement{}
	}
	if tr.committedTo == nil {
		tr.committedTo = entry
	}
	n.cleanupLocked(tr)
	return settlement{tr: tr, entry: entry}
}

func (n *Navigation) rejectLocked(tr *MethodTracker, err error) settlement {
	if tr.settled {
		return settlement{}
	}
	n.cleanupLocked(tr)
	return settlement{tr: tr, err: err}
}

func (n *Navigation) cleanupLocked(tr *MethodTracker) {
	if n.ongoingNonTraverse == tr {
		n.ongoingNonTraverse = nil
	}
	if n.upcomingNonTraverse == tr {
		n.upcomingNonTraverse = nil
	}
	if tr.Key != "" {
		if v, ok := n.upcomingTraverse.Get(tr.Key); ok && v.(*MethodTracker) == tr {
			n.upcomingTraverse.Remove(tr.Key)
		}
	}
	if !tr.settled {
		tr.settled = true
		n.metrics.TrackerSettled()
	}
}

func (n *Navigation) resolveTracker(tr *MethodTracker, entry *HistoryEntry) {
	n.mu.Lock()
	s := n.resolveLocked(tr, entry)
	n.mu.Unlock()
	s.deliver()
}

func (n *Navigation) rejectTracker(tr *MethodTracker, err error) {
	n.mu.Lock()
	s := n.rejectLocked(tr, err)
	n.mu.Unlock()
	s.deliver()
}
