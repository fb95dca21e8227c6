// File: internal/browser/navigation/document.go
package navigation

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
)

// NavigateParams describe a navigation started through the Navigation API.
type NavigateParams struct {
	URL      *url.URL
	Behavior schemas.NavigationHistoryBehavior
	State    []byte
}

// Document is the window's document as seen by the Navigation API.
//
// ApplyHistoryStep, Navigate and Reload are only called from tasks running
// on the traversal queue that AppendTraversalSteps feeds.
type Document interface {
	IsFullyActive() bool
	UnloadCounter() int
	IsInitialAboutBlank() bool
	Origin() history.Origin
	URL() *url.URL
	NavigableID() history.NavigableID

	SessionHistoryEntries() ([]*history.SessionHistoryEntry, error)
	ActiveSessionHistoryEntry() *history.SessionHistoryEntry
	SourceSnapshotParams() navigable.SourceSnapshotParams
	UpdateEntryState(entry *history.SessionHistoryEntry, state []byte)

	ApplyHistoryStep(ctx context.Context, step int, snapshot *navigable.SourceSnapshotParams, navType schemas.NavigationType) (navigable.HistoryApplicationResult, error)
	AppendTraversalSteps(label string, task taskqueue.Task) error
	Navigate(ctx context.Context, params NavigateParams) error
	Reload(ctx context.Context) error

	// Observe delivers history step changes of this document's navigable
	// on taskSource. The returned function stops delivery.
	Observe(obs navigable.Observer, taskSource *taskqueue.Queue) func()
}

// TraversableDocument is a Document presented by a navigable of a traversable.
type TraversableDocument struct {
	t      *navigable.Traversable
	nav    *navigable.Navigable
	logger *zap.Logger

	mu            sync.Mutex
	fullyActive   bool
	unloadCounter int
	snapshot      navigable.SourceSnapshotParams
}

// NewDocument binds a document to navigable id of t. The document starts
// fully active.
func NewDocument(t *navigable.Traversable, id history.NavigableID, logger *zap.Logger) (*TraversableDocument, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nav, ok := t.Navigable(id)
	if !ok {
		return nil, fmt.Errorf("bind document: %w: %d", navigable.ErrNavigableNotFound, id)
	}
	return &TraversableDocument{
		t:           t,
		nav:         nav,
		logger:      logger.Named("document").With(zap.Uint64("navigable_id", uint64(id))),
		fullyActive: true,
	}, nil
}

func (d *TraversableDocument) IsFullyActive() bool {
	d.mu.Lock()
	active := d.fullyActive
	d.mu.Unlock()
	if !active || d.nav.IsClosing() {
		return false
	}
	_, ok := d.t.Navigable(d.nav.ID())
	return ok
}

// SetFullyActive marks the document as (in)active, as happens when it is
// put in or taken out of the back/forward cache.
func (d *TraversableDocument) SetFullyActive(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullyActive = v
}

func (d *TraversableDocument) UnloadCounter() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unloadCounter
}

// BeginUnload and EndUnload bracket running unload handlers.
func (d *TraversableDocument) BeginUnload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unloadCounter++
}

func (d *TraversableDocument) EndUnload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unloadCounter > 0 {
		d.unloadCounter--
	}
}

func (d *TraversableDocument) IsInitialAboutBlank() bool {
	e := d.nav.ActiveEntry()
	return e != nil && e.DocumentState != nil && e.DocumentState.InitialAboutBlank
}

func (d *TraversableDocument) Origin() history.Origin {
	e := d.nav.ActiveEntry()
	if e == nil || e.DocumentState == nil {
		return history.NewOpaqueOrigin()
	}
	return e.DocumentState.Origin
}

func (d *TraversableDocument) URL() *url.URL {
	if e := d.nav.ActiveEntry(); e != nil {
		return e.URL
	}
	return nil
}

func (d *TraversableDocument) NavigableID() history.NavigableID { return d.nav.ID() }

func (d *TraversableDocument) SessionHistoryEntries() ([]*history.SessionHistoryEntry, error) {
	return d.t.GetSessionHistoryEntries(d.nav.ID())
}

func (d *TraversableDocument) ActiveSessionHistoryEntry() *history.SessionHistoryEntry {
	return d.nav.ActiveEntry()
}

// SetSourceSnapshot sets the sandboxing flags and activation state reported
// for navigations this document initiates.
func (d *TraversableDocument) SetSourceSnapshot(p navigable.SourceSnapshotParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = p
}

func (d *TraversableDocument) SourceSnapshotParams() navigable.SourceSnapshotParams {
	d.mu.Lock()
	p := d.snapshot
	d.mu.Unlock()
	p.FetchClientOrigin = d.Origin()
	return p
}

func (d *TraversableDocument) UpdateEntryState(entry *history.SessionHistoryEntry, state []byte) {
	d.t.UpdateEntryState(entry, state)
}

func (d *TraversableDocument) ApplyHistoryStep(ctx context.Context, step int, snapshot *navigable.SourceSnapshotParams, navType schemas.NavigationType) (navigable.HistoryApplicationResult, error) {
	initiator := d.nav.ID()
	return d.t.ApplyHistoryStep(ctx, step, navigable.ApplyOptions{
		CheckForCancellation: true,
		Initiator:            &initiator,
		SourceSnapshot:       snapshot,
		NavigationType:       navType,
	})
}

func (d *TraversableDocument) AppendTraversalSteps(label string, task taskqueue.Task) error {
	return d.t.Queue().Append(label, task)
}

// Navigate commits a new entry for params.URL. A URL that differs from the
// current one only by its fragment stays in the current document. Auto
// handling replaces when the URL is unchanged or the document is the initial
// about:blank, and pushes otherwise.
func (d *TraversableDocument) Navigate(ctx context.Context, params NavigateParams) error {
	if params.URL == nil {
		return fmt.Errorf("navigate navigable %d: nil URL", d.nav.ID())
	}
	active := d.nav.ActiveEntry()
	behavior := params.Behavior
	if behavior == "" || behavior == schemas.HistoryBehaviorAuto {
		behavior = schemas.HistoryBehaviorPush
		if d.IsInitialAboutBlank() || (active != nil && active.URLString() == params.URL.String()) {
			behavior = schemas.HistoryBehaviorReplace
		}
	}

	var ds *history.DocumentState
	if active != nil && isFragmentNavigation(active.URL, params.URL) {
		ds = active.DocumentState
	} else {
		origin := d.Origin()
		var policy history.ReferrerPolicy
		if active != nil && active.DocumentState != nil {
			policy = active.DocumentState.DocumentReferrerPolicy
		}
		ds = history.NewDocumentState(history.OriginFromURL(params.URL), history.DocumentStateOptions{
			ReferrerPolicy:  policy,
			InitiatorOrigin: &origin,
		})
	}

	var entry *history.SessionHistoryEntry
	if behavior == schemas.HistoryBehaviorReplace && active != nil {
		entry = history.ReplacementFor(active, params.URL, ds)
	} else {
		entry = history.NewEntry(params.URL, ds)
	}
	entry.NavigationAPIState = params.State

	res, err := d.t.CommitEntry(ctx, d.nav.ID(), entry, behavior)
	if err != nil {
		return err
	}
	if res != navigable.Applied {
		return fmt.Errorf("navigation to %s was not applied: %s", params.URL, res)
	}
	d.logger.Debug("Navigated", zap.String("url", params.URL.String()), zap.String("handling", string(behavior)))
	return nil
}

// isFragmentNavigation reports whether to only adds or changes the fragment of from.
func isFragmentNavigation(from, to *url.URL) bool {
	if from == nil || to == nil || to.Fragment == "" {
		return false
	}
	a, b := *from, *to
	a.Fragment, a.RawFragment = "", ""
	b.Fragment, b.RawFragment = "", ""
	return a.String() == b.String()
}

func (d *TraversableDocument) Reload(ctx context.Context) error {
	res, err := d.t.Reload(ctx, d.nav.ID())
	if err != nil {
		return err
	}
	if res != navigable.Applied {
		return fmt.Errorf("reload was not applied: %s", res)
	}
	return nil
}

func (d *TraversableDocument) Observe(obs navigable.Observer, taskSource *taskqueue.Queue) func() {
	id := d.nav.ID()
	d.t.SetTaskSource(id, taskSource)
	stop := d.t.Observe(id, obs)
	return func() {
		stop()
		d.t.SetTaskSource(id, nil)
	}
}
