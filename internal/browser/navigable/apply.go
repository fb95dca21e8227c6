// File: internal/browser/navigable/apply.go
package navigable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
)

// HistoryApplicationResult is the outcome of applying a history step.
type HistoryApplicationResult string

const (
	Applied                HistoryApplicationResult = "applied"
	CanceledByBeforeUnload HistoryApplicationResult = "canceled-by-beforeunload"
	InitiatorDisallowed    HistoryApplicationResult = "initiator-disallowed"
)

// SandboxingFlags is the subset of a document's active sandboxing flag set
// that governs navigating other navigables.
type SandboxingFlags uint32

const (
	SandboxedNavigation SandboxingFlags = 1 << iota
	SandboxedTopLevelNavigationWithoutUserActivation
	SandboxedTopLevelNavigationWithUserActivation
)

// SourceSnapshotParams captures the initiating document at the time a
// navigation or traversal was requested.
type SourceSnapshotParams struct {
	HasTransientActivation bool
	SandboxingFlags        SandboxingFlags
	AllowsDownloading      bool
	FetchClientOrigin      history.Origin
}

// ApplyOptions are the inputs of ApplyHistoryStep besides the step.
type ApplyOptions struct {
	// CheckForCancellation runs the before-unload check for navigables that
	// would leave their document.
	CheckForCancellation bool
	// Initiator, when set, must be allowed by sandboxing to navigate every
	// navigable whose current entry changes. SourceSnapshot describes it.
	Initiator      *history.NavigableID
	SourceSnapshot *SourceSnapshotParams
	// NavigationType is reported to observers; traverse when empty.
	NavigationType schemas.NavigationType
}

// UnloadGuard decides whether a document leaving session history cancels it,
// which is what beforeunload handlers do.
type UnloadGuard interface {
	UnloadCanceled(ctx context.Context, navigable history.NavigableID, target *history.SessionHistoryEntry) bool
}

// UnloadGuardFunc adapts a function to UnloadGuard.
type UnloadGuardFunc func(ctx context.Context, navigable history.NavigableID, target *history.SessionHistoryEntry) bool

func (f UnloadGuardFunc) UnloadCanceled(ctx context.Context, navigable history.NavigableID, target *history.SessionHistoryEntry) bool {
	return f(ctx, navigable, target)
}

// StepApplied describes a change a history step made to one navigable.
type StepApplied struct {
	Navigable      history.NavigableID
	Previous       *history.SessionHistoryEntry
	Current        *history.SessionHistoryEntry
	Step           int
	NavigationType schemas.NavigationType
	// IndexOnly is set when the entry did not change and only the position
	// in, or length of, the history did.
	IndexOnly bool
}

// Observer is notified after a history step is applied to a navigable.
type Observer interface {
	HistoryStepApplied(ev StepApplied)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StepApplied)

func (f ObserverFunc) HistoryStepApplied(ev StepApplied) { f(ev) }

type observerSlot struct{ obs Observer }

// Observe registers obs for changes to navigable id. The returned function
// unregisters it.
func (t *Traversable) Observe(id history.NavigableID, obs Observer) func() {
	slot := &observerSlot{obs: obs}
	t.mu.Lock()
	t.observers[id] = append(t.observers[id], slot)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			slots := t.observers[id]
			for i, s := range slots {
				if s == slot {
					t.observers[id] = append(slots[:i], slots[i+1:]...)
					break
				}
			}
		})
	}
}

// SetTaskSource routes the change jobs of navigable id through q, the task
// source of the document it presents. Without one, jobs run inline.
func (t *Traversable) SetTaskSource(id history.NavigableID, q *taskqueue.Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q == nil {
		delete(t.taskSources, id)
		return
	}
	t.taskSources[id] = q
}

func (t *Traversable) notify(ev StepApplied) {
	t.mu.RLock()
	slots := append([]*observerSlot(nil), t.observers[ev.Navigable]...)
	t.mu.RUnlock()
	for _, s := range slots {
		t.notifyOne(s.obs, ev)
	}
}

// notifyOne recovers observer panics. Change jobs must always complete.
func (t *Traversable) notifyOne(obs Observer, ev StepApplied) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("History step observer panicked",
				zap.Uint64("navigable", uint64(ev.Navigable)),
				zap.Int("step", ev.Step),
				zap.Any("panic", r))
		}
	}()
	obs.HistoryStepApplied(ev)
}

// allowedBySandboxingLocked reports whether a may navigate b under snap.
func (t *Traversable) allowedBySandboxingLocked(a, b *Navigable, snap *SourceSnapshotParams) bool {
	if snap == nil || a == b {
		return true
	}
	if !b.hasParent {
		if snap.HasTransientActivation && snap.SandboxingFlags&SandboxedTopLevelNavigationWithUserActivation != 0 {
			return false
		}
		if !snap.HasTransientActivation && snap.SandboxingFlags&SandboxedTopLevelNavigationWithoutUserActivation != 0 {
			return false
		}
		return true
	}
	if !t.isAncestorLocked(a, b) && snap.SandboxingFlags&SandboxedNavigation != 0 {
		return false
	}
	return true
}

type changeJob struct {
	nav      *Navigable
	previous *history.SessionHistoryEntry
	target   *history.SessionHistoryEntry
}

// ApplyHistoryStep moves the traversable to the used step for step. It is
// the shared core of traversals, push/replace commits and reloads.
//
// Failures that are part of the model come back as a result value. An error
// is returned only when ctx ends before the step completes; entries already
// changed at that point stay changed.
func (t *Traversable) ApplyHistoryStep(ctx context.Context, step int, opts ApplyOptions) (HistoryApplicationResult, error) {
	navType := opts.NavigationType
	if navType == "" {
		navType = schemas.NavigationTypeTraverse
	}

	t.mu.Lock()
	targetStep := t.usedStepLocked(step)
	logger := t.logger.With(zap.Int("step", step), zap.Int("target_step", targetStep), zap.String("navigation_type", string(navType)))

	if opts.Initiator != nil {
		initiator, ok := t.navigables[*opts.Initiator]
		if !ok {
			t.mu.Unlock()
			logger.Debug("Initiator no longer exists")
			return t.finish(InitiatorDisallowed), nil
		}
		for _, c := range t.changingNavigablesLocked(targetStep) {
			if !t.allowedBySandboxingLocked(initiator, c.nav, opts.SourceSnapshot) {
				t.mu.Unlock()
				logger.Debug("Initiator is not allowed by sandboxing to navigate",
					zap.Uint64("initiator", uint64(initiator.id)),
					zap.Uint64("navigable", uint64(c.nav.id)))
				return t.finish(InitiatorDisallowed), nil
			}
		}
	}
	crossing := t.crossDocumentNavigablesLocked(targetStep)
	t.mu.Unlock()

	if opts.CheckForCancellation && t.unloadGuard != nil {
		for _, c := range crossing {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if t.unloadGuard.UnloadCanceled(ctx, c.nav.id, c.target) {
				logger.Info("Traversal canceled by beforeunload", zap.Uint64("navigable", uint64(c.nav.id)))
				return t.finish(CanceledByBeforeUnload), nil
			}
		}
	}

	t.mu.Lock()
	changing := t.changingNavigablesLocked(targetStep)
	indexOnly := t.indexOnlyNavigablesLocked(targetStep)
	jobs := make([]changeJob, 0, len(changing))
	for _, c := range changing {
		jobs = append(jobs, changeJob{nav: c.nav, previous: c.nav.active, target: c.target})
		c.nav.current = c.target
		c.nav.ongoingNavigation = OngoingTraversal
	}
	t.mu.Unlock()

	if err := t.runChangeJobs(ctx, jobs, targetStep, navType); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.currentStep = targetStep
	t.mu.Unlock()

	for _, n := range indexOnly {
		ev := StepApplied{Navigable: n.nav.id, Previous: n.target, Current: n.target, Step: targetStep, NavigationType: navType, IndexOnly: true}
		t.dispatch(ctx, n.nav.id, "history index update", func(context.Context) { t.notify(ev) })
	}

	logger.Debug("History step applied", zap.Int("changed", len(jobs)), zap.Int("index_only", len(indexOnly)))
	return t.finish(Applied), nil
}

func (t *Traversable) finish(r HistoryApplicationResult) HistoryApplicationResult {
	t.metrics.RecordStepApplied(string(r))
	return r
}

// runChangeJobs runs one job per changing navigable and waits until the
// completed count reaches the total.
func (t *Traversable) runChangeJobs(ctx context.Context, jobs []changeJob, step int, navType schemas.NavigationType) error {
	total := int64(len(jobs))
	if total == 0 {
		return nil
	}
	var completed atomic.Int64
	allDone := make(chan struct{})

	for _, job := range jobs {
		job := job
		t.dispatch(ctx, job.nav.id, "apply history step", func(context.Context) {
			defer func() {
				if completed.Add(1) == total {
					close(allDone)
				}
			}()
			t.completeChange(job, step, navType)
		})
	}

	select {
	case <-allDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d of %d change jobs: %w", total-completed.Load(), total, ctx.Err())
	}
}

// dispatch runs fn on navigable id's task source, or inline without one.
func (t *Traversable) dispatch(ctx context.Context, id history.NavigableID, label string, fn taskqueue.Task) {
	t.mu.RLock()
	src := t.taskSources[id]
	t.mu.RUnlock()
	if src != nil {
		if err := src.Append(label, fn); err == nil {
			return
		}
		t.logger.Debug("Task source unavailable, running inline", zap.Uint64("navigable", uint64(id)))
	}
	fn(ctx)
}

func (t *Traversable) completeChange(job changeJob, step int, navType schemas.NavigationType) {
	t.mu.Lock()
	if ds := job.target.DocumentState; ds != nil {
		if ds.ReloadPending || !ds.HasDocument() {
			// A reload, or a document that was discarded, gets a fresh document.
			ds.DocumentID = history.NextDocumentID()
			ds.ReloadPending = false
		}
		ds.EverPopulated = true
	}
	job.nav.active = job.target
	if job.nav.ongoingNavigation == OngoingTraversal {
		job.nav.ongoingNavigation = ""
	}
	t.mu.Unlock()

	t.notify(StepApplied{
		Navigable:      job.nav.id,
		Previous:       job.previous,
		Current:        job.target,
		Step:           step,
		NavigationType: navType,
	})
}

// TraverseByDelta applies the used step delta positions away from the
// current step, checking for before-unload cancellation.
func (t *Traversable) TraverseByDelta(ctx context.Context, delta int) (HistoryApplicationResult, error) {
	t.mu.RLock()
	steps := t.allUsedStepsLocked()
	current := t.currentStep
	t.mu.RUnlock()

	idx := -1
	for i, s := range steps {
		if s == current {
			idx = i
			break
		}
	}
	target := idx + delta
	if idx < 0 || target < 0 || target >= len(steps) {
		return "", fmt.Errorf("%w: delta %d from step %d", ErrNoSuchStep, delta, current)
	}
	return t.ApplyHistoryStep(ctx, steps[target], ApplyOptions{CheckForCancellation: true})
}
