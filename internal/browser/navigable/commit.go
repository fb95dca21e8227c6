// File: internal/browser/navigable/commit.go
package navigable

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
)

// CommitEntry makes entry the current entry of navigable id.
//
// With push (or auto) handling the forward session history is cleared, the
// entry gets the step after the traversable's current step and is appended
// to the navigable's list, and that step is applied. With replace handling
// it takes the current entry's step and slot, and the traversable's current
// step is applied again.
func (t *Traversable) CommitEntry(ctx context.Context, id history.NavigableID, entry *history.SessionHistoryEntry, handling schemas.NavigationHistoryBehavior) (HistoryApplicationResult, error) {
	if entry == nil {
		return "", fmt.Errorf("commit to navigable %d: nil entry", id)
	}

	t.mu.Lock()
	n, ok := t.navigables[id]
	if !ok {
		t.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	list, err := t.entryListLocked(id)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}

	var targetStep int
	var navType schemas.NavigationType
	if handling == schemas.HistoryBehaviorReplace {
		navType = schemas.NavigationTypeReplace
		targetStep = t.currentStep
		entry.Step = n.current.Step
		replaced := false
		for i, e := range *list {
			if e == n.current {
				(*list)[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			*list = append(*list, entry)
		}
	} else {
		navType = schemas.NavigationTypePush
		t.clearForwardHistoryLocked()
		targetStep = t.currentStep + 1
		entry.SetStep(targetStep)
		*list = append(*list, entry)
		t.evictLocked()
	}
	t.mu.Unlock()

	t.metrics.RecordEntryAppended(string(navType))
	t.logger.Debug("Committing session history entry",
		zap.Uint64("navigable", uint64(id)),
		zap.String("handling", string(navType)),
		zap.Int("step", targetStep),
		zap.String("url", entry.URLString()))

	return t.ApplyHistoryStep(ctx, targetStep, ApplyOptions{NavigationType: navType})
}

// clearForwardHistoryLocked removes every entry, in any list, whose step is
// greater than the current step.
func (t *Traversable) clearForwardHistoryLocked() {
	step := history.Step(t.currentStep)
	lists := []*[]*history.SessionHistoryEntry{&t.entries}
	for i := 0; i < len(lists); i++ {
		kept := (*lists[i])[:0]
		for _, e := range *lists[i] {
			if e.Step > step {
				continue
			}
			kept = append(kept, e)
		}
		for j := len(kept); j < len(*lists[i]); j++ {
			(*lists[i])[j] = nil
		}
		*lists[i] = kept
		for _, e := range kept {
			if e.DocumentState == nil {
				continue
			}
			for _, nh := range e.DocumentState.NestedHistories {
				lists = append(lists, &nh.Entries)
			}
		}
	}
}

// evictLocked trims the oldest top-level entries beyond maxEntries. Entries
// that are current for the root are never evicted.
func (t *Traversable) evictLocked() {
	if t.maxEntries <= 0 {
		return
	}
	for len(t.entries) > t.maxEntries && t.entries[0] != t.root.current && t.entries[0] != t.root.active {
		t.entries[0] = nil
		t.entries = t.entries[1:]
	}
}

// Reload marks the document of navigable id's active entry as reload
// pending and re-applies the current step, which replaces the document.
func (t *Traversable) Reload(ctx context.Context, id history.NavigableID) (HistoryApplicationResult, error) {
	t.mu.Lock()
	n, ok := t.navigables[id]
	if !ok {
		t.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrNavigableNotFound, id)
	}
	if n.active.DocumentState != nil {
		n.active.DocumentState.ReloadPending = true
	}
	step := t.currentStep
	t.mu.Unlock()

	return t.ApplyHistoryStep(ctx, step, ApplyOptions{NavigationType: schemas.NavigationTypeReload})
}
