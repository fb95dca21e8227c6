// File: internal/browser/navigable/steps.go
package navigable

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/histcore/internal/browser/history"
)

// GetAllUsedHistorySteps returns every step used by the top-level list or
// any nested history, sorted ascending and without duplicates. Nested lists
// are discovered while walking, so histories of documents that are not
// active are included too.
func (t *Traversable) GetAllUsedHistorySteps() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allUsedStepsLocked()
}

func (t *Traversable) allUsedStepsLocked() []int {
	set := make(map[int]struct{})
	lists := [][]*history.SessionHistoryEntry{t.entries}
	seenNested := make(map[*history.NestedHistory]bool)

	for i := 0; i < len(lists); i++ {
		for _, e := range lists[i] {
			if !e.Step.IsPending() {
				set[int(e.Step)] = struct{}{}
			}
			if e.DocumentState == nil {
				continue
			}
			for _, nh := range e.DocumentState.NestedHistories {
				if !seenNested[nh] {
					seenNested[nh] = true
					lists = append(lists, nh.Entries)
				}
			}
		}
	}

	steps := make([]int, 0, len(set))
	for s := range set {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	return steps
}

// GetUsedStep returns the greatest used step that is less than or equal to
// step. Below the oldest used step it returns the oldest one, so the result
// is always a recorded step.
func (t *Traversable) GetUsedStep(step int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usedStepLocked(step)
}

func (t *Traversable) usedStepLocked(step int) int {
	return usedStep(t.allUsedStepsLocked(), step)
}

// usedStep expects steps sorted ascending. It returns 0 only for an empty
// set.
func usedStep(steps []int, step int) int {
	if len(steps) == 0 {
		return 0
	}
	i := sort.SearchInts(steps, step+1)
	if i == 0 {
		return steps[0]
	}
	return steps[i-1]
}

// GetTargetHistoryEntry returns the entry of navigable id with the greatest
// step less than or equal to step.
func (t *Traversable) GetTargetHistoryEntry(id history.NavigableID, step int) (*history.SessionHistoryEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.targetEntryLocked(id, step)
}

func (t *Traversable) targetEntryLocked(id history.NavigableID, step int) (*history.SessionHistoryEntry, error) {
	list, err := t.entryListLocked(id)
	if err != nil {
		return nil, err
	}
	var target *history.SessionHistoryEntry
	for _, e := range *list {
		if e.Step.IsPending() || int(e.Step) > step {
			continue
		}
		if target == nil || e.Step >= target.Step {
			target = e
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: navigable %d, step %d", ErrEntryNotFound, id, step)
	}
	return target, nil
}

// childrenInDocumentLocked returns n's live children whose nested history
// lives in the document state of n's active entry.
func (t *Traversable) childrenInDocumentLocked(n *Navigable) []*Navigable {
	var out []*Navigable
	for _, id := range n.children {
		c, ok := t.navigables[id]
		if !ok || c.closing {
			continue
		}
		if n.active != nil && n.active.DocumentState != nil {
			if _, ok := n.active.DocumentState.NestedHistory(id); !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

type navTarget struct {
	nav    *Navigable
	target *history.SessionHistoryEntry
}

// walkTargetsLocked visits navigables top-down. classify decides whether a
// navigable belongs in the result and whether its children are visited.
func (t *Traversable) walkTargetsLocked(step int, classify func(n *Navigable, target *history.SessionHistoryEntry) (include, descend bool)) []navTarget {
	var out []navTarget
	toCheck := []*Navigable{t.root}
	for i := 0; i < len(toCheck); i++ {
		n := toCheck[i]
		target, err := t.targetEntryLocked(n.id, step)
		if err != nil {
			continue
		}
		include, descend := classify(n, target)
		if include {
			out = append(out, navTarget{nav: n, target: target})
		}
		if descend {
			toCheck = append(toCheck, t.childrenInDocumentLocked(n)...)
		}
	}
	return out
}

// changingNavigablesLocked: navigables whose current entry will change or reload.
func (t *Traversable) changingNavigablesLocked(step int) []navTarget {
	return t.walkTargetsLocked(step, func(n *Navigable, target *history.SessionHistoryEntry) (bool, bool) {
		reload := target.DocumentState != nil && target.DocumentState.ReloadPending
		include := target != n.current || reload
		descend := target.SameDocument(n.active) && !reload
		return include, descend
	})
}

// crossDocumentNavigablesLocked: navigables that might experience a
// cross-document traversal. Their descendants are unloaded with them.
func (t *Traversable) crossDocumentNavigablesLocked(step int) []navTarget {
	return t.walkTargetsLocked(step, func(n *Navigable, target *history.SessionHistoryEntry) (bool, bool) {
		reload := target.DocumentState != nil && target.DocumentState.ReloadPending
		if !target.SameDocument(n.active) || reload {
			return true, false
		}
		return false, true
	})
}

// indexOnlyNavigablesLocked: navigables whose entry stays put but whose
// history length or index may still change.
func (t *Traversable) indexOnlyNavigablesLocked(step int) []navTarget {
	return t.walkTargetsLocked(step, func(n *Navigable, target *history.SessionHistoryEntry) (bool, bool) {
		reload := target.DocumentState != nil && target.DocumentState.ReloadPending
		if target == n.current && !reload {
			return true, true
		}
		return false, target.SameDocument(n.active) && !reload
	})
}
