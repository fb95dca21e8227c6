// File: internal/browser/navigable/snapshot.go
package navigable

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
)

// Snapshot flattens the session history into records. Top-level entries
// come first, then nested histories breadth first, each list in order.
func (t *Traversable) Snapshot() *schemas.SessionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &schemas.SessionSnapshot{
		TraversableID: t.id,
		CurrentStep:   t.currentStep,
		CapturedAt:    time.Now().UTC(),
	}

	type list struct {
		owner, parentNav history.NavigableID
		parentDoc        history.DocumentID
		entries          []*history.SessionHistoryEntry
	}
	lists := []list{{owner: t.root.id, entries: t.entries}}
	seen := make(map[*history.DocumentState]bool)

	for i := 0; i < len(lists); i++ {
		l := lists[i]
		for _, e := range l.entries {
			snap.Entries = append(snap.Entries, toRecord(e, l.owner, l.parentNav, l.parentDoc))
			ds := e.DocumentState
			if ds == nil || seen[ds] {
				continue
			}
			seen[ds] = true
			for _, nh := range ds.NestedHistories {
				lists = append(lists, list{owner: nh.ID, parentNav: l.owner, parentDoc: ds.DocumentID, entries: nh.Entries})
			}
		}
	}
	return snap
}

func toRecord(e *history.SessionHistoryEntry, owner, parentNav history.NavigableID, parentDoc history.DocumentID) schemas.EntryRecord {
	rec := schemas.EntryRecord{
		NavigableID:       uint64(owner),
		ParentNavigableID: uint64(parentNav),
		ParentDocumentID:  uint64(parentDoc),
		Step:              int(e.Step),
		URL:               e.URLString(),
		NavigationAPIKey:  e.NavigationAPIKey,
		NavigationAPIID:   e.NavigationAPIID,
		ScrollRestoration: string(e.ScrollRestorationMode),
		ScrollX:           e.ScrollPosition.X,
		ScrollY:           e.ScrollPosition.Y,
		NavigationState:   e.NavigationAPIState,
		ClassicState:      e.ClassicHistoryAPIState,
	}
	if ds := e.DocumentState; ds != nil {
		rec.DocumentID = uint64(ds.DocumentID)
		rec.Origin = ds.Origin.String()
		rec.ReferrerPolicy = string(ds.DocumentReferrerPolicy)
		rec.TargetName = ds.NavigableTargetName
		rec.InitialAboutBlank = ds.InitialAboutBlank
	}
	return rec
}

// Restore rebuilds a traversable from a snapshot. Documents get fresh ids;
// entries that shared a document share one again. Every navigable's current
// and active entry is its target entry for the snapshot's current step.
func Restore(logger *zap.Logger, snap *schemas.SessionSnapshot, opts ...Option) (*Traversable, error) {
	if snap == nil || len(snap.Entries) == 0 {
		return nil, errors.New("cannot restore an empty session snapshot")
	}
	t := newTraversable(logger, append([]Option{WithID(snap.TraversableID)}, opts...)...)

	docStates := make(map[uint64]*history.DocumentState)
	docState := func(rec schemas.EntryRecord) *history.DocumentState {
		if ds, ok := docStates[rec.DocumentID]; ok {
			return ds
		}
		ds := history.NewDocumentState(parseOrigin(rec.Origin), history.DocumentStateOptions{
			ReferrerPolicy:    history.ReferrerPolicy(rec.ReferrerPolicy),
			TargetName:        rec.TargetName,
			InitialAboutBlank: rec.InitialAboutBlank,
		})
		ds.EverPopulated = true
		docStates[rec.DocumentID] = ds
		return ds
	}

	rootID := history.NavigableID(snap.Entries[0].NavigableID)
	t.root = &Navigable{t: t, id: rootID}
	t.navigables[rootID] = t.root
	maxID := rootID

	for _, rec := range snap.Entries {
		e, err := fromRecord(rec, docState(rec))
		if err != nil {
			return nil, err
		}
		navID := history.NavigableID(rec.NavigableID)
		if navID > maxID {
			maxID = navID
		}

		if rec.ParentDocumentID == 0 {
			if navID != rootID {
				return nil, fmt.Errorf("snapshot has top-level entries for navigables %d and %d", rootID, navID)
			}
			t.entries = append(t.entries, e)
			continue
		}

		parentDS, ok := docStates[rec.ParentDocumentID]
		if !ok {
			return nil, fmt.Errorf("entry %s references unknown parent document %d", rec.NavigationAPIKey, rec.ParentDocumentID)
		}
		nh, ok := parentDS.NestedHistory(navID)
		if !ok {
			nh = &history.NestedHistory{ID: navID}
			parentDS.NestedHistories = append(parentDS.NestedHistories, nh)
		}
		nh.Entries = append(nh.Entries, e)

		if _, ok := t.navigables[navID]; !ok {
			parent, ok := t.navigables[history.NavigableID(rec.ParentNavigableID)]
			if !ok {
				return nil, fmt.Errorf("navigable %d references unknown parent navigable %d", navID, rec.ParentNavigableID)
			}
			t.navigables[navID] = &Navigable{t: t, id: navID, parent: parent.id, hasParent: true}
			parent.children = append(parent.children, navID)
		}
	}
	if len(t.entries) == 0 {
		return nil, errors.New("snapshot has no top-level entries")
	}
	t.nextID = maxID + 1
	t.currentStep = snap.CurrentStep

	for _, n := range t.navigables {
		target, err := t.targetEntryLocked(n.id, t.currentStep)
		if err != nil {
			list, lerr := t.entryListLocked(n.id)
			if lerr != nil || len(*list) == 0 {
				return nil, fmt.Errorf("navigable %d has no entries: %w", n.id, err)
			}
			target = (*list)[0]
		}
		n.current = target
		n.active = target
	}

	t.logger.Info("Restored traversable from snapshot",
		zap.Int("entries", len(snap.Entries)),
		zap.Int("navigables", len(t.navigables)),
		zap.Int("current_step", t.currentStep))
	return t, nil
}

func fromRecord(rec schemas.EntryRecord, ds *history.DocumentState) (*history.SessionHistoryEntry, error) {
	var u *url.URL
	if rec.URL != "" {
		parsed, err := url.Parse(rec.URL)
		if err != nil {
			return nil, fmt.Errorf("entry %s has an invalid URL: %w", rec.NavigationAPIKey, err)
		}
		u = parsed
	}
	mode := history.ScrollRestorationMode(rec.ScrollRestoration)
	if mode != history.ScrollRestorationManual {
		mode = history.ScrollRestorationAuto
	}
	return &history.SessionHistoryEntry{
		Step:                   history.Step(rec.Step),
		URL:                    u,
		DocumentState:          ds,
		NavigationAPIKey:       rec.NavigationAPIKey,
		NavigationAPIID:        rec.NavigationAPIID,
		NavigationAPIState:     rec.NavigationState,
		ClassicHistoryAPIState: rec.ClassicState,
		ScrollRestorationMode:  mode,
		ScrollPosition:         history.ScrollPosition{X: rec.ScrollX, Y: rec.ScrollY},
	}, nil
}

func parseOrigin(s string) history.Origin {
	if s == "" || s == "null" {
		return history.NewOpaqueOrigin()
	}
	u, err := url.Parse(s)
	if err != nil {
		return history.NewOpaqueOrigin()
	}
	return history.OriginFromURL(u)
}
