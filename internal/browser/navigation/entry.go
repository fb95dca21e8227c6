// File: internal/browser/navigation/entry.go
package navigation

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/internal/browser/history"
)

// HistoryEntry is the Navigation API's view of a session history entry.
// The same entry is always represented by the same *HistoryEntry while it
// stays cached.
type HistoryEntry struct {
	nav   *Navigation
	entry *history.SessionHistoryEntry
	index int
}

func (e *HistoryEntry) Key() string { return e.entry.NavigationAPIKey }
func (e *HistoryEntry) ID() string  { return e.entry.NavigationAPIID }

// URL is the serialized URL of the entry.
func (e *HistoryEntry) URL() string { return e.entry.URLString() }

// Index is the entry's position in the entry list, or -1 once it left it.
func (e *HistoryEntry) Index() int {
	e.nav.mu.Lock()
	defer e.nav.mu.Unlock()
	return e.index
}

// SameDocument reports whether the entry belongs to the current document.
func (e *HistoryEntry) SameDocument() bool {
	return e.entry.SameDocument(e.nav.doc.ActiveSessionHistoryEntry())
}

// GetState decodes the entry's navigation API state into out. Entries
// without state leave out untouched.
func (e *HistoryEntry) GetState(out any) error {
	return history.DeserializeState(e.entry.NavigationAPIState, out)
}

// SessionHistoryEntry returns the underlying entry.
func (e *HistoryEntry) SessionHistoryEntry() *history.SessionHistoryEntry { return e.entry }

// refreshLocked rebuilds the entry list: the contiguous run of same-origin
// entries around the active entry. Wrappers are reused through the cache.
func (n *Navigation) refreshLocked() {
	shes, err := n.doc.SessionHistoryEntries()
	if err != nil {
		n.logger.Warn("Could not read session history entries", zap.Error(err))
		return
	}
	active := n.doc.ActiveSessionHistoryEntry()

	for _, w := range n.entries {
		w.index = -1
	}

	cur := -1
	for i, she := range shes {
		if she == active {
			cur = i
			break
		}
	}
	if cur < 0 || active.DocumentState == nil {
		n.entries = nil
		n.currentIndex = -1
		return
	}

	origin := active.DocumentState.Origin
	sameOrigin := func(she *history.SessionHistoryEntry) bool {
		return she.DocumentState != nil && she.DocumentState.Origin.SameOrigin(origin)
	}
	start, end := cur, cur
	for start > 0 && sameOrigin(shes[start-1]) {
		start--
	}
	for end < len(shes)-1 && sameOrigin(shes[end+1]) {
		end++
	}

	entries := make([]*HistoryEntry, 0, end-start+1)
	for i := start; i <= end; i++ {
		she := shes[i]
		w, ok := n.cache.Get(she.NavigationAPIID)
		if !ok || w.entry != she {
			w = &HistoryEntry{nav: n, entry: she}
			n.cache.Add(she.NavigationAPIID, w)
		}
		w.index = i - start
		entries = append(entries, w)
	}
	n.entries = entries
	n.currentIndex = cur - start
}

func (n *Navigation) currentEntryLocked() *HistoryEntry {
	if n.currentIndex < 0 || n.currentIndex >= len(n.entries) {
		return nil
	}
	return n.entries[n.currentIndex]
}

func (n *Navigation) entryByKeyLocked(key string) *HistoryEntry {
	for _, e := range n.entries {
		if e.Key() == key {
			return e
		}
	}
	return nil
}
