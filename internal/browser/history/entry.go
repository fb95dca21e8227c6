// File: internal/browser/history/entry.go
package history

import (
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Step is the position of an entry in the joint session history.
// StepPending marks an entry that has not been appended yet.
type Step int

const StepPending Step = -1

func (s Step) IsPending() bool { return s < 0 }

func (s Step) String() string {
	if s.IsPending() {
		return "pending"
	}
	return strconv.Itoa(int(s))
}

// ScrollRestorationMode says who restores the scroll position on traversal.
type ScrollRestorationMode string

const (
	ScrollRestorationAuto   ScrollRestorationMode = "auto"
	ScrollRestorationManual ScrollRestorationMode = "manual"
)

// ScrollPosition is the scroll offset recorded when an entry is left.
type ScrollPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SessionHistoryEntry is one entry of a navigable's session history.
type SessionHistoryEntry struct {
	Step          Step
	URL           *url.URL
	DocumentState *DocumentState

	// NavigationAPIKey is stable across replacements of the same slot.
	NavigationAPIKey string
	// NavigationAPIID is unique per entry.
	NavigationAPIID string

	NavigationAPIState     []byte
	ClassicHistoryAPIState []byte

	ScrollRestorationMode ScrollRestorationMode
	ScrollPosition        ScrollPosition
}

// NewEntry creates a pending entry for u with fresh navigation API key and id.
func NewEntry(u *url.URL, ds *DocumentState) *SessionHistoryEntry {
	return &SessionHistoryEntry{
		Step:                  StepPending,
		URL:                   u,
		DocumentState:         ds,
		NavigationAPIKey:      uuid.NewString(),
		NavigationAPIID:       uuid.NewString(),
		ScrollRestorationMode: ScrollRestorationAuto,
	}
}

// ReplacementFor creates an entry that takes over old's slot: it keeps the
// navigation API key and gets a new id.
func ReplacementFor(old *SessionHistoryEntry, u *url.URL, ds *DocumentState) *SessionHistoryEntry {
	e := NewEntry(u, ds)
	e.NavigationAPIKey = old.NavigationAPIKey
	return e
}

// SetStep assigns the entry's step.
func (e *SessionHistoryEntry) SetStep(s int) { e.Step = Step(s) }

// URLString returns the serialized URL, or "" when the entry has none.
func (e *SessionHistoryEntry) URLString() string {
	if e == nil || e.URL == nil {
		return ""
	}
	return e.URL.String()
}

// SameDocument reports whether e and other belong to the same document.
func (e *SessionHistoryEntry) SameDocument(other *SessionHistoryEntry) bool {
	if e == nil || other == nil || e.DocumentState == nil || other.DocumentState == nil {
		return false
	}
	return e.DocumentState.DocumentID == other.DocumentState.DocumentID
}

// DocumentID returns the id of the entry's document, or zero.
func (e *SessionHistoryEntry) DocumentID() DocumentID {
	if e == nil || e.DocumentState == nil {
		return 0
	}
	return e.DocumentState.DocumentID
}
