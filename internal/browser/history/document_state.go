// File: internal/browser/history/document_state.go
package history

import (
	"net/url"
	"sync/atomic"
)

// DocumentID identifies a document without holding it. Zero means no document.
type DocumentID uint64

var nextDocumentID atomic.Uint64

// NextDocumentID allocates a process-unique, non-zero DocumentID.
func NextDocumentID() DocumentID {
	return DocumentID(nextDocumentID.Add(1))
}

// NavigableID identifies a navigable within its traversable.
type NavigableID uint64

// ReferrerPolicy is a referrer policy token. The empty string is the default policy.
type ReferrerPolicy string

const (
	ReferrerPolicyDefault                     ReferrerPolicy = ""
	ReferrerPolicyNoReferrer                  ReferrerPolicy = "no-referrer"
	ReferrerPolicyNoReferrerWhenDowngrade     ReferrerPolicy = "no-referrer-when-downgrade"
	ReferrerPolicyOrigin                      ReferrerPolicy = "origin"
	ReferrerPolicyOriginWhenCrossOrigin       ReferrerPolicy = "origin-when-cross-origin"
	ReferrerPolicySameOrigin                  ReferrerPolicy = "same-origin"
	ReferrerPolicyStrictOrigin                ReferrerPolicy = "strict-origin"
	ReferrerPolicyStrictOriginWhenCrossOrigin ReferrerPolicy = "strict-origin-when-cross-origin"
	ReferrerPolicyUnsafeURL                   ReferrerPolicy = "unsafe-url"
)

// NestedHistory is the entry list of a child navigable, stored in the
// document state of the parent's entry. Its ID equals the child navigable's id.
type NestedHistory struct {
	ID      NavigableID
	Entries []*SessionHistoryEntry
}

// DocumentState holds what is needed to present, and if necessary recreate, a
// document. Entries that share a document (for example after pushState)
// share the same *DocumentState.
type DocumentState struct {
	DocumentID             DocumentID
	DocumentReferrerPolicy ReferrerPolicy
	RequestReferrerPolicy  ReferrerPolicy
	ReloadPending          bool
	EverPopulated          bool
	NestedHistories        []*NestedHistory
	NavigableTargetName    string
	InitiatorOrigin        *Origin
	Origin                 Origin
	AboutBaseURL           *url.URL
	// InitialAboutBlank marks the document created along with a new navigable.
	InitialAboutBlank bool
}

// DocumentStateOptions are the optional inputs of NewDocumentState.
type DocumentStateOptions struct {
	ReferrerPolicy    ReferrerPolicy
	TargetName        string
	InitiatorOrigin   *Origin
	AboutBaseURL      *url.URL
	InitialAboutBlank bool
}

// NewDocumentState creates the state of a freshly created document with the given origin.
func NewDocumentState(origin Origin, opts DocumentStateOptions) *DocumentState {
	return &DocumentState{
		DocumentID:             NextDocumentID(),
		DocumentReferrerPolicy: opts.ReferrerPolicy,
		NavigableTargetName:    opts.TargetName,
		InitiatorOrigin:        opts.InitiatorOrigin,
		Origin:                 origin,
		AboutBaseURL:           opts.AboutBaseURL,
		InitialAboutBlank:      opts.InitialAboutBlank,
	}
}

// HasDocument reports whether the state refers to a document.
func (d *DocumentState) HasDocument() bool {
	return d != nil && d.DocumentID != 0
}

// NestedHistory returns the nested history for the child navigable id.
func (d *DocumentState) NestedHistory(id NavigableID) (*NestedHistory, bool) {
	for _, nh := range d.NestedHistories {
		if nh.ID == id {
			return nh, true
		}
	}
	return nil, false
}

// AddNestedHistory appends a nested history for a new child navigable.
func (d *DocumentState) AddNestedHistory(id NavigableID, first *SessionHistoryEntry) *NestedHistory {
	nh := &NestedHistory{ID: id, Entries: []*SessionHistoryEntry{first}}
	d.NestedHistories = append(d.NestedHistories, nh)
	return nh
}

// RemoveNestedHistory drops the nested history of a destroyed child navigable.
func (d *DocumentState) RemoveNestedHistory(id NavigableID) bool {
	for i, nh := range d.NestedHistories {
		if nh.ID == id {
			d.NestedHistories = append(d.NestedHistories[:i], d.NestedHistories[i+1:]...)
			return true
		}
	}
	return false
}
