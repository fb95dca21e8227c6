package schemas

import "time"

// SessionSnapshot is the persisted form of a traversable's session history.
type SessionSnapshot struct {
	TraversableID string        `json:"traversable_id"`
	CurrentStep   int           `json:"current_step"`
	CapturedAt    time.Time     `json:"captured_at"`
	Entries       []EntryRecord `json:"entries"`
}

// EntryRecord is one flattened session history entry. Entries of child
// navigables carry the navigable and document that own their nested history.
type EntryRecord struct {
	NavigableID       uint64  `json:"navigable_id"`
	ParentNavigableID uint64  `json:"parent_navigable_id,omitempty"`
	ParentDocumentID  uint64  `json:"parent_document_id,omitempty"`
	Step              int     `json:"step"`
	URL               string  `json:"url"`
	NavigationAPIKey  string  `json:"navigation_api_key"`
	NavigationAPIID   string  `json:"navigation_api_id"`
	DocumentID        uint64  `json:"document_id"`
	Origin            string  `json:"origin"`
	ReferrerPolicy    string  `json:"referrer_policy,omitempty"`
	TargetName        string  `json:"target_name,omitempty"`
	InitialAboutBlank bool    `json:"initial_about_blank,omitempty"`
	ScrollRestoration string  `json:"scroll_restoration"`
	ScrollX           float64 `json:"scroll_x"`
	ScrollY           float64 `json:"scroll_y"`
	NavigationState   []byte  `json:"navigation_state,omitempty"`
	ClassicState      []byte  `json:"classic_state,omitempty"`
}
