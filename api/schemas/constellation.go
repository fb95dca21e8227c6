package schemas

// MessageType identifies a script to constellation message on the bus.
type MessageType string

const (
	MessageLoadURL                   MessageType = "LoadURL"
	MessageAbortLoadURL              MessageType = "AbortLoadURL"
	MessageNavigatedToFragment       MessageType = "NavigatedToFragment"
	MessageTraverseHistory           MessageType = "TraverseHistory"
	MessagePushHistoryState          MessageType = "PushHistoryState"
	MessageReplaceHistoryState       MessageType = "ReplaceHistoryState"
	MessageJointSessionHistoryLength MessageType = "JointSessionHistoryLength"
)

// AllMessageTypes lists every script to constellation message type.
var AllMessageTypes = []MessageType{
	MessageLoadURL,
	MessageAbortLoadURL,
	MessageNavigatedToFragment,
	MessageTraverseHistory,
	MessagePushHistoryState,
	MessageReplaceHistoryState,
	MessageJointSessionHistoryLength,
}

// HistoryStateID identifies a state object pushed with the classic history API.
type HistoryStateID string

// LoadData describes a document load requested by script.
type LoadData struct {
	URL                string `json:"url"`
	Referrer           string `json:"referrer,omitempty"`
	ReferrerPolicy     string `json:"referrer_policy,omitempty"`
	NavigationAPIState []byte `json:"navigation_api_state,omitempty"`
}

// LoadURLMessage asks the constellation to navigate a navigable.
type LoadURLMessage struct {
	TraversableID string                    `json:"traversable_id"`
	NavigableID   uint64                    `json:"navigable_id"`
	Load          LoadData                  `json:"load"`
	Behavior      NavigationHistoryBehavior `json:"behavior"`
}

// AbortLoadURLMessage withdraws a LoadURL that has not been applied yet.
type AbortLoadURLMessage struct {
	TraversableID string `json:"traversable_id"`
	NavigableID   uint64 `json:"navigable_id"`
}

// NavigatedToFragmentMessage reports a same-document fragment navigation.
type NavigatedToFragmentMessage struct {
	TraversableID string                    `json:"traversable_id"`
	NavigableID   uint64                    `json:"navigable_id"`
	URL           string                    `json:"url"`
	Behavior      NavigationHistoryBehavior `json:"behavior"`
}

// TraverseHistoryMessage asks for a traversal by delta.
type TraverseHistoryMessage struct {
	TraversableID string             `json:"traversable_id"`
	Direction     TraversalDirection `json:"direction"`
}

// HistoryStateMessage carries pushState and replaceState updates.
type HistoryStateMessage struct {
	TraversableID string         `json:"traversable_id"`
	NavigableID   uint64         `json:"navigable_id"`
	StateID       HistoryStateID `json:"state_id"`
	URL           string         `json:"url"`
	State         []byte         `json:"state,omitempty"`
}

// JointSessionHistoryLengthMessage asks for the number of used history steps.
// Reply is in-process only and is never serialized.
type JointSessionHistoryLengthMessage struct {
	TraversableID string     `json:"traversable_id"`
	Reply         chan<- int `json:"-"`
}
