package schemas

// NavigationHistoryBehavior is the history handling requested for a navigation.
type NavigationHistoryBehavior string

const (
	HistoryBehaviorAuto    NavigationHistoryBehavior = "auto"
	HistoryBehaviorPush    NavigationHistoryBehavior = "push"
	HistoryBehaviorReplace NavigationHistoryBehavior = "replace"
)

// Valid reports whether b is a known behavior.
func (b NavigationHistoryBehavior) Valid() bool {
	switch b {
	case HistoryBehaviorAuto, HistoryBehaviorPush, HistoryBehaviorReplace:
		return true
	}
	return false
}

// NavigationType classifies how the current entry changed.
type NavigationType string

const (
	NavigationTypePush     NavigationType = "push"
	NavigationTypeReplace  NavigationType = "replace"
	NavigationTypeReload   NavigationType = "reload"
	NavigationTypeTraverse NavigationType = "traverse"
)

// TraversalKind is the direction of a history traversal.
type TraversalKind string

const (
	TraverseBack    TraversalKind = "back"
	TraverseForward TraversalKind = "forward"
)

// TraversalDirection moves through the joint session history by Steps positions.
type TraversalDirection struct {
	Kind  TraversalKind `json:"kind"`
	Steps int           `json:"steps"`
}

func Back(n int) TraversalDirection    { return TraversalDirection{Kind: TraverseBack, Steps: n} }
func Forward(n int) TraversalDirection { return TraversalDirection{Kind: TraverseForward, Steps: n} }

// Delta is the signed step offset of the traversal.
func (d TraversalDirection) Delta() int {
	if d.Kind == TraverseBack {
		return -d.Steps
	}
	return d.Steps
}
