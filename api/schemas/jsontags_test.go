package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/histcore/api/schemas"
)

// TestStructJSONTags pins the json tags of types that cross process
// boundaries over NATS or are persisted by the snapshot store.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "LoadURLMessage",
			structRef: schemas.LoadURLMessage{},
			expectedTags: map[string]string{
				"TraversableID": "traversable_id",
				"NavigableID":   "navigable_id",
				"Load":          "load",
				"Behavior":      "behavior",
			},
		},
		{
			name:      "LoadData",
			structRef: schemas.LoadData{},
			expectedTags: map[string]string{
				"URL":                "url",
				"Referrer":           "referrer,omitempty",
				"ReferrerPolicy":     "referrer_policy,omitempty",
				"NavigationAPIState": "navigation_api_state,omitempty",
			},
		},
		{
			name:      "HistoryStateMessage",
			structRef: schemas.HistoryStateMessage{},
			expectedTags: map[string]string{
				"TraversableID": "traversable_id",
				"NavigableID":   "navigable_id",
				"StateID":       "state_id",
				"URL":           "url",
				"State":         "state,omitempty",
			},
		},
		{
			name:      "JointSessionHistoryLengthMessage",
			structRef: schemas.JointSessionHistoryLengthMessage{},
			expectedTags: map[string]string{
				"TraversableID": "traversable_id",
				// The reply channel never leaves the process.
				"Reply": "-",
			},
		},
		{
			name:      "TraversalDirection",
			structRef: schemas.TraversalDirection{},
			expectedTags: map[string]string{
				"Kind":  "kind",
				"Steps": "steps",
			},
		},
		{
			name:      "SessionSnapshot",
			structRef: schemas.SessionSnapshot{},
			expectedTags: map[string]string{
				"TraversableID": "traversable_id",
				"CurrentStep":   "current_step",
				"CapturedAt":    "captured_at",
				"Entries":       "entries",
			},
		},
		{
			name:      "EntryRecord",
			structRef: schemas.EntryRecord{},
			expectedTags: map[string]string{
				"NavigableID":       "navigable_id",
				"ParentNavigableID": "parent_navigable_id,omitempty",
				"ParentDocumentID":  "parent_document_id,omitempty",
				"Step":              "step",
				"URL":               "url",
				"NavigationAPIKey":  "navigation_api_key",
				"NavigationAPIID":   "navigation_api_id",
				"DocumentID":        "document_id",
				"Origin":            "origin",
				"ReferrerPolicy":    "referrer_policy,omitempty",
				"TargetName":        "target_name,omitempty",
				"InitialAboutBlank": "initial_about_blank,omitempty",
				"ScrollRestoration": "scroll_restoration",
				"ScrollX":           "scroll_x",
				"ScrollY":           "scroll_y",
				"NavigationState":   "navigation_state,omitempty",
				"ClassicState":      "classic_state,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)
			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
