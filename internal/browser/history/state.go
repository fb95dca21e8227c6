// File: internal/browser/history/state.go
package history

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var stateCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// SerializeState serializes a navigation API or classic history state value.
// A nil value serializes to nil. maxBytes <= 0 disables the size check.
func SerializeState(v any, maxBytes int) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := stateCodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("state is not serializable: %w", err)
	}
	if maxBytes > 0 && len(b) > maxBytes {
		return nil, fmt.Errorf("serialized state is %d bytes, limit is %d", len(b), maxBytes)
	}
	return b, nil
}

// DeserializeState decodes serialized state into out. Empty input leaves out untouched.
func DeserializeState(b []byte, out any) error {
	if len(b) == 0 {
		return nil
	}
	if err := stateCodec.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to deserialize state: %w", err)
	}
	return nil
}
