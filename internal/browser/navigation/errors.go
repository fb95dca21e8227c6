// File: internal/browser/navigation/errors.go
package navigation

import "errors"

var errRelativeWithoutBase = errors.New("relative URL without a base")
