// File: internal/browser/webidl/exception.go
package webidl

import (
	"errors"
	"fmt"
)

// ExceptionName is the name attribute of a DOMException.
type ExceptionName string

const (
	InvalidStateError ExceptionName = "InvalidStateError"
	SecurityError     ExceptionName = "SecurityError"
	AbortError        ExceptionName = "AbortError"
	SyntaxError       ExceptionName = "SyntaxError"
	NotSupportedError ExceptionName = "NotSupportedError"
	DataCloneError    ExceptionName = "DataCloneError"
)

// DOMException is an error carrying one of the standard exception names.
// Two DOMExceptions match under errors.Is when their names are equal, so the
// package sentinels below can be used as targets regardless of message.
type DOMException struct {
	Name    ExceptionName
	Message string
	Cause   error
}

// Sentinels for errors.Is.
var (
	ErrInvalidState = &DOMException{Name: InvalidStateError}
	ErrSecurity     = &DOMException{Name: SecurityError}
	ErrAbort        = &DOMException{Name: AbortError}
	ErrSyntax       = &DOMException{Name: SyntaxError}
	ErrNotSupported = &DOMException{Name: NotSupportedError}
	ErrDataClone    = &DOMException{Name: DataCloneError}
)

// NewException builds a DOMException with a formatted message.
func NewException(name ExceptionName, format string, args ...any) *DOMException {
	return &DOMException{Name: name, Message: fmt.Sprintf(format, args...)}
}

// WrapException builds a DOMException that records cause.
func WrapException(name ExceptionName, cause error, msg string) *DOMException {
	return &DOMException{Name: name, Message: msg, Cause: cause}
}

func (e *DOMException) Error() string {
	if e.Message == "" {
		return string(e.Name)
	}
	return string(e.Name) + ": " + e.Message
}

// Is reports whether target is a DOMException with the same name.
func (e *DOMException) Is(target error) bool {
	t, ok := target.(*DOMException)
	return ok && t.Name == e.Name
}

func (e *DOMException) Unwrap() error {
	return e.Cause
}

// NameOf returns the exception name of the first DOMException in err's chain.
func NameOf(err error) (ExceptionName, bool) {
	var de *DOMException
	if errors.As(err, &de) {
		return de.Name, true
	}
	return "", false
}

// TypeError is the ECMAScript TypeError, raised for arguments of the wrong shape.
type TypeError struct {
	Cause   error
	Message string
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "TypeError"
	}
	return "TypeError: " + e.Message
}

func (e *TypeError) Unwrap() error {
	return e.Cause
}
