package notification

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a record or audit entry id does not exist.
	ErrNotFound = errors.New("notification not found")
	// ErrInvalidTransition is returned when a status change is not permitted
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTransport marks a gateway fault that prevented any delivery attempt,
	// such as missing or rejected provider credentials.
	ErrTransport = errors.New("delivery transport fault")
)

// ValidationError carries field-keyed messages for a rejected message or
// record. Nothing is persisted or sent when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// AsValidationError unwraps err into a *ValidationError when it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ResolutionError reports that the recipient directory could not be queried.
// The whole dispatch is aborted and no gateway call is made.
type ResolutionError struct {
	Audience Audience
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve recipients for %s: %v", e.Audience, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsResolutionError reports whether err is, or wraps, a *ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
