package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the typed errors below.
var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidType  = errors.New("invalid type")
	ErrInvalidValue = errors.New("invalid value")
	ErrEmptyInput   = errors.New("empty input")
	ErrSelectorMiss = errors.New("selector matched nothing")
	ErrStoreMissing = errors.New("review store not found")
	ErrStoreCorrupt = errors.New("review store is malformed")
	ErrBadStatus    = errors.New("unexpected http status")
)

// ValidationError reports a malformed request field. The HTTP layer maps it
// to 400; every other error in this package maps to 500.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Wrapped)
	}
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// FetchError reports a failed page fetch.
type FetchError struct {
	URL     string
	Status  int
	Wrapped error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Wrapped, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Wrapped)
}

func (e *FetchError) Unwrap() error { return e.Wrapped }

// ExtractionError names the schema field and selector step that did not
// match the page structure.
type ExtractionError struct {
	Field    string
	Step     int
	Selector string
	Wrapped  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: step %d %q: %s", e.Field, e.Step, e.Selector, e.Wrapped)
}

func (e *ExtractionError) Unwrap() error { return e.Wrapped }

// StoreError reports a review store read or write failure.
type StoreError struct {
	Op      string
	Path    string
	Wrapped error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %s", e.Op, e.Path, e.Wrapped)
}

func (e *StoreError) Unwrap() error { return e.Wrapped }

// RemoteServiceError reports a failure of the embedding or vector index service.
type RemoteServiceError struct {
	Service string
	Op      string
	Wrapped error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Service, e.Op, e.Wrapped)
}

func (e *RemoteServiceError) Unwrap() error { return e.Wrapped }

// NewRemoteError creates a RemoteServiceError.
func NewRemoteError(service, op string, err error) *RemoteServiceError {
	return &RemoteServiceError{Service: service, Op: op, Wrapped: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Stage names the pipeline stage an error originated in.
func (e *ValidationError) Stage() string    { return "validate" }
func (e *FetchError) Stage() string         { return "fetch" }
func (e *ExtractionError) Stage() string    { return "extract" }
func (e *StoreError) Stage() string         { return "store" }
func (e *RemoteServiceError) Stage() string { return e.Service }

// StageOf returns the stage of the first staged error in err's chain, or
// "unknown".
func StageOf(err error) string {
	var s interface{ Stage() string }
	if errors.As(err, &s) {
		return s.Stage()
	}
	return "unknown"
}
