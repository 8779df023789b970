// Package werr defines the error taxonomy shared by the composition engine.
//
// Every typed error matches one of the sentinel values with errors.Is so
// callers can branch on the category without knowing the concrete type.
package werr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks missing or invalid configuration. Fatal, raised before
	// any remote call.
	ErrConfig = errors.New("configuration error")
	// ErrNotFound marks a collection or asset that does not exist on the backend.
	ErrNotFound = errors.New("not found")
	// ErrCardinality marks a collection whose size does not match expectations.
	ErrCardinality = errors.New("cardinality mismatch")
	// ErrBackend marks any failure signalled by the remote backend.
	ErrBackend = errors.New("backend error")
	// ErrAmbiguousJoin marks a timestamp join with more than one candidate match.
	ErrAmbiguousJoin = errors.New("ambiguous join")
)

// ConfigError reports a missing or invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required field %q", e.Field)
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// MissingField returns a ConfigError for an absent required keyword.
func MissingField(field string) error {
	return &ConfigError{Field: field}
}

// InvalidField returns a ConfigError for a present but unusable value.
func InvalidField(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing collection or asset.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("asset %s not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(id string) error { return &NotFoundError{ID: id} }

// CardinalityError reports a collection of unexpected size. Its message is the
// one recorded in size validation reports.
type CardinalityError struct {
	Name     string
	Size     int
	Expected int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("Collection %s has size %d while it should be %d", e.Name, e.Size, e.Expected)
}

func (e *CardinalityError) Is(target error) bool { return target == ErrCardinality }

// BackendError wraps a failure returned by the geospatial backend.
type BackendError struct {
	Op     string
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s failed with status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// StatusCode exposes the HTTP status for retry classification.
func (e *BackendError) StatusCode() int { return e.Status }

// Backend wraps err as a BackendError unless it already is one or is a
// NotFoundError, which keeps its own category.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// AmbiguousJoinError reports a timestamp matched by more than one record on
// one side of a join.
type AmbiguousJoinError struct {
	Timestamp int64
	Side      string
	Count     int
}

func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("timestamp %d appears %d times in %s input", e.Timestamp, e.Count, e.Side)
}

func (e *AmbiguousJoinError) Is(target error) bool { return target == ErrAmbiguousJoin }
