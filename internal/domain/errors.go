package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Base errors, matched with errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrUpstream   = errors.New("upstream call failed")
	ErrPartial    = errors.New("partial failure")
)

// ValidationError reports bad caller input. It is always raised before any external call.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error [field=%s, value=%q]: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a new ValidationError
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// PermissionError reports a caller acting on an entity it does not own.
type PermissionError struct {
	Kind     string
	ID       string
	CallerID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("caller %q does not own %s %q", e.CallerID, e.Kind, e.ID)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// NewPermissionError creates a new PermissionError
func NewPermissionError(kind, id, callerID string) *PermissionError {
	return &PermissionError{Kind: kind, ID: id, CallerID: callerID}
}

// UpstreamError wraps a failed or timed out collaborator call. The wrapped error is kept untranslated.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error [op=%s]: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// NewUpstreamError creates a new UpstreamError
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// PartialFailure reports a fan-out where some sub-operations succeeded and others did not.
type PartialFailure struct {
	Op        string
	Succeeded []string
	Failed    map[string]error
}

func (e *PartialFailure) Error() string {
	steps := make([]string, 0, len(e.Failed))
	for step := range e.Failed {
		steps = append(steps, step)
	}
	sort.Strings(steps)

	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		parts = append(parts, fmt.Sprintf("%s: %v", step, e.Failed[step]))
	}
	return fmt.Sprintf("partial failure [op=%s, succeeded=%s]: %s",
		e.Op, strings.Join(e.Succeeded, ","), strings.Join(parts, "; "))
}

func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

func (e *PartialFailure) Is(target error) bool { return target == ErrPartial }
