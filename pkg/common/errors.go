//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// access control service packages.
//
// # Error Handling
//
// The [Error] type provides structured error information for access
// control failures, including stable kind codes suitable for wire
// responses and audit records.
package common

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable classification of an [Error].
//
// Kinds are part of the wire contract and must not change across versions.
type Kind string

// Stable error kinds.
const (
	// KindNotFound indicates a referenced entity, resource, or permission
	// is absent.
	KindNotFound Kind = "NotFound"

	// KindConflict indicates a uniqueness or already-exists violation,
	// such as a duplicate permission or an existing group membership.
	KindConflict Kind = "Conflict"

	// KindInvalidArgument indicates an empty required field, malformed
	// URI pattern, or unrecognized verb.
	KindInvalidArgument Kind = "InvalidArgument"

	// KindCycleDetected indicates a group link that would make the group
	// parent relation cyclic.
	KindCycleDetected Kind = "CycleDetected"

	// KindDependenciesExist indicates a delete was refused because
	// relations remain and force was not set.
	KindDependenciesExist Kind = "DependenciesExist"

	// KindBackpressure indicates the command queue is at its soft cap;
	// the caller should retry later.
	KindBackpressure Kind = "Backpressure"

	// KindTimeout indicates a command deadline expired before execution.
	KindTimeout Kind = "Timeout"

	// KindIntegrityViolation indicates an internal invariant check failed
	// mid-operation.
	KindIntegrityViolation Kind = "IntegrityViolation"

	// KindPersistenceFailure indicates the repository reported failure
	// after retries were exhausted.
	KindPersistenceFailure Kind = "PersistenceFailure"

	// KindCircuitOpen indicates the circuit breaker rejected the attempt.
	KindCircuitOpen Kind = "CircuitOpen"
)

// Error represents a structured failure of an access control operation.
//
// Error carries both a machine-readable [Kind] and a human-readable
// message, plus optional free-form details. Handlers return *Error rather
// than the bare error interface so that callers and the audit trail always
// see a classified outcome.
type Error struct {
	// Kind is the stable classification of the failure.
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Details carries optional structured context (ids, field names).
	Details map[string]interface{}
}

// Error implements the error interface, returning a formatted string
// containing both the message and the kind code.
func (e *Error) Error() string {
	return fmt.Sprintf("%s(code-%s)", e.Message, e.Kind)
}

// NewError creates a new [Error] with the specified kind and message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new [Error] with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns e with the given detail attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the [Kind] from err, unwrapping as needed. Errors that
// are not an *[Error] report an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
