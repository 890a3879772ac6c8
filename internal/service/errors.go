package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AuthorizationError refuses a realtime connection. It is resolved entirely
// at the connection boundary and never reaches business logic.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "unauthorized: " + e.Reason
}

// ValidationError refuses one operation (malformed room key, bad contact
// batch); the connection survives.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a lost acceptance race or a stale status, naming
// the current holder so the caller's client can redirect.
type ConflictError struct {
	AssignedUserID string `json:"user_id"`
	QueueName      string `json:"queue_name"`
}

func (e *ConflictError) Error() string {
	if e.AssignedUserID == "" {
		return "ticket state changed concurrently"
	}
	return fmt.Sprintf("ticket already assigned to %s (queue %q)", e.AssignedUserID, e.QueueName)
}

// PolicyViolation is a non-retryable rejected precondition, e.g. closing a
// ticket whose contact carries no tag while the tenant requires one.
type PolicyViolation struct {
	Reason string
}

func (e *PolicyViolation) Error() string {
	return "policy violation: " + e.Reason
}

// TransientStoreError wraps store connectivity/timeout failures; callers
// may retry.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return "transient store error: " + e.Err.Error()
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// SerializationError rejects a whole contact batch that is not
// representable as a self-contained document.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "batch not serializable: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// isTransient classifies store failures worth a retry. pgx surfaces
// connectivity problems through wrapped net errors and timeout messages.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"connection refused", "connection reset", "broken pipe", "timeout", "conn closed", "unexpected EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
