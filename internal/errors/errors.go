// Package errors defines the error taxonomy for the key-rotation subsystem.
//
// Every failure surfaced by the stores, the KMS boundary, the executor, and
// the rollback manager is one of the typed errors below. Callers branch on
// classification (errors.As / the Is* helpers), never on message text.
package errors

import (
	"errors"
	"fmt"
)

// Classification buckets an error for retry and propagation decisions.
type Classification string

const (
	// ClassInvalidConfig marks synchronous validation failures at the policy
	// store boundary. Never reaches the scheduler.
	ClassInvalidConfig Classification = "invalid_config"

	// ClassTransient marks provider failures worth retrying in-place
	// (network, throttling).
	ClassTransient Classification = "transient"

	// ClassPermanent marks provider failures that retrying cannot fix
	// (permission denied, key disabled).
	ClassPermanent Classification = "permanent"

	// ClassConflict marks a concurrent-mutation conflict detected by an
	// optimistic version check. The whole key's rotation for the tick is
	// abandoned and retried on the next tick.
	ClassConflict Classification = "conflict"

	// ClassTerminal marks rollback preconditions that can never succeed on
	// retry (window expired, rollback disabled, key purged).
	ClassTerminal Classification = "terminal"
)

// RotationError is the concrete type behind the whole taxonomy.
type RotationError struct {
	Class   Classification
	Code    string
	Message string
	Err     error
}

func (e *RotationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// Is matches two taxonomy errors by code, so sentinel comparisons like
// errors.Is(err, ErrRollbackWindowExpired) work across wrapping.
func (e *RotationError) Is(target error) bool {
	var other *RotationError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Error codes. One per taxonomy entry.
const (
	CodeInvalidPolicyConfig   = "InvalidPolicyConfig"
	CodeTransientKMS          = "TransientKMSError"
	CodePermanentKMS          = "PermanentKMSError"
	CodeRegistryConflict      = "RegistryConflict"
	CodeRollbackWindowExpired = "RollbackWindowExpired"
	CodeRollbackDisabled      = "RollbackDisabled"
	CodeKeyAlreadyPurged      = "KeyAlreadyPurged"
	CodeNotFound              = "NotFound"
)

// Sentinels for errors.Is comparisons.
var (
	ErrRollbackWindowExpired = &RotationError{Class: ClassTerminal, Code: CodeRollbackWindowExpired, Message: "rollback window has expired"}
	ErrRollbackDisabled      = &RotationError{Class: ClassTerminal, Code: CodeRollbackDisabled, Message: "rollback is disabled for this policy"}
	ErrKeyAlreadyPurged      = &RotationError{Class: ClassTerminal, Code: CodeKeyAlreadyPurged, Message: "previous key identifier has passed its purge-eligible date"}
	ErrRegistryConflict      = &RotationError{Class: ClassConflict, Code: CodeRegistryConflict, Message: "concurrent mutation detected"}
)

// InvalidPolicyConfig reports a policy validation failure for a named field.
func InvalidPolicyConfig(field, reason string) error {
	return &RotationError{
		Class:   ClassInvalidConfig,
		Code:    CodeInvalidPolicyConfig,
		Message: fmt.Sprintf("field %q: %s", field, reason),
	}
}

// TransientKMS wraps a retryable provider failure.
func TransientKMS(op string, err error) error {
	return &RotationError{
		Class:   ClassTransient,
		Code:    CodeTransientKMS,
		Message: fmt.Sprintf("provider %s failed", op),
		Err:     err,
	}
}

// PermanentKMS wraps a non-retryable provider failure.
func PermanentKMS(op string, err error) error {
	return &RotationError{
		Class:   ClassPermanent,
		Code:    CodePermanentKMS,
		Message: fmt.Sprintf("provider %s failed", op),
		Err:     err,
	}
}

// RegistryConflict reports an optimistic-lock failure on a key record.
func RegistryConflict(keyID string) error {
	return &RotationError{
		Class:   ClassConflict,
		Code:    CodeRegistryConflict,
		Message: fmt.Sprintf("concurrent mutation of key %s", keyID),
	}
}

// Conflict reports a state transition that another writer got to first,
// or that the entity's current state does not permit.
func Conflict(kind, id, detail string) error {
	return &RotationError{
		Class:   ClassConflict,
		Code:    CodeRegistryConflict,
		Message: fmt.Sprintf("%s %s: %s", kind, id, detail),
	}
}

// NotFound reports a missing entity within a tenant.
func NotFound(kind, id string) error {
	return &RotationError{
		Class:   ClassTerminal,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// ClassOf returns the classification of err, or empty if err is not a
// taxonomy error.
func ClassOf(err error) Classification {
	var re *RotationError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}

// IsRetryable reports whether the executor should retry the operation
// in-place within the current tick.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

// IsConflict reports whether the rotation was abandoned due to a concurrent
// mutation and should be retried on the next tick.
func IsConflict(err error) bool {
	return ClassOf(err) == ClassConflict
}

// IsInvalidConfig reports whether err is a policy validation failure.
func IsInvalidConfig(err error) bool {
	return ClassOf(err) == ClassInvalidConfig
}

// ConfigError represents a configuration file error with helpful context.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}
