package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omniusstudio/pms-keyrotation/internal/errors"
)

// TestClassification verifies each constructor lands in the right bucket.
func TestClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		err   error
		class errors.Classification
	}{
		{"invalid policy config", errors.InvalidPolicyConfig("interval_days", "must be >= 1"), errors.ClassInvalidConfig},
		{"transient provider failure", errors.TransientKMS("GenerateKey", fmt.Errorf("throttled")), errors.ClassTransient},
		{"permanent provider failure", errors.PermanentKMS("TagKey", fmt.Errorf("access denied")), errors.ClassPermanent},
		{"registry version conflict", errors.RegistryConflict("key-1"), errors.ClassConflict},
		{"state conflict", errors.Conflict("record", "rec-1", "not in succeeded state"), errors.ClassConflict},
		{"missing entity", errors.NotFound("policy", "pol-1"), errors.ClassTerminal},
		{"window expired sentinel", errors.ErrRollbackWindowExpired, errors.ClassTerminal},
		{"plain error", fmt.Errorf("boom"), errors.Classification("")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.class, errors.ClassOf(tc.err))
		})
	}
}

// TestRetryHelpers verifies the predicates the executor branches on.
func TestRetryHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsRetryable(errors.TransientKMS("GenerateKey", fmt.Errorf("timeout"))))
	assert.False(t, errors.IsRetryable(errors.PermanentKMS("GenerateKey", fmt.Errorf("denied"))))
	assert.False(t, errors.IsRetryable(fmt.Errorf("boom")))

	assert.True(t, errors.IsConflict(errors.RegistryConflict("key-1")))
	assert.True(t, errors.IsConflict(errors.Conflict("record", "rec-1", "already rolled back")))
	assert.False(t, errors.IsConflict(errors.NotFound("key", "key-1")))

	assert.True(t, errors.IsInvalidConfig(errors.InvalidPolicyConfig("time_of_day", "not a 24h time")))
	assert.False(t, errors.IsInvalidConfig(errors.TransientKMS("TagKey", fmt.Errorf("timeout"))))
}

// TestSentinelMatchingAcrossWrapping verifies errors.Is works through wrapping,
// since the rollback manager's callers compare against sentinels.
func TestSentinelMatchingAcrossWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("rollback for key key-1: %w", errors.ErrRollbackWindowExpired)

	assert.True(t, stderrors.Is(wrapped, errors.ErrRollbackWindowExpired))
	assert.False(t, stderrors.Is(wrapped, errors.ErrRollbackDisabled))
	assert.False(t, stderrors.Is(wrapped, errors.ErrKeyAlreadyPurged))
	assert.Equal(t, errors.ClassTerminal, errors.ClassOf(wrapped))
}

// TestRotationErrorUnwrap verifies the provider cause stays reachable.
func TestRotationErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := errors.TransientKMS("ScheduleDeletion", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "TransientKMSError")
	assert.Contains(t, err.Error(), "ScheduleDeletion")
	assert.Contains(t, err.Error(), "connection reset")
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "scheduler.max_rotation_concurrency",
		Value:      0,
		Message:    "must be at least 1",
		Suggestion: "Set max_rotation_concurrency to a positive integer",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "scheduler.max_rotation_concurrency")
	assert.Contains(t, errMsg, "value: 0")
	assert.Contains(t, errMsg, "must be at least 1")
	assert.Contains(t, errMsg, "💡")
	assert.Contains(t, errMsg, "positive integer")
}
