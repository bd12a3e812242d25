// Package kms defines the narrow provider boundary the rotation engine
// depends on, plus the AWS KMS implementation. The engine never handles key
// material; it only orchestrates provider-side key identifiers.
package kms

import (
	"context"
	"time"
)

// GenerateRequest describes the key a provider should mint.
type GenerateRequest struct {
	// KeyType is the semantic category from the policy (e.g. "PHI_DATA").
	KeyType string
	Region  string
	// IdempotencyToken is derived from the rotation's correlation id. A
	// provider that cannot deduplicate natively records it as a tag so
	// duplicate mint attempts are at least discoverable.
	IdempotencyToken string
	Tags             map[string]string
}

// KeyInfo is the provider-side view of a key returned by DescribeKey.
type KeyInfo struct {
	Exists    bool
	Enabled   bool
	CreatedAt time.Time
}

// Provider is the capability set required of any KMS backend. Every call
// must be safely retryable.
type Provider interface {
	Name() string

	// GenerateKey mints a new key and returns the provider-side identifier.
	GenerateKey(ctx context.Context, req GenerateRequest) (string, error)

	// TagKey attaches tags to an existing key.
	TagKey(ctx context.Context, providerKeyID string, tags map[string]string) error

	// ScheduleDeletion marks a key for deletion after the given number of
	// days. The key stays recoverable until the window lapses.
	ScheduleDeletion(ctx context.Context, providerKeyID string, afterDays int32) error

	// CancelDeletion reverses a pending deletion and re-enables the key.
	// Rollback uses it to bring a retired key back into service.
	CancelDeletion(ctx context.Context, providerKeyID string) error

	DescribeKey(ctx context.Context, providerKeyID string) (KeyInfo, error)
}
