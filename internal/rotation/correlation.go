package rotation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// cycleNamespace is the fixed UUIDv5 namespace for correlation ids.
var cycleNamespace = uuid.MustParse("8f5b1a44-2e31-40c6-9d6e-6c1d9a7e03b2")

// CorrelationID derives the idempotency token for one logical rotation
// cycle. The same (key, policy, scheduled instant) always maps to the same
// id, so a retried tick reuses the cycle's audit record instead of minting
// a duplicate provider key.
func CorrelationID(keyID, policyID string, scheduledFor time.Time) string {
	seed := fmt.Sprintf("%s|%s|%d", keyID, policyID, scheduledFor.UTC().Unix())
	return uuid.NewSHA1(cycleNamespace, []byte(seed)).String()
}
