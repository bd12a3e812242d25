package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRecorderBeforeInitIsNoop verifies recording without Init neither
// panics nor registers anything. Must run before any test calls Init, so
// this file keeps a single entry point driving both phases.
func TestRecorder(t *testing.T) {
	// Note: Init uses sync.Once, so ordering within this test matters and
	// the phases cannot run in parallel.

	rec := NewRecorder()

	// Before Init every method is a no-op, including on a nil receiver.
	assert.False(t, IsRegistered())
	rec.RecordRotationStarted("tenant-a", "aws-prod")
	rec.RecordRotationCompleted("tenant-a", "aws-prod", "succeeded", 1.5)
	rec.RecordRollback("tenant-a", "performed")
	rec.RecordTick(3)
	rec.RecordStaleSweep(2)
	rec.RecordNotificationDrop()

	var nilRec *Recorder
	nilRec.RecordRotationStarted("tenant-a", "aws-prod")
	nilRec.RecordTick(0)

	Init()
	Init() // second call must be harmless

	assert.True(t, IsRegistered())
	assert.NotNil(t, rotationStartedTotal)
	assert.NotNil(t, rotationCompletedTotal)
	assert.NotNil(t, rotationDuration)
	assert.NotNil(t, rollbackTotal)
	assert.NotNil(t, schedulerTicksTotal)
	assert.NotNil(t, policiesDueGauge)
	assert.NotNil(t, staleSweptTotal)
	assert.NotNil(t, notificationDropsTotal)

	// After Init the same calls must not panic.
	rec.RecordRotationStarted("tenant-a", "aws-prod")
	rec.RecordRotationCompleted("tenant-a", "aws-prod", "failed", 0.2)
	rec.RecordRollback("tenant-a", "rejected")
	rec.RecordTick(1)
	rec.RecordStaleSweep(1)
	rec.RecordNotificationDrop()
}
