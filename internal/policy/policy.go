// Package policy defines rotation policies and the tenant-scoped store that
// owns them.
package policy

import (
	"time"
)

// TriggerType discriminates the closed trigger variant.
type TriggerType string

const (
	// TriggerTimeBased rotates on a fixed day interval at a time of day in a
	// named zone. The only trigger the scheduler executes today.
	TriggerTimeBased TriggerType = "time_based"

	// TriggerUsageBased is defined for forward compatibility; no component
	// counts key usage yet, so these policies are never scheduled.
	TriggerUsageBased TriggerType = "usage_based"

	// TriggerEventBased is defined for forward compatibility; no component
	// emits rotation events yet, so these policies are never scheduled.
	TriggerEventBased TriggerType = "event_based"

	// TriggerManual rotates only through an operator-driven rotate call.
	TriggerManual TriggerType = "manual"
)

// TimeBasedTrigger holds the schedule definition for TriggerTimeBased.
type TimeBasedTrigger struct {
	IntervalDays int    `yaml:"interval_days" json:"interval_days"`
	TimeOfDay    string `yaml:"time_of_day" json:"time_of_day"`
	Timezone     string `yaml:"timezone" json:"timezone"`
}

// UsageBasedTrigger holds the data shape for TriggerUsageBased.
type UsageBasedTrigger struct {
	MaxUsageCount int64 `yaml:"max_usage_count" json:"max_usage_count"`
}

// EventBasedTrigger holds the data shape for TriggerEventBased.
type EventBasedTrigger struct {
	Events []string `yaml:"events" json:"events"`
}

// Trigger is the tagged variant describing when bound keys rotate. Exactly
// one of the pointer fields matching Type is set.
type Trigger struct {
	Type       TriggerType        `yaml:"type" json:"type"`
	TimeBased  *TimeBasedTrigger  `yaml:"time_based,omitempty" json:"time_based,omitempty"`
	UsageBased *UsageBasedTrigger `yaml:"usage_based,omitempty" json:"usage_based,omitempty"`
	EventBased *EventBasedTrigger `yaml:"event_based,omitempty" json:"event_based,omitempty"`
}

// Status is the lifecycle state of a policy.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// RollbackSettings controls whether and for how long a completed rotation
// may be reverted.
type RollbackSettings struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	WindowHours int  `yaml:"window_hours" json:"window_hours"`
}

// Policy is a tenant-scoped rule describing when and how bound keys rotate.
type Policy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// KeyType is the semantic category of keys this policy governs,
	// e.g. "PHI_DATA".
	KeyType     string `json:"key_type"`
	KMSProvider string `json:"kms_provider"`

	Trigger  Trigger          `json:"trigger"`
	Status   Status           `json:"status"`
	Rollback RollbackSettings `json:"rollback"`

	RetainOldKeysDays int `json:"retain_old_keys_days"`

	LastRotationAt *time.Time `json:"last_rotation_at,omitempty"`
	NextRotationAt *time.Time `json:"next_rotation_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedulable reports whether the scheduler should ever pick this policy up.
// Only active time-based policies carry an executable schedule.
func (p *Policy) Schedulable() bool {
	return p.Status == StatusActive && p.Trigger.Type == TriggerTimeBased && p.NextRotationAt != nil
}

// Due reports whether the policy's next rotation instant has passed.
func (p *Policy) Due(now time.Time) bool {
	return p.Schedulable() && !p.NextRotationAt.After(now)
}

// clone returns a deep copy so store callers never alias internal state.
func (p *Policy) clone() *Policy {
	cp := *p
	if p.LastRotationAt != nil {
		t := *p.LastRotationAt
		cp.LastRotationAt = &t
	}
	if p.NextRotationAt != nil {
		t := *p.NextRotationAt
		cp.NextRotationAt = &t
	}
	if p.Trigger.TimeBased != nil {
		tb := *p.Trigger.TimeBased
		cp.Trigger.TimeBased = &tb
	}
	if p.Trigger.UsageBased != nil {
		ub := *p.Trigger.UsageBased
		cp.Trigger.UsageBased = &ub
	}
	if p.Trigger.EventBased != nil {
		eb := *p.Trigger.EventBased
		cp.Trigger.EventBased = &eb
		cp.Trigger.EventBased.Events = append([]string(nil), eb.Events...)
	}
	return &cp
}

// Draft carries the caller-supplied fields for Create.
type Draft struct {
	TenantID          string           `json:"tenant_id"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	KeyType           string           `json:"key_type"`
	KMSProvider       string           `json:"kms_provider"`
	Trigger           Trigger          `json:"trigger"`
	Rollback          RollbackSettings `json:"rollback"`
	RetainOldKeysDays int              `json:"retain_old_keys_days"`
}

// Patch carries optional updates; nil fields are left unchanged.
type Patch struct {
	Name              *string
	Description       *string
	Trigger           *Trigger
	Rollback          *RollbackSettings
	RetainOldKeysDays *int
}

// Filter narrows List results within a tenant.
type Filter struct {
	Status  Status
	KeyType string
}
