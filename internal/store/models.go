package store

import (
	"time"

	"gorm.io/gorm"
)

// Trigger frequency values for a TaskDefinition.
const (
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyMonthly  = "monthly"
	FrequencyOnDemand = "on_demand"
)

// Execution status values. succeeded and failed are terminal.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Trigger reasons recorded on an Execution.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// FrequencyPeriod maps a trigger frequency to its sweep period.
// on_demand has no period: it is never selected by the time-based sweep.
func FrequencyPeriod(frequency string) (time.Duration, bool) {
	switch frequency {
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	case FrequencyMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ValidFrequency reports whether frequency is one of the supported values.
func ValidFrequency(frequency string) bool {
	if frequency == FrequencyOnDemand {
		return true
	}
	_, ok := FrequencyPeriod(frequency)
	return ok
}

// TaskDefinition is a tenant's declared recurring inspection job.
type TaskDefinition struct {
	gorm.Model
	TenantID        uint        `json:"tenant_id" gorm:"index;not null"`
	Name            string      `json:"name" gorm:"index"`
	Description     string      `json:"description"`
	ServiceCategory string      `json:"service_category" gorm:"index"` // e.g. "compute", "storage"
	Operation       string      `json:"operation"`                     // e.g. "health_check", "resource_list"
	Config          string      `json:"config" gorm:"type:json"`       // opaque payload passed to the checker
	ConfigSchema    string      `json:"config_schema" gorm:"type:json"`
	Frequency       string      `json:"frequency" gorm:"index"`
	Active          bool        `json:"active" gorm:"index"`
	CredentialID    *uint       `json:"credential_id" gorm:"index"` // weak reference, blocks credential deletion
	LastTriggeredAt *time.Time  `json:"last_triggered_at" gorm:"index"`
	Executions      []Execution `json:"-" gorm:"foreignKey:TaskID"`
}

// Execution is one concrete run attempt of a TaskDefinition. Attempt is
// always 1: a failed execution is never retried, a new trigger creates a
// brand-new record.
type Execution struct {
	gorm.Model
	TaskID        uint       `json:"task_id" gorm:"index;not null"`
	TenantID      uint       `json:"tenant_id" gorm:"index"`
	Status        string     `json:"status" gorm:"index"`
	TriggerReason string     `json:"trigger_reason"`
	QueuedAt      time.Time  `json:"queued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Attempt       int        `json:"attempt" gorm:"default:1"`
	ErrorClass    string     `json:"error_class,omitempty" gorm:"index"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	Result        *Result    `json:"result,omitempty" gorm:"foreignKey:ExecutionID"`
}

// Terminal reports whether the execution reached a terminal status.
func (e *Execution) Terminal() bool {
	return e.Status == StatusSucceeded || e.Status == StatusFailed
}

// Result holds the checker output of a successful Execution. Immutable once
// written; at most one per execution.
type Result struct {
	gorm.Model
	ExecutionID uint      `json:"execution_id" gorm:"uniqueIndex;not null"`
	Data        string    `json:"data" gorm:"type:json"`
	ProducedAt  time.Time `json:"produced_at"`
}

// Credential stores a tenant's encrypted secret material. The key fields hold
// AES-GCM ciphertext, base64 encoded; plaintext never touches this table.
type Credential struct {
	gorm.Model
	TenantID        uint   `json:"tenant_id" gorm:"index;not null"`
	Name            string `json:"name"`
	AccessKeyID     string `json:"-" gorm:"type:text"`
	SecretAccessKey string `json:"-" gorm:"type:text"`
	SessionToken    string `json:"-" gorm:"type:text"`
	Region          string `json:"region"`
	IsDefault       bool   `json:"is_default" gorm:"column:is_default"`
}

// Lease enforces at-most-one-concurrent execution per task. It lives in the
// same durable store as executions so crash recovery is a query, not an
// in-memory flag. Expired rows may be stolen or garbage-collected.
type Lease struct {
	TaskID      uint      `gorm:"primaryKey;autoIncrement:false"`
	ExecutionID uint      `gorm:"not null"`
	Holder      string    `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index"`
}

// Models returns every entity for AutoMigrate, in FK order.
func Models() []interface{} {
	return []interface{}{
		&Credential{},
		&TaskDefinition{},
		&Execution{},
		&Result{},
		&Lease{},
	}
}
