// Package events defines the JSON payloads exchanged over the work queue
// between the inspection manager and the workers.
package events

// ExecutionRequest is sent by the manager to the dispatch topic. One request
// is enqueued per due or manually triggered task; the execution record is
// created (status queued) before the enqueue.
type ExecutionRequest struct {
	ExecutionID   uint   `json:"execution_id"`
	TaskID        uint   `json:"task_id"`
	TenantID      uint   `json:"tenant_id"`
	TriggerReason string `json:"trigger_reason"` // "scheduled" or "manual"
}

// ExecutionCompletion is published by a worker once an execution reached a
// terminal status. The manager consumes it to drive tenant notification; the
// terminal state itself is already durable by the time this is sent.
type ExecutionCompletion struct {
	ExecutionID uint   `json:"execution_id"`
	TaskID      uint   `json:"task_id"`
	TenantID    uint   `json:"tenant_id"`
	Status      string `json:"status"`
	ErrorClass  string `json:"error_class,omitempty"`
}
