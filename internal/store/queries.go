package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when an execution status update would
// leave a terminal state or skip a state. Terminal executions never change.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// DueTasks returns the active task definitions whose frequency period has
// elapsed since their last trigger. on_demand definitions are never returned.
// Never-triggered definitions are due immediately.
func DueTasks(db *gorm.DB, now time.Time) ([]TaskDefinition, error) {
	var candidates []TaskDefinition
	err := db.Where("active = ? AND frequency <> ?", true, FrequencyOnDemand).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	due := make([]TaskDefinition, 0, len(candidates))
	for _, task := range candidates {
		period, ok := FrequencyPeriod(task.Frequency)
		if !ok {
			continue
		}
		if task.LastTriggeredAt == nil || !now.Before(task.LastTriggeredAt.Add(period)) {
			due = append(due, task)
		}
	}
	return due, nil
}

// StampTriggered records a successful enqueue. Called only after the queue
// write succeeded, never before.
func StampTriggered(db *gorm.DB, taskID uint, now time.Time) error {
	return db.Model(&TaskDefinition{}).Where("id = ?", taskID).
		Update("last_triggered_at", now).Error
}

// MarkRunning transitions an execution from queued to running. The guard on
// the previous status makes redelivered or replayed requests a no-op.
func MarkRunning(db *gorm.DB, executionID uint, now time.Time) error {
	res := db.Model(&Execution{}).
		Where("id = ? AND status = ?", executionID, StatusQueued).
		Updates(map[string]interface{}{"status": StatusRunning, "started_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FailExecution transitions an execution from queued or running to failed,
// recording the classification and the raw detail. Terminal for the record.
func FailExecution(db *gorm.DB, executionID uint, class, detail string, now time.Time) error {
	res := db.Model(&Execution{}).
		Where("id = ? AND status IN ?", executionID, []string{StatusQueued, StatusRunning}).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"error_class":  class,
			"error_detail": detail,
			"finished_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// RecordSuccess writes the Result and transitions the execution from running
// to succeeded in one transaction, so a succeeded execution always has
// exactly one result.
func RecordSuccess(db *gorm.DB, executionID uint, data string, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Execution{}).
			Where("id = ? AND status = ?", executionID, StatusRunning).
			Updates(map[string]interface{}{"status": StatusSucceeded, "finished_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return tx.Create(&Result{
			ExecutionID: executionID,
			Data:        data,
			ProducedAt:  now,
		}).Error
	})
}

// ListExecutions pages through a task's executions newest-first. beforeID is
// a restartable cursor: pass the smallest ID of the previous page, or 0 for
// the first page.
func ListExecutions(db *gorm.DB, taskID uint, limit int, beforeID uint) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	query := db.Preload("Result").Where("task_id = ?", taskID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var executions []Execution
	err := query.Order("id DESC").Limit(limit).Find(&executions).Error
	return executions, err
}

// StaleRunning returns executions stuck in running whose lease has expired or
// vanished, typically after a worker crash. These are surfaced for operator
// reconciliation, never auto-resolved to failed or succeeded.
func StaleRunning(db *gorm.DB, now time.Time) ([]Execution, error) {
	var executions []Execution
	err := db.Where("status = ?", StatusRunning).
		Where("id NOT IN (?)",
			db.Model(&Lease{}).Select("execution_id").Where("expires_at > ?", now)).
		Find(&executions).Error
	return executions, err
}

// CredentialReferenced reports whether any live task definition still holds a
// reference to the credential. Deleting a referenced credential must be
// rejected, never cascaded or silently nulled.
func CredentialReferenced(db *gorm.DB, credentialID uint) (bool, error) {
	var count int64
	err := db.Model(&TaskDefinition{}).
		Where("credential_id = ?", credentialID).
		Count(&count).Error
	return count > 0, err
}
