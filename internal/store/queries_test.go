package store

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dbFile := "test_store_" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".db"
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(Models()...))
	t.Cleanup(func() {
		sqlDB, err := gormDB.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
		_ = os.Remove(dbFile)
	})
	return gormDB
}

func createTask(t *testing.T, db *gorm.DB, frequency string, active bool, lastTriggered *time.Time) TaskDefinition {
	task := TaskDefinition{
		TenantID:        1,
		Name:            "nightly compute check",
		ServiceCategory: "compute",
		Operation:       "health_check",
		Frequency:       frequency,
		Active:          active,
		LastTriggeredAt: lastTriggered,
	}
	require.NoError(t, db.Create(&task).Error)
	return task
}

func createExecution(t *testing.T, db *gorm.DB, taskID uint, status string) Execution {
	exec := Execution{
		TaskID:        taskID,
		TenantID:      1,
		Status:        status,
		TriggerReason: TriggerScheduled,
		QueuedAt:      time.Now().UTC(),
		Attempt:       1,
	}
	require.NoError(t, db.Create(&exec).Error)
	return exec
}

func TestFrequencyPeriod(t *testing.T) {
	daily, ok := FrequencyPeriod(FrequencyDaily)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, daily)

	weekly, ok := FrequencyPeriod(FrequencyWeekly)
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, weekly)

	monthly, ok := FrequencyPeriod(FrequencyMonthly)
	assert.True(t, ok)
	assert.Equal(t, 30*24*time.Hour, monthly)

	_, ok = FrequencyPeriod(FrequencyOnDemand)
	assert.False(t, ok)

	assert.True(t, ValidFrequency(FrequencyOnDemand))
	assert.False(t, ValidFrequency("hourly"))
}

func TestDueTasks(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()

	stale := now.Add(-25 * time.Hour)
	fresh := now.Add(-time.Hour)

	dueDaily := createTask(t, db, FrequencyDaily, true, &stale)
	neverTriggered := createTask(t, db, FrequencyDaily, true, nil)
	// excluded: triggered recently, inactive, and on_demand
	createTask(t, db, FrequencyDaily, true, &fresh)
	createTask(t, db, FrequencyDaily, false, &stale)
	createTask(t, db, FrequencyOnDemand, true, nil)
	weeklyStale := now.Add(-8 * 24 * time.Hour)
	dueWeekly := createTask(t, db, FrequencyWeekly, true, &weeklyStale)

	due, err := DueTasks(db, now)
	require.NoError(t, err)

	dueIDs := make(map[uint]bool, len(due))
	for _, task := range due {
		dueIDs[task.ID] = true
	}
	assert.Len(t, due, 3)
	assert.True(t, dueIDs[dueDaily.ID])
	assert.True(t, dueIDs[neverTriggered.ID])
	assert.True(t, dueIDs[dueWeekly.ID])
}

func TestExecutionStateMachine(t *testing.T) {
	db := setupTestDB(t)
	task := createTask(t, db, FrequencyDaily, true, nil)
	now := time.Now().UTC()

	exec := createExecution(t, db, task.ID, StatusQueued)

	require.NoError(t, MarkRunning(db, exec.ID, now))
	var running Execution
	require.NoError(t, db.First(&running, exec.ID).Error)
	assert.Equal(t, StatusRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	// running -> running is rejected
	assert.ErrorIs(t, MarkRunning(db, exec.ID, now), ErrInvalidTransition)

	require.NoError(t, RecordSuccess(db, exec.ID, `{"ok":true}`, now))
	var succeeded Execution
	require.NoError(t, db.Preload("Result").First(&succeeded, exec.ID).Error)
	assert.Equal(t, StatusSucceeded, succeeded.Status)
	assert.True(t, succeeded.Terminal())
	require.NotNil(t, succeeded.Result)
	assert.Equal(t, `{"ok":true}`, succeeded.Result.Data)

	// terminal states never transition
	assert.ErrorIs(t, FailExecution(db, exec.ID, "ServiceError", "late failure", now), ErrInvalidTransition)
	assert.ErrorIs(t, RecordSuccess(db, exec.ID, "{}", now), ErrInvalidTransition)
	assert.ErrorIs(t, MarkRunning(db, exec.ID, now), ErrInvalidTransition)
}

func TestFailExecution_FromQueuedAndRunning(t *testing.T) {
	db := setupTestDB(t)
	task := createTask(t, db, FrequencyDaily, true, nil)
	now := time.Now().UTC()

	// queued -> failed, e.g. a ConcurrencyConflict before dispatch
	queued := createExecution(t, db, task.ID, StatusQueued)
	require.NoError(t, FailExecution(db, queued.ID, "ConcurrencyConflict", "lease held", now))

	// running -> failed
	running := createExecution(t, db, task.ID, StatusQueued)
	require.NoError(t, MarkRunning(db, running.ID, now))
	require.NoError(t, FailExecution(db, running.ID, "AuthenticationError", "decryption failed", now))

	var failed Execution
	require.NoError(t, db.First(&failed, running.ID).Error)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "AuthenticationError", failed.ErrorClass)
	assert.Equal(t, "decryption failed", failed.ErrorDetail)
	assert.NotNil(t, failed.FinishedAt)

	// a failed execution never owns a result
	var count int64
	require.NoError(t, db.Model(&Result{}).Where("execution_id = ?", failed.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordSuccess_RequiresRunning(t *testing.T) {
	db := setupTestDB(t)
	task := createTask(t, db, FrequencyDaily, true, nil)
	exec := createExecution(t, db, task.ID, StatusQueued)

	err := RecordSuccess(db, exec.ID, "{}", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// the aborted transaction must not leave a result behind
	var count int64
	require.NoError(t, db.Model(&Result{}).Where("execution_id = ?", exec.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListExecutions_Pagination(t *testing.T) {
	db := setupTestDB(t)
	task := createTask(t, db, FrequencyDaily, true, nil)

	var ids []uint
	for i := 0; i < 5; i++ {
		exec := createExecution(t, db, task.ID, StatusQueued)
		ids = append(ids, exec.ID)
	}

	page1, err := ListExecutions(db, task.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)

	page2, err := ListExecutions(db, task.ID, 2, page1[1].ID)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[2], page2[0].ID)
	assert.Equal(t, ids[1], page2[1].ID)

	// restartable: re-reading the same page returns the same rows
	again, err := ListExecutions(db, task.ID, 2, page1[1].ID)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, page2[0].ID, again[0].ID)
	assert.Equal(t, page2[1].ID, again[1].ID)

	page3, err := ListExecutions(db, task.ID, 2, page2[1].ID)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)
}

func TestStaleRunning(t *testing.T) {
	db := setupTestDB(t)
	task := createTask(t, db, FrequencyDaily, true, nil)
	other := createTask(t, db, FrequencyDaily, true, nil)
	now := time.Now().UTC()

	// running with a live lease: healthy
	healthy := createExecution(t, db, task.ID, StatusRunning)
	require.NoError(t, db.Create(&Lease{
		TaskID: task.ID, ExecutionID: healthy.ID, Holder: "w1",
		ExpiresAt: now.Add(5 * time.Minute),
	}).Error)

	// running with an expired lease: orphaned by a crashed worker
	orphaned := createExecution(t, db, other.ID, StatusRunning)
	require.NoError(t, db.Create(&Lease{
		TaskID: other.ID, ExecutionID: orphaned.ID, Holder: "w2",
		ExpiresAt: now.Add(-time.Minute),
	}).Error)

	stale, err := StaleRunning(db, now)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, orphaned.ID, stale[0].ID)
	// surfaced, never auto-resolved
	assert.Equal(t, StatusRunning, stale[0].Status)
}

func TestCredentialReferenced(t *testing.T) {
	db := setupTestDB(t)

	cred := Credential{TenantID: 1, Name: "primary", Region: "us-east-1"}
	require.NoError(t, db.Create(&cred).Error)

	referenced, err := CredentialReferenced(db, cred.ID)
	require.NoError(t, err)
	assert.False(t, referenced)

	task := createTask(t, db, FrequencyDaily, true, nil)
	require.NoError(t, db.Model(&task).Update("credential_id", cred.ID).Error)

	referenced, err = CredentialReferenced(db, cred.ID)
	require.NoError(t, err)
	assert.True(t, referenced)
}
