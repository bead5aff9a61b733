package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/store"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, key string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("broker unavailable")
	}
	e.payloads = append(e.payloads, payload)
	return nil
}

func (e *fakeEnqueuer) requests(t *testing.T) []events.ExecutionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.ExecutionRequest, 0, len(e.payloads))
	for _, p := range e.payloads {
		var r events.ExecutionRequest
		require.NoError(t, json.Unmarshal(p, &r))
		out = append(out, r)
	}
	return out
}

func setupTestDB(t *testing.T) *gorm.DB {
	dbFile := "test_services_" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".db"
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(store.Models()...))
	t.Cleanup(func() {
		sqlDB, err := gormDB.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
		_ = os.Remove(dbFile)
	})
	return gormDB
}

func newTestScheduler(t *testing.T, db *gorm.DB, q *fakeEnqueuer) *SchedulerService {
	s, err := NewSchedulerService(context.Background(), db, q, lease.NewStore(db, "manager-test"), time.Minute, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func createTask(t *testing.T, db *gorm.DB, frequency string, lastTriggered *time.Time) store.TaskDefinition {
	task := store.TaskDefinition{
		TenantID:        1,
		Name:            "scheduled inspection",
		ServiceCategory: "compute",
		Operation:       "health_check",
		Frequency:       frequency,
		Active:          true,
		LastTriggeredAt: lastTriggered,
	}
	require.NoError(t, db.Create(&task).Error)
	return task
}

func TestSweep_DispatchesDueTasksOnce(t *testing.T) {
	db := setupTestDB(t)
	q := &fakeEnqueuer{}
	s := newTestScheduler(t, db, q)

	stale := time.Now().UTC().Add(-25 * time.Hour)
	due := createTask(t, db, store.FrequencyDaily, &stale)
	createTask(t, db, store.FrequencyOnDemand, nil) // never swept

	s.Sweep()

	reqs := q.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, due.ID, reqs[0].TaskID)
	assert.Equal(t, store.TriggerScheduled, reqs[0].TriggerReason)

	var exec store.Execution
	require.NoError(t, db.First(&exec, reqs[0].ExecutionID).Error)
	assert.Equal(t, store.StatusQueued, exec.Status)
	assert.Equal(t, store.TriggerScheduled, exec.TriggerReason)

	// the stamp moved, so an immediate second sweep finds nothing due
	var stamped store.TaskDefinition
	require.NoError(t, db.First(&stamped, due.ID).Error)
	require.NotNil(t, stamped.LastTriggeredAt)
	assert.True(t, stamped.LastTriggeredAt.After(stale))

	s.Sweep()
	assert.Len(t, q.requests(t), 1)
}

func TestSweep_SkipsLeasedTask(t *testing.T) {
	db := setupTestDB(t)
	q := &fakeEnqueuer{}
	s := newTestScheduler(t, db, q)

	stale := time.Now().UTC().Add(-25 * time.Hour)
	task := createTask(t, db, store.FrequencyDaily, &stale)

	worker := lease.NewStore(db, "worker-busy")
	require.NoError(t, worker.Acquire(task.ID, 10, time.Minute))

	s.Sweep()

	// no enqueue, no execution row, no stamp: the task stays due
	assert.Empty(t, q.requests(t))
	var count int64
	require.NoError(t, db.Model(&store.Execution{}).Where("task_id = ?", task.ID).Count(&count).Error)
	assert.Zero(t, count)

	var unstamped store.TaskDefinition
	require.NoError(t, db.First(&unstamped, task.ID).Error)
	require.NotNil(t, unstamped.LastTriggeredAt)
	assert.True(t, unstamped.LastTriggeredAt.Equal(stale))
}

func TestSweep_EnqueueFailureFailsExecutionWithoutStamping(t *testing.T) {
	db := setupTestDB(t)
	q := &fakeEnqueuer{fail: true}
	s := newTestScheduler(t, db, q)

	stale := time.Now().UTC().Add(-25 * time.Hour)
	task := createTask(t, db, store.FrequencyDaily, &stale)

	s.Sweep()

	var exec store.Execution
	require.NoError(t, db.First(&exec, "task_id = ?", task.ID).Error)
	assert.Equal(t, store.StatusFailed, exec.Status)
	assert.Equal(t, "ServiceError", exec.ErrorClass)

	// not stamped: the task is due again next tick once the broker recovers
	var unstamped store.TaskDefinition
	require.NoError(t, db.First(&unstamped, task.ID).Error)
	require.NotNil(t, unstamped.LastTriggeredAt)
	assert.True(t, unstamped.LastTriggeredAt.Equal(stale))

	q.fail = false
	s.Sweep()
	reqs := q.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, task.ID, reqs[0].TaskID)
}

func TestSweep_NeverTriggeredTaskIsDue(t *testing.T) {
	db := setupTestDB(t)
	q := &fakeEnqueuer{}
	s := newTestScheduler(t, db, q)

	task := createTask(t, db, store.FrequencyWeekly, nil)

	s.Sweep()

	reqs := q.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, task.ID, reqs[0].TaskID)
}
