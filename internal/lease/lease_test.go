package lease

import (
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cloud-inspection-service/internal/store"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dbFile := "test_lease_" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".db"
	dsn := "file:" + dbFile + "?_busy_timeout=5000"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&store.Lease{}))
	t.Cleanup(func() {
		sqlDB, err := gormDB.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
		_ = os.Remove(dbFile)
	})
	return gormDB
}

func TestAcquireRelease(t *testing.T) {
	db := setupTestDB(t)
	leases := NewStore(db, "worker-a")

	require.NoError(t, leases.Acquire(1, 10, time.Minute))

	held, err := leases.Held(1)
	require.NoError(t, err)
	assert.True(t, held)

	// second acquire on the same task fails, even for the same holder
	assert.ErrorIs(t, leases.Acquire(1, 11, time.Minute), ErrHeld)

	require.NoError(t, leases.Release(1))
	held, err = leases.Held(1)
	require.NoError(t, err)
	assert.False(t, held)

	// released lease can be re-acquired
	require.NoError(t, leases.Acquire(1, 12, time.Minute))
}

func TestAcquire_DistinctTasksIndependent(t *testing.T) {
	db := setupTestDB(t)
	leases := NewStore(db, "worker-a")

	require.NoError(t, leases.Acquire(1, 10, time.Minute))
	require.NoError(t, leases.Acquire(2, 20, time.Minute))
}

func TestAcquire_StealsExpiredLease(t *testing.T) {
	db := setupTestDB(t)
	crashed := NewStore(db, "worker-crashed")
	survivor := NewStore(db, "worker-survivor")

	require.NoError(t, crashed.Acquire(1, 10, -time.Second)) // already expired

	held, err := survivor.Held(1)
	require.NoError(t, err)
	assert.False(t, held, "expired lease must not count as held")

	require.NoError(t, survivor.Acquire(1, 11, time.Minute))

	var l store.Lease
	require.NoError(t, db.First(&l, "task_id = ?", 1).Error)
	assert.Equal(t, "worker-survivor", l.Holder)
	assert.Equal(t, uint(11), l.ExecutionID)
}

func TestRelease_OnlyByHolder(t *testing.T) {
	db := setupTestDB(t)
	owner := NewStore(db, "worker-owner")
	stranger := NewStore(db, "worker-stranger")

	require.NoError(t, owner.Acquire(1, 10, time.Minute))

	// a non-holder release is a no-op, never a steal
	require.NoError(t, stranger.Release(1))
	held, err := owner.Held(1)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestSweep(t *testing.T) {
	db := setupTestDB(t)
	leases := NewStore(db, "worker-a")

	require.NoError(t, leases.Acquire(1, 10, -time.Second))
	require.NoError(t, leases.Acquire(2, 20, time.Minute))

	removed, err := leases.Sweep(time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	held, err := leases.Held(2)
	require.NoError(t, err)
	assert.True(t, held)
}

// Concurrent triggers for the same task must collapse to exactly one winner.
func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	db := setupTestDB(t)

	const contenders = 10
	var wg sync.WaitGroup
	results := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			leases := NewStore(db, "worker-"+strconv.Itoa(n))
			results <- leases.Acquire(42, uint(100+n), time.Minute)
		}(i)
	}
	wg.Wait()
	close(results)

	winners, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case assert.ErrorIs(t, err, ErrHeld):
			conflicts++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, conflicts)
}
