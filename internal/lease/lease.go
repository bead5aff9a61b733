// Package lease implements the single distributed mutual-exclusion primitive
// in the system: a store-backed lease with bounded expiry that guarantees at
// most one in-flight execution per task definition. The bounded expiry exists
// purely to recover from a crashed holder, not as a soft lock for normal
// operation.
package lease

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cloud-inspection-service/internal/store"
)

// ErrHeld is returned when the task's lease is already held and unexpired.
var ErrHeld = errors.New("task lease already held")

// Store acquires and releases task leases against the shared durable store.
// Holder identifies this process; only the holder that acquired a lease may
// release it.
type Store struct {
	DB     *gorm.DB
	Holder string
}

func NewStore(db *gorm.DB, holder string) *Store {
	return &Store{DB: db, Holder: holder}
}

// Acquire takes the lease for taskID on behalf of executionID, with the given
// ttl. An expired lease left behind by a crashed holder is stolen. Returns
// ErrHeld if a live lease exists.
func (s *Store) Acquire(taskID, executionID uint, ttl time.Duration) error {
	now := time.Now().UTC()
	return s.DB.Transaction(func(tx *gorm.DB) error {
		// Clear an expired lease first so the insert below can win it.
		if err := tx.Where("task_id = ? AND expires_at <= ?", taskID, now).
			Delete(&store.Lease{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&store.Lease{
			TaskID:      taskID,
			ExecutionID: executionID,
			Holder:      s.Holder,
			ExpiresAt:   now.Add(ttl),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrHeld
		}
		return nil
	})
}

// Release drops the lease for taskID if this store's holder owns it. Releasing
// a lease that expired and was stolen by another holder is a no-op.
func (s *Store) Release(taskID uint) error {
	return s.DB.Where("task_id = ? AND holder = ?", taskID, s.Holder).
		Delete(&store.Lease{}).Error
}

// Held reports whether a live (unexpired) lease exists for taskID, regardless
// of holder.
func (s *Store) Held(taskID uint) (bool, error) {
	var count int64
	err := s.DB.Model(&store.Lease{}).
		Where("task_id = ? AND expires_at > ?", taskID, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// Sweep garbage-collects expired leases. Leases are not durable business
// entities; sweeping them is safe at any time.
func (s *Store) Sweep(now time.Time) (int64, error) {
	res := s.DB.Where("expires_at <= ?", now).Delete(&store.Lease{})
	return res.RowsAffected, res.Error
}
