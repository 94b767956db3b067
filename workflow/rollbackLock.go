package workflow

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrRollbackLockBusy means another process holds the per-job rollback lock.
var ErrRollbackLockBusy = errors.New("rollback is already running for this import")

// WithImportRollbackLock runs fn while holding the per-job MySQL advisory
// lock. GET_LOCK and RELEASE_LOCK are session-scoped, so both statements are
// pinned to a single pooled connection for the duration of the call.
// Releasing on a different session silently returns 0 and leaves the lock
// held by an idle pooled connection until it is recycled.
func WithImportRollbackLock(ctx context.Context, db *gorm.DB, jobId int, fn func() error) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireImportRollbackLock(conn, jobId); err != nil {
			return err
		}
		defer releaseImportRollbackLock(conn, jobId)
		return fn()
	})
}

func importRollbackLockName(jobId int) string {
	return fmt.Sprintf("import_rollback:%d", jobId)
}

func acquireImportRollbackLock(conn *gorm.DB, jobId int) error {
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", importRollbackLockName(jobId)).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: import_job_id=%d", ErrRollbackLockBusy, jobId)
	}
	return nil
}

func releaseImportRollbackLock(conn *gorm.DB, jobId int) {
	var ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", importRollbackLockName(jobId)).Scan(&ok).Error
}
