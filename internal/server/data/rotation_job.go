package data

import (
	"errors"

	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/uid"
)

// CreateRotationJob inserts a job in the queued state. The partial unique
// index on pending jobs makes a concurrent second insert fail, which is
// surfaced as internal.ErrRotationInProgress.
func CreateRotationJob(db *gorm.DB, job *models.KeyRotationJob) error {
	err := add(db, job)

	var uniqueErr UniqueConstraintError
	if errors.As(err, &uniqueErr) {
		return internal.ErrRotationInProgress
	}
	return err
}

func SaveRotationJob(db *gorm.DB, job *models.KeyRotationJob) error {
	return save(db, job)
}

// UpdateRotationJobStatus writes only the status column. Control
// transitions can come from any loaded copy of the job, so they must not
// clobber the counters and report the runner commits with each batch.
func UpdateRotationJobStatus(db *gorm.DB, job *models.KeyRotationJob, status models.RotationJobStatus) error {
	if err := db.Model(job).Update("status", status).Error; err != nil {
		return handleError(err)
	}

	job.Status = status
	return nil
}

// FailRotationJob writes the terminal failed state and its error columns,
// leaving the counters and report untouched.
func FailRotationJob(db *gorm.DB, job *models.KeyRotationJob, code, message string) error {
	err := db.Model(job).Updates(map[string]interface{}{
		"status":        models.RotationJobFailed,
		"error_code":    code,
		"error_message": message,
	}).Error
	if err != nil {
		return handleError(err)
	}

	job.Status = models.RotationJobFailed
	job.ErrorCode = code
	job.ErrorMessage = message
	return nil
}

func GetRotationJob(db *gorm.DB, selectors ...SelectorFunc) (*models.KeyRotationJob, error) {
	return get[models.KeyRotationJob](db, selectors...)
}

// GetPendingRotationJob returns the tenant's queued, running, or paused job
// if one exists.
func GetPendingRotationJob(db *gorm.DB, tenantID uid.ID) (*models.KeyRotationJob, error) {
	byPending := func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN ?", []models.RotationJobStatus{
			models.RotationJobQueued,
			models.RotationJobRunning,
			models.RotationJobPaused,
		})
	}
	return get[models.KeyRotationJob](db, ByTenantID(tenantID), byPending)
}

func ListRotationJobs(db *gorm.DB, selectors ...SelectorFunc) ([]models.KeyRotationJob, error) {
	return list[models.KeyRotationJob](db, selectors...)
}
