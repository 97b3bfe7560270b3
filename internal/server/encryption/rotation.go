package encryption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/logging"
	"github.com/strongroomhq/strongroom/internal/server/audit"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/metrics"
	"github.com/strongroomhq/strongroom/secrets"
	"github.com/strongroomhq/strongroom/uid"
)

const (
	errorCodeCancelled        = "cancelled"
	errorCodeRotationFailed   = "rotation_failed"
	errorCodeTargetKeyMissing = "target_key_missing"
)

// CreateRotationJob queues a re-encryption campaign migrating every blob
// from one key to another. Only one queued, running, or paused job may
// exist per tenant; the read here gives a friendly error and the partial
// unique index settles any race.
func (s *Service) CreateRotationJob(tenantID, fromKeyID, toKeyID uid.ID) (*models.KeyRotationJob, error) {
	_, err := data.GetPendingRotationJob(s.db, tenantID)
	switch {
	case err == nil:
		return nil, internal.ErrRotationInProgress
	case !errors.Is(err, internal.ErrNotFound):
		return nil, err
	}

	job := &models.KeyRotationJob{
		TenantID:  tenantID,
		FromKeyID: fromKeyID,
		ToKeyID:   toKeyID,
		Status:    models.RotationJobQueued,
		Report:    models.RotationReport{},
	}

	if err := data.CreateRotationJob(s.db, job); err != nil {
		return nil, err
	}

	return job, nil
}

// RunRotationJob drives the job until no pending blobs remain, it is paused,
// or it terminates. Each batch commits on its own, which makes the job crash
// safe: a process restart simply calls RunRotationJob again and it continues
// from whatever blobs still reference the from key.
//
// Per-item failures never abort the run. They are counted and recorded in
// the job report, and the affected blobs stay decryptable under the old key.
func (s *Service) RunRotationJob(ctx context.Context, job *models.KeyRotationJob, batchSize int) error {
	// the caller's handle may be stale: another process may have paused or
	// cancelled the job since it was loaded, so trust only the persisted
	// state
	current, err := data.GetRotationJob(s.db, data.ByID(job.ID))
	if err != nil {
		return err
	}
	*job = *current

	// idempotent no-op on states that are not runnable
	if job.Terminal() || job.Status == models.RotationJobPaused {
		return nil
	}

	if batchSize <= 0 {
		batchSize = s.options.RotationBatchSize
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	fromKey, err := data.GetTenantKey(s.db, data.ByID(job.FromKeyID), data.ByTenantID(job.TenantID))
	if err != nil {
		return s.terminateJob(job, errorCodeTargetKeyMissing, fmt.Sprintf("source key %v: %v", job.FromKeyID, err))
	}
	toKey, err := data.GetTenantKey(s.db, data.ByID(job.ToKeyID), data.ByTenantID(job.TenantID))
	if err != nil {
		return s.terminateJob(job, errorCodeTargetKeyMissing, fmt.Sprintf("target key %v: %v", job.ToKeyID, err))
	}

	fromProvider, err := s.providerFor(fromKey.Provider)
	if err != nil {
		return err
	}
	toProvider, err := s.providerFor(toKey.Provider)
	if err != nil {
		return err
	}

	job.Status = models.RotationJobRunning
	if job.StartedAt == nil {
		// recorded once, never overwritten on resume
		now := time.Now()
		job.StartedAt = &now
		s.emit(audit.Event{Action: audit.RotationStarted, TenantID: job.TenantID, JobID: job.ID})
	}

	remaining, err := data.CountEncryptedBlobsForKey(s.db, job.FromKeyID)
	if err != nil {
		return err
	}
	job.TotalItems = job.ProcessedItems + int(remaining)

	if err := data.SaveRotationJob(s.db, job); err != nil {
		return err
	}

	var cursor uid.ID
	var superseded []string
	paused := false

	for {
		// pause and cancel are cooperative and signalled through the job
		// row, so re-read it at every batch boundary
		current, err := data.GetRotationJob(s.db, data.ByID(job.ID))
		if err != nil {
			return err
		}
		if current.Terminal() {
			// cancelled or terminated elsewhere; never write over a
			// terminal state
			*job = *current
			return nil
		}
		if current.Status == models.RotationJobPaused || ctx.Err() != nil {
			job.Status = models.RotationJobPaused
			paused = true
			break
		}

		batch, err := data.ListEncryptedBlobBatch(s.db, job.FromKeyID, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			superseded = superseded[:0]
			for i := range batch {
				blob := &batch[i]
				cursor = blob.ID

				replaced, err := s.migrateBlob(tx, blob, fromKey, toKey, fromProvider, toProvider)
				if err != nil {
					logging.S.Warnf("rotation job %v: blob %v: %v", job.ID, blob.ID, err)
					job.FailedItems++
					job.Report = append(job.Report, models.RotationFailure{
						BlobID:       blob.ID,
						ResourceType: blob.ResourceType,
						ResourceID:   blob.ResourceID,
						Error:        err.Error(),
						OccurredAt:   time.Now(),
					})
					continue
				}

				if replaced != "" {
					superseded = append(superseded, replaced)
				}
				job.ProcessedItems++
			}

			return data.SaveRotationJob(tx, job)
		})
		if err != nil {
			return err
		}

		// the committed rows now point at the new ciphertext files; the
		// old ones are garbage and their removal is best effort
		for _, locator := range superseded {
			if err := s.external.Remove(locator); err != nil {
				logging.S.Warnf("rotation job %v: removing superseded ciphertext %v: %v", job.ID, locator, err)
			}
		}

		s.observeProgress(job)
	}

	if paused {
		if err := data.SaveRotationJob(s.db, job); err != nil {
			return err
		}
		return nil
	}

	return s.finishJob(job, fromKey)
}

// finishJob resolves the terminal state once no pending blobs remain. The
// from key is retired only on the clean-completion path: when items failed
// they still reference it and must stay decryptable, so the key stays
// retiring.
func (s *Service) finishJob(job *models.KeyRotationJob, fromKey *models.TenantKey) error {
	if job.FailedItems > 0 && job.ProcessedItems < job.TotalItems {
		job.Status = models.RotationJobFailed
		job.ErrorCode = errorCodeRotationFailed
		job.ErrorMessage = fmt.Sprintf("%d of %d items could not be re-encrypted", job.FailedItems, job.TotalItems)

		if err := data.SaveRotationJob(s.db, job); err != nil {
			return err
		}

		s.emit(audit.Event{
			Action:    audit.RotationFailed,
			TenantID:  job.TenantID,
			JobID:     job.ID,
			Processed: job.ProcessedItems,
			Total:     job.TotalItems,
		})

		return fmt.Errorf("%w: %s", internal.ErrRotationFailed, job.ErrorMessage)
	}

	now := time.Now()
	job.Status = models.RotationJobCompleted
	job.CompletedAt = &now

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := data.SaveRotationJob(tx, job); err != nil {
			return err
		}

		fromKey.Status = models.KeyStatusRetired
		fromKey.RetiredAt = &now
		return data.SaveTenantKey(tx, fromKey)
	})
	if err != nil {
		return err
	}

	s.emit(audit.Event{Action: audit.KeyRetired, TenantID: job.TenantID, KeyID: fromKey.ID})
	s.emit(audit.Event{
		Action:    audit.RotationCompleted,
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Processed: job.ProcessedItems,
		Total:     job.TotalItems,
	})

	return nil
}

// terminateJob fails the job early for unrecoverable conditions, such as a
// missing key.
func (s *Service) terminateJob(job *models.KeyRotationJob, code, message string) error {
	job.Status = models.RotationJobFailed
	job.ErrorCode = code
	job.ErrorMessage = message

	if err := data.SaveRotationJob(s.db, job); err != nil {
		return err
	}

	s.emit(audit.Event{Action: audit.RotationFailed, TenantID: job.TenantID, JobID: job.ID})

	return fmt.Errorf("%w: %s", internal.ErrRotationFailed, message)
}

// migrateBlob decrypts one blob under the old key and re-encrypts the same
// plaintext under the new key, updating the row in place with a fresh
// nonce, tag, and checksum. External ciphertext is written to the new key
// version's own file and the row repointed at it, so a per-item failure or
// a batch rollback leaves the file the row still references untouched. The
// returned locator is the superseded file to remove once the batch commits,
// empty for inline blobs.
func (s *Service) migrateBlob(tx *gorm.DB, blob *models.EncryptedBlob, fromKey, toKey *models.TenantKey, fromProvider, toProvider secrets.Provider) (string, error) {
	plaintext, err := s.decryptBlobWithKeyAndProvider(blob, fromKey, fromProvider)
	if err != nil {
		return "", fmt.Errorf("decrypting under key v%d: %w", fromKey.KeyVersion, err)
	}

	env, err := EncryptPayload(toProvider, blob.TenantID, blob.ResourceType, blob.ResourceID, plaintext, toKey.KeyRef, toKey.KeyVersion, time.Now())
	if err != nil {
		return "", fmt.Errorf("re-encrypting under key v%d: %w", toKey.KeyVersion, err)
	}

	var replaced string
	if blob.External() {
		locator, err := s.external.Write(blob.TenantID, blob.ResourceType, blob.ResourceID, toKey.KeyVersion, env.CipherText)
		if err != nil {
			return "", err
		}
		replaced = blob.Locator
		blob.Locator = locator
	} else {
		blob.CipherText = env.CipherText
	}

	blob.KeyID = toKey.ID
	blob.WrappedDEK = env.WrappedDEK
	blob.Nonce = env.Nonce
	blob.Tag = env.Tag
	blob.AAD = env.AAD
	blob.Checksum = env.Checksum

	return replaced, data.SaveEncryptedBlob(tx, blob)
}

func (s *Service) decryptBlobWithKeyAndProvider(blob *models.EncryptedBlob, key *models.TenantKey, provider secrets.Provider) ([]byte, error) {
	if !key.Usable() {
		return nil, fmt.Errorf("%w: key %v has status %v", internal.ErrKeyNotActive, key.ID, key.Status)
	}

	env, err := s.envelopeFromBlob(blob, key)
	if err != nil {
		return nil, err
	}

	return DecryptPayload(provider, env, blob.TenantID)
}

func (s *Service) observeProgress(job *models.KeyRotationJob) {
	ratio := 1.0
	if job.TotalItems > 0 {
		ratio = float64(job.ProcessedItems) / float64(job.TotalItems)
	}
	metrics.RotationProgress.WithLabelValues(job.TenantID.String()).Set(ratio)

	s.emit(audit.Event{
		Action:    audit.RotationProgress,
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Processed: job.ProcessedItems,
		Total:     job.TotalItems,
	})
}

// PauseRotationJob requests a cooperative pause. The running loop honors it
// at the next batch boundary; an in-flight batch always finishes first.
// Only the status column is written, since the caller's handle may be stale
// while the runner keeps committing progress.
func (s *Service) PauseRotationJob(job *models.KeyRotationJob) error {
	current, err := data.GetRotationJob(s.db, data.ByID(job.ID))
	if err != nil {
		return err
	}
	if current.Terminal() {
		*job = *current
		return nil
	}

	return data.UpdateRotationJobStatus(s.db, job, models.RotationJobPaused)
}

// ResumeRotationJob re-queues a paused job so the next RunRotationJob
// invocation picks it up where it left off.
func (s *Service) ResumeRotationJob(job *models.KeyRotationJob) error {
	current, err := data.GetRotationJob(s.db, data.ByID(job.ID))
	if err != nil {
		return err
	}
	if current.Status != models.RotationJobPaused {
		*job = *current
		return nil
	}

	return data.UpdateRotationJobStatus(s.db, job, models.RotationJobQueued)
}

// CancelRotationJob fails the job with a distinct cancelled error code. The
// job row is kept, preserving the audit trail; counters and report stay as
// the runner last committed them.
func (s *Service) CancelRotationJob(job *models.KeyRotationJob) error {
	current, err := data.GetRotationJob(s.db, data.ByID(job.ID))
	if err != nil {
		return err
	}
	if current.Terminal() {
		*job = *current
		return nil
	}

	if err := data.FailRotationJob(s.db, job, errorCodeCancelled, "rotation cancelled by operator"); err != nil {
		return err
	}

	s.emit(audit.Event{Action: audit.RotationFailed, TenantID: job.TenantID, JobID: job.ID, Reason: errorCodeCancelled})

	return nil
}
