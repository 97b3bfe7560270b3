package encryption

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/secrets"
	"github.com/strongroomhq/strongroom/uid"
)

// hookProvider wraps the local provider so tests can observe or fail
// individual wrap calls. It keeps the local provider's name so keys created
// through the service resolve back to it.
type hookProvider struct {
	*secrets.LocalProvider
	onWrap func() error
}

func (p *hookProvider) WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error) {
	if p.onWrap != nil {
		if err := p.onWrap(); err != nil {
			return nil, err
		}
	}
	return p.LocalProvider.WrapKey(tenantID, dek, keyRef)
}

func setupRotation(t *testing.T, svc *Service, tenantID uid.ID, blobs int) (fromKey, toKey *models.TenantKey, plaintexts map[string][]byte) {
	t.Helper()

	plaintexts = make(map[string][]byte, blobs)
	for i := 0; i < blobs; i++ {
		resourceID := fmt.Sprintf("r%d", i)
		plaintexts[resourceID] = []byte(fmt.Sprintf("payload %d", i))

		result, err := svc.StoreEncryptedBlob(tenantID, "backup_manifest", resourceID, plaintexts[resourceID], time.Time{})
		require.NoError(t, err)
		require.True(t, result.Stored())
	}

	fromKey, err := svc.GetActiveKey(tenantID)
	require.NoError(t, err)

	toKey, err = svc.RotateKey(tenantID, "admin@example.com", "admin", "test rotation")
	require.NoError(t, err)

	return fromKey, toKey, plaintexts
}

func TestRotationJobRunsToCompletion(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	// the concrete scenario: a 10 KB payload moves from v1 to v2 intact
	payload := make([]byte, 10*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	result, err := svc.StoreEncryptedBlob(tenantID, "dsar_export", "r1", payload, time.Time{})
	require.NoError(t, err)

	fromKey, err := svc.GetActiveKey(tenantID)
	require.NoError(t, err)
	toKey, err := svc.RotateKey(tenantID, "admin@example.com", "admin", "scenario")
	require.NoError(t, err)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RotationJobQueued, job.Status)

	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))

	assert.Equal(t, models.RotationJobCompleted, job.Status)
	assert.Equal(t, 1, job.TotalItems)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Equal(t, 0, job.FailedItems)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	// no blob references the old key anymore
	pending, err := data.CountEncryptedBlobsForKey(svc.db, fromKey.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)

	// the old key retired on the clean-completion path
	old, err := data.GetTenantKey(svc.db, data.ByID(fromKey.ID))
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusRetired, old.Status)
	assert.NotNil(t, old.RetiredAt)

	// the blob now belongs to the new key and decrypts to the original bytes
	blob, err := svc.GetEncryptedBlob(tenantID, "dsar_export", "r1")
	require.NoError(t, err)
	assert.Equal(t, toKey.ID, blob.KeyID)
	assert.NotEqual(t, result.Blob.Checksum, blob.Checksum)

	got, err := svc.DecryptBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// the same envelope on behalf of another tenant fails
	newKey, err := data.GetTenantKey(svc.db, data.ByID(blob.KeyID))
	require.NoError(t, err)
	env, err := svc.envelopeFromBlob(blob, newKey)
	require.NoError(t, err)

	provider, err := svc.provider()
	require.NoError(t, err)
	_, err = DecryptPayload(provider, env, uid.New())
	assert.ErrorIs(t, err, internal.ErrDecryptionFailed)
}

func TestRotationJobMigratesExternalBlobs(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	audio := make([]byte, 32*1024)
	stored, err := svc.StoreEncryptedBlob(tenantID, "audio", "call-5", audio, time.Time{})
	require.NoError(t, err)
	oldLocator := stored.Blob.Locator

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 2)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 2))

	assert.Equal(t, models.RotationJobCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedItems)

	blob, err := svc.GetEncryptedBlob(tenantID, "audio", "call-5")
	require.NoError(t, err)
	assert.True(t, blob.External())
	assert.Equal(t, toKey.ID, blob.KeyID)

	// the new key version got its own file and the superseded one is gone
	assert.NotEqual(t, oldLocator, blob.Locator)
	_, err = svc.external.Read(oldLocator)
	assert.Error(t, err)

	got, err := svc.DecryptBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestExternalBlobSurvivesStagedRewrite(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	audio := make([]byte, 4*1024)
	stored, err := svc.StoreEncryptedBlob(tenantID, "audio", "call-9", audio, time.Time{})
	require.NoError(t, err)

	// a migration that never commits its row update leaves a staged file
	// behind; the ciphertext the row points at must be untouched
	_, err = svc.external.Write(tenantID, "audio", "call-9", 2, []byte("ciphertext under the next key version"))
	require.NoError(t, err)

	got, err := svc.DecryptBlob(stored.Blob)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestRotationJobIsTenantScoped(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()
	otherTenant := uid.New()

	otherResult, err := svc.StoreEncryptedBlob(otherTenant, "backup_manifest", "r1", []byte("other tenant data"), time.Time{})
	require.NoError(t, err)
	otherKey := otherResult.Blob.KeyID

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 3)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 2))

	// the other tenant's blob was not touched
	blob, err := svc.GetEncryptedBlob(otherTenant, "backup_manifest", "r1")
	require.NoError(t, err)
	assert.Equal(t, otherKey, blob.KeyID)

	got, err := svc.DecryptBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("other tenant data"), got)
}

func TestCreateRotationJobConflict(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 1)

	_, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	_, err = svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	assert.ErrorIs(t, err, internal.ErrRotationInProgress)

	// another tenant is unaffected
	otherTenant := uid.New()
	otherFrom, otherTo, _ := setupRotation(t, svc, otherTenant, 1)
	_, err = svc.CreateRotationJob(otherTenant, otherFrom.ID, otherTo.ID)
	assert.NoError(t, err)
}

func TestRotationJobPartialFailure(t *testing.T) {
	provider := &hookProvider{LocalProvider: localProvider(t)}
	svc := setupServiceWithProvider(t, provider)
	tenantID := uid.New()

	fromKey, toKey, plaintexts := setupRotation(t, svc, tenantID, 4)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	// fail re-wrapping for every second blob
	var wraps int
	provider.onWrap = func() error {
		wraps++
		if wraps%2 == 0 {
			return fmt.Errorf("kms backend unavailable")
		}
		return nil
	}

	err = svc.RunRotationJob(context.Background(), job, 2)
	assert.ErrorIs(t, err, internal.ErrRotationFailed)

	assert.Equal(t, models.RotationJobFailed, job.Status)
	assert.Equal(t, 4, job.TotalItems)
	assert.Equal(t, 2, job.ProcessedItems)
	assert.Equal(t, 2, job.FailedItems)
	assert.Len(t, job.Report, 2)
	for _, failure := range job.Report {
		assert.Contains(t, failure.Error, "kms backend unavailable")
	}

	// the old key is NOT retired while failed blobs still reference it
	old, err := data.GetTenantKey(svc.db, data.ByID(fromKey.ID))
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusRetiring, old.Status)
	assert.Nil(t, old.RetiredAt)

	// failed blobs stay fully decryptable under the original key
	provider.onWrap = nil
	remaining, err := data.ListEncryptedBlobBatch(svc.db, fromKey.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	for i := range remaining {
		got, err := svc.DecryptBlob(&remaining[i])
		require.NoError(t, err)
		assert.Equal(t, plaintexts[remaining[i].ResourceID], got)
	}
}

func TestRotationJobPauseAndResume(t *testing.T) {
	provider := &hookProvider{LocalProvider: localProvider(t)}
	svc := setupServiceWithProvider(t, provider)
	tenantID := uid.New()

	fromKey, toKey, plaintexts := setupRotation(t, svc, tenantID, 3)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	// request a stop after the first item; the orchestrator honors it at
	// the next batch boundary
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider.onWrap = func() error {
		cancel()
		return nil
	}

	require.NoError(t, svc.RunRotationJob(ctx, job, 1))
	assert.Equal(t, models.RotationJobPaused, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
	firstProcessed := job.ProcessedItems

	// a paused job is a no-op to run
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 1))
	assert.Equal(t, models.RotationJobPaused, job.Status)
	assert.Equal(t, firstProcessed, job.ProcessedItems)

	// resume and finish
	provider.onWrap = nil
	require.NoError(t, svc.ResumeRotationJob(job))
	assert.Equal(t, models.RotationJobQueued, job.Status)

	require.NoError(t, svc.RunRotationJob(context.Background(), job, 1))
	assert.Equal(t, models.RotationJobCompleted, job.Status)

	// processed count is monotonically non-decreasing and nothing was
	// migrated twice
	assert.Equal(t, 3, job.ProcessedItems)
	assert.Equal(t, 3, job.TotalItems)

	for resourceID, plaintext := range plaintexts {
		blob, err := svc.GetEncryptedBlob(tenantID, "backup_manifest", resourceID)
		require.NoError(t, err)
		assert.Equal(t, toKey.ID, blob.KeyID)

		got, err := svc.DecryptBlob(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestRunRotationJobHonorsExternalCancel(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, plaintexts := setupRotation(t, svc, tenantID, 2)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	// cancel through a second loaded copy, as another process would
	other, err := data.GetRotationJob(svc.db, data.ByID(job.ID))
	require.NoError(t, err)
	require.NoError(t, svc.CancelRotationJob(other))

	// running with the stale pre-cancel handle must not resurrect the job
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))

	assert.Equal(t, models.RotationJobFailed, job.Status)
	assert.Equal(t, "cancelled", job.ErrorCode)

	reloaded, err := data.GetRotationJob(svc.db, data.ByID(job.ID))
	require.NoError(t, err)
	assert.Equal(t, models.RotationJobFailed, reloaded.Status)
	assert.Equal(t, "cancelled", reloaded.ErrorCode)

	// nothing was migrated and the old key stays usable
	remaining, err := data.CountEncryptedBlobsForKey(svc.db, fromKey.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	old, err := data.GetTenantKey(svc.db, data.ByID(fromKey.ID))
	require.NoError(t, err)
	assert.Equal(t, models.KeyStatusRetiring, old.Status)
	assert.Nil(t, old.RetiredAt)

	blobs, err := data.ListEncryptedBlobBatch(svc.db, fromKey.ID, 0, 10)
	require.NoError(t, err)
	for i := range blobs {
		got, err := svc.DecryptBlob(&blobs[i])
		require.NoError(t, err)
		assert.Equal(t, plaintexts[blobs[i].ResourceID], got)
	}
}

func TestPauseRotationJobPreservesRunnerProgress(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 1)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	// a control handle loaded before the runner commits any progress
	stale, err := data.GetRotationJob(svc.db, data.ByID(job.ID))
	require.NoError(t, err)

	// the runner commits a batch
	job.Status = models.RotationJobRunning
	job.ProcessedItems = 2
	job.TotalItems = 3
	job.Report = models.RotationReport{{ResourceType: "audio", ResourceID: "call-1", Error: "kms backend unavailable"}}
	job.FailedItems = 1
	require.NoError(t, data.SaveRotationJob(svc.db, job))

	// pausing from the stale handle signals the stop without clobbering
	// the committed counters
	require.NoError(t, svc.PauseRotationJob(stale))

	reloaded, err := data.GetRotationJob(svc.db, data.ByID(job.ID))
	require.NoError(t, err)
	assert.Equal(t, models.RotationJobPaused, reloaded.Status)
	assert.Equal(t, 2, reloaded.ProcessedItems)
	assert.Equal(t, 3, reloaded.TotalItems)
	assert.Equal(t, 1, reloaded.FailedItems)
	assert.Len(t, reloaded.Report, 1)
}

func TestPauseRotationJobTransitions(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 1)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	require.NoError(t, svc.PauseRotationJob(job))
	assert.Equal(t, models.RotationJobPaused, job.Status)

	// pausing still occupies the tenant's rotation slot
	_, err = svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	assert.ErrorIs(t, err, internal.ErrRotationInProgress)

	require.NoError(t, svc.ResumeRotationJob(job))
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))
	require.Equal(t, models.RotationJobCompleted, job.Status)

	// terminal jobs ignore pause
	require.NoError(t, svc.PauseRotationJob(job))
	assert.Equal(t, models.RotationJobCompleted, job.Status)
}

func TestRunRotationJobIsIdempotentOnTerminalStates(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 1)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))
	require.Equal(t, models.RotationJobCompleted, job.Status)

	completedAt := *job.CompletedAt
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))
	assert.Equal(t, models.RotationJobCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.WithinDuration(t, completedAt, *job.CompletedAt, time.Second)
}

func TestCancelRotationJob(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, toKey, _ := setupRotation(t, svc, tenantID, 1)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CancelRotationJob(job))
	assert.Equal(t, models.RotationJobFailed, job.Status)
	assert.Equal(t, "cancelled", job.ErrorCode)

	// cancelled jobs are no-ops for run and cancel
	require.NoError(t, svc.RunRotationJob(context.Background(), job, 10))
	require.NoError(t, svc.CancelRotationJob(job))

	// the tenant's rotation slot is free again
	_, err = svc.CreateRotationJob(tenantID, fromKey.ID, toKey.ID)
	assert.NoError(t, err)
}

func TestRunRotationJobMissingTargetKey(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	fromKey, _, _ := setupRotation(t, svc, tenantID, 1)

	job, err := svc.CreateRotationJob(tenantID, fromKey.ID, uid.New())
	require.NoError(t, err)

	err = svc.RunRotationJob(context.Background(), job, 10)
	assert.ErrorIs(t, err, internal.ErrRotationFailed)
	assert.Equal(t, models.RotationJobFailed, job.Status)
	assert.Equal(t, "target_key_missing", job.ErrorCode)
}
