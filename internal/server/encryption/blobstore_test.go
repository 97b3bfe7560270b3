package encryption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/uid"
)

func TestStoreAndDecryptBlob(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()
	plaintext := []byte("backup manifest: 42 objects")

	result, err := svc.StoreEncryptedBlob(tenantID, "backup_manifest", "backup-7", plaintext, time.Time{})
	require.NoError(t, err)
	require.True(t, result.Stored())

	blob := result.Blob
	assert.False(t, blob.External())
	assert.NotEmpty(t, blob.CipherText)
	assert.NotEqual(t, plaintext, blob.CipherText)
	assert.NotEmpty(t, blob.Checksum)

	got, err := svc.DecryptBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestStoreEncryptedBlobExternalPlacement(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()
	plaintext := make([]byte, 64*1024)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	result, err := svc.StoreEncryptedBlob(tenantID, "audio", "call-31", plaintext, time.Time{})
	require.NoError(t, err)
	require.True(t, result.Stored())

	// large binary resource types keep ciphertext out of the row
	blob := result.Blob
	assert.True(t, blob.External())
	assert.Empty(t, blob.CipherText)

	stored, err := svc.external.Read(blob.Locator)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	got, err := svc.DecryptBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestStoreEncryptedBlobFailClosed(t *testing.T) {
	svc := setupService(t, func(o *Options) {
		o.Enabled = false
		o.FailurePolicy = FailClosed
	})

	_, err := svc.StoreEncryptedBlob(uid.New(), "backup_manifest", "backup-1", []byte("data"), time.Time{})
	assert.ErrorIs(t, err, internal.ErrEncryptionRequired)
}

func TestStoreEncryptedBlobFailOpen(t *testing.T) {
	svc := setupService(t, func(o *Options) {
		o.Enabled = false
		o.FailurePolicy = FailOpen
		o.RequireForSensitive = false
	})

	result, err := svc.StoreEncryptedBlob(uid.New(), "backup_manifest", "backup-1", []byte("data"), time.Time{})
	require.NoError(t, err)

	assert.True(t, result.Skipped())
	assert.False(t, result.Stored())
	assert.NotEmpty(t, result.SkippedReason)
}

func TestStoreEncryptedBlobFailOpenStillProtectsSensitiveTypes(t *testing.T) {
	svc := setupService(t, func(o *Options) {
		o.Enabled = false
		o.FailurePolicy = FailOpen
		o.RequireForSensitive = true
	})

	_, err := svc.StoreEncryptedBlob(uid.New(), "dsar_export", "export-1", []byte("data"), time.Time{})
	assert.ErrorIs(t, err, internal.ErrEncryptionRequired)
}

func TestStoreEncryptedBlobUnconfiguredProvider(t *testing.T) {
	svc := setupService(t, func(o *Options) {
		o.Provider = "awskms" // not registered
	})

	_, err := svc.StoreEncryptedBlob(uid.New(), "backup_manifest", "backup-1", []byte("data"), time.Time{})
	assert.ErrorIs(t, err, internal.ErrEncryptionRequired)
}

func TestGetEncryptedBlob(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	result, err := svc.StoreEncryptedBlob(tenantID, "backup_manifest", "backup-9", []byte("data"), time.Time{})
	require.NoError(t, err)

	blob, err := svc.GetEncryptedBlob(tenantID, "backup_manifest", "backup-9")
	require.NoError(t, err)
	assert.Equal(t, result.Blob.ID, blob.ID)

	_, err = svc.GetEncryptedBlob(tenantID, "backup_manifest", "missing")
	assert.ErrorIs(t, err, internal.ErrNotFound)

	// blobs are tenant scoped
	_, err = svc.GetEncryptedBlob(uid.New(), "backup_manifest", "backup-9")
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestDecryptBlobRefusesRevokedKey(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	result, err := svc.StoreEncryptedBlob(tenantID, "backup_manifest", "backup-2", []byte("data"), time.Time{})
	require.NoError(t, err)

	key, err := data.GetTenantKey(svc.db, data.ByID(result.Blob.KeyID))
	require.NoError(t, err)
	key.Status = models.KeyStatus("revoked")
	require.NoError(t, data.SaveTenantKey(svc.db, key))

	_, err = svc.DecryptBlob(result.Blob)
	assert.ErrorIs(t, err, internal.ErrKeyNotActive)
}

func TestDecryptBlobChecksumDrift(t *testing.T) {
	svc := setupService(t)
	tenantID := uid.New()

	result, err := svc.StoreEncryptedBlob(tenantID, "backup_manifest", "backup-3", []byte("data"), time.Time{})
	require.NoError(t, err)

	blob := result.Blob
	blob.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, data.SaveEncryptedBlob(svc.db, blob))

	_, err = svc.DecryptBlob(blob)
	assert.ErrorIs(t, err, internal.ErrChecksumMismatch)
}
