package encryption

import (
	"fmt"
	"time"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/logging"
	"github.com/strongroomhq/strongroom/internal/server/audit"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/metrics"
	"github.com/strongroomhq/strongroom/uid"
)

// StoreResult is the outcome of StoreEncryptedBlob. Exactly one of the two
// states holds: Blob is set when the payload was encrypted and persisted, or
// SkippedReason is set when the fail-open policy let the write proceed
// without encryption. Callers must not treat a skipped write as stored.
type StoreResult struct {
	Blob          *models.EncryptedBlob
	SkippedReason string
}

func (r StoreResult) Stored() bool {
	return r.Blob != nil
}

func (r StoreResult) Skipped() bool {
	return r.Blob == nil
}

// StoreEncryptedBlob encrypts plaintext for one resource under the tenant's
// active key and persists the result. When encryption is disabled or the
// KMS is unavailable the configured failure policy decides between a
// retryable error and an observable unencrypted write.
func (s *Service) StoreEncryptedBlob(tenantID uid.ID, resourceType, resourceID string, plaintext []byte, createdAt time.Time) (StoreResult, error) {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if !s.options.Enabled {
		return s.applyFailurePolicy(tenantID, resourceType, fmt.Errorf("encryption is disabled"))
	}

	provider, err := s.provider()
	if err != nil {
		return s.applyFailurePolicy(tenantID, resourceType, err)
	}

	key, err := s.GetActiveKey(tenantID)
	if err != nil {
		return s.applyFailurePolicy(tenantID, resourceType, err)
	}

	env, err := EncryptPayload(provider, tenantID, resourceType, resourceID, plaintext, key.KeyRef, key.KeyVersion, createdAt)
	if err != nil {
		metrics.EncryptionOperations.WithLabelValues("encrypt", "failure").Inc()
		return s.applyFailurePolicy(tenantID, resourceType, err)
	}

	blob := &models.EncryptedBlob{
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		KeyID:        key.ID,
		WrappedDEK:   env.WrappedDEK,
		Nonce:        env.Nonce,
		Tag:          env.Tag,
		AAD:          env.AAD,
		Checksum:     env.Checksum,
	}

	if s.options.externalResource(resourceType) && s.external != nil {
		locator, err := s.external.Write(tenantID, resourceType, resourceID, key.KeyVersion, env.CipherText)
		if err != nil {
			return StoreResult{}, err
		}
		blob.Locator = locator
	} else {
		blob.CipherText = env.CipherText
	}

	if err := data.CreateEncryptedBlob(s.db, blob); err != nil {
		return StoreResult{}, err
	}

	metrics.EncryptionOperations.WithLabelValues("encrypt", "success").Inc()

	return StoreResult{Blob: blob}, nil
}

// applyFailurePolicy resolves an unavailable-encryption condition. Sensitive
// resource types are always fail-closed when encryption is marked mandatory
// for them.
func (s *Service) applyFailurePolicy(tenantID uid.ID, resourceType string, cause error) (StoreResult, error) {
	if s.options.FailurePolicy == FailClosed ||
		(s.options.RequireForSensitive && s.options.sensitiveResource(resourceType)) {
		return StoreResult{}, fmt.Errorf("%w: %s", internal.ErrEncryptionRequired, cause)
	}

	metrics.BlobsStoredUnencrypted.Inc()
	logging.S.Warnf("storing %v unencrypted for tenant %v: %v", resourceType, tenantID, cause)
	s.emit(audit.Event{Action: audit.StoredUnencrypted, TenantID: tenantID, Reason: cause.Error()})

	return StoreResult{SkippedReason: cause.Error()}, nil
}

// GetEncryptedBlob looks up the stored blob for one resource.
func (s *Service) GetEncryptedBlob(tenantID uid.ID, resourceType, resourceID string) (*models.EncryptedBlob, error) {
	return data.GetEncryptedBlob(s.db, data.ByTenantID(tenantID), data.ByResource(resourceType, resourceID))
}

// DecryptBlob recovers the plaintext of a stored blob. Decryption is
// refused outright when the owning key has been revoked.
func (s *Service) DecryptBlob(blob *models.EncryptedBlob) ([]byte, error) {
	key, err := data.GetTenantKey(s.db, data.ByID(blob.KeyID), data.ByTenantID(blob.TenantID))
	if err != nil {
		return nil, fmt.Errorf("loading blob key: %w", err)
	}

	plaintext, err := s.decryptBlobWithKey(blob, key)
	if err != nil {
		metrics.EncryptionOperations.WithLabelValues("decrypt", "failure").Inc()
		return nil, err
	}

	metrics.EncryptionOperations.WithLabelValues("decrypt", "success").Inc()
	return plaintext, nil
}

func (s *Service) decryptBlobWithKey(blob *models.EncryptedBlob, key *models.TenantKey) ([]byte, error) {
	if !key.Usable() {
		return nil, fmt.Errorf("%w: key %v has status %v", internal.ErrKeyNotActive, key.ID, key.Status)
	}

	provider, err := s.providerFor(key.Provider)
	if err != nil {
		return nil, err
	}

	env, err := s.envelopeFromBlob(blob, key)
	if err != nil {
		return nil, err
	}

	return DecryptPayload(provider, env, blob.TenantID)
}

// envelopeFromBlob rebuilds the envelope from a stored row, reading the
// ciphertext from wherever it was placed.
func (s *Service) envelopeFromBlob(blob *models.EncryptedBlob, key *models.TenantKey) (*Envelope, error) {
	cipherText := blob.CipherText
	if blob.External() {
		if s.external == nil {
			return nil, fmt.Errorf("blob %v has external ciphertext but no external store is configured", blob.ID)
		}
		var err error
		cipherText, err = s.external.Read(blob.Locator)
		if err != nil {
			return nil, err
		}
	}

	return &Envelope{
		TenantID:     blob.TenantID,
		ResourceType: blob.ResourceType,
		ResourceID:   blob.ResourceID,
		Provider:     key.Provider,
		KeyRef:       key.KeyRef,
		KeyVersion:   key.KeyVersion,
		WrappedDEK:   blob.WrappedDEK,
		Nonce:        blob.Nonce,
		Tag:          blob.Tag,
		CipherText:   cipherText,
		AAD:          blob.AAD,
		Checksum:     blob.Checksum,
	}, nil
}
