package encryption

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/internal/server/audit"
	"github.com/strongroomhq/strongroom/internal/server/data"
	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/uid"
)

// GetActiveKey returns the tenant's active key for the default alias,
// creating version 1 transparently on first use. When two callers race the
// creation, the partial unique index picks a single winner and the loser
// re-reads it.
func (s *Service) GetActiveKey(tenantID uid.ID) (*models.TenantKey, error) {
	key, err := data.GetActiveTenantKey(s.db, tenantID, s.options.DefaultKeyAlias)
	switch {
	case err == nil:
		return key, nil
	case !errors.Is(err, internal.ErrNotFound):
		return nil, err
	}

	key, err = s.createFirstKey(tenantID)
	if err != nil {
		var uniqueErr data.UniqueConstraintError
		if errors.As(err, &uniqueErr) {
			// lost the creation race, the winner's key is in place
			return data.GetActiveTenantKey(s.db, tenantID, s.options.DefaultKeyAlias)
		}
		return nil, err
	}

	return key, nil
}

func (s *Service) createFirstKey(tenantID uid.ID) (*models.TenantKey, error) {
	provider, err := s.provider()
	if err != nil {
		return nil, err
	}

	alias := s.options.DefaultKeyAlias
	key := &models.TenantKey{
		TenantID:    tenantID,
		KeyAlias:    alias,
		KeyVersion:  1,
		Provider:    provider.Name(),
		KeyRef:      provider.BuildKeyRef(tenantID.String(), alias, 1),
		Status:      models.KeyStatusActive,
		ActivatedAt: time.Now(),
	}

	if err := data.CreateTenantKey(s.db, key); err != nil {
		return nil, err
	}

	s.emit(audit.Event{Action: audit.KeyCreated, TenantID: tenantID, KeyID: key.ID})
	s.emit(audit.Event{Action: audit.KeyActivated, TenantID: tenantID, KeyID: key.ID})

	return key, nil
}

// RotateKey supersedes the tenant's active key with a new version. The old
// key moves to retiring and the new key becomes active in one transaction.
// Retiring keys stay usable for decryption until a rotation job finishes
// migrating their blobs.
func (s *Service) RotateKey(tenantID uid.ID, actor, actorRole, reason string) (*models.TenantKey, error) {
	provider, err := s.provider()
	if err != nil {
		return nil, err
	}

	alias := s.options.DefaultKeyAlias

	var newKey *models.TenantKey
	err = s.db.Transaction(func(tx *gorm.DB) error {
		current, err := data.GetActiveTenantKey(tx, tenantID, alias)
		if err != nil {
			if errors.Is(err, internal.ErrNotFound) {
				return fmt.Errorf("tenant has no active key to rotate: %w", err)
			}
			return err
		}

		current.Status = models.KeyStatusRetiring
		if err := data.SaveTenantKey(tx, current); err != nil {
			return err
		}

		version := current.KeyVersion + 1
		newKey = &models.TenantKey{
			TenantID:    tenantID,
			KeyAlias:    alias,
			KeyVersion:  version,
			Provider:    provider.Name(),
			KeyRef:      provider.BuildKeyRef(tenantID.String(), alias, version),
			Status:      models.KeyStatusActive,
			ActivatedAt: time.Now(),
		}
		return data.CreateTenantKey(tx, newKey)
	})
	if err != nil {
		return nil, err
	}

	s.emit(audit.Event{
		Action:    audit.KeyCreated,
		TenantID:  tenantID,
		KeyID:     newKey.ID,
		Actor:     actor,
		ActorRole: actorRole,
		Reason:    reason,
	})
	s.emit(audit.Event{Action: audit.KeyActivated, TenantID: tenantID, KeyID: newKey.ID, Actor: actor})

	return newKey, nil
}
