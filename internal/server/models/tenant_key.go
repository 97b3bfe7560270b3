package models

import (
	"time"

	"github.com/strongroomhq/strongroom/uid"
)

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRetiring KeyStatus = "retiring"
	KeyStatusRetired  KeyStatus = "retired"
)

// TenantKey is one version of a tenant's envelope encryption key. The key
// material itself lives with the KMS provider; KeyRef is the opaque handle
// the provider uses to locate the KEK.
//
// The partial unique index enforces the "at most one active key per
// (tenant, alias)" invariant at the storage layer, so concurrent creation
// attempts resolve to a single winner.
type TenantKey struct {
	Model

	TenantID   uid.ID `gorm:"index:idx_tenant_keys_tenant_alias_active,unique,where:status = 'active'"`
	KeyAlias   string `gorm:"index:idx_tenant_keys_tenant_alias_active,unique,where:status = 'active'"`
	KeyVersion int
	Provider   string
	KeyRef     string
	Status     KeyStatus

	ActivatedAt time.Time
	RetiredAt   *time.Time
}

// Usable reports whether blobs encrypted under this key may still be
// decrypted. Any status outside the known lifecycle means the key was
// revoked.
func (k *TenantKey) Usable() bool {
	switch k.Status {
	case KeyStatusActive, KeyStatusRetiring, KeyStatusRetired:
		return true
	}
	return false
}
