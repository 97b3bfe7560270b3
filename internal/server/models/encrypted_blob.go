package models

import (
	"github.com/strongroomhq/strongroom/uid"
)

// EncryptedBlob is one encrypted artifact. CipherText is stored inline for
// small resource types; large binary resource types keep the ciphertext in
// external storage and record a Locator instead.
//
// Checksum is an independent SHA-256 over the ciphertext, separate from the
// AEAD tag, so storage corruption is distinguishable from tampering.
type EncryptedBlob struct {
	Model

	TenantID     uid.ID `gorm:"index:idx_encrypted_blobs_resource,unique"`
	ResourceType string `gorm:"index:idx_encrypted_blobs_resource,unique"`
	ResourceID   string `gorm:"index:idx_encrypted_blobs_resource,unique"`

	// KeyID references the owning TenantKey. The rotation orchestrator
	// scans by this column, so it carries its own index.
	KeyID uid.ID `gorm:"index:idx_encrypted_blobs_key_id"`

	WrappedDEK []byte `gorm:"column:wrapped_dek"`
	Nonce      []byte
	Tag        []byte
	CipherText []byte
	Locator    string

	// AAD is the exact associated data bytes used during encryption.
	AAD      []byte `gorm:"column:aad_json"`
	Checksum string `gorm:"column:checksum_sha256"`
}

// External reports whether the ciphertext lives outside the database.
func (b *EncryptedBlob) External() bool {
	return b.Locator != ""
}
