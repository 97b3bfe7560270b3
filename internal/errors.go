package internal

import (
	"fmt"
)

var (
	ErrNotFound  = fmt.Errorf("record not found")
	ErrDuplicate = fmt.Errorf("duplicate record")

	// ErrKmsUnavailable indicates the key management backend could not be
	// constructed or a backend call failed. Callers may retry.
	ErrKmsUnavailable = fmt.Errorf("kms unavailable")

	// ErrEncryptionRequired indicates a write was blocked by the fail-closed
	// policy because the payload could not be encrypted.
	ErrEncryptionRequired = fmt.Errorf("encryption required")

	// ErrKeyNotActive indicates the referenced tenant key has been revoked
	// and can no longer be used for decryption.
	ErrKeyNotActive = fmt.Errorf("key is not active")

	// ErrChecksumMismatch indicates stored ciphertext failed its integrity
	// hash. It is detected before any cryptographic operation, so it points
	// at storage corruption rather than tampering.
	ErrChecksumMismatch = fmt.Errorf("ciphertext checksum mismatch")

	// ErrDecryptionFailed indicates AEAD authentication failed: wrong key,
	// tampered ciphertext, or tampered associated data.
	ErrDecryptionFailed = fmt.Errorf("decryption failed")

	ErrRotationInProgress = fmt.Errorf("a key rotation is already in progress for this tenant")
	ErrRotationFailed     = fmt.Errorf("rotation finished with failed items")
)
