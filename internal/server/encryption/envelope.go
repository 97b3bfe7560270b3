package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strongroomhq/strongroom/internal"
	"github.com/strongroomhq/strongroom/secrets"
	"github.com/strongroomhq/strongroom/uid"
)

// dekSize is the size of a data encryption key: AES-256.
const dekSize = 32

// tagSize is the AES-GCM authentication tag length. The tag is stored apart
// from the ciphertext.
const tagSize = 16

// Envelope is the result of encrypting one payload: everything needed to
// decrypt it later except the KEK, which stays with the provider.
type Envelope struct {
	TenantID     uid.ID
	ResourceType string
	ResourceID   string

	Provider   string
	KeyRef     string
	KeyVersion int

	WrappedDEK []byte
	Nonce      []byte
	Tag        []byte
	CipherText []byte

	// AAD is the exact associated data bytes, preserved so decryption does
	// not depend on rebuilding them identically.
	AAD      []byte
	Checksum string

	CreatedAt time.Time
}

// buildAAD produces canonical associated data binding the ciphertext to the
// tenant, the resource identity, and the key version. json.Marshal over a
// map emits keys in sorted order, which keeps the encoding canonical.
func buildAAD(tenantID uid.ID, resourceType, resourceID string, keyVersion int, createdAt time.Time) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"tenant_id":     tenantID.String(),
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"key_version":   keyVersion,
		"created_at":    createdAt.UTC().Format(time.RFC3339),
	})
}

// EncryptPayload encrypts plaintext under a fresh data encryption key and
// wraps that key with the provider. The ciphertext checksum is an integrity
// check independent of the AEAD tag, so storage corruption can be told apart
// from tampering.
func EncryptPayload(provider secrets.Provider, tenantID uid.ID, resourceType, resourceID string, plaintext []byte, keyRef string, keyVersion int, createdAt time.Time) (*Envelope, error) {
	dek, err := cryptoRandRead(dekSize)
	if err != nil {
		return nil, err
	}

	aad, err := buildAAD(tenantID, resourceType, resourceID, keyVersion, createdAt)
	if err != nil {
		return nil, fmt.Errorf("building aad: %w", err)
	}

	aesgcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}

	nonce, err := cryptoRandRead(aesgcm.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aesgcm.Seal(nil, nonce, plaintext, aad)
	cipherText := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	wrapped, err := provider.WrapKey(tenantID.String(), dek, keyRef)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapping data key: %s", internal.ErrKmsUnavailable, err)
	}

	sum := sha256.Sum256(cipherText)

	return &Envelope{
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Provider:     provider.Name(),
		KeyRef:       keyRef,
		KeyVersion:   keyVersion,
		WrappedDEK:   wrapped,
		Nonce:        nonce,
		Tag:          tag,
		CipherText:   cipherText,
		AAD:          aad,
		Checksum:     hex.EncodeToString(sum[:]),
		CreatedAt:    createdAt,
	}, nil
}

// DecryptPayload recovers the plaintext from env on behalf of tenantID.
// The stored checksum is verified before any cryptographic operation so
// storage corruption surfaces as ErrChecksumMismatch, distinct from the
// ErrDecryptionFailed raised by AEAD authentication.
func DecryptPayload(provider secrets.Provider, env *Envelope, tenantID uid.ID) ([]byte, error) {
	dek, err := provider.UnwrapKey(tenantID.String(), env.WrappedDEK, env.KeyRef)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrapping data key: %s", internal.ErrDecryptionFailed, err)
	}

	sum := sha256.Sum256(env.CipherText)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: stored ciphertext does not match its integrity hash", internal.ErrChecksumMismatch)
	}

	aesgcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.CipherText)+len(env.Tag))
	sealed = append(sealed, env.CipherText...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aesgcm.Open(nil, env.Nonce, sealed, env.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: opening seal: %s", internal.ErrDecryptionFailed, err)
	}

	// Open yields a nil slice for an empty plaintext
	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aesgcm, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return aesgcm, nil
}

// cryptoRandRead is a safe read from crypto/rand, checking errors and number of bytes read, erroring if we don't get enough
func cryptoRandRead(length int) ([]byte, error) {
	b := make([]byte, length)

	i, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("crypto/rand read: %w", err)
	}

	if i != length {
		return nil, fmt.Errorf("could not read %d random characters from crypto/rand, only got %d", length, i)
	}

	return b, nil
}
