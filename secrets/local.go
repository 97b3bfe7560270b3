package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const LocalProviderName = "local"

// fallbackSeed derives the insecure default master key when no material is
// configured. Anyone with this constant can unwrap keys, so the fallback is
// only acceptable for development.
const fallbackSeed = "strongroom-local-master-key"

var ErrInsecureMasterKey = errors.New("local kms is using the built-in master key, configure master key material for production")

// LocalProvider is a production-capable provider for self-hosted deployments
// without an external KMS. Each (tenant, keyRef) pair gets its own KEK,
// derived as HMAC-SHA256(master, "tenant:keyRef"). Derivation is stateless
// and deterministic, so no KEK is ever persisted.
type LocalProvider struct {
	masterKey []byte
	insecure  bool
}

func NewLocalProvider(masterKey []byte) (*LocalProvider, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("local kms master key must be at least 16 bytes, got %d", len(masterKey))
	}
	return &LocalProvider{masterKey: masterKey}, nil
}

// NewLocalProviderFromConfig builds a LocalProvider from configured key
// material, accepted as hex or base64. Empty material falls back to a
// deterministic development key; callers must check Insecure and refuse
// that in production.
func NewLocalProviderFromConfig(material string) (*LocalProvider, error) {
	if material == "" {
		sum := sha256.Sum256([]byte(fallbackSeed))
		return &LocalProvider{masterKey: sum[:], insecure: true}, nil
	}

	key, err := hex.DecodeString(material)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(material)
		if err != nil {
			return nil, fmt.Errorf("master key material is neither hex nor base64: %w", err)
		}
	}

	return NewLocalProvider(key)
}

// Insecure reports whether the provider runs on the built-in fallback key.
func (p *LocalProvider) Insecure() bool {
	return p.insecure
}

func (p *LocalProvider) Name() string {
	return LocalProviderName
}

func (p *LocalProvider) BuildKeyRef(tenantID, keyAlias string, keyVersion int) string {
	return fmt.Sprintf("local/%s/%s/v%d", tenantID, keyAlias, keyVersion)
}

// kek derives the key-encryption key for one tenant and key ref.
func (p *LocalProvider) kek(tenantID, keyRef string) []byte {
	mac := hmac.New(sha256.New, p.masterKey)
	mac.Write([]byte(tenantID + ":" + keyRef))
	return mac.Sum(nil)
}

func (p *LocalProvider) WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error) {
	aesgcm, err := newGCM(p.kek(tenantID, keyRef))
	if err != nil {
		return nil, err
	}

	nonce, err := cryptoRandRead(aesgcm.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aad := []byte(tenantID + ":" + keyRef)
	sealed := aesgcm.Seal(nil, nonce, dek, aad)

	// stored value is nonce followed by the sealed key
	return append(nonce, sealed...), nil
}

func (p *LocalProvider) UnwrapKey(tenantID string, wrapped []byte, keyRef string) ([]byte, error) {
	aesgcm, err := newGCM(p.kek(tenantID, keyRef))
	if err != nil {
		return nil, err
	}

	if len(wrapped) <= aesgcm.NonceSize() {
		return nil, fmt.Errorf("wrapped key is too short")
	}

	nonce, sealed := wrapped[:aesgcm.NonceSize()], wrapped[aesgcm.NonceSize():]
	aad := []byte(tenantID + ":" + keyRef)

	dek, err := aesgcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("unwrapping data key: %w", err)
	}

	return dek, nil
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
