package secrets

import (
	"encoding/base64"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

const VaultProviderName = "vault"

// ensure the interface is implemented properly
var _ Provider = &VaultProvider{}

// VaultProvider wraps data keys with Vault's transit engine. One transit key
// is created per (tenant, alias, version), so the KEK never leaves Vault.
type VaultProvider struct {
	VaultConfig
	client *vault.Client
}

type VaultConfig struct {
	TransitMount string `mapstructure:"transitMount"` // mounting point. defaults to /transit
	Token        string `mapstructure:"token"`
	Namespace    string `mapstructure:"namespace"`
	Address      string `mapstructure:"address"`
}

func NewVaultConfig() VaultConfig {
	return VaultConfig{
		TransitMount: "/transit",
		Address:      "https://vault",
	}
}

func NewVaultProviderFromConfig(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault requires an address and token", ErrNotConfigured)
	}

	c, err := vault.NewClient(&vault.Config{
		Address: cfg.Address,
	})
	if err != nil {
		return nil, err
	}

	c.SetToken(cfg.Token)

	if len(cfg.Namespace) > 0 {
		c.SetNamespace(cfg.Namespace)
	}

	if cfg.TransitMount == "" {
		cfg.TransitMount = "/transit"
	}

	return &VaultProvider{VaultConfig: cfg, client: c}, nil
}

func (v *VaultProvider) Name() string {
	return VaultProviderName
}

func (v *VaultProvider) BuildKeyRef(tenantID, keyAlias string, keyVersion int) string {
	return nameEscape(fmt.Sprintf("%s-%s-v%d", tenantID, keyAlias, keyVersion))
}

func (v *VaultProvider) WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error) {
	if err := v.ensureTransitKey(keyRef); err != nil {
		return nil, fmt.Errorf("vault: creating transit key: %w", err)
	}

	sec, err := v.client.Logical().Write(v.TransitMount+"/encrypt/"+keyRef, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(dek),
		"context":   base64.StdEncoding.EncodeToString([]byte(tenantID)),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: remote encrypt: %w", err)
	}

	if data, ok := sec.Data["ciphertext"].(string); ok {
		return []byte(data), nil
	}

	return nil, fmt.Errorf("vault: encrypt response has no ciphertext")
}

func (v *VaultProvider) UnwrapKey(tenantID string, wrapped []byte, keyRef string) ([]byte, error) {
	sec, err := v.client.Logical().Write(v.TransitMount+"/decrypt/"+keyRef, map[string]interface{}{
		"ciphertext": string(wrapped),
		"context":    base64.StdEncoding.EncodeToString([]byte(tenantID)),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: remote decrypt: %w", err)
	}

	if data, ok := sec.Data["plaintext"].(string); ok {
		return base64.StdEncoding.DecodeString(data)
	}

	return nil, fmt.Errorf("vault: decrypt response has no plaintext")
}

func (v *VaultProvider) ensureTransitKey(keyRef string) error {
	_, err := v.client.Logical().Write(v.TransitMount+"/keys/"+keyRef, map[string]interface{}{
		"convergent_encryption":  false,
		"derived":                true,
		"exportable":             false,
		"allow_plaintext_backup": false,
		"type":                   "aes256-gcm96",
	})

	return err
}

func nameEscape(name string) string {
	rpl := strings.NewReplacer(
		"/", "_",
		":", "_",
	)

	return rpl.Replace(name)
}
