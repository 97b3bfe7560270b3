package secrets

import "fmt"

const GCPKMSProviderName = "gcpkms"

// GCPKMSProvider is an extension point for Google Cloud KMS. It is not
// implemented; selecting it fails with a clear configuration error.
type GCPKMSProvider struct{}

func (GCPKMSProvider) Name() string {
	return GCPKMSProviderName
}

func (GCPKMSProvider) BuildKeyRef(tenantID, keyAlias string, keyVersion int) string {
	return fmt.Sprintf("gcpkms/%s/%s/v%d", tenantID, keyAlias, keyVersion)
}

func (GCPKMSProvider) WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error) {
	return nil, fmt.Errorf("%w: gcp kms support is not implemented", ErrNotConfigured)
}

func (GCPKMSProvider) UnwrapKey(tenantID string, wrapped []byte, keyRef string) ([]byte, error) {
	return nil, fmt.Errorf("%w: gcp kms support is not implemented", ErrNotConfigured)
}
