package secrets

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
)

const AWSKMSProviderName = "awskms"

// ensure the interface is implemented properly
var _ Provider = &AWSKMSProvider{}

// AWSKMSProvider wraps data keys with a customer master key in AWS KMS. The
// tenant and key ref are bound through the encryption context, so a wrapped
// key can only be unwrapped with the same pair.
type AWSKMSProvider struct {
	kms       kmsiface.KMSAPI
	rootKeyID string
}

type AWSKMSConfig struct {
	KeyID string `mapstructure:"keyID"` // id or ARN of the customer master key
}

func NewAWSKMSProvider(kmssvc kmsiface.KMSAPI, rootKeyID string) (*AWSKMSProvider, error) {
	if kmssvc == nil || rootKeyID == "" {
		return nil, fmt.Errorf("%w: aws kms requires a client and a root key id", ErrNotConfigured)
	}

	return &AWSKMSProvider{kms: kmssvc, rootKeyID: rootKeyID}, nil
}

func (k *AWSKMSProvider) Name() string {
	return AWSKMSProviderName
}

func (k *AWSKMSProvider) BuildKeyRef(tenantID, keyAlias string, keyVersion int) string {
	// the CMK is shared; versioning lives in the encryption context
	return fmt.Sprintf("%s/%s/%s/v%d", k.rootKeyID, tenantID, keyAlias, keyVersion)
}

func (k *AWSKMSProvider) WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error) {
	out, err := k.kms.Encrypt(&kms.EncryptInput{
		KeyId:     aws.String(k.rootKeyID),
		Plaintext: dek,
		EncryptionContext: map[string]*string{
			"tenant_id": aws.String(tenantID),
			"key_ref":   aws.String(keyRef),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kms: wrap data key: %w", err)
	}

	return out.CiphertextBlob, nil
}

func (k *AWSKMSProvider) UnwrapKey(tenantID string, wrapped []byte, keyRef string) ([]byte, error) {
	out, err := k.kms.Decrypt(&kms.DecryptInput{
		KeyId:          aws.String(k.rootKeyID),
		CiphertextBlob: wrapped,
		EncryptionContext: map[string]*string{
			"tenant_id": aws.String(tenantID),
			"key_ref":   aws.String(keyRef),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kms: unwrap data key: %w", err)
	}

	return out.Plaintext, nil
}
