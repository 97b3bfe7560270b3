package encryption

// FailurePolicy decides what happens to a write when encryption is
// unavailable.
type FailurePolicy string

const (
	// FailClosed rejects the write with a retryable error. Data loss is
	// avoided at the cost of availability.
	FailClosed FailurePolicy = "fail-closed"

	// FailOpen lets the write proceed without encryption and counts it.
	// Availability is preserved at the cost of a compliance gap.
	FailOpen FailurePolicy = "fail-open"
)

type Options struct {
	// Enabled turns artifact encryption on. When false every store falls
	// through to the failure policy.
	Enabled bool `mapstructure:"enabled"`

	// Provider selects the KMS backend: local, vault, awskms, gcpkms.
	Provider string `mapstructure:"provider"`

	// MasterKey is the local provider's master key material, hex or base64.
	MasterKey string `mapstructure:"masterKey"`

	// RequireForSensitive marks encryption as mandatory for sensitive
	// resource types regardless of the failure policy.
	RequireForSensitive bool `mapstructure:"requireForSensitive"`

	FailurePolicy FailurePolicy `mapstructure:"failurePolicy"`

	RotationBatchSize int `mapstructure:"rotationBatchSize"`

	DefaultKeyAlias string `mapstructure:"defaultKeyAlias"`

	// ExternalResourceTypes lists the resource types whose ciphertext is
	// written to external storage instead of the database row.
	ExternalResourceTypes []string `mapstructure:"externalResourceTypes"`

	// SensitiveResourceTypes lists the resource types covered by
	// RequireForSensitive.
	SensitiveResourceTypes []string `mapstructure:"sensitiveResourceTypes"`

	// ExternalStorePath is the root directory for externally stored
	// ciphertext.
	ExternalStorePath string `mapstructure:"externalStorePath"`

	AuditBufferSize int `mapstructure:"auditBufferSize"`
}

func DefaultOptions() Options {
	return Options{
		Enabled:                true,
		Provider:               "local",
		FailurePolicy:          FailClosed,
		RotationBatchSize:      100,
		DefaultKeyAlias:        "default",
		ExternalResourceTypes:  []string{"audio"},
		SensitiveResourceTypes: []string{"audio", "dsar_export", "backup_manifest"},
		ExternalStorePath:      "blobs",
		AuditBufferSize:        256,
	}
}

func (o Options) externalResource(resourceType string) bool {
	for _, t := range o.ExternalResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

func (o Options) sensitiveResource(resourceType string) bool {
	for _, t := range o.SensitiveResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}
