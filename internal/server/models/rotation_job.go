package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strongroomhq/strongroom/uid"
)

type RotationJobStatus string

const (
	RotationJobQueued    RotationJobStatus = "queued"
	RotationJobRunning   RotationJobStatus = "running"
	RotationJobPaused    RotationJobStatus = "paused"
	RotationJobCompleted RotationJobStatus = "completed"
	RotationJobFailed    RotationJobStatus = "failed"
)

// RotationFailure records one blob the orchestrator could not migrate.
type RotationFailure struct {
	BlobID       uid.ID    `json:"blob_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Error        string    `json:"error"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RotationReport is the structured list of per-item failures, stored as a
// json column.
type RotationReport []RotationFailure

func (r RotationReport) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "[]", nil
	}

	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshalling rotation report: %w", err)
	}
	return string(b), nil
}

func (r *RotationReport) Scan(v interface{}) error {
	var raw []byte
	switch vv := v.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		raw = vv
	case string:
		raw = []byte(vv)
	default:
		return fmt.Errorf("unsupported type for rotation report: %T", v)
	}

	if len(raw) == 0 {
		*r = nil
		return nil
	}

	return json.Unmarshal(raw, r)
}

// KeyRotationJob is one re-encryption campaign that migrates every
// EncryptedBlob referencing FromKeyID onto ToKeyID.
//
// The partial unique index backs the "one pending job per tenant" invariant,
// mirroring the approach used for the active tenant key.
type KeyRotationJob struct {
	Model

	TenantID  uid.ID `gorm:"index:idx_rotation_jobs_tenant_pending,unique,where:status = 'queued' OR status = 'running' OR status = 'paused'"`
	FromKeyID uid.ID
	ToKeyID   uid.ID
	Status    RotationJobStatus

	TotalItems     int
	ProcessedItems int
	FailedItems    int

	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorCode    string
	ErrorMessage string
	Report       RotationReport
}

// Pending reports whether the job still occupies the tenant's rotation slot.
func (j *KeyRotationJob) Pending() bool {
	switch j.Status {
	case RotationJobQueued, RotationJobRunning, RotationJobPaused:
		return true
	}
	return false
}

// Terminal reports whether the job reached a final state.
func (j *KeyRotationJob) Terminal() bool {
	return j.Status == RotationJobCompleted || j.Status == RotationJobFailed
}
