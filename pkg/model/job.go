package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// DiscoveryJob is one scan request and its lifecycle record.
type DiscoveryJob struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Status              JobStatus      `db:"status" json:"status"`
	TargetRange         string         `db:"target_range" json:"targetRange"`
	CredentialProfileID uuid.UUID      `db:"credential_profile_id" json:"credentialProfileId"`
	Results             types.JSONText `db:"results" json:"results,omitempty"`
	StartedAt           *time.Time     `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	CreatedBy           uuid.UUID      `db:"created_by" json:"createdBy"`
	CreatedAt           time.Time      `db:"created_at" json:"createdAt"`
}

// DiscoveryRequest is the payload accepted by the start operation.
type DiscoveryRequest struct {
	Name                string `json:"name" validate:"required,min=1,max=255"`
	TargetRange         string `json:"targetRange" validate:"required"`
	CredentialProfileID string `json:"credentialProfileId" validate:"required,uuid4|uuid"`
}

// JobSummary is the completion summary written into the job row.
type JobSummary struct {
	TotalIPsScanned   int      `json:"totalIpsScanned"`
	DevicesDiscovered int      `json:"devicesDiscovered"`
	Devices           []string `json:"devices"`
}

// Encode marshals the summary to the JSON stored in the results column.
func (s JobSummary) Encode() types.JSONText {
	b, _ := json.Marshal(s)
	return types.JSONText(b)
}

// FailureSummary records an orchestration-level failure.
type FailureSummary struct {
	Error    string `json:"error"`
	FailedAt string `json:"failedAt"` // ISO 8601
}

// Encode marshals the failure summary.
func (s FailureSummary) Encode() types.JSONText {
	b, _ := json.Marshal(s)
	return types.JSONText(b)
}

// NewFailureSummary builds a failure summary stamped with now.
func NewFailureSummary(msg string, now time.Time) FailureSummary {
	return FailureSummary{Error: msg, FailedAt: now.UTC().Format(time.RFC3339)}
}

// CancelMarker is merged into the results column when a job is
// cancelled, before the status flips to failed.
type CancelMarker struct {
	Cancelled   bool   `json:"cancelled"`
	CancelledAt string `json:"cancelled_at"` // ISO 8601
}

// NewCancelMarker builds a cancellation marker stamped with now.
func NewCancelMarker(now time.Time) CancelMarker {
	return CancelMarker{Cancelled: true, CancelledAt: now.UTC().Format(time.RFC3339)}
}

// Encode marshals the cancel marker.
func (m CancelMarker) Encode() types.JSONText {
	b, _ := json.Marshal(m)
	return types.JSONText(b)
}
