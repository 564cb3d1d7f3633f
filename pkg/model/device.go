package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Device is a host known to the system, created by a successful SSH
// probe during discovery and updated by later scans or API calls.
type Device struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	Hostname            string         `db:"hostname" json:"hostname"` // "unknown" allowed
	IPAddress           string         `db:"ip_address" json:"ipAddress"`
	DeviceType          DeviceType     `db:"device_type" json:"deviceType"`
	OSInfo              types.JSONText `db:"os_info" json:"osInfo,omitempty"`
	CredentialProfileID uuid.UUID      `db:"credential_profile_id" json:"credentialProfileId"`
	Status              DeviceStatus   `db:"status" json:"status"`
	LastSeen            *time.Time     `db:"last_seen" json:"lastSeen,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updatedAt"`
}

// DeviceUpdateRequest carries a partial device update. Nil fields are
// left untouched.
type DeviceUpdateRequest struct {
	Hostname   *string `json:"hostname,omitempty" validate:"omitempty,min=1,max=255"`
	DeviceType *string `json:"deviceType,omitempty" validate:"omitempty,oneof=linux macos windows unknown"`
	Status     *string `json:"status,omitempty" validate:"omitempty,oneof=online offline unknown error"`
}
