// Package audit records who changed what through the API. Events are
// appended as JSON lines to a rotating file; reads happen with grep,
// not through the API.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of change.
type Action string

const (
	ActionRegister        Action = "auth.register"
	ActionLogin           Action = "auth.login"
	ActionDiscoveryStart  Action = "discovery.start"
	ActionDiscoveryCancel Action = "discovery.cancel"
	ActionProfileCreate   Action = "credential.create"
	ActionProfileUpdate   Action = "credential.update"
	ActionProfileDelete   Action = "credential.delete"
	ActionDeviceUpdate    Action = "device.update"
	ActionDeviceDelete    Action = "device.delete"
)

// Event is one audited operation. Resource naming is free-form
// ("credential_profile", "discovery_job", ...); ResourceID is empty
// when the operation failed before a resource existed.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	User       string    `json:"user"`
	Action     Action    `json:"action"`
	Resource   string    `json:"resource,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
}

// NewEvent stamps a fresh event.
func NewEvent(user string, action Action) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		User:      user,
		Action:    action,
		Success:   true,
	}
}

// Failed marks the event as unsuccessful with the cause.
func (e *Event) Failed(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
