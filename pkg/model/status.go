// Package model defines the domain types shared across the backend:
// devices, discovery jobs, credential profiles, and their status
// enumerations. Statuses are closed sets inside the core; raw strings
// are converted at the persistence and wire edges.
package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// JobStatus is the lifecycle state of a discovery job.
// Transitions are monotonic: pending → running → {completed, failed}.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ParseJobStatus converts a wire/db string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return JobStatus(s), nil
	}
	return "", util.InvalidArgumentf("unknown job status %q", s)
}

// IsTerminal returns true for states with no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

func (s JobStatus) String() string { return string(s) }

// Value implements driver.Valuer.
func (s JobStatus) Value() (driver.Value, error) { return string(s), nil }

// Scan implements sql.Scanner.
func (s *JobStatus) Scan(src interface{}) error {
	str, ok := src.(string)
	if !ok {
		if b, isBytes := src.([]byte); isBytes {
			str = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into JobStatus", src)
		}
	}
	parsed, err := ParseJobStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DeviceStatus is the monitoring state of a device.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceUnknown DeviceStatus = "unknown"
	DeviceError   DeviceStatus = "error"
)

// ParseDeviceStatus converts a wire/db string to a DeviceStatus.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	switch DeviceStatus(s) {
	case DeviceOnline, DeviceOffline, DeviceUnknown, DeviceError:
		return DeviceStatus(s), nil
	}
	return "", util.InvalidArgumentf("unknown device status %q", s)
}

func (s DeviceStatus) String() string { return string(s) }

// Value implements driver.Valuer.
func (s DeviceStatus) Value() (driver.Value, error) { return string(s), nil }

// Scan implements sql.Scanner.
func (s *DeviceStatus) Scan(src interface{}) error {
	str, ok := src.(string)
	if !ok {
		if b, isBytes := src.([]byte); isBytes {
			str = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into DeviceStatus", src)
		}
	}
	parsed, err := ParseDeviceStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DeviceType classifies a discovered host by operating system.
type DeviceType string

const (
	TypeLinux   DeviceType = "linux"
	TypeMacOS   DeviceType = "macos"
	TypeWindows DeviceType = "windows"
	TypeUnknown DeviceType = "unknown"
)

func (t DeviceType) String() string { return string(t) }

// Value implements driver.Valuer.
func (t DeviceType) Value() (driver.Value, error) { return string(t), nil }

// Scan implements sql.Scanner.
func (t *DeviceType) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*t = DeviceType(v)
	case []byte:
		*t = DeviceType(v)
	default:
		return fmt.Errorf("cannot scan %T into DeviceType", src)
	}
	return nil
}
