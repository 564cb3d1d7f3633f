package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// DeviceStore persists discovered devices. Ownership is indirect: a
// device belongs to whoever owns its credential profile, so every
// owner-scoped query joins through credential_profiles.
type DeviceStore struct {
	db *sqlx.DB
}

// deviceColumns casts ip_address (inet) back to text for scanning.
const deviceColumns = `
	d.id, d.hostname, host(d.ip_address) AS ip_address, d.device_type,
	d.os_info, d.credential_profile_id, d.status, d.last_seen,
	d.created_at, d.updated_at`

// InsertDiscovered upserts a device found by a scan. A rescan of a
// known (profile, ip) pair refreshes the facts instead of duplicating
// the row.
func (s *DeviceStore) InsertDiscovered(ctx context.Context, dev *model.Device) (*model.Device, error) {
	const q = `
		INSERT INTO devices (hostname, ip_address, device_type, os_info, credential_profile_id, status, last_seen)
		VALUES ($1, $2::inet, $3, $4, $5, 'online', $6)
		ON CONFLICT (credential_profile_id, ip_address) DO UPDATE
		SET hostname = EXCLUDED.hostname,
		    device_type = EXCLUDED.device_type,
		    os_info = EXCLUDED.os_info,
		    status = 'online',
		    last_seen = EXCLUDED.last_seen,
		    updated_at = now()
		RETURNING id, hostname, host(ip_address) AS ip_address, device_type,
		          os_info, credential_profile_id, status, last_seen,
		          created_at, updated_at`

	var out model.Device
	err := s.db.GetContext(ctx, &out, q,
		dev.Hostname, dev.IPAddress, dev.DeviceType, dev.OSInfo,
		dev.CredentialProfileID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("upserting device: %w", err)
	}
	return &out, nil
}

// GetForOwner fetches one device owned (via its profile) by owner.
func (s *DeviceStore) GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.Device, error) {
	q := `
		SELECT ` + deviceColumns + `
		FROM devices d
		JOIN credential_profiles cp ON cp.id = d.credential_profile_id
		WHERE d.id = $1 AND cp.created_by = $2`

	var dev model.Device
	err := s.db.GetContext(ctx, &dev, q, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("device %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching device: %w", err)
	}
	return &dev, nil
}

// ListForOwner returns the owner's devices ordered by IP.
func (s *DeviceStore) ListForOwner(ctx context.Context, owner uuid.UUID) ([]model.Device, error) {
	q := `
		SELECT ` + deviceColumns + `
		FROM devices d
		JOIN credential_profiles cp ON cp.id = d.credential_profile_id
		WHERE cp.created_by = $1
		ORDER BY d.ip_address`

	devices := []model.Device{}
	if err := s.db.SelectContext(ctx, &devices, q, owner); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// ListForProfile returns every device discovered under one credential
// profile. Discovery results reporting uses it after the job's
// ownership has been checked.
func (s *DeviceStore) ListForProfile(ctx context.Context, profileID uuid.UUID) ([]model.Device, error) {
	q := `
		SELECT ` + deviceColumns + `
		FROM devices d
		WHERE d.credential_profile_id = $1
		ORDER BY d.ip_address`

	devices := []model.Device{}
	if err := s.db.SelectContext(ctx, &devices, q, profileID); err != nil {
		return nil, fmt.Errorf("listing devices for profile: %w", err)
	}
	return devices, nil
}

// ListForOwnerByStatus filters the owner's devices by status.
func (s *DeviceStore) ListForOwnerByStatus(ctx context.Context, owner uuid.UUID, status model.DeviceStatus) ([]model.Device, error) {
	q := `
		SELECT ` + deviceColumns + `
		FROM devices d
		JOIN credential_profiles cp ON cp.id = d.credential_profile_id
		WHERE cp.created_by = $1 AND d.status = $2
		ORDER BY d.ip_address`

	devices := []model.Device{}
	if err := s.db.SelectContext(ctx, &devices, q, owner, status); err != nil {
		return nil, fmt.Errorf("listing devices by status: %w", err)
	}
	return devices, nil
}

// Search matches hostname or IP text against a case-insensitive
// substring.
func (s *DeviceStore) Search(ctx context.Context, owner uuid.UUID, term string) ([]model.Device, error) {
	q := `
		SELECT ` + deviceColumns + `
		FROM devices d
		JOIN credential_profiles cp ON cp.id = d.credential_profile_id
		WHERE cp.created_by = $1
		  AND (d.hostname ILIKE $2 OR host(d.ip_address) ILIKE $2)
		ORDER BY d.ip_address`

	devices := []model.Device{}
	if err := s.db.SelectContext(ctx, &devices, q, owner, "%"+term+"%"); err != nil {
		return nil, fmt.Errorf("searching devices: %w", err)
	}
	return devices, nil
}

// Update applies a partial update and returns the new row.
func (s *DeviceStore) Update(ctx context.Context, id, owner uuid.UUID, req model.DeviceUpdateRequest) (*model.Device, error) {
	// Ownership check first so a foreign id reads as not-found.
	if _, err := s.GetForOwner(ctx, id, owner); err != nil {
		return nil, err
	}

	const q = `
		UPDATE devices
		SET hostname = COALESCE($2, hostname),
		    device_type = COALESCE($3, device_type),
		    status = COALESCE($4, status),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, hostname, host(ip_address) AS ip_address, device_type,
		          os_info, credential_profile_id, status, last_seen,
		          created_at, updated_at`

	var dev model.Device
	err := s.db.GetContext(ctx, &dev, q, id, req.Hostname, req.DeviceType, req.Status)
	if err != nil {
		return nil, fmt.Errorf("updating device: %w", err)
	}
	return &dev, nil
}

// SetStatus flips one device's status; availability polling uses it.
func (s *DeviceStore) SetStatus(ctx context.Context, id uuid.UUID, status model.DeviceStatus, seen *time.Time) error {
	const q = `
		UPDATE devices
		SET status = $2, last_seen = COALESCE($3, last_seen), updated_at = now()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, status, seen)
	if err != nil {
		return fmt.Errorf("setting device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("device %s", id)
	}
	return nil
}

// Delete removes one device owned by owner.
func (s *DeviceStore) Delete(ctx context.Context, id, owner uuid.UUID) error {
	const q = `
		DELETE FROM devices d
		USING credential_profiles cp
		WHERE d.id = $1 AND cp.id = d.credential_profile_id AND cp.created_by = $2`

	res, err := s.db.ExecContext(ctx, q, id, owner)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("device %s", id)
	}
	return nil
}
