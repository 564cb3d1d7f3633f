package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Postgres error codes the store reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// CredentialStore persists credential profiles. Secret columns hold
// AEAD ciphertext produced by the caller; the store never sees
// plaintext material.
type CredentialStore struct {
	db *sqlx.DB
}

// Create inserts a profile and returns the stored row.
func (s *CredentialStore) Create(ctx context.Context, p *model.CredentialProfile) (*model.CredentialProfile, error) {
	const q = `
		INSERT INTO credential_profiles (name, username, password_encrypted, private_key_encrypted, port, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, username, password_encrypted, private_key_encrypted,
		          port, created_by, created_at, updated_at`

	var out model.CredentialProfile
	err := s.db.GetContext(ctx, &out, q,
		p.Name, p.Username, p.PasswordEncrypted, p.PrivateKeyEncrypted, p.Port, p.CreatedBy)
	if isPgError(err, pgUniqueViolation) {
		return nil, fmt.Errorf("profile %q: %w", p.Name, util.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting credential profile: %w", err)
	}
	return &out, nil
}

// GetForOwner fetches one profile, scoped to its creator.
func (s *CredentialStore) GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.CredentialProfile, error) {
	const q = `
		SELECT id, name, username, password_encrypted, private_key_encrypted,
		       port, created_by, created_at, updated_at
		FROM credential_profiles
		WHERE id = $1 AND created_by = $2`

	var p model.CredentialProfile
	err := s.db.GetContext(ctx, &p, q, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("credential profile %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching credential profile: %w", err)
	}
	return &p, nil
}

// Get fetches one profile without an ownership predicate; discovery
// workers resolve credentials for a job this way.
func (s *CredentialStore) Get(ctx context.Context, id uuid.UUID) (*model.CredentialProfile, error) {
	const q = `
		SELECT id, name, username, password_encrypted, private_key_encrypted,
		       port, created_by, created_at, updated_at
		FROM credential_profiles
		WHERE id = $1`

	var p model.CredentialProfile
	err := s.db.GetContext(ctx, &p, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("credential profile %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching credential profile: %w", err)
	}
	return &p, nil
}

// ListForOwner returns the owner's profiles, newest first.
func (s *CredentialStore) ListForOwner(ctx context.Context, owner uuid.UUID) ([]model.CredentialProfile, error) {
	const q = `
		SELECT id, name, username, password_encrypted, private_key_encrypted,
		       port, created_by, created_at, updated_at
		FROM credential_profiles
		WHERE created_by = $1
		ORDER BY created_at DESC`

	profiles := []model.CredentialProfile{}
	if err := s.db.SelectContext(ctx, &profiles, q, owner); err != nil {
		return nil, fmt.Errorf("listing credential profiles: %w", err)
	}
	return profiles, nil
}

// Update applies a partial update; nil columns keep their value. Secret
// fields arrive already encrypted.
func (s *CredentialStore) Update(ctx context.Context, id, owner uuid.UUID, name, username, passwordEnc, keyEnc *string, port *int) (*model.CredentialProfile, error) {
	const q = `
		UPDATE credential_profiles
		SET name = COALESCE($3, name),
		    username = COALESCE($4, username),
		    password_encrypted = COALESCE($5, password_encrypted),
		    private_key_encrypted = COALESCE($6, private_key_encrypted),
		    port = COALESCE($7, port),
		    updated_at = now()
		WHERE id = $1 AND created_by = $2
		RETURNING id, name, username, password_encrypted, private_key_encrypted,
		          port, created_by, created_at, updated_at`

	var p model.CredentialProfile
	err := s.db.GetContext(ctx, &p, q, id, owner, name, username, passwordEnc, keyEnc, port)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("credential profile %s", id)
	}
	if isPgError(err, pgUniqueViolation) {
		return nil, fmt.Errorf("profile name taken: %w", util.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("updating credential profile: %w", err)
	}
	return &p, nil
}

// Delete removes a profile. Jobs and devices reference profiles with
// RESTRICT, so deleting one still in use surfaces as ErrInUse rather
// than cascading.
func (s *CredentialStore) Delete(ctx context.Context, id, owner uuid.UUID) error {
	const q = `DELETE FROM credential_profiles WHERE id = $1 AND created_by = $2`

	res, err := s.db.ExecContext(ctx, q, id, owner)
	if isPgError(err, pgForeignKeyViolation) {
		return util.NewInUseError("credential profile "+id.String(), "discovery jobs or devices")
	}
	if err != nil {
		return fmt.Errorf("deleting credential profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NotFoundf("credential profile %s", id)
	}
	return nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
