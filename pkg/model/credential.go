package model

import (
	"time"

	"github.com/google/uuid"
)

// CredentialProfile is an owner-scoped SSH credential bundle.
// PasswordEncrypted and PrivateKeyEncrypted hold AEAD ciphertext and are
// never serialized to JSON; the API surface emits neither ciphertext nor
// plaintext.
type CredentialProfile struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Username            string    `db:"username" json:"username"`
	PasswordEncrypted   string    `db:"password_encrypted" json:"-"`
	PrivateKeyEncrypted string    `db:"private_key_encrypted" json:"-"`
	Port                int       `db:"port" json:"port"`
	CreatedBy           uuid.UUID `db:"created_by" json:"createdBy"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// CredentialProfileRequest creates or replaces a profile.
type CredentialProfileRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=255"`
	Username   string `json:"username" validate:"required,min=1,max=255"`
	Password   string `json:"password" validate:"required"`
	PrivateKey string `json:"privateKey,omitempty"`
	Port       int    `json:"port" validate:"omitempty,min=1,max=65535"`
}

// CredentialProfileUpdate carries a partial update; nil fields are left
// untouched. Any non-id field may be updated.
type CredentialProfileUpdate struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Username   *string `json:"username,omitempty" validate:"omitempty,min=1,max=255"`
	Password   *string `json:"password,omitempty"`
	PrivateKey *string `json:"privateKey,omitempty"`
	Port       *int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// Credentials is the decrypted material handed to the SSH prober.
// It exists only inside discovery workers and is never persisted.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey string
	Port       int
}

// User is consumed (not owned) by this service: the auth layer reads it
// for login and registration.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
