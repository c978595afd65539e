package auth

import "time"

const (
	IdentityStatusActive   = "active"
	IdentityStatusDisabled = "disabled"
)

// Identity represents a human or service account. The Name is the login
// handle and is immutable once created.
type Identity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialRecord is the stored one-way transform of an identity's
// credential. The encoded hash embeds the per-record random salt; Algorithm
// tags which hashing primitive produced it so verification can dispatch on
// it. Records are never deleted while the identity exists: a password change
// supersedes the active record and keeps the old row for audit.
type CredentialRecord struct {
	ID           string     `json:"id"`
	IdentityID   string     `json:"identity_id"`
	Hash         string     `json:"-"`
	Algorithm    string     `json:"algorithm"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// Role groups permissions under a name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability identified by Key.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Assignment gives an identity a role.
type Assignment struct {
	IdentityID string    `json:"identity_id"`
	RoleID     string    `json:"role_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEntry is an append-only record of a security-relevant action.
type AuditEntry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	ActorID    string            `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}
