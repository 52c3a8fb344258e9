package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation unit. Every other entity is scoped to
// exactly one tenant; cross-tenant references are rejected at the service
// layer and by RLS policies in the database.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Estate is an organizational grouping of shares within a tenant.
type Estate struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Share is a mounted file-storage root scanned for files.
type Share struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	EstateID  uuid.UUID `json:"estate_id"`
	Name      string    `json:"name"`
	ShareType string    `json:"share_type"` // e.g. "SMB"
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
}
