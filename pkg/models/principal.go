package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Principal Types
// ============================================================================

// PrincipalType distinguishes users, groups, and service accounts.
type PrincipalType string

const (
	PrincipalTypeUser    PrincipalType = "USER"
	PrincipalTypeGroup   PrincipalType = "GROUP"
	PrincipalTypeService PrincipalType = "SERVICE"
)

// ValidPrincipalTypes contains all valid principal type values.
var ValidPrincipalTypes = []PrincipalType{
	PrincipalTypeUser,
	PrincipalTypeGroup,
	PrincipalTypeService,
}

// IsValidPrincipalType checks if the given type is valid.
func IsValidPrincipalType(t PrincipalType) bool {
	for _, v := range ValidPrincipalTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Principal is a user, group, or service account known to a tenant's
// directory. External id is immutable identity; display name may change.
type Principal struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    uuid.UUID     `json:"tenant_id"`
	Type        PrincipalType `json:"type"`
	ExternalID  string        `json:"external_id"`
	DisplayName string        `json:"display_name"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GroupMembership is a directed edge group_id -> member_principal_id.
// The member may itself be a group; the graph is expected to be a DAG but
// cycles are tolerated by the resolver.
type GroupMembership struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	GroupID           uuid.UUID `json:"group_id"`
	MemberPrincipalID uuid.UUID `json:"member_principal_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ============================================================================
// ACLs
// ============================================================================

// Rights is the access granted by a single ACL entry.
type Rights string

const (
	RightsRead      Rights = "R"
	RightsReadWrite Rights = "RW"
	RightsFull      Rights = "FULL"
)

// GrantsRead reports whether these rights include read access.
// All three rights levels imply read.
func (r Rights) GrantsRead() bool {
	return r == RightsRead || r == RightsReadWrite || r == RightsFull
}

// ACLSource records where an ACL entry came from. Provenance only; it does
// not change read semantics.
type ACLSource string

const (
	ACLSourceFile      ACLSource = "FILE"
	ACLSourceInherited ACLSource = "INHERITED"
)

// FileACLEntry is a raw, un-expanded ACL fact for a file. Many rows per
// file; group grants are expanded by the access resolver.
type FileACLEntry struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	FileID      uuid.UUID `json:"file_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	Rights      Rights    `json:"rights"`
	Source      ACLSource `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileEffectiveAccess is one derived row per (file, principal) with the
// fully group-expanded read verdict. Owned by the access resolver and
// replaced wholesale on every resolution run.
type FileEffectiveAccess struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	FileID      uuid.UUID `json:"file_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	CanRead     bool      `json:"can_read"`
	CreatedAt   time.Time `json:"created_at"`
}
