package models

import (
	"time"

	"github.com/google/uuid"
)

// File is the scanned-share view of a single file. Identity is
// (share_id, relative_path), unique per tenant. Files are soft-deleted:
// the row survives while derived documents still reference it.
type File struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	ShareID      uuid.UUID `json:"share_id"`
	RelativePath string    `json:"relative_path"`
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size_bytes"`
	MTime        time.Time `json:"mtime"`
	FileType     string    `json:"file_type"` // declared MIME type
	ContentHash  string    `json:"content_hash"`
	ACLHash      string    `json:"acl_hash"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Deleted      bool      `json:"deleted"`
	CreatedAt    time.Time `json:"created_at"`
}

// ============================================================================
// File Events
// ============================================================================

// FileEventType identifies what a scanning agent observed on a share.
type FileEventType string

const (
	FileEventDiscovered FileEventType = "FILE_DISCOVERED"
	FileEventModified   FileEventType = "FILE_MODIFIED"
	FileEventDeleted    FileEventType = "FILE_DELETED"
	FileEventACLChanged FileEventType = "ACL_CHANGED"
)

// ValidFileEventTypes contains all valid event type values.
var ValidFileEventTypes = []FileEventType{
	FileEventDiscovered,
	FileEventModified,
	FileEventDeleted,
	FileEventACLChanged,
}

// IsValidFileEventType checks if the given type is valid.
func IsValidFileEventType(t FileEventType) bool {
	for _, v := range ValidFileEventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ACLEntryInput is a raw ACL fact reported alongside a file event.
// Principals are identified by their external id; unknown principals are
// created on ingestion.
type ACLEntryInput struct {
	PrincipalExternalID  string        `json:"principal_external_id"`
	PrincipalDisplayName string        `json:"principal_display_name,omitempty"`
	PrincipalType        PrincipalType `json:"principal_type,omitempty"`
	Rights               Rights        `json:"rights"`
	Source               ACLSource     `json:"source,omitempty"`
}

// FileEvent is a single observation from a scanning agent: a file was
// discovered, modified, deleted, or its ACL changed.
type FileEvent struct {
	Type         FileEventType   `json:"type"`
	ShareName    string          `json:"share_name"`
	RelativePath string          `json:"relative_path"`
	SizeBytes    int64           `json:"size_bytes,omitempty"`
	MTime        *time.Time      `json:"mtime,omitempty"`
	FileType     string          `json:"file_type,omitempty"`
	ContentHash  string          `json:"content_hash,omitempty"`
	ACLHash      string          `json:"acl_hash,omitempty"`
	ACLEntries   []ACLEntryInput `json:"acl_entries,omitempty"`
}
