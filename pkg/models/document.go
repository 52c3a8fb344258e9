package models

import (
	"time"

	"github.com/google/uuid"
)

// Document holds the current extracted content metadata for a file.
// One per file; chunks are replaced wholesale whenever it is re-indexed.
type Document struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	FileID        uuid.UUID `json:"file_id"`
	Title         string    `json:"title"`
	FileType      string    `json:"file_type"`
	SizeBytes     int64     `json:"size_bytes"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chunk is one contiguous span of a document's normalized text.
// chunk_index is zero-based and unique per document; (char_start, char_end)
// delimit the span in the normalized source text.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	CreatedAt  time.Time `json:"created_at"`
}

// ============================================================================
// Sensitivity
// ============================================================================

// SensitivityType is the category of sensitive data detected in a chunk.
type SensitivityType string

const (
	SensitivityPersonalData  SensitivityType = "PERSONAL_DATA"
	SensitivityHealthData    SensitivityType = "HEALTH_DATA"
	SensitivityFinancialData SensitivityType = "FINANCIAL_DATA"
	SensitivitySecrets       SensitivityType = "SECRETS"
	SensitivityOther         SensitivityType = "OTHER"
)

// ValidSensitivityTypes contains all valid sensitivity type values.
var ValidSensitivityTypes = []SensitivityType{
	SensitivityPersonalData,
	SensitivityHealthData,
	SensitivityFinancialData,
	SensitivitySecrets,
	SensitivityOther,
}

// SensitivityLevel grades a finding.
type SensitivityLevel string

const (
	SensitivityLow    SensitivityLevel = "LOW"
	SensitivityMedium SensitivityLevel = "MEDIUM"
	SensitivityHigh   SensitivityLevel = "HIGH"
)

// Rank returns an ordinal for level comparison: LOW=1, MEDIUM=2, HIGH=3,
// anything else 0.
func (l SensitivityLevel) Rank() int {
	switch l {
	case SensitivityLow:
		return 1
	case SensitivityMedium:
		return 2
	case SensitivityHigh:
		return 3
	default:
		return 0
	}
}

// SensitivityFinding is one detected instance of a sensitive-data category
// within a document, optionally pinned to the chunk it was found in.
// Findings for a document are cleared and rewritten on every enrichment run.
type SensitivityFinding struct {
	ID               uuid.UUID        `json:"id"`
	TenantID         uuid.UUID        `json:"tenant_id"`
	DocumentID       uuid.UUID        `json:"document_id"`
	ChunkID          *uuid.UUID       `json:"chunk_id,omitempty"`
	SensitivityType  SensitivityType  `json:"sensitivity_type"`
	SensitivityLevel SensitivityLevel `json:"sensitivity_level"`
	Snippet          string           `json:"snippet"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ============================================================================
// Exposure
// ============================================================================

// ExposureLevel is the coarse band derived from the exposure score.
type ExposureLevel string

const (
	ExposureLow    ExposureLevel = "LOW"
	ExposureMedium ExposureLevel = "MEDIUM"
	ExposureHigh   ExposureLevel = "HIGH"
)

// AccessSummary is the human-readable digest of who can read a document:
// up to a handful of broad group names plus a bucketed principal count.
type AccessSummary struct {
	BroadGroups          []string `json:"broad_groups"`
	PrincipalCountBucket string   `json:"principal_count_bucket"`
}

// DocumentExposure is the bounded exposure verdict for a document.
// Exactly one row per document; recomputation upserts.
type DocumentExposure struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      uuid.UUID     `json:"tenant_id"`
	DocumentID    uuid.UUID     `json:"document_id"`
	ExposureLevel ExposureLevel `json:"exposure_level"`
	ExposureScore int           `json:"exposure_score"` // 0..100
	AccessSummary AccessSummary `json:"access_summary"`
	CreatedAt     time.Time     `json:"created_at"`
}
