package models

import (
	"time"

	"github.com/google/uuid"
)

// SensitiveDocument is one row of the "where is sensitive data exposed"
// report: a document, its worst finding, and its exposure verdict.
type SensitiveDocument struct {
	DocumentID    uuid.UUID        `json:"document_id"`
	FileID        uuid.UUID        `json:"file_id"`
	Title         string           `json:"title"`
	RelativePath  string           `json:"relative_path"`
	ShareName     string           `json:"share_name"`
	FindingCount  int              `json:"finding_count"`
	MaxLevel      SensitivityLevel `json:"max_level"`
	ExposureLevel ExposureLevel    `json:"exposure_level"`
	ExposureScore int              `json:"exposure_score"`
}

// ChunkHit is one chunk matched by a text search, with enough document
// context to display it.
type ChunkHit struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
}

// DashboardMetrics is the tenant-level posture snapshot.
type DashboardMetrics struct {
	FileCount         int         `json:"file_count"`
	DocumentCount     int         `json:"document_count"`
	ChunkCount        int         `json:"chunk_count"`
	FindingCount      int         `json:"finding_count"`
	HighExposureCount int         `json:"high_exposure_count"`
	Jobs              []JobCounts `json:"jobs"`
	GeneratedAt       time.Time   `json:"generated_at"`
}

// DocumentDetail is the full drill-down view of one document.
type DocumentDetail struct {
	Document *Document            `json:"document"`
	File     *File                `json:"file"`
	Chunks   []Chunk              `json:"chunks"`
	Findings []SensitivityFinding `json:"findings"`
	Exposure *DocumentExposure    `json:"exposure,omitempty"`
}
