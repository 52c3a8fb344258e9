package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// DocumentRepository provides data access for documents and everything
// derived from them: chunks, sensitivity findings, and the exposure verdict.
// Chunks and findings are replaced wholesale per document; re-running a
// pipeline stage converges on the same rows instead of accumulating.
type DocumentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetByFileID(ctx context.Context, fileID uuid.UUID) (*models.Document, error)

	// Upsert creates or refreshes the document keyed on its file and
	// returns the stored row.
	Upsert(ctx context.Context, doc *models.Document) (*models.Document, error)

	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)

	ReplaceFindings(ctx context.Context, documentID uuid.UUID, findings []models.SensitivityFinding) error
	ListFindings(ctx context.Context, documentID uuid.UUID) ([]models.SensitivityFinding, error)

	UpsertExposure(ctx context.Context, exposure *models.DocumentExposure) error
	GetExposure(ctx context.Context, documentID uuid.UUID) (*models.DocumentExposure, error)
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `id, tenant_id, file_id, title, file_type, size_bytes,
	       last_indexed_at, content_hash, created_at`

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + documentColumns + ` FROM document WHERE id = $1 AND tenant_id = $2`
	return scanDocument(scope.Q().QueryRow(ctx, query, id, scope.TenantID))
}

func (r *documentRepository) GetByFileID(ctx context.Context, fileID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + documentColumns + ` FROM document WHERE file_id = $1 AND tenant_id = $2`
	return scanDocument(scope.Q().QueryRow(ctx, query, fileID, scope.TenantID))
}

func (r *documentRepository) Upsert(ctx context.Context, doc *models.Document) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	query := `
		INSERT INTO document (id, tenant_id, file_id, title, file_type, size_bytes, last_indexed_at, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, file_id) DO UPDATE SET
			title = EXCLUDED.title,
			file_type = EXCLUDED.file_type,
			size_bytes = EXCLUDED.size_bytes,
			last_indexed_at = EXCLUDED.last_indexed_at,
			content_hash = EXCLUDED.content_hash
		RETURNING ` + documentColumns

	stored, err := scanDocument(scope.Q().QueryRow(ctx, query,
		doc.ID, doc.TenantID, doc.FileID, doc.Title, doc.FileType,
		doc.SizeBytes, doc.LastIndexedAt, doc.ContentHash,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	return stored, nil
}

func (r *documentRepository) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	// Findings reference chunks; ON DELETE CASCADE clears any stale ones.
	if _, err := scope.Q().Exec(ctx, `DELETE FROM chunk WHERE document_id = $1 AND tenant_id = $2`, documentID, scope.TenantID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(chunks))
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows = append(rows, []any{id, c.TenantID, documentID, c.ChunkIndex, c.Text, c.CharStart, c.CharEnd})
	}

	_, err := scope.Q().CopyFrom(ctx,
		pgx.Identifier{"chunk"},
		[]string{"id", "tenant_id", "document_id", "chunk_index", "text", "char_start", "char_end"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (r *documentRepository) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, document_id, chunk_index, text, char_start, char_end, created_at
		FROM chunk WHERE document_id = $1 AND tenant_id = $2 ORDER BY chunk_index`

	rows, err := scope.Q().Query(ctx, query, documentID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.CharStart, &c.CharEnd, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

func (r *documentRepository) ReplaceFindings(ctx context.Context, documentID uuid.UUID, findings []models.SensitivityFinding) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM sensitivity_finding WHERE document_id = $1 AND tenant_id = $2`, documentID, scope.TenantID); err != nil {
		return fmt.Errorf("failed to clear findings: %w", err)
	}
	if len(findings) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(findings))
	for _, f := range findings {
		id := f.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows = append(rows, []any{id, f.TenantID, documentID, f.ChunkID, string(f.SensitivityType), string(f.SensitivityLevel), f.Snippet})
	}

	_, err := scope.Q().CopyFrom(ctx,
		pgx.Identifier{"sensitivity_finding"},
		[]string{"id", "tenant_id", "document_id", "chunk_id", "sensitivity_type", "sensitivity_level", "snippet"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert findings: %w", err)
	}
	return nil
}

func (r *documentRepository) ListFindings(ctx context.Context, documentID uuid.UUID) ([]models.SensitivityFinding, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, document_id, chunk_id, sensitivity_type, sensitivity_level, snippet, created_at
		FROM sensitivity_finding WHERE document_id = $1 AND tenant_id = $2 ORDER BY created_at, id`

	rows, err := scope.Q().Query(ctx, query, documentID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []models.SensitivityFinding
	for rows.Next() {
		var f models.SensitivityFinding
		if err := rows.Scan(&f.ID, &f.TenantID, &f.DocumentID, &f.ChunkID, &f.SensitivityType, &f.SensitivityLevel, &f.Snippet, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return findings, nil
}

func (r *documentRepository) UpsertExposure(ctx context.Context, exposure *models.DocumentExposure) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if exposure.ID == uuid.Nil {
		exposure.ID = uuid.New()
	}

	summary, err := json.Marshal(exposure.AccessSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal access summary: %w", err)
	}

	query := `
		INSERT INTO document_exposure (id, tenant_id, document_id, exposure_level, exposure_score, access_summary)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, document_id) DO UPDATE SET
			exposure_level = EXCLUDED.exposure_level,
			exposure_score = EXCLUDED.exposure_score,
			access_summary = EXCLUDED.access_summary`

	_, err = scope.Q().Exec(ctx, query,
		exposure.ID, exposure.TenantID, exposure.DocumentID,
		exposure.ExposureLevel, exposure.ExposureScore, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert exposure: %w", err)
	}
	return nil
}

func (r *documentRepository) GetExposure(ctx context.Context, documentID uuid.UUID) (*models.DocumentExposure, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, document_id, exposure_level, exposure_score, access_summary, created_at
		FROM document_exposure WHERE document_id = $1 AND tenant_id = $2`

	var e models.DocumentExposure
	var summary []byte
	err := scope.Q().QueryRow(ctx, query, documentID, scope.TenantID).Scan(
		&e.ID, &e.TenantID, &e.DocumentID, &e.ExposureLevel, &e.ExposureScore, &summary, &e.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exposure: %w", err)
	}
	if err := json.Unmarshal(summary, &e.AccessSummary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access summary: %w", err)
	}
	return &e, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.FileID, &d.Title, &d.FileType, &d.SizeBytes,
		&d.LastIndexedAt, &d.ContentHash, &d.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &d, nil
}
