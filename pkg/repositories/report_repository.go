package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// ReportRepository serves the read side: posture reports assembled with
// joins across the derived tables. Queries here never mutate.
type ReportRepository interface {
	// FindSensitiveDocuments lists documents that have at least one
	// finding, optionally filtered by sensitivity type and minimum level,
	// ordered by exposure score descending.
	FindSensitiveDocuments(ctx context.Context, filter models.SensitivityType, minLevel models.SensitivityLevel, limit int) ([]models.SensitiveDocument, error)

	// SearchChunks does a case-insensitive substring search over chunk
	// text for non-deleted files.
	SearchChunks(ctx context.Context, term string, limit int) ([]models.ChunkHit, error)

	// CountEntities returns file, document, chunk, finding, and
	// high-exposure totals for the tenant.
	CountEntities(ctx context.Context) (files, documents, chunks, findings, highExposure int, err error)
}

type reportRepository struct{}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository() ReportRepository {
	return &reportRepository{}
}

var _ ReportRepository = (*reportRepository)(nil)

func (r *reportRepository) FindSensitiveDocuments(ctx context.Context, filter models.SensitivityType, minLevel models.SensitivityLevel, limit int) ([]models.SensitiveDocument, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	// Level ordering lives in SQL so the filter and the max aggregate
	// agree: LOW=1, MEDIUM=2, HIGH=3.
	query := `
		WITH ranked AS (
			SELECT sf.document_id,
			       COUNT(*) AS finding_count,
			       MAX(CASE sf.sensitivity_level
			           WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END) AS max_rank
			FROM sensitivity_finding sf
			WHERE sf.tenant_id = $1
			  AND ($2 = '' OR sf.sensitivity_type = $2)
			  AND (CASE sf.sensitivity_level
			       WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END) >= $3
			GROUP BY sf.document_id
		)
		SELECT d.id, d.file_id, d.title, f.relative_path, s.name,
		       ranked.finding_count,
		       CASE ranked.max_rank WHEN 3 THEN 'HIGH' WHEN 2 THEN 'MEDIUM' ELSE 'LOW' END,
		       COALESCE(de.exposure_level, 'LOW'),
		       COALESCE(de.exposure_score, 0)
		FROM ranked
		JOIN document d ON d.id = ranked.document_id
		JOIN file f ON f.id = d.file_id
		JOIN share s ON s.id = f.share_id
		LEFT JOIN document_exposure de ON de.document_id = d.id
		WHERE NOT f.deleted
		ORDER BY COALESCE(de.exposure_score, 0) DESC, ranked.max_rank DESC, d.title
		LIMIT $4`

	minRank := minLevel.Rank()
	if minRank == 0 {
		minRank = 1
	}

	rows, err := scope.Q().Query(ctx, query, scope.TenantID, string(filter), minRank, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitive documents: %w", err)
	}
	defer rows.Close()

	var docs []models.SensitiveDocument
	for rows.Next() {
		var d models.SensitiveDocument
		if err := rows.Scan(
			&d.DocumentID, &d.FileID, &d.Title, &d.RelativePath, &d.ShareName,
			&d.FindingCount, &d.MaxLevel, &d.ExposureLevel, &d.ExposureScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sensitive document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sensitive documents: %w", err)
	}
	return docs, nil
}

func (r *reportRepository) SearchChunks(ctx context.Context, term string, limit int) ([]models.ChunkHit, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	// The term is a literal substring, not a pattern: escape LIKE
	// metacharacters so "100%" does not match "100x".
	query := `
		SELECT c.id, c.document_id, d.title, c.chunk_index, c.text
		FROM chunk c
		JOIN document d ON d.id = c.document_id
		JOIN file f ON f.id = d.file_id
		WHERE c.tenant_id = $1
		  AND NOT f.deleted
		  AND c.text ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER BY d.title, c.chunk_index
		LIMIT $3`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID, escapeLikeTerm(term), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var hits []models.ChunkHit
	for rows.Next() {
		var h models.ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Title, &h.ChunkIndex, &h.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunk hits: %w", err)
	}
	return hits, nil
}

func (r *reportRepository) CountEntities(ctx context.Context) (files, documents, chunks, findings, highExposure int, err error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, 0, 0, 0, 0, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM file WHERE tenant_id = $1 AND NOT deleted),
			(SELECT COUNT(*) FROM document WHERE tenant_id = $1),
			(SELECT COUNT(*) FROM chunk WHERE tenant_id = $1),
			(SELECT COUNT(*) FROM sensitivity_finding WHERE tenant_id = $1),
			(SELECT COUNT(*) FROM document_exposure WHERE tenant_id = $1 AND exposure_level = 'HIGH')`

	err = scope.Q().QueryRow(ctx, query, scope.TenantID).Scan(&files, &documents, &chunks, &findings, &highExposure)
	if err != nil {
		return 0, 0, 0, 0, 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return files, documents, chunks, findings, highExposure, nil
}

// escapeLikeTerm neutralizes %, _, and the escape character itself so a
// search term matches literally inside an ILIKE pattern.
func escapeLikeTerm(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
