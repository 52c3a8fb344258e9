package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// AccessRepository stores the derived effective-access rows produced by the
// access resolver. Rows for a file are always replaced as a set; partial
// updates would leave stale verdicts behind.
type AccessRepository interface {
	// ReplaceForFile swaps the file's effective-access rows wholesale with
	// one can_read=true row per reader principal.
	ReplaceForFile(ctx context.Context, fileID uuid.UUID, tenantID uuid.UUID, readerIDs []uuid.UUID) error

	ListForFile(ctx context.Context, fileID uuid.UUID) ([]models.FileEffectiveAccess, error)

	// CountReadable returns how many principals can read the file.
	CountReadable(ctx context.Context, fileID uuid.UUID) (int, error)
}

type accessRepository struct{}

// NewAccessRepository creates a new AccessRepository.
func NewAccessRepository() AccessRepository {
	return &accessRepository{}
}

var _ AccessRepository = (*accessRepository)(nil)

func (r *accessRepository) ReplaceForFile(ctx context.Context, fileID uuid.UUID, tenantID uuid.UUID, readerIDs []uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM file_effective_access WHERE file_id = $1 AND tenant_id = $2`, fileID, scope.TenantID); err != nil {
		return fmt.Errorf("failed to clear effective access: %w", err)
	}
	if len(readerIDs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(readerIDs))
	for _, principalID := range readerIDs {
		rows = append(rows, []any{uuid.New(), tenantID, fileID, principalID, true})
	}

	_, err := scope.Q().CopyFrom(ctx,
		pgx.Identifier{"file_effective_access"},
		[]string{"id", "tenant_id", "file_id", "principal_id", "can_read"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert effective access: %w", err)
	}
	return nil
}

func (r *accessRepository) ListForFile(ctx context.Context, fileID uuid.UUID) ([]models.FileEffectiveAccess, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, file_id, principal_id, can_read, created_at
		FROM file_effective_access WHERE file_id = $1 AND tenant_id = $2 ORDER BY principal_id`

	rows, err := scope.Q().Query(ctx, query, fileID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list effective access: %w", err)
	}
	defer rows.Close()

	var access []models.FileEffectiveAccess
	for rows.Next() {
		var a models.FileEffectiveAccess
		if err := rows.Scan(&a.ID, &a.TenantID, &a.FileID, &a.PrincipalID, &a.CanRead, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan effective access: %w", err)
		}
		access = append(access, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating effective access: %w", err)
	}
	return access, nil
}

func (r *accessRepository) CountReadable(ctx context.Context, fileID uuid.UUID) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var count int
	err := scope.Q().QueryRow(ctx,
		`SELECT COUNT(*) FROM file_effective_access WHERE file_id = $1 AND tenant_id = $2 AND can_read`,
		fileID, scope.TenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count readable principals: %w", err)
	}
	return count, nil
}
