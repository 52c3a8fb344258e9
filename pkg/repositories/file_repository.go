package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// FileRepository provides data access for files and their raw ACL entries.
type FileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	GetByPath(ctx context.Context, shareID uuid.UUID, relativePath string) (*models.File, error)

	// Upsert creates or refreshes the file row keyed on (share, relative
	// path) and returns the stored row. Re-observing a file clears any
	// prior soft delete.
	Upsert(ctx context.Context, file *models.File) (*models.File, error)

	// SoftDelete marks the file deleted while keeping the row and its
	// derived documents intact.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// ReplaceACLEntries swaps the file's raw ACL rows wholesale.
	ReplaceACLEntries(ctx context.Context, fileID uuid.UUID, entries []models.FileACLEntry) error

	ListACLEntries(ctx context.Context, fileID uuid.UUID) ([]models.FileACLEntry, error)
}

type fileRepository struct{}

// NewFileRepository creates a new FileRepository.
func NewFileRepository() FileRepository {
	return &fileRepository{}
}

var _ FileRepository = (*fileRepository)(nil)

const fileColumns = `id, tenant_id, share_id, relative_path, name, size_bytes,
	       mtime, file_type, content_hash, acl_hash, last_seen_at, deleted, created_at`

func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + fileColumns + ` FROM file WHERE id = $1 AND tenant_id = $2`
	return scanFile(scope.Q().QueryRow(ctx, query, id, scope.TenantID))
}

func (r *fileRepository) GetByPath(ctx context.Context, shareID uuid.UUID, relativePath string) (*models.File, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + fileColumns + ` FROM file WHERE share_id = $1 AND relative_path = $2 AND tenant_id = $3`
	return scanFile(scope.Q().QueryRow(ctx, query, shareID, relativePath, scope.TenantID))
}

func (r *fileRepository) Upsert(ctx context.Context, file *models.File) (*models.File, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	if file.LastSeenAt.IsZero() {
		file.LastSeenAt = time.Now()
	}

	query := `
		INSERT INTO file (id, tenant_id, share_id, relative_path, name, size_bytes,
		                  mtime, file_type, content_hash, acl_hash, last_seen_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
		ON CONFLICT (tenant_id, share_id, relative_path) DO UPDATE SET
			name = EXCLUDED.name,
			size_bytes = EXCLUDED.size_bytes,
			mtime = EXCLUDED.mtime,
			file_type = EXCLUDED.file_type,
			content_hash = EXCLUDED.content_hash,
			acl_hash = EXCLUDED.acl_hash,
			last_seen_at = EXCLUDED.last_seen_at,
			deleted = false
		RETURNING ` + fileColumns

	stored, err := scanFile(scope.Q().QueryRow(ctx, query,
		file.ID, file.TenantID, file.ShareID, file.RelativePath, file.Name,
		file.SizeBytes, file.MTime, file.FileType, file.ContentHash,
		file.ACLHash, file.LastSeenAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert file: %w", err)
	}
	return stored, nil
}

func (r *fileRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `UPDATE file SET deleted = true, last_seen_at = now() WHERE id = $1 AND tenant_id = $2`
	result, err := scope.Q().Exec(ctx, query, id, scope.TenantID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete file: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("file %s not found", id)
	}
	return nil
}

func (r *fileRepository) ReplaceACLEntries(ctx context.Context, fileID uuid.UUID, entries []models.FileACLEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM file_acl_entry WHERE file_id = $1 AND tenant_id = $2`, fileID, scope.TenantID); err != nil {
		return fmt.Errorf("failed to clear acl entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows = append(rows, []any{id, e.TenantID, fileID, e.PrincipalID, string(e.Rights), string(e.Source)})
	}

	_, err := scope.Q().CopyFrom(ctx,
		pgx.Identifier{"file_acl_entry"},
		[]string{"id", "tenant_id", "file_id", "principal_id", "rights", "source"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert acl entries: %w", err)
	}
	return nil
}

func (r *fileRepository) ListACLEntries(ctx context.Context, fileID uuid.UUID) ([]models.FileACLEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, file_id, principal_id, rights, source, created_at
		FROM file_acl_entry
		WHERE file_id = $1 AND tenant_id = $2
		ORDER BY created_at, id`

	rows, err := scope.Q().Query(ctx, query, fileID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list acl entries: %w", err)
	}
	defer rows.Close()

	var entries []models.FileACLEntry
	for rows.Next() {
		var e models.FileACLEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.FileID, &e.PrincipalID, &e.Rights, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan acl entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating acl entries: %w", err)
	}
	return entries, nil
}

func scanFile(row pgx.Row) (*models.File, error) {
	var f models.File
	err := row.Scan(
		&f.ID, &f.TenantID, &f.ShareID, &f.RelativePath, &f.Name, &f.SizeBytes,
		&f.MTime, &f.FileType, &f.ContentHash, &f.ACLHash, &f.LastSeenAt,
		&f.Deleted, &f.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	return &f, nil
}
