package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// ShareRepository manages the tenant, estate, and share registry that file
// events are ingested against.
type ShareRepository interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	CreateEstate(ctx context.Context, estate *models.Estate) error
	CreateShare(ctx context.Context, share *models.Share) error
	GetShareByID(ctx context.Context, id uuid.UUID) (*models.Share, error)
	GetShareByName(ctx context.Context, name string) (*models.Share, error)
	ListShares(ctx context.Context) ([]*models.Share, error)
}

type shareRepository struct{}

// NewShareRepository creates a new ShareRepository.
func NewShareRepository() ShareRepository {
	return &shareRepository{}
}

var _ ShareRepository = (*shareRepository)(nil)

func (r *shareRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}

	_, err := scope.Q().Exec(ctx,
		`INSERT INTO tenant (id, name) VALUES ($1, $2)`,
		tenant.ID, tenant.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *shareRepository) CreateEstate(ctx context.Context, estate *models.Estate) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if estate.ID == uuid.Nil {
		estate.ID = uuid.New()
	}

	_, err := scope.Q().Exec(ctx,
		`INSERT INTO estate (id, tenant_id, name) VALUES ($1, $2, $3)`,
		estate.ID, estate.TenantID, estate.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to create estate: %w", err)
	}
	return nil
}

func (r *shareRepository) CreateShare(ctx context.Context, share *models.Share) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if share.ID == uuid.Nil {
		share.ID = uuid.New()
	}

	_, err := scope.Q().Exec(ctx,
		`INSERT INTO share (id, tenant_id, estate_id, name, share_type, root_path)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		share.ID, share.TenantID, share.EstateID, share.Name, share.ShareType, share.RootPath,
	)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

func (r *shareRepository) GetShareByID(ctx context.Context, id uuid.UUID) (*models.Share, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, estate_id, name, share_type, root_path, created_at
		FROM share WHERE id = $1 AND tenant_id = $2`
	return scanShare(scope.Q().QueryRow(ctx, query, id, scope.TenantID))
}

func (r *shareRepository) GetShareByName(ctx context.Context, name string) (*models.Share, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, estate_id, name, share_type, root_path, created_at
		FROM share WHERE tenant_id = $1 AND name = $2`
	return scanShare(scope.Q().QueryRow(ctx, query, scope.TenantID, name))
}

func (r *shareRepository) ListShares(ctx context.Context) ([]*models.Share, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, estate_id, name, share_type, root_path, created_at
		FROM share WHERE tenant_id = $1 ORDER BY name`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var shares []*models.Share
	for rows.Next() {
		var s models.Share
		if err := rows.Scan(&s.ID, &s.TenantID, &s.EstateID, &s.Name, &s.ShareType, &s.RootPath, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}
	return shares, nil
}

func scanShare(row pgx.Row) (*models.Share, error) {
	var s models.Share
	err := row.Scan(&s.ID, &s.TenantID, &s.EstateID, &s.Name, &s.ShareType, &s.RootPath, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan share: %w", err)
	}
	return &s, nil
}
