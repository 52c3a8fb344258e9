package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// PrincipalRepository provides data access for principals and the group
// membership graph.
type PrincipalRepository interface {
	// Upsert creates the principal keyed on (tenant, external id) or
	// refreshes its display name, and returns the stored row.
	Upsert(ctx context.Context, p *models.Principal) (*models.Principal, error)

	GetByExternalID(ctx context.Context, externalID string) (*models.Principal, error)
	ListPrincipals(ctx context.Context) ([]*models.Principal, error)

	// AddMembership records a group -> member edge; duplicates are ignored.
	AddMembership(ctx context.Context, groupID, memberID uuid.UUID) error

	// ReplaceMemberships swaps a group's member edges wholesale, for
	// directory syncs that report full group rosters.
	ReplaceMemberships(ctx context.Context, groupID uuid.UUID, memberIDs []uuid.UUID) error

	// ListMemberships returns every membership edge for the tenant. The
	// access resolver loads the whole graph at once; tenant directories
	// are small relative to file counts.
	ListMemberships(ctx context.Context) ([]models.GroupMembership, error)
}

type principalRepository struct{}

// NewPrincipalRepository creates a new PrincipalRepository.
func NewPrincipalRepository() PrincipalRepository {
	return &principalRepository{}
}

var _ PrincipalRepository = (*principalRepository)(nil)

func (r *principalRepository) Upsert(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	// Type is identity alongside external id and never changes on refresh.
	query := `
		INSERT INTO principal (id, tenant_id, type, external_id, display_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name
		RETURNING id, tenant_id, type, external_id, display_name, created_at`

	stored, err := scanPrincipal(scope.Q().QueryRow(ctx, query,
		p.ID, p.TenantID, p.Type, p.ExternalID, p.DisplayName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert principal: %w", err)
	}
	return stored, nil
}

func (r *principalRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Principal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, type, external_id, display_name, created_at
		FROM principal WHERE tenant_id = $1 AND external_id = $2`
	return scanPrincipal(scope.Q().QueryRow(ctx, query, scope.TenantID, externalID))
}

func (r *principalRepository) ListPrincipals(ctx context.Context) ([]*models.Principal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, type, external_id, display_name, created_at
		FROM principal WHERE tenant_id = $1 ORDER BY external_id`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []*models.Principal
	for rows.Next() {
		var p models.Principal
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Type, &p.ExternalID, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		principals = append(principals, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}
	return principals, nil
}

func (r *principalRepository) AddMembership(ctx context.Context, groupID, memberID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO group_membership (id, tenant_id, group_id, member_principal_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, group_id, member_principal_id) DO NOTHING`

	_, err := scope.Q().Exec(ctx, query, uuid.New(), scope.TenantID, groupID, memberID)
	if err != nil {
		return fmt.Errorf("failed to add group membership: %w", err)
	}
	return nil
}

func (r *principalRepository) ReplaceMemberships(ctx context.Context, groupID uuid.UUID, memberIDs []uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM group_membership WHERE group_id = $1 AND tenant_id = $2`, groupID, scope.TenantID); err != nil {
		return fmt.Errorf("failed to clear group memberships: %w", err)
	}
	if len(memberIDs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		rows = append(rows, []any{uuid.New(), scope.TenantID, groupID, memberID})
	}

	_, err := scope.Q().CopyFrom(ctx,
		pgx.Identifier{"group_membership"},
		[]string{"id", "tenant_id", "group_id", "member_principal_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert group memberships: %w", err)
	}
	return nil
}

func (r *principalRepository) ListMemberships(ctx context.Context) ([]models.GroupMembership, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT id, tenant_id, group_id, member_principal_id, created_at
		FROM group_membership WHERE tenant_id = $1`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group memberships: %w", err)
	}
	defer rows.Close()

	var memberships []models.GroupMembership
	for rows.Next() {
		var m models.GroupMembership
		if err := rows.Scan(&m.ID, &m.TenantID, &m.GroupID, &m.MemberPrincipalID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group memberships: %w", err)
	}
	return memberships, nil
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.TenantID, &p.Type, &p.ExternalID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}
	return &p, nil
}
