package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// TenantFixture is a tenant with one estate and one share, ready for
// ingestion tests.
type TenantFixture struct {
	TenantID  uuid.UUID
	EstateID  uuid.UUID
	Share     *models.Share
	ShareName string
}

// CreateTenantFixture creates a tenant, estate, and share rooted at
// rootPath. Each call creates an isolated tenant, so tests sharing the
// database container do not see each other's rows.
func CreateTenantFixture(t *testing.T, db *database.DB, rootPath string) *TenantFixture {
	t.Helper()
	ctx := context.Background()

	tenantID := uuid.New()
	scope, err := db.WithTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("failed to acquire tenant scope: %v", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	shares := repositories.NewShareRepository()

	tenant := &models.Tenant{ID: tenantID, Name: "tenant-" + tenantID.String()[:8]}
	if err := shares.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	estate := &models.Estate{TenantID: tenantID, Name: "test-estate"}
	if err := shares.CreateEstate(ctx, estate); err != nil {
		t.Fatalf("failed to create estate: %v", err)
	}

	share := &models.Share{
		TenantID:  tenantID,
		EstateID:  estate.ID,
		Name:      "share-" + tenantID.String()[:8],
		ShareType: "SMB",
		RootPath:  rootPath,
	}
	if err := shares.CreateShare(ctx, share); err != nil {
		t.Fatalf("failed to create share: %v", err)
	}

	return &TenantFixture{
		TenantID:  tenantID,
		EstateID:  estate.ID,
		Share:     share,
		ShareName: share.Name,
	}
}

// ScopedContext acquires a tenant scope and returns a context carrying it.
// The scope is released when the test ends.
func ScopedContext(t *testing.T, db *database.DB, tenantID uuid.UUID) context.Context {
	t.Helper()

	scope, err := db.WithTenant(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("failed to acquire tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)

	return database.SetTenantScope(context.Background(), scope)
}
