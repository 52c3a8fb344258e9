package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/access"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// IngestResult summarizes one batch of applied file events.
type IngestResult struct {
	FilesUpserted int
	FilesDeleted  int
	JobsEnqueued  int
	EventsSkipped int
}

// IngestService applies scanner observations to the catalog: file upserts
// and soft deletes, ACL replacement, access resolution, and extraction job
// enqueueing. Each event is applied in its own transaction so a bad event
// in a batch cannot corrupt the others.
type IngestService interface {
	// IngestEvents applies a batch of file events for one tenant.
	IngestEvents(ctx context.Context, tenantID uuid.UUID, events []models.FileEvent) (*IngestResult, error)

	// ReplaceGroupRoster replaces a group's direct members from a
	// directory sync. Unknown members are created as USER principals.
	ReplaceGroupRoster(ctx context.Context, tenantID uuid.UUID, groupExternalID string, memberExternalIDs []string) error

	// AddGroupMember records a single group -> member edge from an
	// incremental directory delta, leaving the rest of the roster alone.
	// Re-adding an existing member is a no-op.
	AddGroupMember(ctx context.Context, tenantID uuid.UUID, groupExternalID, memberExternalID string) error
}

type ingestService struct {
	db         *database.DB
	shares     repositories.ShareRepository
	files      repositories.FileRepository
	principals repositories.PrincipalRepository
	accessRepo repositories.AccessRepository
	jobs       repositories.JobRepository
	resolver   *access.Resolver
	logger     *zap.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	db *database.DB,
	shares repositories.ShareRepository,
	files repositories.FileRepository,
	principals repositories.PrincipalRepository,
	accessRepo repositories.AccessRepository,
	jobs repositories.JobRepository,
	resolver *access.Resolver,
	logger *zap.Logger,
) IngestService {
	return &ingestService{
		db:         db,
		shares:     shares,
		files:      files,
		principals: principals,
		accessRepo: accessRepo,
		jobs:       jobs,
		resolver:   resolver,
		logger:     logger.Named("ingest"),
	}
}

func (s *ingestService) IngestEvents(ctx context.Context, tenantID uuid.UUID, events []models.FileEvent) (*IngestResult, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	result := &IngestResult{}
	for _, event := range events {
		if !models.IsValidFileEventType(event.Type) {
			s.logger.Warn("skipping event with unknown type",
				zap.String("type", string(event.Type)),
				zap.String("path", event.RelativePath))
			result.EventsSkipped++
			continue
		}

		err := scope.RunInTx(ctx, func(ctx context.Context) error {
			return s.applyEvent(ctx, tenantID, event, result)
		})
		if err != nil {
			return result, fmt.Errorf("failed to apply %s for %q: %w", event.Type, event.RelativePath, err)
		}
	}
	return result, nil
}

func (s *ingestService) applyEvent(ctx context.Context, tenantID uuid.UUID, event models.FileEvent, result *IngestResult) error {
	share, err := s.shares.GetShareByName(ctx, event.ShareName)
	if err != nil {
		return err
	}
	if share == nil {
		return fmt.Errorf("unknown share %q", event.ShareName)
	}

	switch event.Type {
	case models.FileEventDiscovered, models.FileEventModified:
		return s.applyUpsert(ctx, tenantID, share, event, result)
	case models.FileEventDeleted:
		return s.applyDelete(ctx, share, event, result)
	case models.FileEventACLChanged:
		return s.applyACLChange(ctx, tenantID, share, event, result)
	}
	return nil
}

func (s *ingestService) applyUpsert(ctx context.Context, tenantID uuid.UUID, share *models.Share, event models.FileEvent, result *IngestResult) error {
	prev, err := s.files.GetByPath(ctx, share.ID, event.RelativePath)
	if err != nil {
		return err
	}
	contentChanged := prev == nil || prev.Deleted || prev.ContentHash != event.ContentHash

	mtime := time.Now()
	if event.MTime != nil {
		mtime = *event.MTime
	}

	file, err := s.files.Upsert(ctx, &models.File{
		TenantID:     tenantID,
		ShareID:      share.ID,
		RelativePath: event.RelativePath,
		Name:         baseName(event.RelativePath),
		SizeBytes:    event.SizeBytes,
		MTime:        mtime,
		FileType:     event.FileType,
		ContentHash:  event.ContentHash,
		ACLHash:      event.ACLHash,
		LastSeenAt:   time.Now(),
	})
	if err != nil {
		return err
	}
	result.FilesUpserted++

	if len(event.ACLEntries) > 0 {
		if err := s.replaceACL(ctx, tenantID, file.ID, event.ACLEntries); err != nil {
			return err
		}
	}

	if contentChanged {
		enqueued, err := s.jobs.Enqueue(ctx, &models.Job{
			TenantID: tenantID,
			JobType:  models.JobTypeExtractContent,
			FileID:   &file.ID,
		})
		if err != nil {
			return err
		}
		if enqueued {
			result.JobsEnqueued++
		}
	}

	s.logger.Debug("file upserted",
		zap.String("file_id", file.ID.String()),
		zap.String("path", event.RelativePath),
		zap.Bool("content_changed", contentChanged))
	return nil
}

func (s *ingestService) applyDelete(ctx context.Context, share *models.Share, event models.FileEvent, result *IngestResult) error {
	file, err := s.files.GetByPath(ctx, share.ID, event.RelativePath)
	if err != nil {
		return err
	}
	if file == nil || file.Deleted {
		s.logger.Debug("delete for unknown or already-deleted file",
			zap.String("path", event.RelativePath))
		result.EventsSkipped++
		return nil
	}
	if err := s.files.SoftDelete(ctx, file.ID); err != nil {
		return err
	}
	result.FilesDeleted++
	return nil
}

func (s *ingestService) applyACLChange(ctx context.Context, tenantID uuid.UUID, share *models.Share, event models.FileEvent, result *IngestResult) error {
	file, err := s.files.GetByPath(ctx, share.ID, event.RelativePath)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("acl change for unknown file %q", event.RelativePath)
	}
	return s.replaceACL(ctx, tenantID, file.ID, event.ACLEntries)
}

// replaceACL swaps the file's raw ACL rows and immediately re-resolves
// effective access from the new entries. An empty entry list is a complete
// revocation: the effective-access set for the file becomes empty too.
func (s *ingestService) replaceACL(ctx context.Context, tenantID uuid.UUID, fileID uuid.UUID, inputs []models.ACLEntryInput) error {
	entries := make([]models.FileACLEntry, 0, len(inputs))
	for _, in := range inputs {
		principalType := in.PrincipalType
		if principalType == "" {
			principalType = models.PrincipalTypeUser
		}
		displayName := in.PrincipalDisplayName
		if displayName == "" {
			displayName = in.PrincipalExternalID
		}
		principal, err := s.principals.Upsert(ctx, &models.Principal{
			TenantID:    tenantID,
			Type:        principalType,
			ExternalID:  in.PrincipalExternalID,
			DisplayName: displayName,
		})
		if err != nil {
			return err
		}

		source := in.Source
		if source == "" {
			source = models.ACLSourceFile
		}
		entries = append(entries, models.FileACLEntry{
			TenantID:    tenantID,
			FileID:      fileID,
			PrincipalID: principal.ID,
			Rights:      in.Rights,
			Source:      source,
		})
	}

	if err := s.files.ReplaceACLEntries(ctx, fileID, entries); err != nil {
		return err
	}
	return s.resolveAccess(ctx, tenantID, fileID, entries)
}

func (s *ingestService) resolveAccess(ctx context.Context, tenantID uuid.UUID, fileID uuid.UUID, entries []models.FileACLEntry) error {
	memberships, err := s.principals.ListMemberships(ctx)
	if err != nil {
		return err
	}
	all, err := s.principals.ListPrincipals(ctx)
	if err != nil {
		return err
	}
	principals := make([]models.Principal, 0, len(all))
	for _, p := range all {
		principals = append(principals, *p)
	}

	graph := access.NewMembershipGraph(memberships, principals)
	readers := s.resolver.Resolve(fileID, entries, graph)
	return s.accessRepo.ReplaceForFile(ctx, fileID, tenantID, readers)
}

func (s *ingestService) ReplaceGroupRoster(ctx context.Context, tenantID uuid.UUID, groupExternalID string, memberExternalIDs []string) error {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	return scope.RunInTx(ctx, func(ctx context.Context) error {
		group, err := s.principals.Upsert(ctx, &models.Principal{
			TenantID:    tenantID,
			Type:        models.PrincipalTypeGroup,
			ExternalID:  groupExternalID,
			DisplayName: groupExternalID,
		})
		if err != nil {
			return err
		}

		memberIDs := make([]uuid.UUID, 0, len(memberExternalIDs))
		for _, externalID := range memberExternalIDs {
			member, err := s.principals.GetByExternalID(ctx, externalID)
			if err != nil {
				return err
			}
			if member == nil {
				member, err = s.principals.Upsert(ctx, &models.Principal{
					TenantID:    tenantID,
					Type:        models.PrincipalTypeUser,
					ExternalID:  externalID,
					DisplayName: externalID,
				})
				if err != nil {
					return err
				}
			}
			memberIDs = append(memberIDs, member.ID)
		}

		return s.principals.ReplaceMemberships(ctx, group.ID, memberIDs)
	})
}

func (s *ingestService) AddGroupMember(ctx context.Context, tenantID uuid.UUID, groupExternalID, memberExternalID string) error {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	return scope.RunInTx(ctx, func(ctx context.Context) error {
		group, err := s.principals.Upsert(ctx, &models.Principal{
			TenantID:    tenantID,
			Type:        models.PrincipalTypeGroup,
			ExternalID:  groupExternalID,
			DisplayName: groupExternalID,
		})
		if err != nil {
			return err
		}

		member, err := s.principals.GetByExternalID(ctx, memberExternalID)
		if err != nil {
			return err
		}
		if member == nil {
			member, err = s.principals.Upsert(ctx, &models.Principal{
				TenantID:    tenantID,
				Type:        models.PrincipalTypeUser,
				ExternalID:  memberExternalID,
				DisplayName: memberExternalID,
			})
			if err != nil {
				return err
			}
		}

		return s.principals.AddMembership(ctx, group.ID, member.ID)
	})
}

func baseName(relativePath string) string {
	for i := len(relativePath) - 1; i >= 0; i-- {
		if relativePath[i] == '/' || relativePath[i] == '\\' {
			return relativePath[i+1:]
		}
	}
	return relativePath
}
