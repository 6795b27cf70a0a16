package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

// AuditService appends to and queries the audit log.
type AuditService struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(repo repository.AuditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record appends an entry. Failures are logged and returned; callers on the
// request path decide whether they matter.
func (s *AuditService) Record(ctx context.Context, entry *domain.AuditEntry) error {
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.Error(err))
		return apperrors.NewInternalError(err)
	}
	return nil
}

// List returns audit entries matching filter. Admin only.
func (s *AuditService) List(ctx context.Context, actor Actor, filter repository.AuditFilter) ([]domain.AuditEntry, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("only platform admins may read the audit log")
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return entries, nil
}
