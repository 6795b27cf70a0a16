package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/security"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

// Encrypted profile field names, also used as associated data.
const (
	fieldDateOfBirth   = "date_of_birth"
	fieldPhone         = "phone"
	fieldAddress       = "address"
	fieldMedicalRecord = "medical_record_number"
)

// ProfileService stores subject profiles with every sensitive field sealed
// before it reaches the repository.
type ProfileService struct {
	repo   repository.ProfileRepository
	cipher *security.FieldCipher
	audit  *AuditService
	logger *zap.Logger
}

// NewProfileService constructs the service.
func NewProfileService(repo repository.ProfileRepository, cipher *security.FieldCipher, audit *AuditService, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{repo: repo, cipher: cipher, audit: audit, logger: logger}
}

// Get returns the decrypted profile. A user without a stored profile gets an
// empty one at version 0.
func (s *ProfileService) Get(ctx context.Context, actor Actor, userID string) (*domain.UserProfile, error) {
	if actor.ID != userID && actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("profiles are private to their owner")
	}
	stored, err := s.repo.Get(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.UserProfile{UserID: userID}, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return s.open(stored)
}

// Upsert seals and stores the caller's own profile and appends an audit
// entry naming the fields that were written.
func (s *ProfileService) Upsert(ctx context.Context, actor Actor, profile domain.UserProfile) (*domain.UserProfile, error) {
	if actor.Role != domain.RoleUser {
		return nil, apperrors.NewForbidden("only data subjects have profiles")
	}
	profile.UserID = actor.ID
	profile.DateOfBirth = strings.TrimSpace(profile.DateOfBirth)
	profile.Phone = strings.TrimSpace(profile.Phone)
	profile.Address = strings.TrimSpace(profile.Address)
	profile.MedicalRecordNumber = strings.TrimSpace(profile.MedicalRecordNumber)

	sealed, written, err := s.seal(profile)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, sealed); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	profile.Version = sealed.Version
	profile.UpdatedAt = sealed.UpdatedAt

	if s.audit != nil {
		actorID, role, resourceID := actor.ID, actor.Role, actor.ID
		_ = s.audit.Record(ctx, &domain.AuditEntry{
			ActorID:      &actorID,
			ActorRole:    &role,
			Action:       "profile.upsert",
			ResourceType: "profile",
			ResourceID:   &resourceID,
			HTTPStatus:   200,
			Details:      map[string]any{"fields": written, "version": sealed.Version},
		})
	}
	return &profile, nil
}

func (s *ProfileService) seal(p domain.UserProfile) (*domain.EncryptedProfile, []string, error) {
	out := &domain.EncryptedProfile{UserID: p.UserID}
	written := []string{}
	fields := []struct {
		name  string
		value string
		dst   *[]byte
	}{
		{fieldDateOfBirth, p.DateOfBirth, &out.DateOfBirth},
		{fieldPhone, p.Phone, &out.Phone},
		{fieldAddress, p.Address, &out.Address},
		{fieldMedicalRecord, p.MedicalRecordNumber, &out.MedicalRecordNumber},
	}
	for _, f := range fields {
		ct, err := s.cipher.Encrypt(f.value, p.UserID, f.name)
		if err != nil {
			return nil, nil, apperrors.NewInternalError(err)
		}
		*f.dst = ct
		if f.value != "" {
			written = append(written, f.name)
		}
	}
	return out, written, nil
}

func (s *ProfileService) open(p *domain.EncryptedProfile) (*domain.UserProfile, error) {
	out := &domain.UserProfile{UserID: p.UserID, Version: p.Version, UpdatedAt: p.UpdatedAt}
	fields := []struct {
		name string
		src  []byte
		dst  *string
	}{
		{fieldDateOfBirth, p.DateOfBirth, &out.DateOfBirth},
		{fieldPhone, p.Phone, &out.Phone},
		{fieldAddress, p.Address, &out.Address},
		{fieldMedicalRecord, p.MedicalRecordNumber, &out.MedicalRecordNumber},
	}
	for _, f := range fields {
		plain, err := s.cipher.Decrypt(f.src, p.UserID, f.name)
		if err != nil {
			s.logger.Error("profile field failed authentication",
				zap.String("user_id", p.UserID),
				zap.String("field", f.name))
			return nil, apperrors.NewInternalError(err)
		}
		*f.dst = plain
	}
	return out, nil
}
