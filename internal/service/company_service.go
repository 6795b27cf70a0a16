package service

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// CompanyInput describes a new data requester and its first administrator.
type CompanyInput struct {
	Name          string
	Slug          string
	ContactEmail  string
	WebhookURL    string
	WebhookSecret string
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// MemberInput describes an account added to an existing company.
type MemberInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// CompanyService manages data requesters and their operator accounts.
type CompanyService struct {
	companies repository.CompanyRepository
	users     repository.UserRepository
	accounts  *AuthService
	logger    *zap.Logger
}

// NewCompanyService constructs the service. accounts supplies password
// hashing and account validation.
func NewCompanyService(companies repository.CompanyRepository, users repository.UserRepository, accounts *AuthService, logger *zap.Logger) *CompanyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompanyService{companies: companies, users: users, accounts: accounts, logger: logger}
}

// Create registers a company together with its COMPANY_ADMIN account.
func (s *CompanyService) Create(ctx context.Context, actor Actor, in CompanyInput) (*domain.Company, *domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, nil, apperrors.NewForbidden("only platform admins may create companies")
	}
	company := &domain.Company{
		Name:          strings.TrimSpace(in.Name),
		Slug:          strings.TrimSpace(in.Slug),
		ContactEmail:  normalizeEmail(in.ContactEmail),
		Status:        domain.CompanyStatusActive,
		WebhookURL:    strings.TrimSpace(in.WebhookURL),
		WebhookSecret: in.WebhookSecret,
	}
	if company.Slug == "" {
		company.Slug = slugify(company.Name)
	}
	if err := validateCompany(company); err != nil {
		return nil, nil, err
	}
	admin, err := s.accounts.newAccount(in.AdminName, in.AdminEmail, in.AdminPassword, domain.RoleCompanyAdmin, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := s.companies.CreateWithAdmin(ctx, company, admin); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, apperrors.NewConflict("company slug or admin email already in use",
				map[string]any{"slug": company.Slug, "email": admin.Email})
		}
		return nil, nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("company created",
		zap.String("company_id", company.ID),
		zap.String("admin_id", admin.ID),
		zap.String("actor_id", actor.ID))
	return company, admin, nil
}

// List returns a page of companies ordered by name. Admin only.
func (s *CompanyService) List(ctx context.Context, actor Actor, page, pageSize int) ([]domain.Company, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("only platform admins may list companies")
	}
	page, pageSize = normalizePage(page, pageSize)
	companies, err := s.companies.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return companies, nil
}

// Get returns a company to an admin or one of its own members.
func (s *CompanyService) Get(ctx context.Context, actor Actor, id string) (*domain.Company, error) {
	if !canSeeCompany(actor, id) {
		return nil, apperrors.NewForbidden("not a member of this company")
	}
	company, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "company", id)
	}
	return company, nil
}

// Members lists the operator accounts of a company.
func (s *CompanyService) Members(ctx context.Context, actor Actor, companyID string) ([]domain.User, error) {
	if _, err := s.Get(ctx, actor, companyID); err != nil {
		return nil, err
	}
	members, err := s.users.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return members, nil
}

// AddMember creates an operator account inside a company. Company admins may
// add members to their own company only.
func (s *CompanyService) AddMember(ctx context.Context, actor Actor, companyID string, in MemberInput) (*domain.User, error) {
	switch {
	case actor.Role == domain.RoleAdmin:
	case actor.Role == domain.RoleCompanyAdmin && actor.CompanyID == companyID:
	default:
		return nil, apperrors.NewForbidden("not allowed to manage this company")
	}
	if in.Role == "" {
		in.Role = domain.RoleCompanyMember
	}
	if !in.Role.IsCompanyRole() {
		return nil, apperrors.NewValidationError("invalid member role", map[string]any{"role": in.Role})
	}

	company, err := s.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, notFoundOr(err, "company", companyID)
	}
	if company.Status != domain.CompanyStatusActive {
		return nil, apperrors.NewValidationError("company is not active", map[string]any{"company_id": companyID})
	}

	member, err := s.accounts.newAccount(in.Name, in.Email, in.Password, in.Role, &company.ID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.createAccount(ctx, member); err != nil {
		return nil, err
	}
	s.logger.Info("company member added",
		zap.String("company_id", companyID),
		zap.String("user_id", member.ID),
		zap.String("role", string(member.Role)))
	return member, nil
}

// UpdateStatus suspends or reactivates a company. Admin only.
func (s *CompanyService) UpdateStatus(ctx context.Context, actor Actor, id string, status domain.CompanyStatus) (*domain.Company, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("only platform admins may change company status")
	}
	if status != domain.CompanyStatusActive && status != domain.CompanyStatusSuspended {
		return nil, apperrors.NewValidationError("unknown company status", map[string]any{"status": status})
	}
	if err := s.companies.UpdateStatus(ctx, id, status); err != nil {
		return nil, notFoundOr(err, "company", id)
	}
	s.logger.Info("company status changed",
		zap.String("company_id", id),
		zap.String("status", string(status)),
		zap.String("actor_id", actor.ID))
	return s.Get(ctx, actor, id)
}

func canSeeCompany(actor Actor, companyID string) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	return actor.Role.IsCompanyRole() && actor.CompanyID == companyID
}

func validateCompany(c *domain.Company) error {
	details := map[string]any{}
	if c.Name == "" {
		details["name"] = "required"
	}
	if c.Slug == "" {
		details["slug"] = "required"
	}
	if c.ContactEmail == "" {
		details["contact_email"] = "required"
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			details["webhook_url"] = "must be an absolute http(s) URL"
		}
		if c.WebhookSecret == "" {
			details["webhook_secret"] = "required with webhook_url"
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid company", details)
	}
	return nil
}

func slugify(name string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
