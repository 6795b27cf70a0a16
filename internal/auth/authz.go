package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

// Objects and actions checked by the role policy.
const (
	ObjectConsents       = "consents"
	ObjectConsentLedger  = "consents.ledger"
	ObjectCompanies      = "companies"
	ObjectCompanyMembers = "companies.members"
	ObjectProfile        = "profile"
	ObjectNotifications  = "notifications"
	ObjectAudit          = "audit"

	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionList   = "list"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && (r.act == p.act || p.act == "*")
`

// DefaultPolicy is the role/object/action matrix. Row-level checks (own
// consent, own company) stay in the services.
var DefaultPolicy = [][]string{
	{string(domain.RoleUser), ObjectProfile, "*"},
	{string(domain.RoleUser), ObjectConsents, "*"},
	{string(domain.RoleUser), ObjectConsentLedger, ActionRead},
	{string(domain.RoleUser), ObjectNotifications, "*"},

	{string(domain.RoleCompanyAdmin), ObjectConsents, ActionRead},
	{string(domain.RoleCompanyAdmin), ObjectConsentLedger, ActionRead},
	{string(domain.RoleCompanyAdmin), ObjectNotifications, "*"},
	{string(domain.RoleCompanyAdmin), ObjectCompanies, ActionRead},
	{string(domain.RoleCompanyAdmin), ObjectCompanyMembers, "*"},

	{string(domain.RoleCompanyMember), ObjectConsents, ActionRead},
	{string(domain.RoleCompanyMember), ObjectConsentLedger, ActionRead},
	{string(domain.RoleCompanyMember), ObjectNotifications, "*"},
	{string(domain.RoleCompanyMember), ObjectCompanies, ActionRead},
	{string(domain.RoleCompanyMember), ObjectCompanyMembers, ActionRead},

	{string(domain.RoleAdmin), ObjectConsents, ActionRead},
	{string(domain.RoleAdmin), ObjectConsents, ActionUpdate},
	{string(domain.RoleAdmin), ObjectConsentLedger, ActionRead},
	{string(domain.RoleAdmin), ObjectCompanies, "*"},
	{string(domain.RoleAdmin), ObjectCompanyMembers, "*"},
	{string(domain.RoleAdmin), ObjectAudit, ActionRead},
	{string(domain.RoleAdmin), ObjectNotifications, "*"},
}

// Authorizer enforces the role policy with casbin.
type Authorizer struct {
	enforcer *casbin.Enforcer
	logger   *zap.Logger
}

// NewAuthorizer loads policy rows into an in-memory enforcer.
func NewAuthorizer(policy [][]string, logger *zap.Logger) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	if len(policy) > 0 {
		if _, err := enforcer.AddPolicies(policy); err != nil {
			return nil, fmt.Errorf("authz policy: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{enforcer: enforcer, logger: logger}, nil
}

// Authorize reports whether role may perform action on object.
func (a *Authorizer) Authorize(role domain.Role, object, action string) (bool, error) {
	return a.enforcer.Enforce(string(role), object, action)
}

// Require guards a route. It must run after AuthMiddleware.Handle.
func (a *Authorizer) Require(object, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		allowed, err := a.Authorize(principal.Role(), object, action)
		if err != nil {
			a.logger.Error("authorization check failed", zap.Error(err))
			return apperrors.NewInternalError(err)
		}
		if !allowed {
			return apperrors.NewForbidden(fmt.Sprintf("role %s may not %s %s", principal.Role(), action, object))
		}
		return c.Next()
	}
}
