package domain

import "time"

// Role identifies what an authenticated account may do.
type Role string

const (
	RoleUser          Role = "USER"
	RoleCompanyAdmin  Role = "COMPANY_ADMIN"
	RoleCompanyMember Role = "COMPANY_MEMBER"
	RoleAdmin         Role = "ADMIN"
)

// IsCompanyRole reports whether r acts on behalf of a company.
func (r Role) IsCompanyRole() bool {
	return r == RoleCompanyAdmin || r == RoleCompanyMember
}

// SystemActor is recorded as the modifier for automated transitions.
const SystemActor = "system"

// Token represents issued authentication token metadata.
type Token struct {
	SubjectID string
	Role      Role
	CompanyID *string
	ExpiresAt time.Time
	IssuedAt  time.Time
}
