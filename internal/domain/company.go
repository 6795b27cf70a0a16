package domain

import "time"

// CompanyStatus represents lifecycle states for a data requester.
type CompanyStatus string

const (
	CompanyStatusActive    CompanyStatus = "ACTIVE"
	CompanyStatusSuspended CompanyStatus = "SUSPENDED"
)

// Company is an organization that requests access to subject data.
type Company struct {
	ID            string
	Name          string
	Slug          string
	ContactEmail  string
	Status        CompanyStatus
	WebhookURL    string
	WebhookSecret string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
