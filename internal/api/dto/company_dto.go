package dto

import (
	"time"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// CreateCompanyRequest payload for POST /companies.
type CreateCompanyRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	ContactEmail  string `json:"contact_email"`
	WebhookURL    string `json:"webhook_url"`
	WebhookSecret string `json:"webhook_secret"`
	Admin         struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"admin"`
}

// AddMemberRequest payload for POST /companies/:id/members.
type AddMemberRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// UpdateCompanyStatusRequest payload for PATCH /companies/:id/status.
type UpdateCompanyStatusRequest struct {
	Status domain.CompanyStatus `json:"status"`
}

// CompanyResponse omits the webhook secret.
type CompanyResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Slug         string               `json:"slug"`
	ContactEmail string               `json:"contact_email"`
	Status       domain.CompanyStatus `json:"status"`
	WebhookURL   string               `json:"webhook_url,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// FromCompany maps a company.
func FromCompany(c *domain.Company) CompanyResponse {
	return CompanyResponse{
		ID:           c.ID,
		Name:         c.Name,
		Slug:         c.Slug,
		ContactEmail: c.ContactEmail,
		Status:       c.Status,
		WebhookURL:   c.WebhookURL,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// NotificationResponse is the API view of a notification.
type NotificationResponse struct {
	ID        string               `json:"id"`
	EventType string               `json:"event_type"`
	ConsentID string               `json:"consent_id,omitempty"`
	Message   string               `json:"message"`
	Read      bool                 `json:"read"`
	Delivery  domain.DeliveryState `json:"delivery"`
	CreatedAt time.Time            `json:"created_at"`
}

// FromNotifications maps a page of notifications.
func FromNotifications(items []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			EventType: n.EventType,
			ConsentID: n.ConsentID,
			Message:   n.Message,
			Read:      n.Read,
			Delivery:  n.Delivery,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

// AuditEntryResponse is the API view of an audit record.
type AuditEntryResponse struct {
	ID           string         `json:"id"`
	ActorID      *string        `json:"actor_id"`
	ActorRole    *domain.Role   `json:"actor_role"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	RequestID    string         `json:"request_id"`
	HTTPStatus   int            `json:"http_status"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FromAuditEntries maps audit records.
func FromAuditEntries(entries []domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:           e.ID,
			ActorID:      e.ActorID,
			ActorRole:    e.ActorRole,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			RequestID:    e.RequestID,
			HTTPStatus:   e.HTTPStatus,
			Details:      e.Details,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}
