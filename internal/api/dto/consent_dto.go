package dto

import (
	"time"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// CreateConsentRequest payload. The subject is always the caller.
type CreateConsentRequest struct {
	RequesterID string     `json:"requester_id"`
	Categories  []string   `json:"categories"`
	Purpose     string     `json:"purpose"`
	ValidFrom   *time.Time `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until"`
}

// UpdateConsentStatusRequest payload for PATCH /consents/:id/status.
type UpdateConsentStatusRequest struct {
	Status domain.ConsentStatus `json:"status"`
}

// ConsentResponse is the API view of a consent record.
type ConsentResponse struct {
	ID             string               `json:"id"`
	SubjectID      string               `json:"subject_id"`
	RequesterID    string               `json:"requester_id"`
	Categories     []string             `json:"categories"`
	Purpose        string               `json:"purpose"`
	ValidFrom      time.Time            `json:"valid_from"`
	ValidUntil     *time.Time           `json:"valid_until"`
	Status         domain.ConsentStatus `json:"status"`
	LedgerRef      string               `json:"ledger_ref"`
	Version        int64                `json:"version"`
	LastModifiedBy string               `json:"last_modified_by"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// ConsentCheckResponse answers whether a requester may access a category.
type ConsentCheckResponse struct {
	SubjectID   string    `json:"subject_id"`
	RequesterID string    `json:"requester_id"`
	Category    string    `json:"category"`
	Authorized  bool      `json:"authorized"`
	CheckedAt   time.Time `json:"checked_at"`
}

// FromConsent maps a record. Status is reported as of now, so an overdue
// record reads EXPIRED before the sweep catches up.
func FromConsent(rec *domain.ConsentRecord) ConsentResponse {
	return ConsentResponse{
		ID:             rec.ID,
		SubjectID:      rec.SubjectID,
		RequesterID:    rec.RequesterID,
		Categories:     domain.SortedCategories(rec.Scope.Categories),
		Purpose:        rec.Scope.Purpose,
		ValidFrom:      rec.Window.Start,
		ValidUntil:     rec.Window.End,
		Status:         rec.EffectiveStatus(time.Now()),
		LedgerRef:      rec.LedgerRef,
		Version:        rec.Version,
		LastModifiedBy: rec.LastModifiedBy,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// FromConsents maps a page of records.
func FromConsents(recs []domain.ConsentRecord) []ConsentResponse {
	out := make([]ConsentResponse, 0, len(recs))
	for i := range recs {
		out = append(out, FromConsent(&recs[i]))
	}
	return out
}

// LedgerEntryResponse is one step of a consent's provenance.
type LedgerEntryResponse struct {
	LedgerEntryID string               `json:"ledger_entry_id"`
	EventType     string               `json:"event_type"`
	Status        domain.ConsentStatus `json:"status"`
	ActorID       string               `json:"actor_id"`
	CreatedAt     time.Time            `json:"created_at"`
}

// FromLedgerRefs maps provenance entries.
func FromLedgerRefs(refs []domain.ConsentLedgerRef) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(refs))
	for _, r := range refs {
		out = append(out, LedgerEntryResponse{
			LedgerEntryID: r.LedgerEntryID,
			EventType:     r.EventType,
			Status:        r.Status,
			ActorID:       r.ActorID,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out
}

// PageMeta describes pagination of a list response.
type PageMeta struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Count    int `json:"count"`
}
