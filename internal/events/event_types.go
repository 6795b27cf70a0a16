package events

import (
	"time"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConsentCreated       EventType = "consent_created"
	EventConsentStatusChanged EventType = "consent_status_changed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ConsentID   string    `json:"consent_id"`
	SubjectID   string    `json:"subject_id"`
	RequesterID string    `json:"requester_id"`
	ActorID     string    `json:"actor_id"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// ConsentCreatedPayload payload.
type ConsentCreatedPayload struct {
	Categories []string             `json:"categories"`
	Purpose    string               `json:"purpose"`
	Status     domain.ConsentStatus `json:"status"`
	LedgerRef  string               `json:"ledger_ref"`
}

// ConsentStatusChangedPayload payload.
type ConsentStatusChangedPayload struct {
	OldStatus     domain.ConsentStatus `json:"old_status"`
	NewStatus     domain.ConsentStatus `json:"new_status"`
	LedgerEntryID string               `json:"ledger_entry_id"`
	Version       int64                `json:"version"`
}
