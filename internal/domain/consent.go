package domain

import (
	"sort"
	"strings"
	"time"
)

// ConsentStatus enumerates lifecycle states for consent records.
type ConsentStatus string

const (
	ConsentStatusDraft   ConsentStatus = "DRAFT"
	ConsentStatusActive  ConsentStatus = "ACTIVE"
	ConsentStatusRevoked ConsentStatus = "REVOKED"
	ConsentStatusExpired ConsentStatus = "EXPIRED"
)

// DataCategory names a class of health data a consent can cover.
type DataCategory string

const (
	CategoryDemographics  DataCategory = "demographics"
	CategoryLabs          DataCategory = "labs"
	CategoryVitals        DataCategory = "vitals"
	CategoryMedications   DataCategory = "medications"
	CategoryConditions    DataCategory = "conditions"
	CategoryAllergies     DataCategory = "allergies"
	CategoryImmunizations DataCategory = "immunizations"
	CategoryImaging       DataCategory = "imaging"
	CategoryProcedures    DataCategory = "procedures"
	CategoryClinicalNotes DataCategory = "clinical_notes"
	CategoryGenomics      DataCategory = "genomics"
	CategoryClaims        DataCategory = "claims"
)

var knownCategories = map[DataCategory]struct{}{
	CategoryDemographics:  {},
	CategoryLabs:          {},
	CategoryVitals:        {},
	CategoryMedications:   {},
	CategoryConditions:    {},
	CategoryAllergies:     {},
	CategoryImmunizations: {},
	CategoryImaging:       {},
	CategoryProcedures:    {},
	CategoryClinicalNotes: {},
	CategoryGenomics:      {},
	CategoryClaims:        {},
}

// IsKnownCategory reports whether c is part of the data category catalog.
func IsKnownCategory(c DataCategory) bool {
	_, ok := knownCategories[c]
	return ok
}

// ConsentScope lists what a requester may access and why.
type ConsentScope struct {
	Categories []DataCategory `json:"categories"`
	Purpose    string         `json:"purpose"`
}

// Covers reports whether the scope includes category.
func (s ConsentScope) Covers(category DataCategory) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ValidityWindow bounds when a consent may be exercised. End is optional.
type ValidityWindow struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w ValidityWindow) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || t.Before(*w.End)
}

// ConsentRecord authorizes a requester to access a subject's data.
type ConsentRecord struct {
	ID             string
	SubjectID      string
	RequesterID    string
	Scope          ConsentScope
	Window         ValidityWindow
	Status         ConsentStatus
	LedgerRef      string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastModifiedBy string
}

// ActiveAt reports whether the record authorizes access at t.
func (c *ConsentRecord) ActiveAt(t time.Time) bool {
	return c.Status == ConsentStatusActive && c.Window.Contains(t)
}

// Clone returns a copy that shares no slices or pointers with c.
func (c *ConsentRecord) Clone() ConsentRecord {
	out := *c
	out.Scope.Categories = append([]DataCategory(nil), c.Scope.Categories...)
	if c.Window.End != nil {
		end := *c.Window.End
		out.Window.End = &end
	}
	return out
}

// EffectiveStatus is the status as of t. An ACTIVE record whose window has
// ended reads as EXPIRED even before the expiry sweep records it.
func (c *ConsentRecord) EffectiveStatus(t time.Time) ConsentStatus {
	if c.Status == ConsentStatusActive && c.Window.End != nil && !t.Before(*c.Window.End) {
		return ConsentStatusExpired
	}
	return c.Status
}

// ConsentLedgerRef links a consent to one ledger entry in its provenance history.
type ConsentLedgerRef struct {
	ConsentID     string
	LedgerEntryID string
	EventType     string
	Status        ConsentStatus
	ActorID       string
	CreatedAt     time.Time
}

var consentTransitions = map[ConsentStatus][]ConsentStatus{
	ConsentStatusDraft:   {ConsentStatusActive},
	ConsentStatusActive:  {ConsentStatusRevoked, ConsentStatusExpired},
	ConsentStatusRevoked: {},
	ConsentStatusExpired: {},
}

// IsValidConsentStatus reports whether s is one of the lifecycle states.
func IsValidConsentStatus(s ConsentStatus) bool {
	_, ok := consentTransitions[s]
	return ok
}

// CanTransition reports whether next is a legal successor of current.
func CanTransition(current, next ConsentStatus) bool {
	for _, candidate := range consentTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// NormalizeCategories trims and lowercases categories, preserving order.
func NormalizeCategories(in []string) []DataCategory {
	out := make([]DataCategory, 0, len(in))
	for _, c := range in {
		out = append(out, DataCategory(strings.ToLower(strings.TrimSpace(c))))
	}
	return out
}

// SortedCategories returns a sorted copy, used for stable ledger payloads.
func SortedCategories(in []DataCategory) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// SortCategories returns a sorted copy of in.
func SortCategories(in []DataCategory) []DataCategory {
	out := append([]DataCategory(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
