// Package memstore implements the repository interfaces in process memory.
// It backs the service when no Postgres DSN is configured and in API tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/ledger"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
)

const uniqueViolation = "23505"

// Store holds every table behind one mutex.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	users         map[string]domain.User
	companies     map[string]domain.Company
	consents      map[string]domain.ConsentRecord
	ledgerRefs    map[string][]domain.ConsentLedgerRef
	audit         []domain.AuditEntry
	notifications []domain.Notification
	profiles      map[string]domain.EncryptedProfile
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		users:      map[string]domain.User{},
		companies:  map[string]domain.Company{},
		consents:   map[string]domain.ConsentRecord{},
		ledgerRefs: map[string][]domain.ConsentLedgerRef{},
		profiles:   map[string]domain.EncryptedProfile{},
	}
}

// Users returns the account repository.
func (s *Store) Users() repository.UserRepository { return (*users)(s) }

// Companies returns the company repository.
func (s *Store) Companies() repository.CompanyRepository { return (*companies)(s) }

// Consents returns the consent repository.
func (s *Store) Consents() repository.ConsentRepository { return (*consents)(s) }

// Audit returns the audit log repository.
func (s *Store) Audit() repository.AuditRepository { return (*audit)(s) }

// Notifications returns the notification repository.
func (s *Store) Notifications() repository.NotificationRepository { return (*notifications)(s) }

// Profiles returns the profile repository.
func (s *Store) Profiles() repository.ProfileRepository { return (*profiles)(s) }

func duplicate(constraint string) error {
	return &pgconn.PgError{Code: uniqueViolation, ConstraintName: constraint}
}

func paginate[T any](in []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if len(in) > limit {
		in = in[:limit]
	}
	return in
}

type users Store

func (r *users) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(u)
}

func (r *users) insertLocked(u *domain.User) error {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return duplicate("users_email_key")
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = r.now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = *u
	return nil
}

func (r *users) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return pgx.ErrNoRows
	}
	u.UpdatedAt = r.now()
	r.users[u.ID] = *u
	return nil
}

func (r *users) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (r *users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *users) ListByCompany(_ context.Context, companyID string) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.User{}
	for _, u := range r.users {
		if u.CompanyID != nil && *u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type companies Store

func (r *companies) CreateWithAdmin(_ context.Context, c *domain.Company, admin *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.companies {
		if existing.Slug == c.Slug {
			return duplicate("companies_slug_key")
		}
	}
	if admin != nil {
		for _, existing := range r.users {
			if existing.Email == admin.Email {
				return duplicate("users_email_key")
			}
		}
	}
	c.ID = uuid.NewString()
	c.CreatedAt = r.now()
	c.UpdatedAt = c.CreatedAt
	r.companies[c.ID] = *c
	if admin == nil {
		return nil
	}
	id := c.ID
	admin.CompanyID = &id
	return (*users)(r).insertLocked(admin)
}

func (r *companies) GetByID(_ context.Context, id string) (*domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (r *companies) List(_ context.Context, limit, offset int) ([]domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Company, 0, len(r.companies))
	for _, c := range r.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, limit, offset), nil
}

func (r *companies) UpdateStatus(_ context.Context, id string, status domain.CompanyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Status = status
	c.UpdatedAt = r.now()
	r.companies[id] = c
	return nil
}

type consents Store

func (r *consents) Create(_ context.Context, rec *domain.ConsentRecord, ref domain.ConsentLedgerRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.consents[rec.ID]; exists {
		return duplicate("consents_pkey")
	}
	rec.Version = 1
	rec.CreatedAt = r.now()
	rec.UpdatedAt = rec.CreatedAt
	r.consents[rec.ID] = cloneConsent(*rec)
	ref.CreatedAt = rec.CreatedAt
	r.ledgerRefs[rec.ID] = append(r.ledgerRefs[rec.ID], ref)
	return nil
}

func (r *consents) GetByID(_ context.Context, id string) (*domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.consents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	rec = cloneConsent(rec)
	return &rec, nil
}

// cloneConsent detaches a record from caller-owned slices and pointers.
// Categories come back sorted, as they do from Postgres.
func cloneConsent(rec domain.ConsentRecord) domain.ConsentRecord {
	rec = rec.Clone()
	rec.Scope.Categories = domain.SortCategories(rec.Scope.Categories)
	return rec
}

func (r *consents) newestFirst(keep func(*domain.ConsentRecord) bool) []domain.ConsentRecord {
	out := []domain.ConsentRecord{}
	for _, rec := range r.consents {
		if keep(&rec) {
			out = append(out, cloneConsent(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *consents) ListBySubject(_ context.Context, subjectID string, limit, offset int) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paginate(r.newestFirst(func(c *domain.ConsentRecord) bool { return c.SubjectID == subjectID }), limit, offset), nil
}

func (r *consents) ListByRequester(_ context.Context, requesterID string, limit, offset int) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paginate(r.newestFirst(func(c *domain.ConsentRecord) bool { return c.RequesterID == requesterID }), limit, offset), nil
}

func (r *consents) ListActive(_ context.Context, subjectID, requesterID string) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newestFirst(func(c *domain.ConsentRecord) bool {
		return c.SubjectID == subjectID && c.RequesterID == requesterID && c.Status == domain.ConsentStatusActive
	}), nil
}

func (r *consents) ListDueForExpiry(_ context.Context, now time.Time, limit int) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := r.newestFirst(func(c *domain.ConsentRecord) bool {
		return c.Status == domain.ConsentStatusActive && c.Window.End != nil && !c.Window.End.After(now)
	})
	sort.Slice(due, func(i, j int) bool { return due[i].Window.End.Before(*due[j].Window.End) })
	return paginate(due, limit, 0), nil
}

func (r *consents) UpdateStatus(_ context.Context, id string, status domain.ConsentStatus, actorID string, expectedVersion int64, ledgerEntryID string) (*domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.consents[id]
	if !ok || rec.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	rec.Status = status
	rec.Version++
	rec.LastModifiedBy = actorID
	rec.UpdatedAt = r.now()
	r.consents[rec.ID] = rec
	r.ledgerRefs[rec.ID] = append(r.ledgerRefs[rec.ID], domain.ConsentLedgerRef{
		ConsentID:     rec.ID,
		LedgerEntryID: ledgerEntryID,
		EventType:     ledger.EventConsentStatusChanged,
		Status:        status,
		ActorID:       actorID,
		CreatedAt:     rec.UpdatedAt,
	})
	rec = cloneConsent(rec)
	return &rec, nil
}

func (r *consents) ListLedgerEntries(_ context.Context, consentID string) ([]domain.ConsentLedgerRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConsentLedgerRef{}, r.ledgerRefs[consentID]...), nil
}

type audit Store

func (r *audit) Create(_ context.Context, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = r.now()
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	r.audit = append(r.audit, *e)
	return nil
}

func (r *audit) List(_ context.Context, f repository.AuditFilter) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.AuditEntry{}
	for i := len(r.audit) - 1; i >= 0; i-- {
		e := r.audit[i]
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if f.ResourceType != nil && e.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && (e.ResourceID == nil || *e.ResourceID != *f.ResourceID) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.Limit, f.Offset), nil
}

type notifications Store

func (r *notifications) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = r.now()
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *notifications) ListByRecipient(_ context.Context, rt domain.RecipientType, recipientID string, limit, offset int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Notification{}
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		if n.RecipientType == rt && n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return paginate(out, limit, offset), nil
}

func (r *notifications) MarkRead(_ context.Context, id string, rt domain.RecipientType, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID == id && n.RecipientType == rt && n.RecipientID == recipientID {
			n.Read = true
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *notifications) UpdateDelivery(_ context.Context, id string, state domain.DeliveryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == id {
			r.notifications[i].Delivery = state
			return nil
		}
	}
	return pgx.ErrNoRows
}

type profiles Store

func (r *profiles) Get(_ context.Context, userID string) (*domain.EncryptedProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (r *profiles) Upsert(_ context.Context, p *domain.EncryptedProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = r.profiles[p.UserID].Version + 1
	p.UpdatedAt = r.now()
	r.profiles[p.UserID] = *p
	return nil
}
