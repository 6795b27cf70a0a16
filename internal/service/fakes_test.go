package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/cache"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/ledger"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memConsentRepo mimics the Postgres repository, including the version check.
type memConsentRepo struct {
	mu           sync.Mutex
	records      map[string]domain.ConsentRecord
	refs         map[string][]domain.ConsentLedgerRef
	seq          int
	createErr    error
	beforeUpdate func(id string)
	getCalls     atomic.Int32
	listCalls    atomic.Int32
}

func newMemConsentRepo() *memConsentRepo {
	return &memConsentRepo{
		records: map[string]domain.ConsentRecord{},
		refs:    map[string][]domain.ConsentLedgerRef{},
	}
}

func (r *memConsentRepo) Create(_ context.Context, rec *domain.ConsentRecord, ref domain.ConsentLedgerRef) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	rec.Version = 1
	rec.CreatedAt = baseTime.Add(time.Duration(r.seq) * time.Second)
	rec.UpdatedAt = rec.CreatedAt
	r.records[rec.ID] = *rec
	ref.CreatedAt = rec.CreatedAt
	r.refs[rec.ID] = append(r.refs[rec.ID], ref)
	return nil
}

func (r *memConsentRepo) put(rec domain.ConsentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = 1
	}
	r.records[rec.ID] = rec
}

func (r *memConsentRepo) status(id string) domain.ConsentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id].Status
}

func (r *memConsentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memConsentRepo) GetByID(_ context.Context, id string) (*domain.ConsentRecord, error) {
	r.getCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &rec, nil
}

func (r *memConsentRepo) filter(keep func(domain.ConsentRecord) bool) []domain.ConsentRecord {
	out := []domain.ConsentRecord{}
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func page(in []domain.ConsentRecord, limit, offset int) []domain.ConsentRecord {
	if offset >= len(in) {
		return []domain.ConsentRecord{}
	}
	end := offset + limit
	if end > len(in) {
		end = len(in)
	}
	return in[offset:end]
}

func (r *memConsentRepo) ListBySubject(_ context.Context, subjectID string, limit, offset int) ([]domain.ConsentRecord, error) {
	r.listCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.filter(func(c domain.ConsentRecord) bool { return c.SubjectID == subjectID }), limit, offset), nil
}

func (r *memConsentRepo) ListByRequester(_ context.Context, requesterID string, limit, offset int) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.filter(func(c domain.ConsentRecord) bool { return c.RequesterID == requesterID }), limit, offset), nil
}

func (r *memConsentRepo) ListActive(_ context.Context, subjectID, requesterID string) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(c domain.ConsentRecord) bool {
		return c.SubjectID == subjectID && c.RequesterID == requesterID && c.Status == domain.ConsentStatusActive
	}), nil
}

func (r *memConsentRepo) ListDueForExpiry(_ context.Context, now time.Time, limit int) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := r.filter(func(c domain.ConsentRecord) bool {
		return c.Status == domain.ConsentStatusActive && c.Window.End != nil && !c.Window.End.After(now)
	})
	return page(due, limit, 0), nil
}

func (r *memConsentRepo) UpdateStatus(_ context.Context, id string, status domain.ConsentStatus, actorID string, expectedVersion int64, ledgerEntryID string) (*domain.ConsentRecord, error) {
	if r.beforeUpdate != nil {
		r.beforeUpdate(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	rec.Status = status
	rec.Version++
	rec.LastModifiedBy = actorID
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Second)
	r.records[id] = rec
	r.refs[id] = append(r.refs[id], domain.ConsentLedgerRef{
		ConsentID:     id,
		LedgerEntryID: ledgerEntryID,
		EventType:     ledger.EventConsentStatusChanged,
		Status:        status,
		ActorID:       actorID,
		CreatedAt:     rec.UpdatedAt,
	})
	return &rec, nil
}

func (r *memConsentRepo) ListLedgerEntries(_ context.Context, consentID string) ([]domain.ConsentLedgerRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConsentLedgerRef{}, r.refs[consentID]...), nil
}

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
	seq   int
}

func newMemUserRepo(users ...*domain.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*domain.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
		}
	}
	r.seq++
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", r.seq)
	}
	u.CreatedAt, u.UpdatedAt = baseTime, baseTime
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memUserRepo) ListByCompany(_ context.Context, companyID string) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.User{}
	for _, u := range r.users {
		if u.CompanyID != nil && *u.CompanyID == companyID {
			out = append(out, *u)
		}
	}
	return out, nil
}

// memCompanyRepo is an in-memory CompanyRepository.
type memCompanyRepo struct {
	mu        sync.Mutex
	companies map[string]*domain.Company
	users     *memUserRepo
}

func newMemCompanyRepo(users *memUserRepo, companies ...*domain.Company) *memCompanyRepo {
	r := &memCompanyRepo{companies: map[string]*domain.Company{}, users: users}
	for _, c := range companies {
		r.companies[c.ID] = c
	}
	return r
}

func (r *memCompanyRepo) CreateWithAdmin(ctx context.Context, c *domain.Company, admin *domain.User) error {
	r.mu.Lock()
	if c.ID == "" {
		c.ID = "company-" + c.Slug
	}
	c.CreatedAt, c.UpdatedAt = baseTime, baseTime
	cp := *c
	r.companies[c.ID] = &cp
	r.mu.Unlock()
	if admin == nil {
		return nil
	}
	admin.CompanyID = &c.ID
	return r.users.Create(ctx, admin)
}

func (r *memCompanyRepo) GetByID(_ context.Context, id string) (*domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (r *memCompanyRepo) List(_ context.Context, limit, offset int) ([]domain.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Company{}
	for _, c := range r.companies {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memCompanyRepo) UpdateStatus(_ context.Context, id string, status domain.CompanyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Status = status
	return nil
}

// switchLedger wraps the in-memory ledger with a failure switch and a hook.
type switchLedger struct {
	inner  *ledger.MemoryLedger
	fail   atomic.Bool
	reject atomic.Bool
	delay  time.Duration
	calls  atomic.Int32
	before func(consentID, eventType string)
}

func newSwitchLedger() *switchLedger {
	return &switchLedger{inner: ledger.NewMemoryLedger()}
}

func (l *switchLedger) Append(ctx context.Context, consentID, eventType string, payload map[string]any) (string, error) {
	l.calls.Add(1)
	if l.before != nil {
		l.before(consentID, eventType)
	}
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.reject.Load() {
		return "", &ledger.RejectedError{Status: 400, Reason: "schema mismatch"}
	}
	if l.fail.Load() {
		return "", errLedgerDown
	}
	return l.inner.Append(ctx, consentID, eventType, payload)
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRedisCache(client, "test")
}

// memAuditRepo is an in-memory AuditRepository.
type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (r *memAuditRepo) Create(_ context.Context, e *domain.AuditEntry) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = fmt.Sprintf("audit-%d", len(r.entries)+1)
	e.CreatedAt = baseTime
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, f repository.AuditFilter) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.AuditEntry{}
	for _, e := range r.entries {
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if f.ResourceType != nil && e.ResourceType != *f.ResourceType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// memProfileRepo stores the sealed form exactly as Postgres would.
type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]domain.EncryptedProfile
}

func newMemProfileRepo() *memProfileRepo {
	return &memProfileRepo{profiles: map[string]domain.EncryptedProfile{}}
}

func (r *memProfileRepo) Get(_ context.Context, userID string) (*domain.EncryptedProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (r *memProfileRepo) Upsert(_ context.Context, p *domain.EncryptedProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = r.profiles[p.UserID].Version + 1
	p.UpdatedAt = baseTime
	r.profiles[p.UserID] = *p
	return nil
}

// memNotificationRepo is an in-memory NotificationRepository.
type memNotificationRepo struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (r *memNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = fmt.Sprintf("n-%d", len(r.items)+1)
	n.CreatedAt = baseTime.Add(time.Duration(len(r.items)) * time.Second)
	r.items = append(r.items, *n)
	return nil
}

func (r *memNotificationRepo) ListByRecipient(_ context.Context, rt domain.RecipientType, id string, limit, offset int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Notification{}
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].RecipientType == rt && r.items[i].RecipientID == id {
			out = append(out, r.items[i])
		}
	}
	if offset >= len(out) {
		return []domain.Notification{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memNotificationRepo) MarkRead(_ context.Context, id string, rt domain.RecipientType, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id && r.items[i].RecipientType == rt && r.items[i].RecipientID == recipientID {
			r.items[i].Read = true
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memNotificationRepo) UpdateDelivery(_ context.Context, id string, state domain.DeliveryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].Delivery = state
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memNotificationRepo) snapshot() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification{}, r.items...)
}
