package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/cache"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/events"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/ledger"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConsentService manages consent lifecycles: ledger-first writes, monotonic
// status transitions and cached reads with bounded staleness.
type ConsentService struct {
	consents    repository.ConsentRepository
	users       repository.UserRepository
	companies   repository.CompanyRepository
	ledger      ledger.Appender
	cache       cache.Cache
	cacheTTL    time.Duration
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
	locks       *keyedMutex
	fills       singleflight.Group
	concurrency int
}

// ConsentDependencies bundles collaborators for the consent service.
type ConsentDependencies struct {
	ConsentRepo       repository.ConsentRepository
	UserRepo          repository.UserRepository
	CompanyRepo       repository.CompanyRepository
	Ledger            ledger.Appender
	Cache             cache.Cache
	CacheTTL          time.Duration
	Dispatcher        events.Dispatcher
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	Now               func() time.Time
	ExpiryConcurrency int
}

// Actor is the caller on whose behalf a consent operation runs.
type Actor struct {
	ID        string
	Role      domain.Role
	CompanyID string
}

// NewConsentService constructs the service.
func NewConsentService(deps ConsentDependencies) *ConsentService {
	s := &ConsentService{
		consents:    deps.ConsentRepo,
		users:       deps.UserRepo,
		companies:   deps.CompanyRepo,
		ledger:      deps.Ledger,
		cache:       deps.Cache,
		cacheTTL:    deps.CacheTTL,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
		locks:       newKeyedMutex(),
		concurrency: deps.ExpiryConcurrency,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Minute
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	return s
}

// Create validates the request, records it on the ledger and only then
// persists it. A ledger failure leaves nothing behind.
func (s *ConsentService) Create(ctx context.Context, subjectID, requesterID string, scope domain.ConsentScope, window domain.ValidityWindow, actorID string) (*domain.ConsentRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	requesterID = strings.TrimSpace(requesterID)
	scope.Purpose = strings.TrimSpace(scope.Purpose)
	if window.Start.IsZero() {
		window.Start = s.now().UTC()
	}
	if err := validateConsentInput(subjectID, requesterID, scope, window); err != nil {
		return nil, err
	}
	if actorID == "" {
		actorID = subjectID
	}
	if err := s.checkParties(ctx, subjectID, requesterID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	categories := domain.SortedCategories(scope.Categories)
	payload := map[string]any{
		"subject_id":   subjectID,
		"requester_id": requesterID,
		"categories":   categories,
		"purpose":      scope.Purpose,
		"valid_from":   window.Start.UTC().Format(time.RFC3339Nano),
		"status":       string(domain.ConsentStatusActive),
		"actor_id":     actorID,
	}
	if window.End != nil {
		payload["valid_until"] = window.End.UTC().Format(time.RFC3339Nano)
	}

	entryID, err := s.ledger.Append(ctx, id, ledger.EventConsentCreated, payload)
	if err != nil {
		s.logger.Warn("consent ledger append failed",
			zap.String("consent_id", id),
			zap.String("event_type", ledger.EventConsentCreated),
			zap.Error(err))
		return nil, ledgerError(err)
	}

	record := &domain.ConsentRecord{
		ID:             id,
		SubjectID:      subjectID,
		RequesterID:    requesterID,
		Scope:          domain.ConsentScope{Categories: domain.SortCategories(scope.Categories), Purpose: scope.Purpose},
		Window:         window,
		Status:         domain.ConsentStatusActive,
		LedgerRef:      entryID,
		LastModifiedBy: actorID,
	}
	ref := domain.ConsentLedgerRef{
		ConsentID:     id,
		LedgerEntryID: entryID,
		EventType:     ledger.EventConsentCreated,
		Status:        domain.ConsentStatusActive,
		ActorID:       actorID,
	}
	if err := s.consents.Create(ctx, record, ref); err != nil {
		s.logger.Error("consent persist failed after ledger append",
			zap.String("consent_id", id),
			zap.String("ledger_entry_id", entryID),
			zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}

	s.invalidate(ctx, "", subjectID)
	s.publish(ctx, events.Event{
		Type:        events.EventConsentCreated,
		ConsentID:   id,
		SubjectID:   subjectID,
		RequesterID: requesterID,
		ActorID:     actorID,
		Payload: events.ConsentCreatedPayload{
			Categories: categories,
			Purpose:    scope.Purpose,
			Status:     record.Status,
			LedgerRef:  entryID,
		},
	})
	s.logger.Info("consent created",
		zap.String("consent_id", id),
		zap.String("subject_id", subjectID),
		zap.String("requester_id", requesterID))
	return record, nil
}

// UpdateStatus moves a record forward in the lifecycle. Calls for the same
// consent are serialized in-process; the store's version check catches races
// with other instances.
func (s *ConsentService) UpdateStatus(ctx context.Context, consentID string, newStatus domain.ConsentStatus, actorID string) (*domain.ConsentRecord, error) {
	if !domain.IsValidConsentStatus(newStatus) {
		return nil, apperrors.NewValidationError("unknown consent status", map[string]any{"status": newStatus})
	}
	unlock := s.locks.Lock(consentID)
	defer unlock()

	current, err := s.consents.GetByID(ctx, consentID)
	if err != nil {
		return nil, notFoundOr(err, "consent", consentID)
	}
	if !domain.CanTransition(current.Status, newStatus) {
		return nil, apperrors.NewInvalidTransition(string(current.Status), string(newStatus))
	}

	entryID, err := s.ledger.Append(ctx, consentID, ledger.EventConsentStatusChanged, map[string]any{
		"from":     string(current.Status),
		"to":       string(newStatus),
		"actor_id": actorID,
		"version":  current.Version,
	})
	if err != nil {
		s.logger.Warn("consent ledger append failed",
			zap.String("consent_id", consentID),
			zap.String("event_type", ledger.EventConsentStatusChanged),
			zap.Error(err))
		return nil, ledgerError(err)
	}

	updated, err := s.consents.UpdateStatus(ctx, consentID, newStatus, actorID, current.Version, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.NewConcurrentModification("consent", consentID)
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.invalidate(ctx, consentID, updated.SubjectID)
	s.publish(ctx, events.Event{
		Type:        events.EventConsentStatusChanged,
		ConsentID:   consentID,
		SubjectID:   updated.SubjectID,
		RequesterID: updated.RequesterID,
		ActorID:     actorID,
		Payload: events.ConsentStatusChangedPayload{
			OldStatus:     current.Status,
			NewStatus:     updated.Status,
			LedgerEntryID: entryID,
			Version:       updated.Version,
		},
	})
	s.logger.Info("consent status changed",
		zap.String("consent_id", consentID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(newStatus)),
		zap.String("actor_id", actorID))
	return updated, nil
}

// ChangeStatus applies caller permissions before UpdateStatus. Subjects may
// activate or revoke their own consents; admins may make any legal change.
func (s *ConsentService) ChangeStatus(ctx context.Context, actor Actor, consentID string, newStatus domain.ConsentStatus) (*domain.ConsentRecord, error) {
	rec, err := s.Get(ctx, consentID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == domain.RoleAdmin:
	case actor.Role == domain.RoleUser && rec.SubjectID == actor.ID:
		if newStatus != domain.ConsentStatusRevoked && newStatus != domain.ConsentStatusActive {
			return nil, apperrors.NewForbidden("subjects may only activate or revoke consents")
		}
	default:
		return nil, apperrors.NewForbidden("not allowed to change this consent")
	}
	return s.UpdateStatus(ctx, consentID, newStatus, actor.ID)
}

// GetBySubject returns one page of the subject's consents, newest first.
// Pages are cached under the subject's current generation.
func (s *ConsentService) GetBySubject(ctx context.Context, subjectID string, page, pageSize int) ([]domain.ConsentRecord, error) {
	page, pageSize = normalizePage(page, pageSize)
	gen := s.generation(ctx, subjectID)
	key := cache.SubjectPageKey(subjectID, gen, page, pageSize)

	var cached []domain.ConsentRecord
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	// The fill is shared with other waiters, so it must outlive this caller.
	fillCtx := context.WithoutCancel(ctx)
	v, err, _ := s.fills.Do(key, func() (any, error) {
		records, err := s.consents.ListBySubject(fillCtx, subjectID, pageSize, (page-1)*pageSize)
		if err != nil {
			return nil, err
		}
		s.cacheSet(fillCtx, key, records)
		return records, nil
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	shared := v.([]domain.ConsentRecord)
	out := make([]domain.ConsentRecord, len(shared))
	for i := range shared {
		out[i] = shared[i].Clone()
	}
	return out, nil
}

// Get returns a single record through the cache.
func (s *ConsentService) Get(ctx context.Context, consentID string) (*domain.ConsentRecord, error) {
	key := cache.ConsentKey(consentID)
	var cached domain.ConsentRecord
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	fillCtx := context.WithoutCancel(ctx)
	v, err, _ := s.fills.Do(key, func() (any, error) {
		rec, err := s.consents.GetByID(fillCtx, consentID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(fillCtx, key, rec)
		return rec, nil
	})
	if err != nil {
		return nil, notFoundOr(err, "consent", consentID)
	}
	rec := v.(*domain.ConsentRecord).Clone()
	return &rec, nil
}

// GetFor returns the record if actor may see it.
func (s *ConsentService) GetFor(ctx context.Context, actor Actor, consentID string) (*domain.ConsentRecord, error) {
	rec, err := s.Get(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, rec) {
		return nil, apperrors.NewForbidden("not allowed to view this consent")
	}
	return rec, nil
}

// ListFor lists the consents visible to actor: their own as a subject, or
// those requested by their company.
func (s *ConsentService) ListFor(ctx context.Context, actor Actor, page, pageSize int) ([]domain.ConsentRecord, error) {
	switch {
	case actor.Role == domain.RoleUser:
		return s.GetBySubject(ctx, actor.ID, page, pageSize)
	case actor.Role.IsCompanyRole() && actor.CompanyID != "":
		return s.ListByRequester(ctx, actor.CompanyID, page, pageSize)
	default:
		return nil, apperrors.NewForbidden("no consent listing for this role")
	}
}

// ListByRequester lists consents a company requested. Not cached.
func (s *ConsentService) ListByRequester(ctx context.Context, requesterID string, page, pageSize int) ([]domain.ConsentRecord, error) {
	page, pageSize = normalizePage(page, pageSize)
	records, err := s.consents.ListByRequester(ctx, requesterID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return records, nil
}

// LedgerHistory returns the provenance entries of a consent, oldest first.
func (s *ConsentService) LedgerHistory(ctx context.Context, actor Actor, consentID string) ([]domain.ConsentLedgerRef, error) {
	if _, err := s.GetFor(ctx, actor, consentID); err != nil {
		return nil, err
	}
	refs, err := s.consents.ListLedgerEntries(ctx, consentID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return refs, nil
}

// HasActiveConsent reports whether subject currently authorizes requester
// for category. A record past its window end never authorizes access, even
// before the expiry sweep has marked it EXPIRED.
func (s *ConsentService) HasActiveConsent(ctx context.Context, subjectID, requesterID string, category domain.DataCategory, now time.Time) (bool, error) {
	records, err := s.consents.ListActive(ctx, subjectID, requesterID)
	if err != nil {
		return false, apperrors.NewInternalError(err)
	}
	for i := range records {
		if records[i].ActiveAt(now) && records[i].Scope.Covers(category) {
			return true, nil
		}
	}
	return false, nil
}

// CheckAccess answers HasActiveConsent for a caller. Company operators may
// only ask about their own company; admins name any requester.
func (s *ConsentService) CheckAccess(ctx context.Context, actor Actor, subjectID, requesterID string, category domain.DataCategory) (bool, error) {
	switch {
	case actor.Role == domain.RoleAdmin:
	case actor.Role.IsCompanyRole() && actor.CompanyID != "":
		if requesterID == "" {
			requesterID = actor.CompanyID
		}
		if requesterID != actor.CompanyID {
			return false, apperrors.NewForbidden("not a member of this company")
		}
	default:
		return false, apperrors.NewForbidden("consent checks are for requesters")
	}

	details := map[string]any{}
	if subjectID == "" {
		details["subject_id"] = "required"
	}
	if requesterID == "" {
		details["requester_id"] = "required"
	}
	if !domain.IsKnownCategory(category) {
		details["category"] = "unknown category: " + string(category)
	}
	if len(details) > 0 {
		return false, apperrors.NewValidationError("invalid consent check", details)
	}
	return s.HasActiveConsent(ctx, subjectID, requesterID, category, s.now())
}

// ExpireDue moves ACTIVE records whose window has ended to EXPIRED, each
// through the ledger like any other transition. Records changed concurrently
// are skipped. It returns how many were expired.
func (s *ConsentService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.consents.ListDueForExpiry(ctx, now, limit)
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range due {
		id := rec.ID
		g.Go(func() error {
			_, err := s.UpdateStatus(gctx, id, domain.ConsentStatusExpired, domain.SystemActor)
			switch {
			case err == nil:
				expired.Add(1)
				return nil
			case apperrors.HasCode(err, apperrors.CodeInvalidTransition),
				apperrors.HasCode(err, apperrors.CodeConcurrentModification),
				apperrors.HasCode(err, apperrors.CodeNotFound):
				s.logger.Debug("expiry skipped", zap.String("consent_id", id), zap.Error(err))
				return nil
			default:
				return err
			}
		})
	}
	err = g.Wait()
	return int(expired.Load()), err
}

func (s *ConsentService) checkParties(ctx context.Context, subjectID, requesterID string) error {
	if s.users != nil {
		subject, err := s.users.GetByID(ctx, subjectID)
		if err != nil {
			return notFoundOr(err, "subject", subjectID)
		}
		if subject.Role != domain.RoleUser {
			return apperrors.NewValidationError("consent subject must be a user account", map[string]any{"subject_id": subjectID})
		}
	}
	if s.companies != nil {
		company, err := s.companies.GetByID(ctx, requesterID)
		if err != nil {
			return notFoundOr(err, "requester company", requesterID)
		}
		if company.Status != domain.CompanyStatusActive {
			return apperrors.NewValidationError("requester company is not active", map[string]any{"requester_id": requesterID})
		}
	}
	return nil
}

func validateConsentInput(subjectID, requesterID string, scope domain.ConsentScope, window domain.ValidityWindow) error {
	details := map[string]any{}
	if subjectID == "" {
		details["subject_id"] = "required"
	}
	if requesterID == "" {
		details["requester_id"] = "required"
	}
	if scope.Purpose == "" {
		details["purpose"] = "required"
	}
	if len(scope.Categories) == 0 {
		details["categories"] = "at least one category required"
	}
	seen := make(map[domain.DataCategory]struct{}, len(scope.Categories))
	for _, c := range scope.Categories {
		if !domain.IsKnownCategory(c) {
			details["categories"] = "unknown category: " + string(c)
			break
		}
		if _, dup := seen[c]; dup {
			details["categories"] = "duplicate category: " + string(c)
			break
		}
		seen[c] = struct{}{}
	}
	if window.End != nil && window.End.Before(window.Start) {
		details["window"] = "end must not be before start"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid consent request", details)
	}
	return nil
}

func canView(actor Actor, rec *domain.ConsentRecord) bool {
	switch {
	case actor.Role == domain.RoleAdmin:
		return true
	case actor.Role == domain.RoleUser:
		return rec.SubjectID == actor.ID
	case actor.Role.IsCompanyRole():
		return actor.CompanyID != "" && rec.RequesterID == actor.CompanyID
	}
	return false
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// generation returns the subject's page-cache generation, creating one when
// absent. With the cache down it returns a fresh token, which simply misses.
func (s *ConsentService) generation(ctx context.Context, subjectID string) string {
	if s.cache == nil {
		return "nocache"
	}
	key := cache.SubjectGenerationKey(subjectID)
	val, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache generation read failed", zap.String("subject_id", subjectID), zap.Error(err))
		return uuid.NewString()
	}
	if ok && len(val) > 0 {
		return string(val)
	}
	gen := uuid.NewString()
	if err := s.cache.Set(ctx, key, []byte(gen), s.cacheTTL); err != nil {
		s.logger.Warn("cache generation write failed", zap.String("subject_id", subjectID), zap.Error(err))
	}
	return gen
}

func (s *ConsentService) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	val, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		s.metrics.RecordCache(false)
		return false
	}
	if !ok {
		s.metrics.RecordCache(false)
		return false
	}
	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		s.metrics.RecordCache(false)
		return false
	}
	s.metrics.RecordCache(true)
	return true
}

func (s *ConsentService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache entry unencodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops the record entry and orphans every cached page of the
// subject. Failures are logged; TTL bounds the resulting staleness.
func (s *ConsentService) invalidate(ctx context.Context, consentID, subjectID string) {
	if s.cache == nil {
		return
	}
	keys := []string{cache.SubjectGenerationKey(subjectID)}
	if consentID != "" {
		keys = append(keys, cache.ConsentKey(consentID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed",
			zap.String("consent_id", consentID),
			zap.String("subject_id", subjectID),
			zap.Error(err))
	}
}

func (s *ConsentService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func ledgerError(err error) error {
	if ledger.IsRejected(err) {
		return apperrors.NewLedgerRejected(err)
	}
	return apperrors.NewLedgerUnavailable(err)
}

func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewInternalError(err)
}
