package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/events"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/security"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

const webhookQueueSize = 256

// WebhookPayload is the JSON body posted to company webhooks.
type WebhookPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ConsentID   string    `json:"consent_id"`
	SubjectID   string    `json:"subject_id"`
	RequesterID string    `json:"requester_id"`
	ActorID     string    `json:"actor_id"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

type webhookJob struct {
	notificationID string
	companyID      string
	url            string
	secret         string
	body           []byte
}

// NotificationService turns consent events into stored notifications and
// signed company webhooks.
type NotificationService struct {
	repo       repository.NotificationRepository
	companies  repository.CompanyRepository
	dispatcher events.Dispatcher
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
	retryBase  time.Duration
	maxRetries uint64
	jobs       chan webhookJob
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	NotificationRepo repository.NotificationRepository
	CompanyRepo      repository.CompanyRepository
	Dispatcher       events.Dispatcher
	HTTPClient       *http.Client
	Logger           *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(cfg config.NotificationConfig, deps NotificationDependencies) *NotificationService {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.WebhookTimeout()}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:       deps.NotificationRepo,
		companies:  deps.CompanyRepo,
		dispatcher: deps.Dispatcher,
		client:     client,
		logger:     logger,
		now:        time.Now,
		retryBase:  200 * time.Millisecond,
		maxRetries: 2,
		jobs:       make(chan webhookJob, webhookQueueSize),
	}
}

// RegisterHandlers subscribes to consent events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventConsentCreated, n.handleConsentEvent)
	n.dispatcher.Subscribe(events.EventConsentStatusChanged, n.handleConsentEvent)
}

func (n *NotificationService) handleConsentEvent(ctx context.Context, event events.Event) error {
	message := describeEvent(event)
	var errs []error

	userNote := &domain.Notification{
		RecipientType: domain.RecipientUser,
		RecipientID:   event.SubjectID,
		EventType:     string(event.Type),
		ConsentID:     event.ConsentID,
		Message:       message,
		Delivery:      domain.DeliverySkipped,
	}
	if err := n.repo.Create(ctx, userNote); err != nil {
		errs = append(errs, fmt.Errorf("subject notification: %w", err))
	}

	company, err := n.companies.GetByID(ctx, event.RequesterID)
	if err != nil {
		errs = append(errs, fmt.Errorf("load requester %s: %w", event.RequesterID, err))
		return errors.Join(errs...)
	}
	companyNote := &domain.Notification{
		RecipientType: domain.RecipientCompany,
		RecipientID:   company.ID,
		EventType:     string(event.Type),
		ConsentID:     event.ConsentID,
		Message:       message,
		Delivery:      domain.DeliverySkipped,
	}
	if company.WebhookURL != "" {
		companyNote.Delivery = domain.DeliveryPending
	}
	if err := n.repo.Create(ctx, companyNote); err != nil {
		errs = append(errs, fmt.Errorf("company notification: %w", err))
		return errors.Join(errs...)
	}
	if company.WebhookURL != "" {
		n.enqueue(ctx, companyNote.ID, company, event)
	}
	return errors.Join(errs...)
}

func (n *NotificationService) enqueue(ctx context.Context, notificationID string, company *domain.Company, event events.Event) {
	body, err := json.Marshal(WebhookPayload{
		EventID:     event.ID,
		EventType:   string(event.Type),
		ConsentID:   event.ConsentID,
		SubjectID:   event.SubjectID,
		RequesterID: event.RequesterID,
		ActorID:     event.ActorID,
		Timestamp:   event.Timestamp,
		Data:        event.Payload,
	})
	if err != nil {
		n.logger.Error("webhook payload unencodable", zap.String("event_id", event.ID), zap.Error(err))
		n.markDelivery(ctx, notificationID, domain.DeliveryFailed)
		return
	}
	job := webhookJob{
		notificationID: notificationID,
		companyID:      company.ID,
		url:            company.WebhookURL,
		secret:         company.WebhookSecret,
		body:           body,
	}
	select {
	case n.jobs <- job:
	default:
		n.logger.Warn("webhook queue full, dropping delivery",
			zap.String("notification_id", notificationID),
			zap.String("company_id", company.ID))
		n.markDelivery(ctx, notificationID, domain.DeliveryFailed)
	}
}

// ProcessDeliveries drains the webhook queue until ctx is cancelled.
func (n *NotificationService) ProcessDeliveries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-n.jobs:
			n.deliver(ctx, job)
		}
	}
}

// deliver posts one webhook, retrying transient failures, and records the
// final delivery state.
func (n *NotificationService) deliver(ctx context.Context, job webhookJob) {
	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return n.post(ctx, job)
	})
	state := domain.DeliveryDelivered
	if err != nil {
		state = domain.DeliveryFailed
		n.logger.Warn("webhook delivery failed",
			zap.String("notification_id", job.notificationID),
			zap.String("company_id", job.companyID),
			zap.Error(err))
	}
	n.markDelivery(ctx, job.notificationID, state)
}

func (n *NotificationService) post(ctx context.Context, job webhookJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.url, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	ts := n.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.TimestampHeader, fmt.Sprintf("%d", ts.Unix()))
	req.Header.Set(security.SignatureHeader, security.SignWebhook(job.secret, ts, job.body))

	resp, err := n.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
}

func (n *NotificationService) markDelivery(ctx context.Context, id string, state domain.DeliveryState) {
	if err := n.repo.UpdateDelivery(context.WithoutCancel(ctx), id, state); err != nil {
		n.logger.Warn("delivery state update failed",
			zap.String("notification_id", id),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}

// List returns the caller's notifications, newest first.
func (n *NotificationService) List(ctx context.Context, actor Actor, page, pageSize int) ([]domain.Notification, error) {
	recipientType, recipientID, ok := recipientOf(actor)
	if !ok {
		return []domain.Notification{}, nil
	}
	page, pageSize = normalizePage(page, pageSize)
	items, err := n.repo.ListByRecipient(ctx, recipientType, recipientID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return items, nil
}

// MarkRead flags one of the caller's notifications as read.
func (n *NotificationService) MarkRead(ctx context.Context, actor Actor, id string) error {
	recipientType, recipientID, ok := recipientOf(actor)
	if !ok {
		return apperrors.NewNotFound("notification", map[string]any{"id": id})
	}
	if err := n.repo.MarkRead(ctx, id, recipientType, recipientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("notification", map[string]any{"id": id})
		}
		return apperrors.NewInternalError(err)
	}
	return nil
}

func recipientOf(actor Actor) (domain.RecipientType, string, bool) {
	switch {
	case actor.Role == domain.RoleUser:
		return domain.RecipientUser, actor.ID, true
	case actor.Role.IsCompanyRole() && actor.CompanyID != "":
		return domain.RecipientCompany, actor.CompanyID, true
	}
	return "", "", false
}

func describeEvent(event events.Event) string {
	switch p := event.Payload.(type) {
	case events.ConsentStatusChangedPayload:
		return fmt.Sprintf("Consent %s changed from %s to %s", event.ConsentID, p.OldStatus, p.NewStatus)
	case events.ConsentCreatedPayload:
		return fmt.Sprintf("Consent %s granted for %s", event.ConsentID, p.Purpose)
	}
	return fmt.Sprintf("Consent %s: %s", event.ConsentID, event.Type)
}
