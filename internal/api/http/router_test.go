package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/http/handlers"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/cache"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/events"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/ledger"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository/memstore"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/security"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
)

const adminPassword = "platform admin password"

type apiHarness struct {
	app    *fiber.App
	store  *memstore.Store
	ledger *ledger.MemoryLedger
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newHarness(t *testing.T, rateMax int, deps map[string]handlers.Pinger) *apiHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	memLedger := ledger.NewMemoryLedger()
	dispatcher := events.NewInMemoryDispatcher(logger)

	authSvc := service.NewAuthService(config.AuthConfig{JWTSecret: "router-test", AccessTokenTTLMinutes: 5, BcryptCost: 4}, store.Users(), logger)
	consents := service.NewConsentService(service.ConsentDependencies{
		ConsentRepo: store.Consents(),
		UserRepo:    store.Users(),
		CompanyRepo: store.Companies(),
		Ledger:      memLedger,
		Cache:       cache.NewRedisCache(client, "consent"),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	companies := service.NewCompanyService(store.Companies(), store.Users(), authSvc, logger)
	auditSvc := service.NewAuditService(store.Audit(), logger)
	cipher, err := security.NewFieldCipher(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("cipher err=%v", err)
	}
	profiles := service.NewProfileService(store.Profiles(), cipher, auditSvc, logger)
	notifications := service.NewNotificationService(config.NotificationConfig{WebhookTimeoutMs: 1000}, service.NotificationDependencies{
		NotificationRepo: store.Notifications(),
		CompanyRepo:      store.Companies(),
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	notifications.RegisterHandlers()

	authorizer, err := auth.NewAuthorizer(auth.DefaultPolicy, logger)
	if err != nil {
		t.Fatalf("authorizer err=%v", err)
	}

	hash, err := auth.HashPassword(adminPassword, 4)
	if err != nil {
		t.Fatalf("hash err=%v", err)
	}
	if err := store.Users().Create(context.Background(), &domain.User{
		Name:         "Platform Admin",
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Status:       domain.UserStatusActive,
	}); err != nil {
		t.Fatalf("seed admin err=%v", err)
	}

	app := fiber.New(fiber.Config{Immutable: true})
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("consent-service", "test", deps, func() string { return "closed" }),
		Users:          handlers.NewUsersHandler(authSvc, profiles),
		Consents:       handlers.NewConsentsHandler(consents),
		Companies:      handlers.NewCompaniesHandler(companies),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Audit:          handlers.NewAuditHandler(auditSvc),
		AuthMiddleware: auth.NewAuthMiddleware(authSvc.TokenManager(), store.Users()),
		Authorizer:     authorizer,
		RateLimit:      NewRateLimiter(config.RateLimitConfig{Max: rateMax, WindowSeconds: 60}, cache.NewFiberStorage(client, "limiter")),
		AuditTrail:     AuditTrail(auditSvc),
	})
	return &apiHarness{app: app, store: store, ledger: memLedger}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal err=%v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s err=%v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s body=%s err=%v", method, path, raw, err)
		}
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("data=%s err=%v", env.Data, err)
	}
	return out
}

type authPayload struct {
	User struct {
		ID        string  `json:"id"`
		Role      string  `json:"role"`
		CompanyID *string `json:"company_id"`
	} `json:"user"`
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

func (h *apiHarness) login(t *testing.T, email, password string) string {
	t.Helper()
	status, env := h.do(t, fiber.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	if status != fiber.StatusOK {
		t.Fatalf("login %s status=%d err=%+v", email, status, env.Error)
	}
	return decode[authPayload](t, env).Auth.Token
}

func TestConsentFlowOverHTTP(t *testing.T) {
	h := newHarness(t, 1000, nil)
	adminToken := h.login(t, "admin@example.com", adminPassword)

	status, env := h.do(t, fiber.MethodPost, "/companies", adminToken, map[string]any{
		"name":          "Acme Labs",
		"contact_email": "ops@acme.example",
		"admin": map[string]string{
			"name":     "Acme Admin",
			"email":    "admin@acme.example",
			"password": "acme admin password",
		},
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create company status=%d err=%+v", status, env.Error)
	}
	created := decode[struct {
		Company struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		} `json:"company"`
	}](t, env)
	companyID := created.Company.ID
	if companyID == "" || created.Company.Slug != "acme-labs" {
		t.Fatalf("company=%+v", created.Company)
	}
	companyToken := h.login(t, "admin@acme.example", "acme admin password")

	status, env = h.do(t, fiber.MethodGet, "/companies/"+companyID+"/members", companyToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("members status=%d err=%+v", status, env.Error)
	}
	if members := decode[[]struct {
		Role string `json:"role"`
	}](t, env); len(members) != 1 || members[0].Role != string(domain.RoleCompanyAdmin) {
		t.Fatalf("members=%+v", members)
	}

	status, env = h.do(t, fiber.MethodPost, "/auth/users/register", "", map[string]string{
		"name":     "Pat",
		"email":    "pat@example.com",
		"password": "pat password 123",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register status=%d err=%+v", status, env.Error)
	}
	registered := decode[authPayload](t, env)
	userToken := registered.Auth.Token
	if registered.User.Role != string(domain.RoleUser) || userToken == "" {
		t.Fatalf("registered=%+v", registered)
	}

	status, env = h.do(t, fiber.MethodPost, "/consents", userToken, map[string]any{
		"requester_id": companyID,
		"categories":   []string{"Labs", "genomics"},
		"purpose":      "oncology study",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create consent status=%d err=%+v", status, env.Error)
	}
	type consentBody struct {
		ID         string   `json:"id"`
		SubjectID  string   `json:"subject_id"`
		Status     string   `json:"status"`
		Categories []string `json:"categories"`
		LedgerRef  string   `json:"ledger_ref"`
	}
	consent := decode[consentBody](t, env)
	if consent.Status != string(domain.ConsentStatusActive) || consent.SubjectID != registered.User.ID || consent.LedgerRef == "" {
		t.Fatalf("consent=%+v", consent)
	}

	status, env = h.do(t, fiber.MethodGet, "/consents", companyToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("company list status=%d err=%+v", status, env.Error)
	}
	if list := decode[[]consentBody](t, env); len(list) != 1 || list[0].ID != consent.ID {
		t.Fatalf("company list=%+v", list)
	}

	// Requesters can read but never change a consent.
	status, env = h.do(t, fiber.MethodPatch, "/consents/"+consent.ID+"/status", companyToken, map[string]string{"status": "REVOKED"})
	if status != fiber.StatusForbidden || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("company revoke status=%d err=%+v", status, env.Error)
	}

	status, env = h.do(t, fiber.MethodPatch, "/consents/"+consent.ID+"/status", userToken, map[string]string{"status": "REVOKED"})
	if status != fiber.StatusOK {
		t.Fatalf("revoke status=%d err=%+v", status, env.Error)
	}
	if revoked := decode[consentBody](t, env); revoked.Status != string(domain.ConsentStatusRevoked) {
		t.Fatalf("revoked=%+v", revoked)
	}

	status, env = h.do(t, fiber.MethodPatch, "/consents/"+consent.ID+"/status", userToken, map[string]string{"status": "ACTIVE"})
	if status != fiber.StatusConflict || env.Error.Code != "INVALID_TRANSITION" {
		t.Fatalf("reactivate status=%d err=%+v", status, env.Error)
	}

	status, env = h.do(t, fiber.MethodGet, "/consents/"+consent.ID+"/ledger", userToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("ledger status=%d err=%+v", status, env.Error)
	}
	refs := decode[[]struct {
		EventType string `json:"event_type"`
		Status    string `json:"status"`
	}](t, env)
	if len(refs) != 2 || len(h.ledger.Entries(consent.ID)) != 2 {
		t.Fatalf("refs=%+v ledger=%d", refs, len(h.ledger.Entries(consent.ID)))
	}

	for _, token := range []string{userToken, companyToken} {
		status, env = h.do(t, fiber.MethodGet, "/notifications", token, nil)
		if status != fiber.StatusOK {
			t.Fatalf("notifications status=%d err=%+v", status, env.Error)
		}
		if items := decode[[]struct {
			ConsentID string `json:"consent_id"`
		}](t, env); len(items) != 2 || items[0].ConsentID != consent.ID {
			t.Fatalf("notifications=%+v", items)
		}
	}

	status, env = h.do(t, fiber.MethodGet, "/audit?resource_type=consents", adminToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("audit status=%d err=%+v", status, env.Error)
	}
	entries := decode[[]struct {
		Action     string `json:"action"`
		HTTPStatus int    `json:"http_status"`
		RequestID  string `json:"request_id"`
	}](t, env)
	// create, forbidden revoke, revoke, rejected reactivation
	if len(entries) != 4 {
		t.Fatalf("audit entries=%+v", entries)
	}
	if entries[0].HTTPStatus != fiber.StatusConflict || entries[0].RequestID == "" {
		t.Fatalf("latest audit entry=%+v", entries[0])
	}
}

func TestRoleGuards(t *testing.T) {
	h := newHarness(t, 1000, nil)
	adminToken := h.login(t, "admin@example.com", adminPassword)

	status, env := h.do(t, fiber.MethodPost, "/auth/users/register", "", map[string]string{
		"name": "Sam", "email": "sam@example.com", "password": "sam password 123",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register status=%d err=%+v", status, env.Error)
	}
	userToken := decode[authPayload](t, env).Auth.Token

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"anonymous consents", fiber.MethodGet, "/consents", "", fiber.StatusUnauthorized},
		{"garbage token", fiber.MethodGet, "/consents", "not-a-jwt", fiber.StatusUnauthorized},
		{"user lists companies", fiber.MethodGet, "/companies", userToken, fiber.StatusForbidden},
		{"admin lists companies", fiber.MethodGet, "/companies", adminToken, fiber.StatusOK},
		{"user reads audit", fiber.MethodGet, "/audit", userToken, fiber.StatusForbidden},
		{"admin reads profile", fiber.MethodGet, "/me/profile", adminToken, fiber.StatusForbidden},
		{"user reads profile", fiber.MethodGet, "/me/profile", userToken, fiber.StatusOK},
		{"unknown consent", fiber.MethodGet, "/consents/missing", userToken, fiber.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := h.do(t, tc.method, tc.path, tc.token, nil)
			if status != tc.want {
				t.Fatalf("status=%d want=%d err=%+v", status, tc.want, env.Error)
			}
		})
	}
}

func TestProfileRoundTripOverHTTP(t *testing.T) {
	h := newHarness(t, 1000, nil)
	status, env := h.do(t, fiber.MethodPost, "/auth/users/register", "", map[string]string{
		"name": "Lee", "email": "lee@example.com", "password": "lee password 123",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register status=%d err=%+v", status, env.Error)
	}
	registered := decode[authPayload](t, env)

	status, env = h.do(t, fiber.MethodPut, "/me/profile", registered.Auth.Token, map[string]string{
		"phone":                 "+1 555 0100",
		"medical_record_number": "MRN-42",
	})
	if status != fiber.StatusOK {
		t.Fatalf("put status=%d err=%+v", status, env.Error)
	}

	stored, err := h.store.Profiles().Get(context.Background(), registered.User.ID)
	if err != nil {
		t.Fatalf("stored err=%v", err)
	}
	if bytes.Contains(stored.MedicalRecordNumber, []byte("MRN-42")) {
		t.Fatalf("medical record number stored in clear")
	}

	status, env = h.do(t, fiber.MethodGet, "/me/profile", registered.Auth.Token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("get status=%d err=%+v", status, env.Error)
	}
	profile := decode[struct {
		Phone string `json:"phone"`
		MRN   string `json:"medical_record_number"`
	}](t, env)
	if profile.Phone != "+1 555 0100" || profile.MRN != "MRN-42" {
		t.Fatalf("profile=%+v", profile)
	}
}

func TestRateLimitSkipsHealthProbes(t *testing.T) {
	h := newHarness(t, 2, nil)

	for i := 0; i < 5; i++ {
		if status, _ := h.do(t, fiber.MethodGet, "/health/live", "", nil); status != fiber.StatusOK {
			t.Fatalf("live status=%d", status)
		}
	}

	creds := map[string]string{"email": "nobody@example.com", "password": "wrong password"}
	for i := 0; i < 2; i++ {
		if status, _ := h.do(t, fiber.MethodPost, "/auth/login", "", creds); status != fiber.StatusUnauthorized {
			t.Fatalf("attempt %d status=%d", i, status)
		}
	}
	status, env := h.do(t, fiber.MethodPost, "/auth/login", "", creds)
	if status != fiber.StatusTooManyRequests || env.Error.Code != "RATE_LIMITED" {
		t.Fatalf("status=%d err=%+v", status, env.Error)
	}
}

func TestReadiness(t *testing.T) {
	h := newHarness(t, 1000, map[string]handlers.Pinger{"postgres": nil})
	if status, _ := h.do(t, fiber.MethodGet, "/health/ready", "", nil); status != fiber.StatusOK {
		t.Fatalf("ready status=%d", status)
	}

	h = newHarness(t, 1000, map[string]handlers.Pinger{"redis": failingPinger{}})
	status, env := h.do(t, fiber.MethodGet, "/health/ready", "", nil)
	if status != fiber.StatusServiceUnavailable || env.Error.Code != "DEPENDENCY_UNAVAILABLE" {
		t.Fatalf("status=%d err=%+v", status, env.Error)
	}
}

type parties struct {
	adminToken   string
	companyID    string
	companyToken string
	userID       string
	userToken    string
}

func (h *apiHarness) setupParties(t *testing.T) parties {
	t.Helper()
	p := parties{adminToken: h.login(t, "admin@example.com", adminPassword)}

	status, env := h.do(t, fiber.MethodPost, "/companies", p.adminToken, map[string]any{
		"name":          "Northwind Health",
		"contact_email": "ops@northwind.example",
		"admin": map[string]string{
			"name":     "Northwind Admin",
			"email":    "admin@northwind.example",
			"password": "northwind admin password",
		},
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create company status=%d err=%+v", status, env.Error)
	}
	p.companyID = decode[struct {
		Company struct {
			ID string `json:"id"`
		} `json:"company"`
	}](t, env).Company.ID
	p.companyToken = h.login(t, "admin@northwind.example", "northwind admin password")

	status, env = h.do(t, fiber.MethodPost, "/auth/users/register", "", map[string]string{
		"name":     "Robin",
		"email":    "robin@example.com",
		"password": "robin password 123",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register status=%d err=%+v", status, env.Error)
	}
	registered := decode[authPayload](t, env)
	p.userID, p.userToken = registered.User.ID, registered.Auth.Token
	return p
}

func (h *apiHarness) grant(t *testing.T, p parties, body map[string]any) string {
	t.Helper()
	body["requester_id"] = p.companyID
	status, env := h.do(t, fiber.MethodPost, "/consents", p.userToken, body)
	if status != fiber.StatusCreated {
		t.Fatalf("create consent status=%d err=%+v", status, env.Error)
	}
	return decode[struct {
		ID string `json:"id"`
	}](t, env).ID
}

func TestStoredIDsSurviveLaterRequests(t *testing.T) {
	h := newHarness(t, 1000, nil)
	p := h.setupParties(t)
	consentID := h.grant(t, p, map[string]any{"categories": []string{"labs"}, "purpose": "cohort study"})

	status, env := h.do(t, fiber.MethodPatch, "/consents/"+consentID+"/status", p.userToken, map[string]string{"status": "REVOKED"})
	if status != fiber.StatusOK {
		t.Fatalf("revoke status=%d err=%+v", status, env.Error)
	}

	// Same-length paths land in the buffers the revoke was parsed from.
	filler := strings.Repeat("x", len(consentID))
	h.do(t, fiber.MethodPost, "/notifications/"+filler+"/read", p.userToken, nil)
	h.do(t, fiber.MethodGet, "/consents/"+filler, p.userToken, nil)

	ctx := context.Background()
	rec, err := h.store.Consents().GetByID(ctx, consentID)
	if err != nil {
		t.Fatalf("stored consent lost: %v", err)
	}
	if rec.ID != consentID || rec.Status != domain.ConsentStatusRevoked {
		t.Fatalf("rec=%+v", rec)
	}
	refs, err := h.store.Consents().ListLedgerEntries(ctx, consentID)
	if err != nil || len(refs) != 2 {
		t.Fatalf("refs=%+v err=%v", refs, err)
	}
	for _, ref := range refs {
		if ref.ConsentID != consentID {
			t.Fatalf("ledger ref consent=%q", ref.ConsentID)
		}
	}
	entries := h.ledger.Entries(consentID)
	if len(entries) != 2 {
		t.Fatalf("ledger entries=%d", len(entries))
	}

	status, env = h.do(t, fiber.MethodGet, "/notifications", p.userToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("notifications status=%d err=%+v", status, env.Error)
	}
	for _, n := range decode[[]struct {
		ConsentID string `json:"consent_id"`
	}](t, env) {
		if n.ConsentID != consentID {
			t.Fatalf("notification consent=%q want %q", n.ConsentID, consentID)
		}
	}

	audited, err := h.store.Audit().List(ctx, repository.AuditFilter{ResourceID: &consentID})
	if err != nil || len(audited) != 1 {
		t.Fatalf("audit=%+v err=%v", audited, err)
	}
	if !strings.HasPrefix(audited[0].Action, fiber.MethodPatch) {
		t.Fatalf("audit action=%s", audited[0].Action)
	}
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	h := newHarness(t, 1000, nil)
	p := h.setupParties(t)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"get consent", fiber.MethodGet, "/consents/not-a-uuid", p.userToken, nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"patch consent", fiber.MethodPatch, "/consents/not-a-uuid/status", p.userToken, map[string]string{"status": "REVOKED"}, fiber.StatusNotFound, "NOT_FOUND"},
		{"consent ledger", fiber.MethodGet, "/consents/not-a-uuid/ledger", p.userToken, nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"get company", fiber.MethodGet, "/companies/not-a-uuid", p.adminToken, nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"company status", fiber.MethodPatch, "/companies/not-a-uuid/status", p.adminToken, map[string]string{"status": "SUSPENDED"}, fiber.StatusNotFound, "NOT_FOUND"},
		{"mark read", fiber.MethodPost, "/notifications/not-a-uuid/read", p.userToken, nil, fiber.StatusNotFound, "NOT_FOUND"},
		{"bad requester", fiber.MethodPost, "/consents", p.userToken, map[string]any{
			"requester_id": "acme", "categories": []string{"labs"}, "purpose": "study",
		}, fiber.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := h.do(t, tc.method, tc.path, tc.token, tc.body)
			if status != tc.status || env.Error.Code != tc.code {
				t.Fatalf("status=%d err=%+v", status, env.Error)
			}
		})
	}
}

func TestOverdueConsentNeverAuthorizes(t *testing.T) {
	h := newHarness(t, 1000, nil)
	p := h.setupParties(t)
	now := time.Now().UTC()

	overdue := h.grant(t, p, map[string]any{
		"categories":  []string{"labs"},
		"purpose":     "past study",
		"valid_from":  now.Add(-2 * time.Hour),
		"valid_until": now.Add(-time.Hour),
	})

	status, env := h.do(t, fiber.MethodGet, "/consents/"+overdue, p.userToken, nil)
	if status != fiber.StatusOK {
		t.Fatalf("get status=%d err=%+v", status, env.Error)
	}
	if got := decode[struct {
		Status string `json:"status"`
	}](t, env); got.Status != string(domain.ConsentStatusExpired) {
		t.Fatalf("overdue status=%s", got.Status)
	}

	type checkBody struct {
		RequesterID string `json:"requester_id"`
		Authorized  bool   `json:"authorized"`
	}
	check := func(token, query string) (int, envelope) {
		return h.do(t, fiber.MethodGet, "/consents/check?"+query, token, nil)
	}

	status, env = check(p.companyToken, "subject_id="+p.userID+"&category=labs")
	if status != fiber.StatusOK {
		t.Fatalf("check status=%d err=%+v", status, env.Error)
	}
	if got := decode[checkBody](t, env); got.Authorized || got.RequesterID != p.companyID {
		t.Fatalf("overdue check=%+v", got)
	}

	h.grant(t, p, map[string]any{"categories": []string{"labs"}, "purpose": "open study"})
	status, env = check(p.companyToken, "subject_id="+p.userID+"&category=LABS")
	if status != fiber.StatusOK || !decode[checkBody](t, env).Authorized {
		t.Fatalf("active check status=%d body=%s", status, env.Data)
	}

	status, env = check(p.companyToken, "subject_id="+p.userID+"&category=genomics")
	if status != fiber.StatusOK || decode[checkBody](t, env).Authorized {
		t.Fatalf("uncovered category status=%d body=%s", status, env.Data)
	}

	guards := []struct {
		name   string
		token  string
		query  string
		status int
	}{
		{"unknown category", p.companyToken, "subject_id=" + p.userID + "&category=dreams", fiber.StatusBadRequest},
		{"other company", p.companyToken, "subject_id=" + p.userID + "&category=labs&requester_id=" + p.userID, fiber.StatusForbidden},
		{"subject", p.userToken, "subject_id=" + p.userID + "&category=labs", fiber.StatusForbidden},
		{"admin without requester", p.adminToken, "subject_id=" + p.userID + "&category=labs", fiber.StatusBadRequest},
		{"admin", p.adminToken, "subject_id=" + p.userID + "&category=labs&requester_id=" + p.companyID, fiber.StatusOK},
	}
	for _, g := range guards {
		if status, env := check(g.token, g.query); status != g.status {
			t.Fatalf("%s status=%d err=%+v", g.name, status, env.Error)
		}
	}
}
