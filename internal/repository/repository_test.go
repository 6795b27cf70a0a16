package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
)

func TestCompanyRepository_CreateWithAdmin(t *testing.T) {
	tx := &txStub{rows: []pgx.Row{
		stubRow{vals: []any{"co1", t0, t0}},
		stubRow{vals: []any{"u9", t0, t0}},
	}}
	repo := NewCompanyRepository(&dbStub{tx: tx})
	company := &domain.Company{Name: "Acme", Slug: "acme", ContactEmail: "ops@acme.test", Status: domain.CompanyStatusActive}
	admin := &domain.User{Name: "Ada", Email: "ada@acme.test", Role: domain.RoleCompanyAdmin, Status: domain.UserStatusActive}

	if err := repo.CreateWithAdmin(context.Background(), company, admin); err != nil {
		t.Fatalf("err=%v", err)
	}
	if company.ID != "co1" || admin.ID != "u9" {
		t.Fatalf("company=%s admin=%s", company.ID, admin.ID)
	}
	if admin.CompanyID == nil || *admin.CompanyID != "co1" {
		t.Fatalf("admin company=%v", admin.CompanyID)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestCompanyRepository_CreateWithAdminRollsBack(t *testing.T) {
	tx := &txStub{rows: []pgx.Row{
		stubRow{vals: []any{"co1", t0, t0}},
		stubRow{err: errors.New("email taken")},
	}}
	repo := NewCompanyRepository(&dbStub{tx: tx})
	err := repo.CreateWithAdmin(context.Background(), &domain.Company{Name: "Acme"}, &domain.User{Email: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestCompanyRepository_GetByIDMapsNullWebhook(t *testing.T) {
	db := &dbStub{row: stubRow{vals: []any{"co1", "Acme", "acme", "ops@acme.test", "ACTIVE", nil, nil, t0, t0}}}
	c, err := NewCompanyRepository(db).GetByID(context.Background(), companyUUID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if c.WebhookURL != "" || c.Status != domain.CompanyStatusActive {
		t.Fatalf("company=%+v", c)
	}
}

func TestCompanyRepository_UpdateStatusNotFound(t *testing.T) {
	db := &dbStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewCompanyRepository(db).UpdateStatus(context.Background(), companyUUID, domain.CompanyStatusSuspended)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("err=%v", err)
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := &dbStub{row: stubRow{vals: []any{"u1", "Uma", "uma@test", "hash", "USER", nil, "ACTIVE", t0, t0}}}
	u, err := NewUserRepository(db).GetByEmail(context.Background(), "uma@test")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if u.Role != domain.RoleUser || u.CompanyID != nil {
		t.Fatalf("user=%+v", u)
	}
	if db.lastArgs[0] != "uma@test" {
		t.Fatalf("args=%v", db.lastArgs)
	}
}

func TestAuditRepository_ListBuildsFilter(t *testing.T) {
	db := &dbStub{rows: &stubRows{}}
	actor := "u1"
	resource := "consent"
	if _, err := NewAuditRepository(db).List(context.Background(), AuditFilter{ActorID: &actor, ResourceType: &resource, Limit: 5}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(db.lastQuery, "actor_id=$1 AND resource_type=$2") {
		t.Fatalf("query=%s", db.lastQuery)
	}
	if !strings.Contains(db.lastQuery, "LIMIT $3 OFFSET $4") {
		t.Fatalf("query=%s", db.lastQuery)
	}
	if len(db.lastArgs) != 4 || db.lastArgs[2] != 5 {
		t.Fatalf("args=%v", db.lastArgs)
	}
}

func TestAuditRepository_CreateDefaultsDetails(t *testing.T) {
	db := &dbStub{row: stubRow{vals: []any{"a1", t0}}}
	entry := &domain.AuditEntry{Action: "POST /consents", ResourceType: "consent"}
	if err := NewAuditRepository(db).Create(context.Background(), entry); err != nil {
		t.Fatalf("err=%v", err)
	}
	if entry.ID != "a1" {
		t.Fatalf("id=%s", entry.ID)
	}
	if details, ok := db.lastArgs[7].(map[string]any); !ok || details == nil {
		t.Fatalf("details=%v", db.lastArgs[7])
	}
}

func TestNotificationRepository_MarkReadRequiresOwnership(t *testing.T) {
	db := &dbStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewNotificationRepository(db).MarkRead(context.Background(), notificationUUID, domain.RecipientUser, "u2")
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("err=%v", err)
	}
}

func TestProfileRepository_Upsert(t *testing.T) {
	db := &dbStub{row: stubRow{vals: []any{int64(2), t0}}}
	p := &domain.EncryptedProfile{UserID: "u1", Phone: []byte{1, 2, 3}}
	if err := NewProfileRepository(db).Upsert(context.Background(), p); err != nil {
		t.Fatalf("err=%v", err)
	}
	if p.Version != 2 {
		t.Fatalf("version=%d", p.Version)
	}
	if !strings.Contains(db.lastQuery, "ON CONFLICT (user_id)") {
		t.Fatalf("query=%s", db.lastQuery)
	}
}
