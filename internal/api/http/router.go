package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/http/handlers"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Consents       *handlers.ConsentsHandler
	Companies      *handlers.CompaniesHandler
	Notifications  *handlers.NotificationsHandler
	Audit          *handlers.AuditHandler
	AuthMiddleware *auth.AuthMiddleware
	Authorizer     *auth.Authorizer
	// RateLimit and AuditTrail are optional.
	RateLimit  fiber.Handler
	AuditTrail fiber.Handler
}

// RegisterRoutes wires HTTP routes. Health probes are never rate limited.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("")
	if cfg.RateLimit != nil {
		api.Use(cfg.RateLimit)
	}

	authGroup := api.Group("/auth")
	authGroup.Post("/users/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	protected := []fiber.Handler{cfg.AuthMiddleware.Handle}
	if cfg.AuditTrail != nil {
		protected = append(protected, cfg.AuditTrail)
	}
	require := cfg.Authorizer.Require

	authed := api.Group("", protected...)
	authed.Post("/auth/password/change", cfg.Users.ChangePassword)

	me := authed.Group("/me")
	me.Get("/profile", require(auth.ObjectProfile, auth.ActionRead), cfg.Users.GetProfile)
	me.Put("/profile", require(auth.ObjectProfile, auth.ActionUpdate), cfg.Users.PutProfile)

	consents := authed.Group("/consents")
	consents.Post("/", require(auth.ObjectConsents, auth.ActionCreate), cfg.Consents.Create)
	consents.Get("/", require(auth.ObjectConsents, auth.ActionRead), cfg.Consents.List)
	consents.Get("/check", require(auth.ObjectConsents, auth.ActionRead), cfg.Consents.Check)
	consents.Get("/:id", require(auth.ObjectConsents, auth.ActionRead), cfg.Consents.Get)
	consents.Patch("/:id/status", require(auth.ObjectConsents, auth.ActionUpdate), cfg.Consents.UpdateStatus)
	consents.Get("/:id/ledger", require(auth.ObjectConsentLedger, auth.ActionRead), cfg.Consents.Ledger)

	notifications := authed.Group("/notifications")
	notifications.Get("/", require(auth.ObjectNotifications, auth.ActionRead), cfg.Notifications.List)
	notifications.Post("/:id/read", require(auth.ObjectNotifications, auth.ActionUpdate), cfg.Notifications.MarkRead)

	companies := authed.Group("/companies")
	companies.Post("/", require(auth.ObjectCompanies, auth.ActionCreate), cfg.Companies.Create)
	companies.Get("/", require(auth.ObjectCompanies, auth.ActionList), cfg.Companies.List)
	companies.Get("/:id", require(auth.ObjectCompanies, auth.ActionRead), cfg.Companies.Get)
	companies.Patch("/:id/status", require(auth.ObjectCompanies, auth.ActionUpdate), cfg.Companies.UpdateStatus)
	companies.Get("/:id/members", require(auth.ObjectCompanyMembers, auth.ActionRead), cfg.Companies.Members)
	companies.Post("/:id/members", require(auth.ObjectCompanyMembers, auth.ActionCreate), cfg.Companies.AddMember)

	authed.Get("/audit", require(auth.ObjectAudit, auth.ActionRead), cfg.Audit.List)
}
