package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/dto"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
)

// NotificationsHandler lists and acknowledges notifications.
type NotificationsHandler struct {
	notifications *service.NotificationService
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notifications *service.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications}
}

// List handles GET /notifications.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	page, pageSize := pageParams(c)
	items, err := h.notifications.List(c.UserContext(), actor, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.FromNotifications(items),
		"meta": dto.PageMeta{Page: page, PageSize: pageSize, Count: len(items)},
	})
}

// MarkRead handles POST /notifications/:id/read.
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if err := h.notifications.MarkRead(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AuditHandler exposes the audit log to admins.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List handles GET /audit?actor_id=&resource_type=&resource_id=.
func (h *AuditHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	page, pageSize := pageParams(c)
	if page < 1 {
		page = 1
	}
	filter := repository.AuditFilter{
		ActorID:      optionalQuery(c, "actor_id"),
		ResourceType: optionalQuery(c, "resource_type"),
		ResourceID:   optionalQuery(c, "resource_id"),
		Limit:        pageSize,
		Offset:       (page - 1) * pageSize,
	}
	entries, err := h.audit.List(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.FromAuditEntries(entries),
		"meta": dto.PageMeta{Page: page, PageSize: pageSize, Count: len(entries)},
	})
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}
