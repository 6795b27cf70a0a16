package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/dto"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

// ConsentsHandler exposes the consent lifecycle.
type ConsentsHandler struct {
	consents *service.ConsentService
}

// NewConsentsHandler constructs handler.
func NewConsentsHandler(consents *service.ConsentService) *ConsentsHandler {
	return &ConsentsHandler{consents: consents}
}

// Create handles POST /consents. The caller is the subject.
func (h *ConsentsHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleUser {
		return apperrors.NewForbidden("only data subjects grant consent")
	}
	var req dto.CreateConsentRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	if req.RequesterID != "" && !isUUID(req.RequesterID) {
		return apperrors.NewValidationError("invalid consent request", map[string]any{"requester_id": "must be a UUID"})
	}

	window := domain.ValidityWindow{End: req.ValidUntil}
	if req.ValidFrom != nil {
		window.Start = *req.ValidFrom
	}
	scope := domain.ConsentScope{
		Categories: domain.NormalizeCategories(req.Categories),
		Purpose:    req.Purpose,
	}

	rec, err := h.consents.Create(c.UserContext(), actor.ID, req.RequesterID, scope, window, actor.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromConsent(rec)})
}

// List handles GET /consents.
func (h *ConsentsHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	page, pageSize := pageParams(c)
	records, err := h.consents.ListFor(c.UserContext(), actor, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.FromConsents(records),
		"meta": dto.PageMeta{Page: page, PageSize: pageSize, Count: len(records)},
	})
}

// Check handles GET /consents/check?subject_id=&category=. Admins also pass
// requester_id.
func (h *ConsentsHandler) Check(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	subjectID := strings.TrimSpace(c.Query("subject_id"))
	requesterID := strings.TrimSpace(c.Query("requester_id"))
	if requesterID == "" && actor.Role.IsCompanyRole() {
		requesterID = actor.CompanyID
	}
	category := domain.DataCategory(strings.ToLower(strings.TrimSpace(c.Query("category"))))

	allowed, err := h.consents.CheckAccess(c.UserContext(), actor, subjectID, requesterID, category)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ConsentCheckResponse{
		SubjectID:   subjectID,
		RequesterID: requesterID,
		Category:    string(category),
		Authorized:  allowed,
		CheckedAt:   time.Now().UTC(),
	}})
}

// Get handles GET /consents/:id.
func (h *ConsentsHandler) Get(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.consents.GetFor(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromConsent(rec)})
}

// UpdateStatus handles PATCH /consents/:id/status.
func (h *ConsentsHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateConsentStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", map[string]any{"status": "required"})
	}
	rec, err := h.consents.ChangeStatus(c.UserContext(), actor, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromConsent(rec)})
}

// Ledger handles GET /consents/:id/ledger.
func (h *ConsentsHandler) Ledger(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	refs, err := h.consents.LedgerHistory(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromLedgerRefs(refs)})
}
