package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/dto"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
)

// CompaniesHandler exposes data requester administration.
type CompaniesHandler struct {
	companies *service.CompanyService
}

// NewCompaniesHandler constructs handler.
func NewCompaniesHandler(companies *service.CompanyService) *CompaniesHandler {
	return &CompaniesHandler{companies: companies}
}

// Create handles POST /companies.
func (h *CompaniesHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateCompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	company, admin, err := h.companies.Create(c.UserContext(), actor, service.CompanyInput{
		Name:          req.Name,
		Slug:          req.Slug,
		ContactEmail:  req.ContactEmail,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		AdminName:     req.Admin.Name,
		AdminEmail:    req.Admin.Email,
		AdminPassword: req.Admin.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"company": dto.FromCompany(company),
			"admin":   dto.FromUser(admin),
		},
	})
}

// List handles GET /companies.
func (h *CompaniesHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	page, pageSize := pageParams(c)
	companies, err := h.companies.List(c.UserContext(), actor, page, pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.CompanyResponse, 0, len(companies))
	for i := range companies {
		items = append(items, dto.FromCompany(&companies[i]))
	}
	return c.JSON(fiber.Map{
		"data": items,
		"meta": dto.PageMeta{Page: page, PageSize: pageSize, Count: len(items)},
	})
}

// Get handles GET /companies/:id.
func (h *CompaniesHandler) Get(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	company, err := h.companies.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCompany(company)})
}

// Members handles GET /companies/:id/members.
func (h *CompaniesHandler) Members(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	members, err := h.companies.Members(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(members))
	for i := range members {
		items = append(items, dto.FromUser(&members[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// AddMember handles POST /companies/:id/members.
func (h *CompaniesHandler) AddMember(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	member, err := h.companies.AddMember(c.UserContext(), actor, c.Params("id"), service.MemberInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromUser(member)})
}

// UpdateStatus handles PATCH /companies/:id/status.
func (h *CompaniesHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateCompanyStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	company, err := h.companies.UpdateStatus(c.UserContext(), actor, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCompany(company)})
}
