package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

func actorFrom(c *fiber.Ctx) (service.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return service.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return service.Actor{ID: principal.ID(), Role: principal.Role(), CompanyID: principal.CompanyID()}, nil
}

func invalidPayload() error {
	return apperrors.NewValidationError("invalid payload", nil)
}

func isUUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}

func pageParams(c *fiber.Ctx) (int, int) {
	return c.QueryInt("page", 1), c.QueryInt("page_size", 20)
}
