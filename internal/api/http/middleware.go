package http

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/domain"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
	apperrors "github.com/ME-sdeo/me3-zam0pf-sub003/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
// The request logger wraps the error handler so it sees the mapped status.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New())
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				if metrics != nil {
					metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				}
				response := fiber.Map{"error": fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}}
				if len(domainErr.Details) > 0 {
					response["error"].(fiber.Map)["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// NewRateLimiter limits requests per client IP. A nil storage keeps counters
// in process memory.
func NewRateLimiter(cfg config.RateLimitConfig, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window(),
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperrors.NewRateLimited()
		},
	})
}

// AuditTrail appends an audit entry for every mutating request once the
// handler has run. It must be mounted after AuthMiddleware.Handle.
func AuditTrail(audit *service.AuditService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if !isMutating(c.Method()) {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = apperrors.ToDomainError(err).HTTPStatus
		}

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		entry := &domain.AuditEntry{
			Action:       c.Method() + " " + route,
			ResourceType: resourceType(route),
			HTTPStatus:   status,
		}
		if rid, ok := c.Locals("requestid").(string); ok {
			entry.RequestID = rid
		}
		if id := c.Params("id"); id != "" {
			entry.ResourceID = &id
		}
		if principal, ok := auth.PrincipalFromContext(c); ok {
			actorID, role := principal.ID(), principal.Role()
			entry.ActorID = &actorID
			entry.ActorRole = &role
		}

		// The request context may already be cancelled by the timeout middleware.
		_ = audit.Record(context.WithoutCancel(c.UserContext()), entry)
		return err
	}
}

func isMutating(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}

// resourceType returns the first path segment, e.g. "consents" for
// /consents/:id/status.
func resourceType(route string) string {
	route = strings.TrimPrefix(route, "/")
	if i := strings.IndexByte(route, '/'); i >= 0 {
		route = route[:i]
	}
	return route
}
