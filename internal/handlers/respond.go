package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/kha1dx/clarityai/internal/services"
)

// Error codes surfaced in the response envelope.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeAuth       = "AUTH_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeDependency = "DEPENDENCY_ERROR"
)

// Every response uses the same envelope: {success, data?, error?}.

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": data})
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   fiber.Map{"message": message, "code": code},
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return fail(c, fiber.StatusBadRequest, CodeValidation, message)
}

// serviceError maps the service-layer taxonomy onto HTTP statuses. Validation
// is client-fixable (400), NotFound covers absent and not-owned rows (404),
// anything else is a dependency failure the client should retry (502).
func serviceError(c *fiber.Ctx, err error) error {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return badRequest(c, ve.Error())
	case errors.Is(err, services.ErrNotFound):
		return fail(c, fiber.StatusNotFound, CodeNotFound, "Conversation not found")
	default:
		return fail(c, fiber.StatusBadGateway, CodeDependency, "Operation failed, please retry")
	}
}

// currentUserID resolves the acting user: bearer-token identity first, then
// the userId request parameter per the HTTP contract.
func currentUserID(c *fiber.Ctx) string {
	if uid, ok := c.Locals("user_id").(string); ok && uid != "" {
		return uid
	}
	return c.Query("userId")
}
