package utils

import (
	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends apiErr as JSON. An explicit status overrides apiErr.Status
// without modifying the shared value. extra fields are merged into the body.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, extra fiber.Map, code ...int) error {
	statusCode := apiErr.Status
	if len(code) > 0 {
		statusCode = code[0]
	}
	if statusCode == 0 {
		statusCode = fiber.StatusInternalServerError
	}

	body := fiber.Map{
		"success": false,
		"error":   apiErr.Message,
		"code":    apiErr.Code,
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(statusCode).JSON(body)
}
