package utils

import "github.com/gofiber/fiber/v2"

// APIError is an error rendered to HTTP clients
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, status int) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

var (
	ErrInternalServer     = NewAPIError("INTERNAL_SERVER_ERROR", "An unexpected error occurred", fiber.StatusInternalServerError)
	ErrBadRequest         = NewAPIError("BAD_REQUEST", "Invalid request", fiber.StatusBadRequest)
	ErrUnauthorized       = NewAPIError("UNAUTHORIZED", "Authentication required", fiber.StatusUnauthorized)
	ErrInvalidCredentials = NewAPIError("INVALID_CREDENTIALS", "Invalid credentials", fiber.StatusUnauthorized)
	ErrReauthenticate     = NewAPIError("REAUTHENTICATE", "please log in again", fiber.StatusUnauthorized)
	ErrForbidden          = NewAPIError("FORBIDDEN", "You do not have permission to access this resource", fiber.StatusForbidden)
	ErrNotFound           = NewAPIError("NOT_FOUND", "Resource not found", fiber.StatusNotFound)
	ErrTooManyAttempts    = NewAPIError("ACCOUNT_LOCKED", "Too many failed attempts", fiber.StatusTooManyRequests)
	ErrUnavailable        = NewAPIError("SERVICE_UNAVAILABLE", "Service temporarily unavailable", fiber.StatusServiceUnavailable)
)
