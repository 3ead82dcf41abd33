package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/parcel-marketplace/backend/internal/apperr"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/middleware"
)

// fail translates a service error into the API error envelope. Unknown
// errors are masked as 500s so internals never leak to clients.
func fail(c *fiber.Ctx, err error) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	e, ok := apperr.As(err)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:     "internal error",
			RequestID: reqID,
		})
	}

	status := fiber.StatusInternalServerError
	switch e.Code {
	case apperr.CodeValidation:
		status = fiber.StatusBadRequest
	case apperr.CodeUnauthorized:
		status = fiber.StatusUnauthorized
	case apperr.CodeForbidden:
		status = fiber.StatusForbidden
	case apperr.CodeNotFound:
		status = fiber.StatusNotFound
	case apperr.CodeConflict:
		status = fiber.StatusConflict
	case apperr.CodeInvalidState:
		status = fiber.StatusUnprocessableEntity
	case apperr.CodeProvider:
		status = fiber.StatusBadGateway
	}

	return c.Status(status).JSON(dto.ErrorResponse{
		Error:             e.Message,
		Code:              e.Code,
		CurrentState:      e.CurrentState,
		RetryAfterSeconds: e.RetryAfterSeconds,
		RequestID:         reqID,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Code: apperr.CodeValidation})
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: data})
}
