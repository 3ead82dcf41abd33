package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type AuthHandler struct {
	userService *services.UserService
	log         *zap.Logger
}

func NewAuthHandler(userService *services.UserService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userService: userService, log: log}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := h.userService.Register(c.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.AuthResponse{Token: res.Token, User: res.User})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := h.userService.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(dto.AuthResponse{Token: res.Token, User: res.User})
}
