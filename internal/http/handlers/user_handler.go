package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type UserHandler struct {
	userService *services.UserService
	log         *zap.Logger
}

func NewUserHandler(userService *services.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	u, err := h.userService.Get(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, u)
}

func (h *UserHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.userService.Stats(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, stats)
}

func (h *UserHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.userService.Wallet(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, w)
}

func (h *UserHandler) UpdateBankDetails(c *fiber.Ctx) error {
	var req dto.UpdateBankDetailsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	if err := h.userService.UpdateBankDetails(c.Context(), middleware.GetUserID(c), req.BankName, req.AccountNumber, req.AccountName); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

func (h *UserHandler) UpdatePushToken(c *fiber.Ctx) error {
	var req dto.UpdatePushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	if err := h.userService.UpdatePushToken(c.Context(), middleware.GetUserID(c), req.Token); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// GetVerificationStatus is the lightweight poll the mobile client runs
// while a verification review is pending.
func (h *UserHandler) GetVerificationStatus(c *fiber.Ctx) error {
	u, err := h.userService.Get(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.Map{
		"verification_status": u.VerificationStatus,
		"is_verified":         u.IsVerified,
	})
}

func (h *UserHandler) RequestVerification(c *fiber.Ctx) error {
	if err := h.userService.RequestVerification(c.Context(), middleware.GetUserID(c)); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// SetVerification is admin only, enforced by the router group.
func (h *UserHandler) SetVerification(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	var req dto.SetVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	if err := h.userService.SetVerification(c.Context(), userID, req.Status); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}
