package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	notifRepo *repositories.NotificationRepo
	log       *zap.Logger
}

func NewNotificationHandler(notifRepo *repositories.NotificationRepo, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo, log: log}
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	notifs, err := h.notifRepo.ListByUser(c.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, notifs)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid notification id")
	}

	if err := h.notifRepo.MarkRead(c.Context(), middleware.GetUserID(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	if err := h.notifRepo.MarkAllRead(c.Context(), middleware.GetUserID(c)); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}
