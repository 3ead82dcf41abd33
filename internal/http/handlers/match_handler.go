package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/models"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type MatchHandler struct {
	matchService *services.MatchService
	log          *zap.Logger
}

func NewMatchHandler(matchService *services.MatchService, log *zap.Logger) *MatchHandler {
	return &MatchHandler{matchService: matchService, log: log}
}

func (h *MatchHandler) ProposeMatch(c *fiber.Ctx) error {
	var req dto.ProposeMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		return badRequest(c, "invalid trip_id")
	}
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		return badRequest(c, "invalid request_id")
	}

	m, err := h.matchService.Propose(c.Context(), middleware.GetUserID(c), tripID, requestID)
	if err != nil {
		return fail(c, err)
	}
	return created(c, m)
}

func (h *MatchHandler) ListMatches(c *fiber.Ctx) error {
	var statuses []string
	if v := c.Query("status"); v != "" {
		statuses = strings.Split(v, ",")
	}

	matches, err := h.matchService.ListForUser(c.Context(), middleware.GetUserID(c), statuses)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, matches)
}

func (h *MatchHandler) GetMatch(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}

	m, err := h.matchService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, m)
}

func (h *MatchHandler) AcceptMatch(c *fiber.Ctx) error {
	return h.transition(c, h.matchService.Accept)
}

func (h *MatchHandler) DeclineMatch(c *fiber.Ctx) error {
	return h.transition(c, h.matchService.Decline)
}

func (h *MatchHandler) CancelMatch(c *fiber.Ctx) error {
	return h.transition(c, h.matchService.Cancel)
}

func (h *MatchHandler) transition(c *fiber.Ctx, op func(ctx context.Context, actorID, matchID uuid.UUID) error) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}
	if err := op(c.Context(), middleware.GetUserID(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// MatchEvents returns the audit trail of a match.
func (h *MatchHandler) MatchEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}

	limit, offset := 50, 0
	if v := c.QueryInt("limit"); v > 0 {
		limit = v
	}
	if v := c.QueryInt("offset"); v > 0 {
		offset = v
	}

	entries, err := h.matchService.History(c.Context(), middleware.GetUserID(c), id, limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, entries)
}

// RequestOTP issues a pickup or delivery handoff code.
func (h *MatchHandler) RequestOTP(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}
	otpType := c.Params("type")

	res, err := h.matchService.RequestOTP(c.Context(), middleware.GetUserID(c), id, otpType)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, dto.OTPResponse{Code: res.Code})
}

func (h *MatchHandler) ConfirmPickup(c *fiber.Ctx) error {
	return h.confirm(c, models.OTPTypePickup)
}

func (h *MatchHandler) ConfirmDelivery(c *fiber.Ctx) error {
	return h.confirm(c, models.OTPTypeDelivery)
}

func (h *MatchHandler) confirm(c *fiber.Ctx, otpType string) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}

	var req dto.ConfirmHandoffRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Code == "" {
		return badRequest(c, "code is required")
	}

	actorID := middleware.GetUserID(c)
	if otpType == models.OTPTypePickup {
		err = h.matchService.ConfirmPickup(c.Context(), actorID, id, req.Code)
	} else {
		err = h.matchService.ConfirmDelivery(c.Context(), actorID, id, req.Code)
	}
	if err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}
