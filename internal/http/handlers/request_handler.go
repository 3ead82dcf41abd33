package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type RequestHandler struct {
	requestService *services.RequestService
	log            *zap.Logger
}

func NewRequestHandler(requestService *services.RequestService, log *zap.Logger) *RequestHandler {
	return &RequestHandler{requestService: requestService, log: log}
}

func (h *RequestHandler) CreateRequest(c *fiber.Ctx) error {
	var req dto.CreateDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	d, err := h.requestService.Create(c.Context(), middleware.GetUserID(c),
		req.Origin, req.Destination, req.DeliveryDate, req.PackageSize, req.Description, req.EstimatedCost)
	if err != nil {
		return fail(c, err)
	}
	return created(c, d)
}

func (h *RequestHandler) MyRequests(c *fiber.Ctx) error {
	requests, err := h.requestService.ListMine(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, requests)
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}

	d, err := h.requestService.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, d)
}

func (h *RequestHandler) CancelRequest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}

	if err := h.requestService.Cancel(c.Context(), middleware.GetUserID(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// RequestMatches lists the proposals on one of the caller's requests.
func (h *RequestHandler) RequestMatches(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}

	matches, err := h.requestService.Matches(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, matches)
}
