package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/matching"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type TripHandler struct {
	tripService  *services.TripService
	matchService *services.MatchService
	log          *zap.Logger
}

func NewTripHandler(tripService *services.TripService, matchService *services.MatchService, log *zap.Logger) *TripHandler {
	return &TripHandler{tripService: tripService, matchService: matchService, log: log}
}

func (h *TripHandler) CreateTrip(c *fiber.Ctx) error {
	var req dto.CreateTripRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	trip, err := h.tripService.Create(c.Context(), middleware.GetUserID(c), req.Origin, req.Destination, req.DepartureAt, req.AvailableSpace)
	if err != nil {
		return fail(c, err)
	}
	return created(c, trip)
}

func (h *TripHandler) MyTrips(c *fiber.Ctx) error {
	trips, err := h.tripService.ListMine(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, trips)
}

// SearchTrips ranks active trips against the query route, date and size.
func (h *TripHandler) SearchTrips(c *fiber.Ctx) error {
	q := matching.Query{
		Origin:      c.Query("origin"),
		Destination: c.Query("destination"),
		PackageSize: c.Query("package_size"),
	}
	if v := c.Query("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return badRequest(c, "date must be YYYY-MM-DD")
		}
		q.Date = &d
	}

	candidates, err := h.tripService.Search(c.Context(), q)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, candidates)
}

func (h *TripHandler) GetTrip(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid trip id")
	}

	trip, err := h.tripService.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, trip)
}

func (h *TripHandler) CancelTrip(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid trip id")
	}

	if err := h.tripService.Cancel(c.Context(), middleware.GetUserID(c), id); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

// TripMatches lists proposals raised against the caller's trip.
func (h *TripHandler) TripMatches(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid trip id")
	}

	matches, err := h.matchService.ListForTrip(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, matches)
}
