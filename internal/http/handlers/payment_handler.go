package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/parcel-marketplace/backend/internal/config"
	"github.com/parcel-marketplace/backend/internal/http/dto"
	"github.com/parcel-marketplace/backend/internal/middleware"
	"github.com/parcel-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's hex HMAC-SHA256 of the raw
// webhook body.
const SignatureHeader = "X-Webhook-Signature"

type PaymentHandler struct {
	escrowService *services.EscrowService
	cfg           *config.Config
	log           *zap.Logger
}

func NewPaymentHandler(escrowService *services.EscrowService, cfg *config.Config, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{escrowService: escrowService, cfg: cfg, log: log}
}

// InitializePayment authorizes the escrow for an accepted match. Repeat
// calls return the existing entry.
func (h *PaymentHandler) InitializePayment(c *fiber.Ctx) error {
	matchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}

	entry, err := h.escrowService.Authorize(c.Context(), middleware.GetUserID(c), matchID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, entry)
}

// CreateSession starts a provider checkout for a match. The mobile client
// calls this route; it is the same authorization step as InitializePayment
// with the match id in the body.
func (h *PaymentHandler) CreateSession(c *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	matchID, err := uuid.Parse(req.MatchID)
	if err != nil {
		return badRequest(c, "invalid match_id")
	}

	entry, err := h.escrowService.Authorize(c.Context(), middleware.GetUserID(c), matchID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, entry)
}

// GetPayment returns the escrow entry backing a match.
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	matchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid match id")
	}

	entry, err := h.escrowService.GetByMatch(c.Context(), matchID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, entry)
}

// Webhook is the provider callback confirming a charge. The body must be
// signed with the shared webhook secret; an unsigned request never reaches
// the escrow. Delivery is at-least-once; capture is idempotent.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	if !verifyWebhookSignature(h.cfg.WebhookSecret, c.Body(), c.Get(SignatureHeader)) {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid webhook signature"})
	}

	var req dto.PaymentWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	matchID, err := uuid.Parse(req.MatchID)
	if err != nil {
		return badRequest(c, "invalid match_id")
	}
	if req.Event != "charge.success" {
		h.log.Debug("ignoring webhook event", zap.String("event", req.Event))
		return ok(c, nil)
	}

	if err := h.escrowService.Capture(c.Context(), matchID, req.ProviderRef); err != nil {
		return fail(c, err)
	}
	return ok(c, nil)
}

func verifyWebhookSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
