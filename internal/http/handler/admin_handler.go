package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/service"
	"go.uber.org/zap"
)

// stateRejected is accepted from operators as an alias of hidden.
const stateRejected = "rejected"

// AdminDeps groups dependencies required by the operator handlers.
type AdminDeps struct {
	Logger *zap.Logger
	Queue  service.QueueService
}

// AdminHandler implements the operator endpoints.
type AdminHandler struct {
	logger *zap.Logger
	queue  service.QueueService
}

// NewAdminHandler creates an operator handler with the provided dependencies.
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{logger: logger, queue: deps.Queue}
}

// Register wires operator routes onto router. Authentication is the
// caller's concern.
func (h *AdminHandler) Register(router fiber.Router) {
	router.Post("/listings/:id/publish", h.Publish)
	router.Post("/listings/:id/state", h.SetState)
	router.Delete("/listings/:id", h.Delete)
	router.Post("/reconcile", h.Reconcile)
	router.Post("/categories/:category/reconcile", h.Reconcile)
	router.Post("/categories/:category/promote", h.Promote)
	router.Delete("/categories/:category/listings", h.Purge)
}

// Publish handles POST /api/admin/listings/:id/publish
func (h *AdminHandler) Publish(c *fiber.Ctx) error {
	listing, err := h.queue.Publish(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"id":         listing.ID,
		"status":     listing.State,
		"expires_at": listing.ExpiresAt,
	})
}

// SetStateRequest represents the body of a moderation action.
type SetStateRequest struct {
	State string `json:"state"`
}

// SetState handles POST /api/admin/listings/:id/state
func (h *AdminHandler) SetState(c *fiber.Ctx) error {
	var req SetStateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	target := model.State(req.State)
	if req.State == stateRejected {
		target = model.StateHidden
	}

	change, err := h.queue.SetState(c.UserContext(), c.Params("id"), target)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	resp := fiber.Map{
		"listing":  toListingResponse(change.Listing),
		"promoted": toListingResponses(change.Promoted),
	}
	if change.PromotionError != nil {
		resp["promotion_error"] = "promotion failed; it will be retried by the next sweep"
	}
	return c.JSON(resp)
}

// Delete handles DELETE /api/admin/listings/:id
func (h *AdminHandler) Delete(c *fiber.Ctx) error {
	if _, err := h.queue.Delete(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reconcile handles POST /api/admin/reconcile and
// POST /api/admin/categories/:category/reconcile
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	n, err := h.queue.Reconcile(c.UserContext(), model.Category(c.Params("category")))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"expired": n})
}

// Promote handles POST /api/admin/categories/:category/promote
func (h *AdminHandler) Promote(c *fiber.Ctx) error {
	promoted, err := h.queue.Promote(c.UserContext(), model.Category(c.Params("category")))
	if err != nil && !errors.Is(err, service.ErrNoneEligible) {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"promoted": toListingResponses(promoted)})
}

// Purge handles DELETE /api/admin/categories/:category/listings?state=
func (h *AdminHandler) Purge(c *fiber.Ctx) error {
	state := model.State(c.Query("state", string(model.StateExpired)))
	n, err := h.queue.Purge(c.UserContext(), model.Category(c.Params("category")), state)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}
