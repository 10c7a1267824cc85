package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/repository"
	"github.com/sifan077/SlotBoard/internal/app/service"
	"github.com/sifan077/SlotBoard/internal/http/middleware"
	httpUtil "github.com/sifan077/SlotBoard/internal/http/util"
	"go.uber.org/zap"
)

// ListingDeps groups dependencies required by the public listing handlers.
type ListingDeps struct {
	Logger  *zap.Logger
	Queue   service.QueueService
	Cursors *httpUtil.CursorSigner
}

// ListingHandler implements the owner and reader endpoints.
type ListingHandler struct {
	logger  *zap.Logger
	queue   service.QueueService
	cursors *httpUtil.CursorSigner
}

// NewListingHandler creates a listing handler with the provided dependencies.
func NewListingHandler(deps ListingDeps) *ListingHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingHandler{
		logger:  logger,
		queue:   deps.Queue,
		cursors: deps.Cursors,
	}
}

// RegisterWrites wires the owner routes that create or change listings,
// each behind mw.
func (h *ListingHandler) RegisterWrites(router fiber.Router, mw ...fiber.Handler) {
	router.Post("/listings", chain(mw, h.Submit)...)
	router.Post("/listings/:id/resubmit", chain(mw, h.Resubmit)...)
}

// RegisterReads wires the read-only routes, each behind mw.
func (h *ListingHandler) RegisterReads(router fiber.Router, mw ...fiber.Handler) {
	router.Get("/listings/:id", chain(mw, h.Get)...)
	router.Get("/categories/:category/listings", chain(mw, h.ListPublic)...)
	router.Get("/categories/:category/stats", chain(mw, h.Stats)...)
}

func chain(mw []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(mw)+1)
	return append(append(out, mw...), h)
}

// SubmitRequest represents the request body for submitting a listing.
type SubmitRequest struct {
	Category  string `json:"category"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ImagePath string `json:"image_path,omitempty"`
}

// Submit handles POST /api/listings
func (h *ListingHandler) Submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	listing, err := h.queue.Submit(c.UserContext(), service.SubmitInput{
		OwnerID:   c.Get(middleware.OwnerHeader),
		Category:  model.Category(req.Category),
		Title:     req.Title,
		Body:      req.Body,
		ImagePath: req.ImagePath,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         listing.ID,
		"state":      listing.State,
		"created_at": listing.CreatedAt,
	})
}

// Resubmit handles POST /api/listings/:id/resubmit
func (h *ListingHandler) Resubmit(c *fiber.Ctx) error {
	owner := c.Get(middleware.OwnerHeader)
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": middleware.OwnerHeader + " header is required",
		})
	}

	listing, err := h.queue.Resubmit(c.UserContext(), owner, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(toListingResponse(listing))
}

// Get handles GET /api/listings/:id
func (h *ListingHandler) Get(c *fiber.Ctx) error {
	listing, err := h.queue.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(toListingResponse(listing))
}

// ListPublic handles GET /api/categories/:category/listings
func (h *ListingHandler) ListPublic(c *fiber.Ctx) error {
	category := model.Category(c.Params("category"))

	var after *repository.PageCursor
	if raw := c.Query("cursor"); raw != "" {
		cur, err := h.cursors.Decode(raw)
		if err != nil {
			return writeError(c, h.logger, &service.ValidationError{
				Fields: map[string]string{"cursor": err.Error()},
			})
		}
		after = cur
	}

	page, err := h.queue.ListPublic(c.UserContext(), category, after, c.QueryInt("limit"))
	if err != nil {
		return writeError(c, h.logger, err)
	}

	resp := fiber.Map{
		"listings":    toListingResponses(page.Listings),
		"next_cursor": nil,
	}
	if page.Next != nil {
		resp["next_cursor"] = h.cursors.Encode(*page.Next)
	}
	return c.JSON(resp)
}

// Stats handles GET /api/categories/:category/stats
func (h *ListingHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.UserContext(), model.Category(c.Params("category")))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"category":          stats.Category,
		"pending_count":     stats.PendingCount,
		"public_count":      stats.PublicCount,
		"slot_limit":        stats.SlotLimit,
		"visibility_window": stats.VisibilityWindow.String(),
	})
}
