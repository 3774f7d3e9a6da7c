package order

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/storefront-backend/internal/httpx"
	"github.com/wichananm65/storefront-backend/internal/user"
)

// Handler exposes order reads, cancellation and tracking. Order creation
// lives with checkout.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) RegisterProtectedRoutes(app fiber.Router) {
	app.Get("/api/v1/orders", h.getOrders)
	app.Get("/api/v1/orders/:id", h.getOrder)
	app.Post("/api/v1/orders/:id/cancel", h.cancelOrder)
	app.Get("/api/v1/orders/:id/track", h.trackOrder)
}

func (h *Handler) RegisterAdminRoutes(app fiber.Router) {
	app.Patch("/api/v1/admin/orders/:id/status", user.RequireAdmin(), h.updateStatus)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// getOrders returns the caller's orders, newest first.
func (h *Handler) getOrders(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	page, err := h.service.ListForUser(c.UserContext(), userID, Filter{
		Status: Status(c.Query("status")),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", DefaultPageSize),
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(page)
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	o, err := h.service.GetForUser(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(o)
}

func (h *Handler) cancelOrder(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	payload := new(cancelRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return httpx.BadRequest(c, err.Error())
		}
	}
	o, err := h.service.Cancel(c.UserContext(), userID, c.Params("id"), payload.Reason)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Order cancelled", "order": o})
}

func (h *Handler) trackOrder(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	t, err := h.service.Track(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(t)
}

func (h *Handler) updateStatus(c *fiber.Ctx) error {
	payload := new(statusRequest)
	if err := c.BodyParser(payload); err != nil {
		return httpx.BadRequest(c, err.Error())
	}
	if payload.Status == "" {
		return httpx.BadRequest(c, "status is required")
	}
	o, err := h.service.UpdateStatus(c.UserContext(), c.Params("id"), Status(payload.Status), payload.Note)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Order status updated", "order": o})
}
