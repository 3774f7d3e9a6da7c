package checkout

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/storefront-backend/internal/httpx"
	"github.com/wichananm65/storefront-backend/internal/user"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) RegisterProtectedRoutes(app fiber.Router) {
	app.Post("/api/v1/checkout/buy-now", h.buyNow)
	app.Get("/api/v1/checkout/session", h.getSession)
	app.Get("/api/v1/checkout/summary", h.getSummary)
	app.Post("/api/v1/orders", h.createOrder)
}

type createOrderRequest struct {
	AddressID     int    `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`
	Mode          string `json:"mode"`
	SessionID     string `json:"sessionId"`
	Notes         string `json:"notes"`
}

func (h *Handler) createOrder(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	payload := new(createOrderRequest)
	if err := c.BodyParser(payload); err != nil {
		return httpx.BadRequest(c, err.Error())
	}

	o, err := h.service.CreateOrder(c.UserContext(), CreateOrderRequest{
		UserID:        userID,
		AddressID:     payload.AddressID,
		PaymentMethod: payload.PaymentMethod,
		Mode:          Mode(payload.Mode),
		SessionID:     payload.SessionID,
		Notes:         payload.Notes,
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "message": "Order created", "order": o})
}

func (h *Handler) buyNow(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	line := new(Line)
	if err := c.BodyParser(line); err != nil {
		return httpx.BadRequest(c, err.Error())
	}
	if line.Quantity == 0 {
		line.Quantity = 1
	}
	sess, err := h.service.CreateBuyNow(c.UserContext(), userID, *line)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "session": sess})
}

func (h *Handler) getSession(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	sess, err := h.service.ActiveSession(c.UserContext(), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "session": sess})
}

func (h *Handler) getSummary(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	sum, err := h.service.Summary(c.UserContext(), userID, Mode(c.Query("mode")), c.Query("sessionId"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(sum)
}
