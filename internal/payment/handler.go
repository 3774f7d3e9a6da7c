package payment

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/storefront-backend/internal/httpx"
	"github.com/wichananm65/storefront-backend/internal/user"
)

type Handler struct {
	orchestrator *Orchestrator
}

func NewHandler(o *Orchestrator) *Handler {
	return &Handler{orchestrator: o}
}

// RegisterPublicRoutes mounts the gateway callbacks and the health probe.
func (h *Handler) RegisterPublicRoutes(app fiber.Router) {
	app.Post("/api/v1/payment/success", h.success)
	app.Post("/api/v1/payment/failure", h.failure)
	app.Get("/api/v1/payment/health", h.health)
}

func (h *Handler) RegisterProtectedRoutes(app fiber.Router) {
	app.Post("/api/v1/payment/initiate", h.initiate)
	app.Get("/api/v1/payment/status/:txnid", h.status)
	app.Get("/api/v1/payment/details/:txnid", h.details)
}

type initiateRequest struct {
	OrderNumber string `json:"orderNumber" form:"orderNumber"`
	ProductInfo string `json:"productinfo" form:"productinfo"`
	FirstName   string `json:"firstname" form:"firstname"`
	Email       string `json:"email" form:"email"`
	Phone       string `json:"phone" form:"phone"`
}

func (h *Handler) initiate(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	payload := new(initiateRequest)
	if err := c.BodyParser(payload); err != nil {
		return httpx.BadRequest(c, err.Error())
	}

	resp, err := h.orchestrator.Initiate(c.UserContext(), InitiateRequest{
		UserID:      userID,
		OrderNumber: payload.OrderNumber,
		ProductInfo: payload.ProductInfo,
		FirstName:   payload.FirstName,
		Email:       payload.Email,
		Phone:       payload.Phone,
	})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "paymentData": resp})
}

func (h *Handler) success(c *fiber.Ctx) error {
	cb := new(Callback)
	if err := c.BodyParser(cb); err != nil {
		return httpx.BadRequest(c, err.Error())
	}
	out, err := h.orchestrator.ReconcileSuccess(c.UserContext(), *cb)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(out)
}

func (h *Handler) failure(c *fiber.Ctx) error {
	cb := new(Callback)
	if err := c.BodyParser(cb); err != nil {
		return httpx.BadRequest(c, err.Error())
	}
	out, err := h.orchestrator.ReconcileFailure(c.UserContext(), *cb)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(out)
}

func (h *Handler) status(c *fiber.Ctx) error {
	if _, err := user.GetUserIDFromCtx(c); err != nil {
		return httpx.Unauthorized(c)
	}
	v, err := h.orchestrator.Status(c.UserContext(), c.Params("txnid"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "payment": v})
}

func (h *Handler) details(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return httpx.Unauthorized(c)
	}
	v, err := h.orchestrator.Details(c.UserContext(), userID, c.Params("txnid"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "payment": v})
}

func (h *Handler) health(c *fiber.Ctx) error {
	return c.JSON(h.orchestrator.Health())
}
