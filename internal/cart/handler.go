package cart

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wichananm65/storefront-backend/internal/product"
	"github.com/wichananm65/storefront-backend/internal/user"
)

// Handler delegates cart operations to the cart service.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) RegisterProtectedRoutes(app fiber.Router) {
	app.Get("/api/v1/cart", h.getCart)
	app.Delete("/api/v1/cart", h.clearCart)
	app.Post("/api/v1/cart/items", h.addItem)
	app.Patch("/api/v1/cart/items", h.updateItem)
	app.Delete("/api/v1/cart/items", h.removeItem)
}

type itemRequest struct {
	ProductID int `json:"productId"`
	VariantID int `json:"variantId"`
	Quantity  int `json:"quantity"`
}

func parseItem(c *fiber.Ctx) (*itemRequest, error) {
	payload := new(itemRequest)
	if err := c.BodyParser(payload); err != nil {
		return nil, err
	}
	if payload.ProductID <= 0 || payload.VariantID < 0 {
		return nil, errors.New("invalid productId")
	}
	return payload, nil
}

func (h *Handler) getCart(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	cart, err := h.service.GetCart(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) addItem(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload, err := parseItem(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	cart, err := h.service.AddItem(c.UserContext(), userID, payload.ProductID, payload.VariantID, payload.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) updateItem(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload, err := parseItem(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	cart, err := h.service.UpdateItem(c.UserContext(), userID, payload.ProductID, payload.VariantID, payload.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) removeItem(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload, err := parseItem(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	cart, err := h.service.RemoveItem(c.UserContext(), userID, payload.ProductID, payload.VariantID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) clearCart(c *fiber.Ctx) error {
	userID, err := user.GetUserIDFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	if err := h.service.ClearCart(c.UserContext(), userID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch err {
	case ErrItemNotFound, product.ErrNotFound, product.ErrVariantNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": err.Error()})
	case ErrInvalidQuantity, ErrVariantRequired, ErrProductUnavailable:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	default:
		return err
	}
}
