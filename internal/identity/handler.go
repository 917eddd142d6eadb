package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes account lookup.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type lookupRequest struct {
	Email string `json:"email"`
}

// Lookup tells the wallet whether an email is known and has a passkey.
func (h *Handler) Lookup(c *fiber.Ctx) error {
	var req lookupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" {
		return fiber.NewError(http.StatusBadRequest, "email required")
	}
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Lookup(c.UserContext(), email)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(result)
}
