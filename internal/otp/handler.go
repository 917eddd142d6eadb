package otp

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/passwallet/passwallet/internal/identity"
)

// Handler exposes code issue and verification.
type Handler struct {
	service *Service
}

// NewHandler constructs an OTP HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type sendRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"otp"`
}

// Send issues a code to the email in the body.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" {
		return fiber.NewError(http.StatusBadRequest, "email required")
	}
	email, err := identity.NormalizeEmail(req.Email)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.service.SendCode(c.UserContext(), email); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// Verify checks a code and returns the buyer's profile.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Code == "" {
		return fiber.NewError(http.StatusBadRequest, "email and otp required")
	}
	email, err := identity.NormalizeEmail(req.Email)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	profile, err := h.service.VerifyCode(c.UserContext(), email, req.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return fiber.NewError(http.StatusUnauthorized, ErrInvalidCode.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"verified": true, "user": profile})
}
