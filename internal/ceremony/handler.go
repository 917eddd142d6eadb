package ceremony

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/passwallet/passwallet/internal/identity"
)

// Handler exposes the passkey ceremonies over HTTP.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler constructs a ceremony HTTP handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

type registerOptionsRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type verifyRequest struct {
	Email     string          `json:"email"`
	SessionID string          `json:"sessionId"`
	Response  json.RawMessage `json:"response"`
}

type loginOptionsRequest struct {
	Email string `json:"email"`
}

type verifiedResponse struct {
	Verified bool             `json:"verified"`
	User     identity.Profile `json:"user"`
}

// RegisterOptions starts a registration ceremony.
func (h *Handler) RegisterOptions(c *fiber.Ctx) error {
	var req registerOptionsRequest
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

	options, err := h.orchestrator.BeginRegistration(c.UserContext(), email, req.DisplayName)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(options)
}

// RegisterVerify finishes a registration ceremony.
func (h *Handler) RegisterVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || len(req.Response) == 0 {
		return fiber.NewError(http.StatusBadRequest, "email and response required")
	}
	email, err := identity.NormalizeEmail(req.Email)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	profile, err := h.orchestrator.CompleteRegistration(c.UserContext(), email, req.Response)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(verifiedResponse{Verified: true, User: profile})
}

// LoginOptions starts a login; the email is optional.
func (h *Handler) LoginOptions(c *fiber.Ctx) error {
	var req loginOptionsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}

	var email string
	if strings.TrimSpace(req.Email) != "" {
		normalized, err := identity.NormalizeEmail(req.Email)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		email = normalized
	}

	options, key, err := h.orchestrator.BeginLogin(c.UserContext(), email)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"options": options, "sessionId": key.SessionID})
}

// LoginVerify finishes a login keyed by email or by session id.
func (h *Handler) LoginVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Response) == 0 {
		return fiber.NewError(http.StatusBadRequest, "response required")
	}

	key := LoginKey{SessionID: req.SessionID}
	if req.Email != "" {
		email, err := identity.NormalizeEmail(req.Email)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		key = LoginKey{Email: email}
	}
	if key.String() == "" {
		return fiber.NewError(http.StatusBadRequest, "email or sessionId required")
	}

	profile, err := h.orchestrator.CompleteLogin(c.UserContext(), key, req.Response)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(verifiedResponse{Verified: true, User: profile})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return fiber.NewError(http.StatusBadRequest, ErrChallengeNotFound.Error())
	case errors.Is(err, ErrInvalidResponse):
		return fiber.NewError(http.StatusBadRequest, ErrInvalidResponse.Error())
	case errors.Is(err, ErrVerificationFailed), errors.Is(err, ErrReplay):
		return fiber.NewError(http.StatusBadRequest, ErrVerificationFailed.Error())
	case errors.Is(err, ErrCredentialNotFound):
		return fiber.NewError(http.StatusNotFound, ErrCredentialNotFound.Error())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "user not found")
	case errors.Is(err, ErrNoPasskey):
		return fiber.NewError(http.StatusNotFound, ErrNoPasskey.Error())
	case errors.Is(err, identity.ErrInvalidEmail):
		return fiber.NewError(http.StatusBadRequest, identity.ErrInvalidEmail.Error())
	default:
		return err
	}
}
