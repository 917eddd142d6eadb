package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/passwallet/passwallet/internal/identity"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// payRequest accepts the amount as a JSON string or number.
type payRequest struct {
	Email  string              `json:"email"`
	CardID string              `json:"cardId"`
	Amount decimal.NullDecimal `json:"amount"`
}

// Pay charges the buyer's selected card.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.CardID == "" || !req.Amount.Valid {
		return fiber.NewError(http.StatusBadRequest, ErrMissingFields.Error())
	}
	email, err := identity.NormalizeEmail(req.Email)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	receipt, err := h.service.Pay(c.UserContext(), PayInput{
		Email:  email,
		CardID: req.CardID,
		Amount: req.Amount.Decimal,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingFields), errors.Is(err, ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUserNotFound):
			return fiber.NewError(http.StatusNotFound, ErrUserNotFound.Error())
		case errors.Is(err, ErrCardNotFound):
			return fiber.NewError(http.StatusNotFound, ErrCardNotFound.Error())
		case errors.Is(err, ErrPaymentFailed):
			return fiber.NewError(http.StatusBadGateway, ErrPaymentFailed.Error())
		default:
			return err
		}
	}

	return c.Status(http.StatusOK).JSON(receipt)
}
