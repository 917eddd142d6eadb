package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/passwallet/passwallet/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. Retries carrying the same
// Idempotency-Key replay the first receipt.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotency fiber.Handler) {
	r.Post("/pay", idempotency, h.Pay)
}
