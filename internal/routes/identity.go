package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/passwallet/passwallet/internal/ceremony"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/otp"
)

// RegisterIdentityRoutes wires the email lookup the surface runs first.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/lookup", h.Lookup)
}

// RegisterOTPRoutes wires code issue and verification. Issue is rate limited.
func RegisterOTPRoutes(r fiber.Router, h *otp.Handler, sendLimit fiber.Handler) {
	r.Post("/otp/send", sendLimit, h.Send)
	r.Post("/otp/verify", h.Verify)
}

// RegisterCeremonyRoutes wires passkey registration and login.
func RegisterCeremonyRoutes(r fiber.Router, h *ceremony.Handler) {
	r.Post("/register/options", h.RegisterOptions)
	r.Post("/register/verify", h.RegisterVerify)
	r.Post("/login/options", h.LoginOptions)
	r.Post("/login/verify", h.LoginVerify)
}
