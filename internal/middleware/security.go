package middleware

import "github.com/gofiber/fiber/v2"

// permissionsPolicy lets a cross-origin frame run passkey ceremonies.
const permissionsPolicy = "publickey-credentials-get=(*), publickey-credentials-create=(*)"

// SecurityHeaders sets the response headers the embedded checkout needs.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Permissions-Policy", permissionsPolicy)
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderReferrerPolicy, "strict-origin-when-cross-origin")
		return c.Next()
	}
}
