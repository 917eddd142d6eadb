package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const sendLimitPrefix = "rl:otp:"

// SendRateLimit caps how many codes one email can request per minute. It
// counts in Redis and fails open when Redis is missing or erroring.
func SendRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.Email))
		if subject == "" {
			subject = c.IP()
		}

		ctx := c.UserContext()
		key := sendLimitPrefix + subject
		count, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("send rate limit unavailable", slog.String("error", err.Error()))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if count > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many codes requested, try again later")
		}
		return c.Next()
	}
}
