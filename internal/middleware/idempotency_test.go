package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/passwallet/passwallet/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls atomic.Int32
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/pay", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		if c.Query("fail") != "" {
			return fiber.NewError(http.StatusBadGateway, "payment failed")
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"transactionId": n})
	})
	return app, &calls
}

func send(t *testing.T, app *fiber.App, path, key string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t)

	send(t, app, "/pay", "")
	send(t, app, "/pay", "")
	if calls.Load() != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls.Load())
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	first, body := send(t, app, "/pay", "abc123")
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", first.StatusCode)
	}

	second, replayed := send(t, app, "/pay", "abc123")
	if second.StatusCode != http.StatusOK {
		t.Fatalf("expected cached status 200 got %d", second.StatusCode)
	}
	if replayed != body {
		t.Fatalf("expected cached payload %s got %s", body, replayed)
	}
	if second.Header.Get(idempotencyReplayed) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if !strings.HasPrefix(second.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		t.Fatalf("expected json content type, got %q", second.Header.Get(fiber.HeaderContentType))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(replayed), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, calls := setupTestApp(t)

	if resp, _ := send(t, app, "/pay?fail=1", "k1"); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.StatusCode)
	}
	if resp, _ := send(t, app, "/pay", "k1"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", calls.Load())
	}
}
