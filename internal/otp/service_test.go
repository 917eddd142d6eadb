package otp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/passwallet/passwallet/internal/challenge"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/logging"
	"github.com/passwallet/passwallet/internal/notification"
)

type harness struct {
	svc      *Service
	accounts *identity.Service
	inbox    *notification.Recorder
	codes    *challenge.MemoryStore
}

func newHarness(t *testing.T) harness {
	t.Helper()
	accounts := identity.NewService(identity.NewMemoryRepository())
	inbox := &notification.Recorder{}
	codes := challenge.NewMemoryStore()
	svc, err := NewService(Params{
		Codes:    codes,
		Accounts: accounts,
		Notifier: inbox,
		Logger:   logging.Discard(),
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return harness{svc: svc, accounts: accounts, inbox: inbox, codes: codes}
}

func (h harness) lastCode(t *testing.T, email string) string {
	t.Helper()
	msg, ok := h.inbox.Last(email)
	if !ok {
		t.Fatalf("no code delivered to %s", email)
	}
	if msg.Kind != notification.KindOTPCode {
		t.Fatalf("unexpected message kind %q", msg.Kind)
	}
	return msg.Body
}

func wrongCode(code string) string {
	if code == "123456" {
		return "654321"
	}
	return "123456"
}

func TestVerifyCreatesUserOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.SendCode(ctx, "new@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	profile, err := h.svc.VerifyCode(ctx, "new@x.com", h.lastCode(t, "new@x.com"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if profile.Email != "new@x.com" || profile.DisplayName != "new" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if len(profile.Instruments) == 0 {
		t.Fatalf("expected generated instruments")
	}

	if err := h.svc.SendCode(ctx, "new@x.com"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	again, err := h.svc.VerifyCode(ctx, "new@x.com", h.lastCode(t, "new@x.com"))
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Instruments[0].ID != profile.Instruments[0].ID {
		t.Fatalf("expected the same account on second sign-in")
	}
}

func TestCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := h.lastCode(t, "a@x.com")
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode on reuse, got %v", err)
	}
}

func TestVerifyWithoutSend(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.VerifyCode(context.Background(), "a@x.com", "123456"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestSendReplacesEarlierCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	h.svc.generate = func() (string, error) {
		next := codes[0]
		codes = codes[1:]
		return next, nil
	}

	if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", "111111"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected the replaced code to fail, got %v", err)
	}
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", "222222"); err != nil {
		t.Fatalf("expected the newest code to pass: %v", err)
	}
}

func TestWrongGuessesExhaustCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := h.lastCode(t, "a@x.com")

	for i := 0; i < MaxAttempts-1; i++ {
		if _, err := h.svc.VerifyCode(ctx, "a@x.com", wrongCode(code)); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	if h.codes.Len() != 1 {
		t.Fatalf("expected code to survive %d wrong guesses", MaxAttempts-1)
	}

	if _, err := h.svc.VerifyCode(ctx, "a@x.com", wrongCode(code)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected the exhausted code to be gone, got %v", err)
	}
	if _, err := h.accounts.Find(ctx, "a@x.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected no account, got %v", err)
	}
}

// resendingStore issues a new code between a guess's Take and its
// re-store, the way a resend from another tab would.
type resendingStore struct {
	*challenge.MemoryStore
	afterTake func()
}

func (s *resendingStore) Take(ctx context.Context, key string) ([]byte, error) {
	secret, err := s.MemoryStore.Take(ctx, key)
	if hook := s.afterTake; hook != nil {
		s.afterTake = nil
		hook()
	}
	return secret, err
}

func TestResendDuringWrongGuessKeepsNewCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := &resendingStore{MemoryStore: h.codes}
	h.svc.codes = store
	codes := []string{"111111", "222222"}
	h.svc.generate = func() (string, error) {
		next := codes[0]
		codes = codes[1:]
		return next, nil
	}

	if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	store.afterTake = func() {
		if err := h.svc.SendCode(ctx, "a@x.com"); err != nil {
			t.Errorf("resend: %v", err)
		}
	}
	if _, err := h.svc.VerifyCode(ctx, "a@x.com", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	if _, err := h.svc.VerifyCode(ctx, "a@x.com", "222222"); err != nil {
		t.Fatalf("expected the resent code to pass: %v", err)
	}
	if h.codes.Len() != 0 {
		t.Fatalf("expected no code left behind")
	}
}

func TestGenerateCodeRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("expected %d digits, got %q", CodeLength, code)
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < 100000 || n > 999999 {
			t.Fatalf("code out of range: %q", code)
		}
	}
}

func TestHandlerStatuses(t *testing.T) {
	h := newHarness(t)
	handler := NewHandler(h.svc)
	app := fiber.New()
	app.Post("/otp/send", handler.Send)
	app.Post("/otp/verify", handler.Verify)

	do := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := do("/otp/send", `{}`); got != http.StatusBadRequest {
		t.Fatalf("send without email: expected 400, got %d", got)
	}
	if got := do("/otp/send", `{"email":"Shop@X.com"}`); got != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", got)
	}
	if got := do("/otp/verify", `{"email":"shop@x.com"}`); got != http.StatusBadRequest {
		t.Fatalf("verify without code: expected 400, got %d", got)
	}
	code := h.lastCode(t, "shop@x.com")
	if got := do("/otp/verify", `{"email":"shop@x.com","otp":"`+wrongCode(code)+`"}`); got != http.StatusUnauthorized {
		t.Fatalf("verify wrong code: expected 401, got %d", got)
	}
	if got := do("/otp/verify", `{"email":"shop@x.com","otp":"`+code+`"}`); got != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", got)
	}
}
