package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/payments"
)

// ErrNetwork wraps transport failures talking to the wallet backend.
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx answer from the wallet backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api: %d %s", e.Status, e.Message)
}

// Backend is the surface's view of the wallet API.
type Backend interface {
	Lookup(ctx context.Context, email string) (identity.LookupResult, error)
	SendCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (identity.Profile, error)
	RegisterOptions(ctx context.Context, email, displayName string) (json.RawMessage, error)
	RegisterVerify(ctx context.Context, email string, response json.RawMessage) (identity.Profile, error)
	// LoginOptions starts a login. An empty email asks for a discoverable
	// login and the returned session id keys its verification.
	LoginOptions(ctx context.Context, email string) (json.RawMessage, string, error)
	LoginVerify(ctx context.Context, email, sessionID string, response json.RawMessage) (identity.Profile, error)
	Pay(ctx context.Context, email, cardID, amount string) (payments.Receipt, error)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBackend calls the wallet API over HTTP.
type HTTPBackend struct {
	baseURL string
	doer    Doer
}

// NewHTTPBackend targets the API mounted under baseURL + "/api". A nil doer
// uses an http.Client with a 15 second timeout.
func NewHTTPBackend(baseURL string, doer Doer) *HTTPBackend {
	if doer == nil {
		doer = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/") + "/api", doer: doer}
}

type userEnvelope struct {
	User identity.Profile `json:"user"`
}

func (b *HTTPBackend) Lookup(ctx context.Context, email string) (identity.LookupResult, error) {
	var out identity.LookupResult
	err := b.post(ctx, "/lookup", map[string]string{"email": email}, &out)
	return out, err
}

func (b *HTTPBackend) SendCode(ctx context.Context, email string) error {
	return b.post(ctx, "/otp/send", map[string]string{"email": email}, nil)
}

func (b *HTTPBackend) VerifyCode(ctx context.Context, email, code string) (identity.Profile, error) {
	var out userEnvelope
	err := b.post(ctx, "/otp/verify", map[string]string{"email": email, "otp": code}, &out)
	return out.User, err
}

func (b *HTTPBackend) RegisterOptions(ctx context.Context, email, displayName string) (json.RawMessage, error) {
	var out json.RawMessage
	err := b.post(ctx, "/register/options", map[string]string{"email": email, "displayName": displayName}, &out)
	return out, err
}

func (b *HTTPBackend) RegisterVerify(ctx context.Context, email string, response json.RawMessage) (identity.Profile, error) {
	var out userEnvelope
	err := b.post(ctx, "/register/verify", map[string]any{"email": email, "response": response}, &out)
	return out.User, err
}

func (b *HTTPBackend) LoginOptions(ctx context.Context, email string) (json.RawMessage, string, error) {
	body := map[string]string{}
	if email != "" {
		body["email"] = email
	}
	var out struct {
		Options   json.RawMessage `json:"options"`
		SessionID string          `json:"sessionId"`
	}
	err := b.post(ctx, "/login/options", body, &out)
	return out.Options, out.SessionID, err
}

func (b *HTTPBackend) LoginVerify(ctx context.Context, email, sessionID string, response json.RawMessage) (identity.Profile, error) {
	body := map[string]any{"response": response}
	if email != "" {
		body["email"] = email
	} else {
		body["sessionId"] = sessionID
	}
	var out userEnvelope
	err := b.post(ctx, "/login/verify", body, &out)
	return out.User, err
}

func (b *HTTPBackend) Pay(ctx context.Context, email, cardID, amount string) (payments.Receipt, error) {
	var out payments.Receipt
	err := b.post(ctx, "/pay", map[string]string{"email": email, "cardId": cardID, "amount": amount}, &out)
	return out, err
}

func (b *HTTPBackend) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrNetwork, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
