// Package ceremony runs passkey registration and login against a Verifier,
// keeping each challenge in a single-use store between the two halves.
package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/passwallet/passwallet/internal/challenge"
	"github.com/passwallet/passwallet/internal/events"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/metrics"
)

const (
	kindRegistration = "registration"
	kindLogin        = "login"
)

// Params holds the orchestrator's collaborators. Events, Metrics and
// Logger are optional.
type Params struct {
	Verifier   Verifier
	Accounts   *identity.Service
	Challenges challenge.Store
	Events     *events.Publisher
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Orchestrator drives both passkey ceremonies.
type Orchestrator struct {
	verifier   Verifier
	accounts   *identity.Service
	challenges challenge.Store
	events     *events.Publisher
	metrics    *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator checks the required collaborators.
func NewOrchestrator(p Params) (*Orchestrator, error) {
	if p.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if p.Challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		verifier:   p.Verifier,
		accounts:   p.Accounts,
		challenges: p.Challenges,
		events:     p.Events,
		metrics:    p.Metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// RegisteredEvent is published after a passkey is stored.
type RegisteredEvent struct {
	Email        string `json:"email"`
	CredentialID string `json:"credentialId"`
}

// AuthenticatedEvent is published after a successful login.
type AuthenticatedEvent struct {
	Email        string `json:"email"`
	CredentialID string `json:"credentialId"`
	SignCount    uint32 `json:"signCount"`
	Discoverable bool   `json:"discoverable"`
}

func registrationKey(email string) string { return kindRegistration + ":" + email }

// LoginKey names a pending login challenge. Targeted logins are keyed by
// email and discoverable ones by session id; the two never share a key.
type LoginKey struct {
	Email     string
	SessionID string
}

func (k LoginKey) storeKey() string {
	if k.Email != "" {
		return kindLogin + ":email:" + k.Email
	}
	return kindLogin + ":sid:" + k.SessionID
}

func (k LoginKey) String() string {
	if k.Email != "" {
		return k.Email
	}
	return k.SessionID
}

// BeginRegistration creates the user when absent and returns creation
// options that exclude the user's existing passkeys.
func (o *Orchestrator) BeginRegistration(ctx context.Context, email, displayName string) (protocol.PublicKeyCredentialCreationOptions, error) {
	user, _, err := o.accounts.Ensure(ctx, email, displayName)
	if err != nil {
		return protocol.PublicKeyCredentialCreationOptions{}, fmt.Errorf("ensure user: %w", err)
	}
	acct, err := o.account(ctx, user)
	if err != nil {
		return protocol.PublicKeyCredentialCreationOptions{}, err
	}

	creation, session, err := o.verifier.GenerateRegistrationParams(acct, acct.descriptors())
	if err != nil {
		return protocol.PublicKeyCredentialCreationOptions{}, fmt.Errorf("generate registration options: %w", err)
	}
	if err := o.saveSession(ctx, registrationKey(email), session); err != nil {
		return protocol.PublicKeyCredentialCreationOptions{}, err
	}
	return creation.Response, nil
}

// CompleteRegistration verifies the attestation for email's pending
// challenge and stores the new passkey.
func (o *Orchestrator) CompleteRegistration(ctx context.Context, email string, response json.RawMessage) (identity.Profile, error) {
	profile, err := o.completeRegistration(ctx, email, response)
	o.metrics.Ceremony(kindRegistration, outcome(err))
	return profile, err
}

func (o *Orchestrator) completeRegistration(ctx context.Context, email string, response json.RawMessage) (identity.Profile, error) {
	session, err := o.takeSession(ctx, registrationKey(email))
	if err != nil {
		return identity.Profile{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		o.logFailure(ctx, "parse attestation", email, err)
		return identity.Profile{}, ErrInvalidResponse
	}

	user, err := o.accounts.Find(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Profile{}, ErrUserNotFound
	}
	if err != nil {
		return identity.Profile{}, err
	}
	acct, err := o.account(ctx, user)
	if err != nil {
		return identity.Profile{}, err
	}

	cred, err := o.verifier.VerifyRegistration(acct, session, parsed)
	if err != nil {
		o.logFailure(ctx, "verify attestation", email, err)
		return identity.Profile{}, ErrVerificationFailed
	}

	if err := o.accounts.Repository().AddCredential(ctx, fromWebAuthn(email, cred, o.now())); err != nil {
		if errors.Is(err, identity.ErrCredentialExists) {
			o.logFailure(ctx, "store credential", email, err)
			return identity.Profile{}, ErrVerificationFailed
		}
		return identity.Profile{}, fmt.Errorf("store credential: %w", err)
	}

	_ = o.events.Publish(ctx, events.TopicPasskeyRegistered, RegisteredEvent{
		Email:        email,
		CredentialID: protocol.URLEncodedBase64(cred.ID).String(),
	})
	o.logger.InfoContext(ctx, "passkey registered", slog.String("email", email))
	return user.Profile(), nil
}

// BeginLogin starts a login. With an email the options allow only that
// user's passkeys and the lookup key is the email; without one the
// ceremony is discoverable and keyed by a fresh session id.
func (o *Orchestrator) BeginLogin(ctx context.Context, email string) (protocol.PublicKeyCredentialRequestOptions, LoginKey, error) {
	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		key       LoginKey
	)

	if email != "" {
		user, err := o.accounts.Find(ctx, email)
		if err != nil {
			o.metrics.Ceremony(kindLogin, metrics.OutcomeNotFound)
			return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, err
		}
		acct, err := o.account(ctx, user)
		if err != nil {
			return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, err
		}
		if len(acct.credentials) == 0 {
			o.metrics.Ceremony(kindLogin, metrics.OutcomeNotFound)
			return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, ErrNoPasskey
		}
		assertion, session, err = o.verifier.GenerateAuthParams(acct)
		if err != nil {
			return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, fmt.Errorf("generate login options: %w", err)
		}
		key = LoginKey{Email: email}
	} else {
		var err error
		assertion, session, err = o.verifier.GenerateAuthParams(nil)
		if err != nil {
			return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, fmt.Errorf("generate login options: %w", err)
		}
		key = LoginKey{SessionID: uuid.NewString()}
	}

	if err := o.saveSession(ctx, key.storeKey(), session); err != nil {
		return protocol.PublicKeyCredentialRequestOptions{}, LoginKey{}, err
	}
	return assertion.Response, key, nil
}

// CompleteLogin verifies an assertion against the challenge stored under
// key and records the authenticator's new signature counter.
func (o *Orchestrator) CompleteLogin(ctx context.Context, key LoginKey, response json.RawMessage) (identity.Profile, error) {
	profile, err := o.completeLogin(ctx, key, response)
	o.metrics.Ceremony(kindLogin, outcome(err))
	return profile, err
}

func (o *Orchestrator) completeLogin(ctx context.Context, key LoginKey, response json.RawMessage) (identity.Profile, error) {
	session, err := o.takeSession(ctx, key.storeKey())
	if err != nil {
		return identity.Profile{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		o.logFailure(ctx, "parse assertion", key.String(), err)
		return identity.Profile{}, ErrInvalidResponse
	}

	stored, err := o.accounts.Repository().FindCredential(ctx, parsed.RawID)
	if errors.Is(err, identity.ErrCredentialNotFound) {
		return identity.Profile{}, ErrCredentialNotFound
	}
	if err != nil {
		return identity.Profile{}, err
	}

	user, err := o.accounts.Find(ctx, stored.Email)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Profile{}, ErrUserNotFound
	}
	if err != nil {
		return identity.Profile{}, err
	}
	acct, err := o.account(ctx, user)
	if err != nil {
		return identity.Profile{}, err
	}

	cred, err := o.verifier.VerifyAuthentication(acct, session, parsed)
	if err != nil {
		o.logFailure(ctx, "verify assertion", stored.Email, err)
		return identity.Profile{}, ErrVerificationFailed
	}

	repo := o.accounts.Repository()
	if cred.Authenticator.CloneWarning {
		// Keep the stored counter; only flag the credential.
		if err := repo.UpdateSignCount(ctx, stored.ID, stored.SignCount, true); err != nil {
			return identity.Profile{}, fmt.Errorf("flag credential: %w", err)
		}
		o.logger.WarnContext(ctx, "signature counter did not advance",
			slog.String("email", stored.Email),
			slog.Uint64("stored", uint64(stored.SignCount)),
		)
		return identity.Profile{}, ErrReplay
	}

	if err := repo.UpdateSignCount(ctx, stored.ID, cred.Authenticator.SignCount, stored.CloneWarning); err != nil {
		return identity.Profile{}, fmt.Errorf("update sign count: %w", err)
	}

	_ = o.events.Publish(ctx, events.TopicPasskeyAuthenticated, AuthenticatedEvent{
		Email:        user.Email,
		CredentialID: protocol.URLEncodedBase64(stored.ID).String(),
		SignCount:    cred.Authenticator.SignCount,
		Discoverable: len(session.UserID) == 0,
	})
	return user.Profile(), nil
}

func (o *Orchestrator) account(ctx context.Context, user identity.User) (*account, error) {
	creds, err := o.accounts.Credentials(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return newAccount(user, creds), nil
}

func (o *Orchestrator) saveSession(ctx context.Context, key string, session *webauthn.SessionData) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := o.challenges.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (o *Orchestrator) takeSession(ctx context.Context, key string) (webauthn.SessionData, error) {
	payload, err := o.challenges.Take(ctx, key)
	if errors.Is(err, challenge.ErrNotFound) {
		return webauthn.SessionData{}, ErrChallengeNotFound
	}
	if err != nil {
		return webauthn.SessionData{}, fmt.Errorf("take challenge: %w", err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (o *Orchestrator) logFailure(ctx context.Context, step, subject string, err error) {
	attrs := []any{slog.String("step", step), slog.String("subject", subject), slog.Any("error", err)}
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		attrs = append(attrs, slog.String("detail", perr.DevInfo))
	}
	o.logger.WarnContext(ctx, "passkey ceremony rejected", attrs...)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrReplay):
		return metrics.OutcomeReplay
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrCredentialNotFound), errors.Is(err, ErrUserNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailure
	}
}
