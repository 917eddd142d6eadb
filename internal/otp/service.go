// Package otp issues and checks one-time sign-in codes. A successful check
// doubles as registration for unknown emails.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/passwallet/passwallet/internal/challenge"
	"github.com/passwallet/passwallet/internal/events"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/metrics"
	"github.com/passwallet/passwallet/internal/notification"
)

const (
	// CodeLength is the number of digits in a code.
	CodeLength = 6
	// MaxAttempts is how many wrong guesses a code survives.
	MaxAttempts = 5
)

// ErrInvalidCode covers a missing, consumed or mismatched code.
var ErrInvalidCode = errors.New("invalid or expired code")

type record struct {
	Hash     []byte `json:"hash"`
	Attempts int    `json:"attempts"`
}

// SentEvent is published when a code is issued. It never carries the code.
type SentEvent struct {
	Email string `json:"email"`
}

// Params holds the service's collaborators. HashCost defaults to
// bcrypt.DefaultCost.
type Params struct {
	Codes    challenge.Store
	Accounts *identity.Service
	Notifier notification.Notifier
	Events   *events.Publisher
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	HashCost int
}

// Service sends and verifies codes.
type Service struct {
	codes    challenge.Store
	accounts *identity.Service
	notifier notification.Notifier
	events   *events.Publisher
	metrics  *metrics.Recorder
	logger   *slog.Logger
	cost     int
	generate func() (string, error)
}

// NewService checks the required collaborators.
func NewService(p Params) (*Service, error) {
	if p.Codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if p.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cost := p.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		codes:    p.Codes,
		accounts: p.Accounts,
		notifier: p.Notifier,
		events:   p.Events,
		metrics:  p.Metrics,
		logger:   logger,
		cost:     cost,
		generate: generateCode,
	}, nil
}

func codeKey(email string) string { return "otp:" + email }

// generateCode draws uniformly from 100000-999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// SendCode issues a fresh code for email, replacing any earlier one, and
// hands it to the notifier.
func (s *Service) SendCode(ctx context.Context, email string) error {
	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	if err := s.put(ctx, email, record{Hash: hash}); err != nil {
		return err
	}

	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindOTPCode,
		Destination: email,
		Subject:     "Your PassWallet sign-in code",
		Body:        code,
	}); err != nil {
		return fmt.Errorf("deliver code: %w", err)
	}

	s.metrics.OTP("sent")
	_ = s.events.Publish(ctx, events.TopicOTPSent, SentEvent{Email: email})
	return nil
}

// VerifyCode consumes email's code when it matches and returns the
// buyer's profile, creating the account on first use. A wrong guess keeps
// the code alive until MaxAttempts is reached.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (identity.Profile, error) {
	profile, err := s.verify(ctx, email, code)
	if err != nil {
		s.metrics.OTP(metrics.OutcomeFailure)
		return identity.Profile{}, err
	}
	s.metrics.OTP(metrics.OutcomeSuccess)
	return profile, nil
}

func (s *Service) verify(ctx context.Context, email, code string) (identity.Profile, error) {
	payload, err := s.codes.Take(ctx, codeKey(email))
	if errors.Is(err, challenge.ErrNotFound) {
		return identity.Profile{}, ErrInvalidCode
	}
	if err != nil {
		return identity.Profile{}, fmt.Errorf("take code: %w", err)
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return identity.Profile{}, fmt.Errorf("decode code: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(rec.Hash, []byte(code)); err != nil {
		rec.Attempts++
		if rec.Attempts < MaxAttempts {
			// a code sent since the Take wins over the one being retried
			if err := s.restore(ctx, email, rec); err != nil {
				return identity.Profile{}, err
			}
		} else {
			s.logger.WarnContext(ctx, "one-time code discarded after repeated failures", slog.String("email", email))
		}
		return identity.Profile{}, ErrInvalidCode
	}

	user, created, err := s.accounts.Ensure(ctx, email, identity.DefaultDisplayName(email))
	if err != nil {
		return identity.Profile{}, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "account created from one-time code", slog.String("email", email))
	}
	return user.Profile(), nil
}

func (s *Service) restore(ctx context.Context, email string, rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode code: %w", err)
	}
	if _, err := s.codes.PutIfAbsent(ctx, codeKey(email), payload); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

func (s *Service) put(ctx context.Context, email string, rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode code: %w", err)
	}
	if err := s.codes.Put(ctx, codeKey(email), payload); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}
