package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEmail indicates a malformed email address.
var ErrInvalidEmail = errors.New("invalid email")

// Service manages wallet accounts.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Repository exposes the backing store to collaborators that persist
// credentials.
func (s *Service) Repository() Repository {
	return s.repo
}

// NormalizeEmail trims and lowercases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// DefaultDisplayName is the local part of the email.
func DefaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Ensure returns the user for email, creating it with freshly generated
// instruments when absent. The boolean reports whether a user was created.
func (s *Service) Ensure(ctx context.Context, email, displayName string) (User, bool, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = DefaultDisplayName(email)
	}

	user = User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		Instruments: GenerateInstruments(DefaultInstrumentCount),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrExists) {
			// Lost a concurrent create for the same email.
			existing, findErr := s.repo.FindUserByEmail(ctx, email)
			return existing, false, findErr
		}
		return User{}, false, err
	}

	return user, true, nil
}

// Find fetches the user for email.
func (s *Service) Find(ctx context.Context, email string) (User, error) {
	return s.repo.FindUserByEmail(ctx, email)
}

// Credentials lists the passkeys bound to email.
func (s *Service) Credentials(ctx context.Context, email string) ([]Credential, error) {
	return s.repo.ListCredentials(ctx, email)
}

// Lookup reports whether email belongs to a user and whether that user has
// at least one passkey.
func (s *Service) Lookup(ctx context.Context, email string) (LookupResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return LookupResult{}, nil
	}
	if err != nil {
		return LookupResult{}, err
	}

	creds, err := s.repo.ListCredentials(ctx, email)
	if err != nil {
		return LookupResult{}, err
	}

	return LookupResult{Exists: true, HasPasskey: len(creds) > 0, DisplayName: user.DisplayName}, nil
}

// Profile returns the buyer-facing projection for email.
func (s *Service) Profile(ctx context.Context, email string) (Profile, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile(), nil
}

// ErrInstrumentNotFound indicates the user has no card with the given id.
var ErrInstrumentNotFound = errors.New("instrument not found")

// Instrument resolves one of email's cards.
func (s *Service) Instrument(ctx context.Context, email, id string) (Instrument, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return Instrument{}, err
	}
	instrument, ok := user.Instrument(id)
	if !ok {
		return Instrument{}, ErrInstrumentNotFound
	}
	return instrument, nil
}
