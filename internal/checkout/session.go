// Package checkout holds the buyer's cart and identity for one mounted
// checkout surface.
package checkout

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/passwallet/passwallet/internal/channel"
	"github.com/passwallet/passwallet/internal/identity"
)

var (
	ErrInvalidAmount     = errors.New("checkout amount must be positive")
	ErrUnknownInstrument = errors.New("instrument not in wallet")
	ErrNoInstrument      = errors.New("no instrument selected")
	ErrNotIdentified     = errors.New("buyer not identified")
)

// Session is the cart handed over by the merchant plus whoever is paying.
type Session struct {
	MerchantName string
	Amount       decimal.Decimal
	Items        []channel.Item

	Email        string
	User         *identity.Profile
	InstrumentID string
}

// New starts a session from the merchant's initCheckout payload.
func New(init channel.InitCheckout) (*Session, error) {
	if !init.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return &Session{
		MerchantName: init.MerchantName,
		Amount:       init.Amount,
		Items:        init.Items,
	}, nil
}

// Identify records the email the buyer typed. Any previously resolved
// profile for a different email is dropped.
func (s *Session) Identify(email string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.User != nil && s.User.Email != email {
		s.User = nil
		s.InstrumentID = ""
	}
	s.Email = email
}

// Resolve attaches the authenticated profile and defaults the selection to
// its first instrument.
func (s *Session) Resolve(profile identity.Profile) {
	s.Email = profile.Email
	s.User = &profile
	s.InstrumentID = ""
	if len(profile.Instruments) > 0 {
		s.InstrumentID = profile.Instruments[0].ID
	}
}

// Select picks the instrument to charge.
func (s *Session) Select(id string) error {
	if s.User == nil {
		return ErrNotIdentified
	}
	for _, in := range s.User.Instruments {
		if in.ID == id {
			s.InstrumentID = id
			return nil
		}
	}
	return ErrUnknownInstrument
}

// Selected returns the instrument that will be charged.
func (s *Session) Selected() (identity.Instrument, bool) {
	if s.User == nil || s.InstrumentID == "" {
		return identity.Instrument{}, false
	}
	for _, in := range s.User.Instruments {
		if in.ID == s.InstrumentID {
			return in, true
		}
	}
	return identity.Instrument{}, false
}

// CanPay reports whether the confirm button is enabled.
func (s *Session) CanPay() bool {
	_, ok := s.Selected()
	return ok
}

// Logout forgets the buyer but keeps the cart.
func (s *Session) Logout() {
	s.Email = ""
	s.User = nil
	s.InstrumentID = ""
}

// AmountString renders the amount the way the payment API expects it.
func (s *Session) AmountString() string {
	return s.Amount.StringFixed(2)
}
