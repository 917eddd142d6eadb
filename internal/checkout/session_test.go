package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passwallet/passwallet/internal/channel"
	"github.com/passwallet/passwallet/internal/identity"
)

func profile() identity.Profile {
	return identity.Profile{
		Email:       "demo@example.com",
		DisplayName: "Alex Johnson",
		Instruments: []identity.Instrument{
			{ID: "card_a", Brand: "Visa", Last4: "4242"},
			{ID: "card_b", Brand: "Mastercard", Last4: "8888"},
		},
	}
}

func newSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(channel.InitCheckout{Amount: decimal.RequireFromString("49.9"), MerchantName: "KEYSMITH."})
	require.NoError(t, err)
	return s
}

func TestNewRejectsNonPositiveAmount(t *testing.T) {
	_, err := New(channel.InitCheckout{Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = New(channel.InitCheckout{Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestResolveDefaultsToFirstInstrument(t *testing.T) {
	s := newSession(t)
	assert.False(t, s.CanPay())

	s.Resolve(profile())
	card, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "card_a", card.ID)
	assert.True(t, s.CanPay())
	assert.Equal(t, "49.90", s.AmountString())
}

func TestSelect(t *testing.T) {
	s := newSession(t)
	assert.ErrorIs(t, s.Select("card_b"), ErrNotIdentified)

	s.Resolve(profile())
	require.NoError(t, s.Select("card_b"))
	card, _ := s.Selected()
	assert.Equal(t, "8888", card.Last4)

	assert.ErrorIs(t, s.Select("card_zzz"), ErrUnknownInstrument)
	card, _ = s.Selected()
	assert.Equal(t, "card_b", card.ID)
}

func TestEmptyWalletCannotPay(t *testing.T) {
	s := newSession(t)
	s.Resolve(identity.Profile{Email: "new@x.com", Instruments: []identity.Instrument{}})
	assert.False(t, s.CanPay())
	_, ok := s.Selected()
	assert.False(t, ok)
}

func TestIdentifyAndLogout(t *testing.T) {
	s := newSession(t)
	s.Resolve(profile())

	s.Identify(" Demo@Example.com ")
	assert.NotNil(t, s.User)

	s.Identify("other@example.com")
	assert.Nil(t, s.User)
	assert.Equal(t, "other@example.com", s.Email)

	s.Resolve(profile())
	s.Logout()
	assert.Empty(t, s.Email)
	assert.Nil(t, s.User)
	assert.False(t, s.CanPay())
	assert.Equal(t, "KEYSMITH.", s.MerchantName)
}
