package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passwallet/passwallet/internal/channel"
	"github.com/passwallet/passwallet/internal/logging"
)

const evilOrigin = "https://evil.example"

func nextMessage(t *testing.T, port *channel.Port) channel.Message {
	t.Helper()
	select {
	case frame := <-port.Inbox():
		assert.Equal(t, walletOrigin, frame.Origin)
		msg, err := channel.Decode(frame.Data)
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message from the surface")
		return nil
	}
}

func encode(t *testing.T, msg channel.Message) []byte {
	t.Helper()
	data, err := channel.Encode(msg)
	require.NoError(t, err)
	return data
}

func TestSurfaceTrustsOnlyTheFirstCheckoutOrigin(t *testing.T) {
	host, port := channel.Pipe(merchantOrigin, walletOrigin)
	surface, err := NewSurface(port, Params{Backend: &fakeBackend{}, Authenticator: &fakeAuthenticator{}, Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- surface.Run(ctx) }()

	assert.Equal(t, channel.Ready{}, nextMessage(t, host))

	// frames before the handshake do not pin anyone
	port.Deliver(channel.Frame{Origin: evilOrigin, Data: encode(t, channel.Cancelled{})})

	init := channel.InitCheckout{Amount: decimal.RequireFromString("15"), MerchantName: "Shop"}
	require.NoError(t, host.Post(init, walletOrigin))
	assert.Equal(t, channel.Resize{Height: heightIdentify}, nextMessage(t, host))
	machine := surface.Machine()
	require.Equal(t, StateIdentify, machine.State())

	// a second checkout from another origin is dropped
	port.Deliver(channel.Frame{Origin: evilOrigin, Data: encode(t, channel.InitCheckout{Amount: decimal.RequireFromString("1"), MerchantName: "Evil"})})

	require.NoError(t, machine.Cancel())
	assert.Equal(t, channel.Cancelled{}, nextMessage(t, host))

	port.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("surface did not stop")
	}
}

func TestSurfaceRejectsInvalidCheckoutData(t *testing.T) {
	host, port := channel.Pipe(merchantOrigin, walletOrigin)
	surface, err := NewSurface(port, Params{Backend: &fakeBackend{}, Authenticator: &fakeAuthenticator{}, Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = surface.Run(ctx) }()
	assert.Equal(t, channel.Ready{}, nextMessage(t, host))

	require.NoError(t, host.Post(channel.InitCheckout{Amount: decimal.Zero, MerchantName: "Shop"}, walletOrigin))
	require.NoError(t, host.Post(channel.InitCheckout{Amount: decimal.RequireFromString("3"), MerchantName: "Shop"}, walletOrigin))

	assert.Equal(t, channel.Resize{Height: heightIdentify}, nextMessage(t, host))
	assert.Equal(t, StateIdentify, surface.Machine().State())
}
