package ceremony

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passwallet/passwallet/internal/challenge"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/logging"
	"github.com/passwallet/passwallet/internal/metrics"
	"github.com/passwallet/passwallet/internal/passkey"
)

const (
	testRPID   = "wallet.localhost"
	testOrigin = "http://wallet.localhost:3001"
	testEmail  = "buyer@example.com"
)

type fixture struct {
	orchestrator *Orchestrator
	accounts     *identity.Service
	challenges   *challenge.MemoryStore
	metrics      *metrics.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	verifier, err := NewWebAuthnVerifier(VerifierConfig{
		RPID:          testRPID,
		RPDisplayName: "PassWallet",
		Origins:       []string{testOrigin, "http://localhost:3001"},
	})
	require.NoError(t, err)

	accounts := identity.NewService(identity.NewMemoryRepository())
	store := challenge.NewMemoryStore()
	rec := metrics.New()

	o, err := NewOrchestrator(Params{
		Verifier:   verifier,
		Accounts:   accounts,
		Challenges: store,
		Metrics:    rec,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	return fixture{orchestrator: o, accounts: accounts, challenges: store, metrics: rec}
}

func newDevice() *passkey.Virtual {
	return passkey.NewVirtual(testRPID, "PassWallet", testOrigin)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (f fixture) register(t *testing.T, device *passkey.Virtual, email string) identity.Profile {
	t.Helper()
	ctx := context.Background()

	options, err := f.orchestrator.BeginRegistration(ctx, email, "Buyer")
	require.NoError(t, err)

	response, err := device.Create(ctx, mustJSON(t, options))
	require.NoError(t, err)

	profile, err := f.orchestrator.CompleteRegistration(ctx, email, response)
	require.NoError(t, err)
	return profile
}

func (f fixture) login(t *testing.T, device *passkey.Virtual, email string) (identity.Profile, error) {
	t.Helper()
	ctx := context.Background()

	options, key, err := f.orchestrator.BeginLogin(ctx, email)
	require.NoError(t, err)

	response, err := device.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	require.NoError(t, err)

	return f.orchestrator.CompleteLogin(ctx, key, response)
}

func TestRegistrationStoresCredential(t *testing.T) {
	f := newFixture(t)
	device := newDevice()

	profile := f.register(t, device, testEmail)

	assert.Equal(t, testEmail, profile.Email)
	assert.Equal(t, "Buyer", profile.DisplayName)
	assert.Len(t, profile.Instruments, identity.DefaultInstrumentCount)

	creds, err := f.accounts.Credentials(context.Background(), testEmail)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, testEmail, creds[0].Email)
	assert.NotEmpty(t, creds[0].PublicKey)
	assert.Equal(t, uint32(0), creds[0].SignCount)
	assert.Equal(t, 0, f.challenges.Len())
}

func TestRegistrationExcludesExistingCredentials(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)

	options, err := f.orchestrator.BeginRegistration(context.Background(), testEmail, "")
	require.NoError(t, err)
	require.Len(t, options.CredentialExcludeList, 1)

	_, err = device.Create(context.Background(), mustJSON(t, options))
	assert.ErrorIs(t, err, passkey.ErrExcluded)
}

func TestCompleteRegistrationWithoutBegin(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.CompleteRegistration(context.Background(), testEmail, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRegistrationRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	device := passkey.NewVirtual(testRPID, "PassWallet", "https://evil.example")

	options, err := f.orchestrator.BeginRegistration(ctx, testEmail, "Buyer")
	require.NoError(t, err)
	response, err := device.Create(ctx, mustJSON(t, options))
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteRegistration(ctx, testEmail, response)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	creds, err := f.accounts.Credentials(ctx, testEmail)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestRegistrationRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orchestrator.BeginRegistration(ctx, testEmail, "Buyer")
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteRegistration(ctx, testEmail, json.RawMessage(`{"id":"","type":"public-key"}`))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestLoginByEmailAdvancesCounter(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)

	for i := 1; i <= 3; i++ {
		profile, err := f.login(t, device, testEmail)
		require.NoError(t, err)
		assert.Equal(t, testEmail, profile.Email)

		creds, err := f.accounts.Credentials(context.Background(), testEmail)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), creds[0].SignCount)
	}
}

func TestDiscoverableLogin(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)
	ctx := context.Background()

	options, key, err := f.orchestrator.BeginLogin(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, key.SessionID)
	assert.Empty(t, key.Email)
	assert.Empty(t, options.AllowedCredentials)

	response, err := device.Get(ctx, mustJSON(t, options), passkey.MediationConditional)
	require.NoError(t, err)

	profile, err := f.orchestrator.CompleteLogin(ctx, key, response)
	require.NoError(t, err)
	assert.Equal(t, testEmail, profile.Email)
}

func TestLoginChallengeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)
	ctx := context.Background()

	options, key, err := f.orchestrator.BeginLogin(ctx, testEmail)
	require.NoError(t, err)
	response, err := device.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteLogin(ctx, key, response)
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteLogin(ctx, key, response)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestSessionIDCannotReachEmailChallenge(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)
	ctx := context.Background()

	options, key, err := f.orchestrator.BeginLogin(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, LoginKey{Email: testEmail}, key)
	response, err := device.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteLogin(ctx, LoginKey{SessionID: testEmail}, response)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	profile, err := f.orchestrator.CompleteLogin(ctx, key, response)
	require.NoError(t, err)
	assert.Equal(t, testEmail, profile.Email)
}

func TestLoginRejectsStalledCounter(t *testing.T) {
	f := newFixture(t)
	device := newDevice()
	f.register(t, device, testEmail)

	_, err := f.login(t, device, testEmail)
	require.NoError(t, err)

	device.FreezeCounter(true)
	_, err = f.login(t, device, testEmail)
	assert.ErrorIs(t, err, ErrReplay)

	creds, err := f.accounts.Credentials(context.Background(), testEmail)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), creds[0].SignCount)
	assert.True(t, creds[0].CloneWarning)
}

func TestBeginLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.orchestrator.BeginLogin(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestBeginLoginWithoutPasskey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.accounts.Ensure(ctx, testEmail, "")
	require.NoError(t, err)

	_, _, err = f.orchestrator.BeginLogin(ctx, testEmail)
	assert.ErrorIs(t, err, ErrNoPasskey)
}

func TestCompleteLoginUnknownCredential(t *testing.T) {
	registered := newFixture(t)
	device := newDevice()
	registered.register(t, device, testEmail)

	other := newFixture(t)
	ctx := context.Background()
	options, key, err := other.orchestrator.BeginLogin(ctx, "")
	require.NoError(t, err)
	response, err := device.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	require.NoError(t, err)

	_, err = other.orchestrator.CompleteLogin(ctx, key, response)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestLoginForAnotherUsersChallengeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := newDevice()
	bob := newDevice()
	f.register(t, alice, "alice@example.com")
	f.register(t, bob, "bob@example.com")

	options, key, err := f.orchestrator.BeginLogin(ctx, "alice@example.com")
	require.NoError(t, err)

	// Bob's device holds no key on Alice's allow-list.
	_, err = bob.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	assert.ErrorIs(t, err, passkey.ErrCancelled)

	response, err := alice.Get(ctx, mustJSON(t, options), passkey.MediationOptional)
	require.NoError(t, err)
	profile, err := f.orchestrator.CompleteLogin(ctx, key, response)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", profile.Email)
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Params{})
	assert.Error(t, err)
}
