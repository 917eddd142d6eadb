package ceremony

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Verifier generates ceremony parameters and checks client responses.
// GenerateAuthParams with a nil user starts a discoverable ceremony.
type Verifier interface {
	GenerateRegistrationParams(user webauthn.User, exclude []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	VerifyRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	GenerateAuthParams(user webauthn.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	VerifyAuthentication(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// VerifierConfig identifies the relying party.
type VerifierConfig struct {
	RPID          string
	RPDisplayName string
	Origins       []string
}

// WebAuthnVerifier implements Verifier with go-webauthn.
type WebAuthnVerifier struct {
	webauthn *webauthn.WebAuthn
}

// NewWebAuthnVerifier validates cfg and builds the relying party.
func NewWebAuthnVerifier(cfg VerifierConfig) (*WebAuthnVerifier, error) {
	if cfg.RPID == "" {
		return nil, fmt.Errorf("relying party id is required")
	}
	if len(cfg.Origins) == 0 {
		return nil, fmt.Errorf("at least one origin is required")
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPDisplayName,
		RPOrigins:             cfg.Origins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create webauthn relying party: %w", err)
	}
	return &WebAuthnVerifier{webauthn: wa}, nil
}

func (v *WebAuthnVerifier) GenerateRegistrationParams(user webauthn.User, exclude []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return v.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(exclude),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
}

func (v *WebAuthnVerifier) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return v.webauthn.CreateCredential(user, session, response)
}

func (v *WebAuthnVerifier) GenerateAuthParams(user webauthn.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if user == nil {
		return v.webauthn.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationPreferred))
	}
	return v.webauthn.BeginLogin(user, webauthn.WithUserVerification(protocol.VerificationPreferred))
}

// VerifyAuthentication checks an assertion for user. Sessions started
// without a user are validated as passkey logins; the caller has already
// resolved the owner from the credential id.
func (v *WebAuthnVerifier) VerifyAuthentication(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if len(session.UserID) > 0 {
		return v.webauthn.ValidateLogin(user, session, response)
	}

	_, cred, err := v.webauthn.ValidatePasskeyLogin(func(_, _ []byte) (webauthn.User, error) {
		return user, nil
	}, session, response)
	return cred, err
}
