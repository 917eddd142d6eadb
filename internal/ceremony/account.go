package ceremony

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/passwallet/passwallet/internal/identity"
)

// account adapts a wallet user and its stored passkeys to webauthn.User.
// The user handle is the user's id. A stored clone warning is not fed back
// so each assertion is judged on its own counter.
type account struct {
	user        identity.User
	credentials []webauthn.Credential
}

func newAccount(user identity.User, stored []identity.Credential) *account {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		creds = append(creds, toWebAuthn(c))
	}
	return &account{user: user, credentials: creds}
}

func (a *account) WebAuthnID() []byte                         { return []byte(a.user.ID) }
func (a *account) WebAuthnName() string                       { return a.user.Email }
func (a *account) WebAuthnDisplayName() string                { return a.user.DisplayName }
func (a *account) WebAuthnCredentials() []webauthn.Credential { return a.credentials }

func (a *account) descriptors() []protocol.CredentialDescriptor {
	return webauthn.Credentials(a.credentials).CredentialDescriptors()
}

func toWebAuthn(c identity.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

func fromWebAuthn(email string, c *webauthn.Credential, now time.Time) identity.Credential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return identity.Credential{
		ID:              c.ID,
		Email:           email,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		SignCount:       c.Authenticator.SignCount,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
		Transports:      transports,
		CreatedAt:       now.UTC(),
	}
}
