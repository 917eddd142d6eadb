package ceremony

import "errors"

var (
	// ErrChallengeNotFound means no ceremony was started for the key, or its
	// challenge was already consumed.
	ErrChallengeNotFound = errors.New("challenge not found or expired")
	// ErrInvalidResponse means the client response could not be parsed.
	ErrInvalidResponse = errors.New("invalid credential response")
	// ErrVerificationFailed means the cryptographic checks rejected the response.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrCredentialNotFound means the asserted credential id is not registered.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrUserNotFound means the credential's owner no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoPasskey means the user has no registered credential to assert.
	ErrNoPasskey = errors.New("no passkey registered")
	// ErrReplay means the authenticator's signature counter did not advance.
	ErrReplay = errors.New("signature counter did not advance")
)
