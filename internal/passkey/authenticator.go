// Package passkey models the platform credential prompt the checkout
// surface talks to.
package passkey

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrCancelled is returned when the buyer dismisses the prompt or the
// request is aborted. It is a normal outcome, not a failure.
var ErrCancelled = errors.New("passkey prompt cancelled")

// ErrExcluded is returned by Create when the device already holds one of
// the excluded credentials.
var ErrExcluded = errors.New("authenticator already registered")

// Mediation controls how Get presents the prompt.
type Mediation string

const (
	// MediationOptional shows a modal prompt.
	MediationOptional Mediation = "optional"
	// MediationConditional waits for the buyer to pick a passkey from
	// autofill and never shows a modal.
	MediationConditional Mediation = "conditional"
)

// Authenticator creates and asserts credentials. Options and responses
// are the JSON forms exchanged with the wallet API.
type Authenticator interface {
	Create(ctx context.Context, options json.RawMessage) (json.RawMessage, error)
	Get(ctx context.Context, options json.RawMessage, mediation Mediation) (json.RawMessage, error)
}
