package passkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/descope/virtualwebauthn"
)

type descriptor struct {
	ID string `json:"id"`
}

type creationOptions struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	ExcludeCredentials []descriptor `json:"excludeCredentials"`
}

type requestOptions struct {
	AllowCredentials []descriptor `json:"allowCredentials"`
}

type residentKey struct {
	id         []byte
	userHandle []byte
	credential virtualwebauthn.Credential
}

// Virtual is a software authenticator holding resident EC2 keys for one
// relying party. It backs the demo surface and the end-to-end tests.
type Virtual struct {
	rp virtualwebauthn.RelyingParty

	mu         sync.Mutex
	keys       []residentKey
	decline    bool
	frozen     bool
	noAutofill bool
	prompts    int
}

// NewVirtual builds an empty device that signs for origin.
func NewVirtual(rpID, rpName, origin string) *Virtual {
	return &Virtual{rp: virtualwebauthn.RelyingParty{Name: rpName, ID: rpID, Origin: origin}}
}

// Decline makes every later prompt behave as if the buyer dismissed it.
func (v *Virtual) Decline(decline bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decline = decline
}

// Autofill controls whether resident keys are offered to conditional
// requests. A device with autofill off only signs from a modal prompt.
func (v *Virtual) Autofill(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noAutofill = !enabled
}

// FreezeCounter stops the signature counter from advancing, which is what
// a cloned key looks like to the relying party.
func (v *Virtual) FreezeCounter(frozen bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frozen = frozen
}

// Len reports how many resident keys the device holds.
func (v *Virtual) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.keys)
}

// Prompts counts modal prompts shown so far.
func (v *Virtual) Prompts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prompts
}

// Create registers a new resident key.
func (v *Virtual) Create(ctx context.Context, options json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	var opts creationOptions
	if err := json.Unmarshal(options, &opts); err != nil {
		return nil, fmt.Errorf("decode creation options: %w", err)
	}
	userHandle, err := base64.RawURLEncoding.DecodeString(opts.User.ID)
	if err != nil {
		return nil, fmt.Errorf("decode user handle: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.prompts++

	if v.decline {
		return nil, ErrCancelled
	}
	for _, ex := range opts.ExcludeCredentials {
		if _, ok := v.find(ex.ID); ok {
			return nil, ErrExcluded
		}
	}

	parsed, err := virtualwebauthn.ParseAttestationOptions(string(options))
	if err != nil {
		return nil, fmt.Errorf("parse creation options: %w", err)
	}

	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{UserHandle: userHandle})
	response := virtualwebauthn.CreateAttestationResponse(v.rp, auth, cred, *parsed)

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(response), &created); err != nil {
		return nil, fmt.Errorf("decode attestation: %w", err)
	}
	id, err := base64.RawURLEncoding.DecodeString(created.ID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}

	v.keys = append(v.keys, residentKey{id: id, userHandle: userHandle, credential: cred})
	return json.RawMessage(response), nil
}

// Get signs the challenge with the first resident key the options allow.
// With conditional mediation and no usable key, or when declining, it
// waits for ctx like an autofill prompt the buyer never answers.
func (v *Virtual) Get(ctx context.Context, options json.RawMessage, mediation Mediation) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	var opts requestOptions
	if err := json.Unmarshal(options, &opts); err != nil {
		return nil, fmt.Errorf("decode request options: %w", err)
	}

	response, ok, err := v.assert(options, opts, mediation)
	if err != nil {
		return nil, err
	}
	if ok {
		return response, nil
	}

	if mediation == MediationConditional {
		<-ctx.Done()
	}
	return nil, ErrCancelled
}

func (v *Virtual) assert(raw json.RawMessage, opts requestOptions, mediation Mediation) (json.RawMessage, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if mediation != MediationConditional {
		v.prompts++
	}
	if v.decline || (mediation == MediationConditional && v.noAutofill) {
		return nil, false, nil
	}

	idx := -1
	if len(opts.AllowCredentials) == 0 {
		if len(v.keys) > 0 {
			idx = 0
		}
	} else {
		for _, allowed := range opts.AllowCredentials {
			if i, ok := v.find(allowed.ID); ok {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil, false, nil
	}

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(raw))
	if err != nil {
		return nil, false, fmt.Errorf("parse request options: %w", err)
	}

	key := &v.keys[idx]
	if !v.frozen {
		key.credential.Counter++
	}

	auth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{UserHandle: key.userHandle})
	auth.AddCredential(key.credential)
	response := virtualwebauthn.CreateAssertionResponse(v.rp, auth, key.credential, *parsed)
	return json.RawMessage(response), true, nil
}

func (v *Virtual) find(encodedID string) (int, bool) {
	id, err := base64.RawURLEncoding.DecodeString(encodedID)
	if err != nil {
		return 0, false
	}
	for i, key := range v.keys {
		if bytes.Equal(key.id, id) {
			return i, true
		}
	}
	return 0, false
}
