package identity

import "time"

// User is a wallet account keyed by email.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Instruments []Instrument
	CreatedAt   time.Time
}

// Instrument is a stored card surrogate shown in the wallet.
type Instrument struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	Expiry    string `json:"expiry"`
	ColorFrom string `json:"color1"`
	ColorTo   string `json:"color2"`
}

// Credential is a registered passkey bound to an email.
type Credential struct {
	ID              []byte
	Email           string
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	CloneWarning    bool
	BackupEligible  bool
	BackupState     bool
	Transports      []string
	CreatedAt       time.Time
}

// Profile is the buyer-facing projection of a User. It never carries
// credential material.
type Profile struct {
	Email       string       `json:"email"`
	DisplayName string       `json:"displayName"`
	Instruments []Instrument `json:"cards"`
}

// Profile projects the user for API responses.
func (u User) Profile() Profile {
	instruments := u.Instruments
	if instruments == nil {
		instruments = []Instrument{}
	}
	return Profile{Email: u.Email, DisplayName: u.DisplayName, Instruments: instruments}
}

// Instrument returns the instrument with the given id.
func (u User) Instrument(id string) (Instrument, bool) {
	for _, in := range u.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return Instrument{}, false
}

// LookupResult answers whether an email is known and can use a passkey.
type LookupResult struct {
	Exists      bool   `json:"exists"`
	HasPasskey  bool   `json:"hasPasskey"`
	DisplayName string `json:"displayName,omitempty"`
}
