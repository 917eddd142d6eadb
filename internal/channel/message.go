// Package channel is the wire protocol between the merchant page and the
// embedded checkout surface.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Type tags a message on the wire.
type Type string

const (
	TypeReady        Type = "ready"
	TypeResize       Type = "resize"
	TypeResult       Type = "result"
	TypeCancelled    Type = "cancelled"
	TypeInitCheckout Type = "initCheckout"
)

var (
	// ErrUnknownType rejects an envelope whose type is not in the protocol.
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalidMessage rejects a known type with a malformed payload.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is one of Ready, Resize, Result, Cancelled or InitCheckout.
type Message interface {
	Type() Type
	message()
}

// Ready tells the host the surface has loaded.
type Ready struct{}

// Resize reports the surface's rendered height in pixels.
type Resize struct {
	Height int `json:"height"`
}

// Result reports a completed payment.
type Result struct {
	TransactionID string `json:"transactionId"`
	Last4         string `json:"last4"`
	CardBrand     string `json:"cardBrand"`
	Amount        string `json:"amount"`
}

// Cancelled reports that the buyer abandoned checkout.
type Cancelled struct{}

// Item is one cart line.
type Item struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"qty"`
}

// InitCheckout carries the cart from the host into the surface.
type InitCheckout struct {
	Amount       decimal.Decimal `json:"amount"`
	Items        []Item          `json:"items,omitempty"`
	MerchantName string          `json:"merchantName"`
}

func (Ready) Type() Type        { return TypeReady }
func (Resize) Type() Type       { return TypeResize }
func (Result) Type() Type       { return TypeResult }
func (Cancelled) Type() Type    { return TypeCancelled }
func (InitCheckout) Type() Type { return TypeInitCheckout }

func (Ready) message()        {}
func (Resize) message()       {}
func (Result) message()       {}
func (Cancelled) message()    {}
func (InitCheckout) message() {}

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode renders msg as a {type, data} envelope.
func Encode(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}
	switch msg.(type) {
	case Ready, Cancelled:
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses and validates an envelope.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeCancelled:
		return Cancelled{}, nil
	case TypeResize:
		var m Resize
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.Height <= 0 {
			return nil, fmt.Errorf("%w: height must be positive", ErrInvalidMessage)
		}
		return m, nil
	case TypeResult:
		var m Result
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.TransactionID == "" || m.Amount == "" {
			return nil, fmt.Errorf("%w: result needs transactionId and amount", ErrInvalidMessage)
		}
		return m, nil
	case TypeInitCheckout:
		return decodeInitCheckout(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeInitCheckout(env envelope) (Message, error) {
	var wire struct {
		Amount       decimal.NullDecimal `json:"amount"`
		Items        []Item              `json:"items"`
		MerchantName string              `json:"merchantName"`
	}
	if err := decodeData(env, &wire); err != nil {
		return nil, err
	}
	if !wire.Amount.Valid {
		return nil, fmt.Errorf("%w: amount required", ErrInvalidMessage)
	}
	if !wire.Amount.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidMessage)
	}
	for _, item := range wire.Items {
		if strings.TrimSpace(item.Name) == "" || item.Quantity < 0 {
			return nil, fmt.Errorf("%w: malformed item", ErrInvalidMessage)
		}
	}
	return InitCheckout{Amount: wire.Amount.Decimal, Items: wire.Items, MerchantName: wire.MerchantName}, nil
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s needs data", ErrInvalidMessage, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
