package payments

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrDeclined is returned by a Processor that refuses a charge.
var ErrDeclined = errors.New("charge declined")

// Charge is a request to move money from one of the buyer's cards.
type Charge struct {
	Email  string
	CardID string
	Brand  string
	Last4  string
	Amount decimal.Decimal
}

// Authorization is the processor's answer to a charge.
type Authorization struct {
	TransactionID string
	Status        string
}

// Processor represents a connector to a card network.
type Processor interface {
	Charge(ctx context.Context, charge Charge) (Authorization, error)
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MockProcessor approves every charge up to Limit with a synthetic
// transaction id. A zero Limit approves everything.
type MockProcessor struct {
	Limit decimal.Decimal
	now   func() time.Time
}

// NewMockProcessor builds a processor declining charges above limit.
func NewMockProcessor(limit decimal.Decimal) *MockProcessor {
	return &MockProcessor{Limit: limit, now: time.Now}
}

// Charge approves or declines the charge.
func (p *MockProcessor) Charge(ctx context.Context, charge Charge) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, err
	}
	if !p.Limit.IsZero() && charge.Amount.GreaterThan(p.Limit) {
		return Authorization{}, ErrDeclined
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return Authorization{TransactionID: transactionID(now()), Status: "approved"}, nil
}

// transactionID renders TXN-<unix ms in base36>-<4 random base36 chars>.
func transactionID(at time.Time) string {
	var suffix [4]byte
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	stamp := strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
	return "TXN-" + stamp + "-" + string(suffix[:])
}
