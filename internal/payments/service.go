package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passwallet/passwallet/internal/events"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/metrics"
	"github.com/passwallet/passwallet/internal/notification"
)

var (
	// ErrMissingFields indicates the email or card id was not supplied.
	ErrMissingFields = errors.New("email, cardId, and amount required")
	// ErrInvalidAmount indicates a zero, negative or malformed amount.
	ErrInvalidAmount = errors.New("amount must be a positive number")
	// ErrUserNotFound indicates the buyer is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrCardNotFound indicates the buyer has no card with the id.
	ErrCardNotFound = errors.New("card not found")
	// ErrPaymentFailed indicates the processor did not approve the charge.
	ErrPaymentFailed = errors.New("payment failed")
)

// Service charges a buyer's stored card for a checkout.
type Service struct {
	accounts  *identity.Service
	processor Processor
	notifier  notification.Notifier
	events    *events.Publisher
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// Params holds the service's collaborators. Only Accounts is required;
// Processor defaults to an unlimited MockProcessor.
type Params struct {
	Accounts  *identity.Service
	Processor Processor
	Notifier  notification.Notifier
	Events    *events.Publisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// NewService constructs a payment service.
func NewService(p Params) (*Service, error) {
	if p.Accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	processor := p.Processor
	if processor == nil {
		processor = NewMockProcessor(decimal.Zero)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts:  p.Accounts,
		processor: processor,
		notifier:  p.Notifier,
		events:    p.Events,
		metrics:   p.Metrics,
		logger:    logger,
	}, nil
}

// PayInput captures one checkout payment.
type PayInput struct {
	Email  string
	CardID string
	Amount decimal.Decimal
}

// Receipt is returned to the checkout surface and relayed to the merchant.
type Receipt struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transactionId"`
	Last4         string    `json:"last4"`
	CardBrand     string    `json:"cardBrand"`
	Amount        string    `json:"amount"`
	CompletedAt   time.Time `json:"-"`
}

// CompletedEvent is published for every approved payment.
type CompletedEvent struct {
	Email         string `json:"email"`
	TransactionID string `json:"transactionId"`
	CardBrand     string `json:"cardBrand"`
	Last4         string `json:"last4"`
	Amount        string `json:"amount"`
}

// Pay charges the selected card.
func (s *Service) Pay(ctx context.Context, input PayInput) (Receipt, error) {
	receipt, err := s.pay(ctx, input)
	if err != nil {
		s.metrics.Payment(metrics.OutcomeFailure)
		return Receipt{}, err
	}
	s.metrics.Payment(metrics.OutcomeSuccess)
	return receipt, nil
}

func (s *Service) pay(ctx context.Context, input PayInput) (Receipt, error) {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.CardID) == "" {
		return Receipt{}, ErrMissingFields
	}
	if !input.Amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}

	card, err := s.accounts.Instrument(ctx, input.Email, input.CardID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return Receipt{}, ErrUserNotFound
	case errors.Is(err, identity.ErrInstrumentNotFound):
		return Receipt{}, ErrCardNotFound
	case err != nil:
		return Receipt{}, err
	}

	amount := input.Amount.StringFixed(2)
	auth, err := s.processor.Charge(ctx, Charge{
		Email:  input.Email,
		CardID: card.ID,
		Brand:  card.Brand,
		Last4:  card.Last4,
		Amount: input.Amount,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "charge rejected",
			slog.String("email", input.Email),
			slog.String("amount", amount),
			slog.Any("error", err),
		)
		return Receipt{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	receipt := Receipt{
		Success:       true,
		TransactionID: auth.TransactionID,
		Last4:         card.Last4,
		CardBrand:     card.Brand,
		Amount:        amount,
		CompletedAt:   time.Now().UTC(),
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPaymentReceipt,
			Destination: input.Email,
			Subject:     "Your PassWallet receipt",
			Body:        fmt.Sprintf("Charged %s to %s ending %s (%s)", amount, card.Brand, card.Last4, auth.TransactionID),
		})
	}
	_ = s.events.Publish(ctx, events.TopicPaymentCompleted, CompletedEvent{
		Email:         input.Email,
		TransactionID: receipt.TransactionID,
		CardBrand:     receipt.CardBrand,
		Last4:         receipt.Last4,
		Amount:        receipt.Amount,
	})

	return receipt, nil
}
