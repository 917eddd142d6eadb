// Package wallet drives the embedded checkout surface: who the buyer is,
// how they prove it, and which card they pay with.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/passwallet/passwallet/internal/channel"
	"github.com/passwallet/passwallet/internal/checkout"
	"github.com/passwallet/passwallet/internal/identity"
	"github.com/passwallet/passwallet/internal/otp"
	"github.com/passwallet/passwallet/internal/passkey"
	"github.com/passwallet/passwallet/internal/payments"
)

var (
	// ErrCeremonyInFlight rejects a second passkey ceremony while one is
	// still waiting on the authenticator.
	ErrCeremonyInFlight = errors.New("a passkey ceremony is already in progress")
	// ErrWrongState rejects an action the current view does not offer.
	ErrWrongState = errors.New("action not available in this view")
	// ErrCodeFormat rejects a code that is not six digits.
	ErrCodeFormat = errors.New("enter the 6-digit code")
	// ErrNotStarted rejects actions before checkout data arrived.
	ErrNotStarted = errors.New("checkout not started")
)

// Notices shown to the buyer for outcomes that are not errors.
const (
	NoticeEnrollCancelled = "Passkey setup was cancelled."
	NoticePaymentFailed   = "Payment failed. Choose a card and try again."
)

// Emitter delivers a message to the merchant page.
type Emitter func(channel.Message)

// Params holds the machine's collaborators.
type Params struct {
	Backend       Backend
	Authenticator passkey.Authenticator
	Emit          Emitter
	Logger        *slog.Logger
}

// Snapshot is a copy of what the surface currently shows.
type Snapshot struct {
	State        State
	Email        string
	User         *identity.Profile
	InstrumentID string
	CanPay       bool
	Notice       string
	Err          error
	Height       int
}

// attempt is a background silent login.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Machine is the checkout surface's state machine. Its methods are safe to
// call from the UI goroutine while the silent login runs in the background.
type Machine struct {
	backend Backend
	auth    passkey.Authenticator
	emit    Emitter
	logger  *slog.Logger

	mu         sync.Mutex
	base       context.Context
	state      State
	session    *checkout.Session
	hasPasskey bool
	notice     string
	lastErr    error
	inFlight   bool
	silent     *attempt
	ceremony   context.CancelFunc
}

// NewMachine builds an idle machine. Start moves it to Identify.
func NewMachine(p Params) (*Machine, error) {
	if p.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if p.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		backend: p.Backend,
		auth:    p.Authenticator,
		emit:    p.Emit,
		logger:  logger.With(slog.String("component", "wallet")),
	}, nil
}

// Start binds the cart, shows Identify and begins the silent login. ctx
// bounds every background attempt for this mount.
func (m *Machine) Start(ctx context.Context, session *checkout.Session) {
	m.mu.Lock()
	m.base = ctx
	m.session = session
	m.hasPasskey = false
	m.notice = ""
	m.lastErr = nil
	m.mu.Unlock()

	m.move(nil, StateIdentify, nil)
	m.startSilent()
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{State: m.state, Notice: m.notice, Err: m.lastErr, Height: m.heightLocked()}
	if m.session != nil {
		snap.Email = m.session.Email
		snap.InstrumentID = m.session.InstrumentID
		snap.CanPay = m.session.CanPay()
		if m.session.User != nil {
			user := *m.session.User
			snap.User = &user
		}
	}
	return snap
}

// State returns the current view.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubmitEmail identifies the buyer and routes them to a passkey prompt or
// a one-time code.
func (m *Machine) SubmitEmail(ctx context.Context, email string) error {
	normalized, err := identity.NormalizeEmail(email)
	if err != nil {
		return m.fail(err)
	}
	if err := m.require(StateIdentify); err != nil {
		return err
	}
	if err := m.supersede(ctx); err != nil {
		return err
	}
	if m.State() != StateIdentify {
		// the silent login signed the buyer in while we waited
		return nil
	}
	if err := m.acquire(); err != nil {
		return err
	}
	ctx, end := m.beginCeremony(ctx)
	defer func() {
		end()
		m.release()
		if m.State() == StateIdentify {
			m.startSilent()
		}
	}()

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrWrongState
	}
	m.session.Identify(normalized)
	m.notice = ""
	m.lastErr = nil
	m.mu.Unlock()

	lookup, err := m.backend.Lookup(ctx, normalized)
	if err != nil {
		return m.fail(err)
	}
	known := lookup.Exists && lookup.HasPasskey
	m.mu.Lock()
	m.hasPasskey = known
	m.mu.Unlock()

	if known {
		return m.explicitLogin(ctx, normalized)
	}
	if m.State() != StateIdentify {
		return ErrWrongState
	}
	if err := m.backend.SendCode(ctx, normalized); err != nil {
		return m.fail(err)
	}
	if !m.move([]State{StateIdentify}, StateOtpChallenge, nil) {
		return ErrWrongState
	}
	return nil
}

func (m *Machine) explicitLogin(ctx context.Context, email string) error {
	prompt := []State{StatePasskeyPrompt}
	if !m.move([]State{StateIdentify}, StatePasskeyPrompt, nil) {
		return ErrWrongState
	}

	options, _, err := m.backend.LoginOptions(ctx, email)
	if err != nil {
		m.move(prompt, StateIdentify, nil)
		return m.fail(err)
	}

	response, err := m.auth.Get(ctx, options, passkey.MediationOptional)
	if errors.Is(err, passkey.ErrCancelled) {
		if m.State() != StatePasskeyPrompt {
			// checkout was abandoned while the prompt was open
			return ErrWrongState
		}
		m.logger.Info("passkey prompt dismissed, falling back to code", slog.String("email", email))
		if err := m.backend.SendCode(ctx, email); err != nil {
			m.move(prompt, StateIdentify, nil)
			return m.fail(err)
		}
		m.move(prompt, StateOtpChallenge, nil)
		return nil
	}
	if err != nil {
		m.move(prompt, StateIdentify, nil)
		return m.fail(err)
	}

	profile, err := m.backend.LoginVerify(ctx, email, "", response)
	if err != nil {
		m.move(prompt, StateIdentify, nil)
		return m.fail(err)
	}
	m.move(prompt, StatePayInstrument, func() { m.session.Resolve(profile) })
	return nil
}

// ResendCode issues a fresh code for the identified email.
func (m *Machine) ResendCode(ctx context.Context) error {
	if err := m.require(StateOtpChallenge); err != nil {
		return err
	}
	email, err := m.email()
	if err != nil {
		return err
	}
	if err := m.backend.SendCode(ctx, email); err != nil {
		return m.fail(err)
	}
	return nil
}

// SubmitCode verifies the one-time code. Buyers who already hold a passkey
// go straight to payment; everyone else is offered enrollment.
func (m *Machine) SubmitCode(ctx context.Context, code string) error {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, code)
	if len(digits) != otp.CodeLength {
		return m.fail(ErrCodeFormat)
	}
	if err := m.require(StateOtpChallenge); err != nil {
		return err
	}

	email, err := m.email()
	if err != nil {
		return err
	}

	profile, err := m.backend.VerifyCode(ctx, email, digits)
	if err != nil {
		return m.fail(err)
	}

	m.mu.Lock()
	next := StateEnroll
	if m.hasPasskey {
		next = StatePayInstrument
	}
	m.mu.Unlock()
	if !m.move([]State{StateOtpChallenge}, next, func() { m.session.Resolve(profile) }) {
		return ErrWrongState
	}
	return nil
}

// Back returns from the code view to the email view.
func (m *Machine) Back() error {
	if !m.move([]State{StateOtpChallenge}, StateIdentify, nil) {
		return ErrWrongState
	}
	m.startSilent()
	return nil
}

// Enroll registers a passkey for the signed-in buyer. A dismissed prompt
// leaves the buyer on the enrollment view with a notice.
func (m *Machine) Enroll(ctx context.Context) error {
	if err := m.require(StateEnroll); err != nil {
		return err
	}
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()
	ctx, end := m.beginCeremony(ctx)
	defer end()

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrWrongState
	}
	email := m.session.Email
	displayName := identity.DefaultDisplayName(email)
	if m.session.User != nil && m.session.User.DisplayName != "" {
		displayName = m.session.User.DisplayName
	}
	m.notice = ""
	m.mu.Unlock()

	options, err := m.backend.RegisterOptions(ctx, email, displayName)
	if err != nil {
		return m.fail(err)
	}

	response, err := m.auth.Create(ctx, options)
	if errors.Is(err, passkey.ErrCancelled) {
		if !m.move([]State{StateEnroll}, StateEnroll, func() { m.notice = NoticeEnrollCancelled }) {
			return ErrWrongState
		}
		return nil
	}
	if err != nil {
		return m.fail(err)
	}

	profile, err := m.backend.RegisterVerify(ctx, email, response)
	if err != nil {
		return m.fail(err)
	}
	m.move([]State{StateEnroll}, StatePayInstrument, func() {
		m.session.Resolve(profile)
		m.hasPasskey = true
	})
	return nil
}

// SkipEnroll goes to payment without a passkey.
func (m *Machine) SkipEnroll() error {
	if !m.move([]State{StateEnroll}, StatePayInstrument, func() { m.notice = "" }) {
		return ErrWrongState
	}
	return nil
}

// SelectInstrument picks the card to charge.
func (m *Machine) SelectInstrument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePayInstrument {
		return ErrWrongState
	}
	return m.session.Select(id)
}

// Pay charges the selected card. On success the result goes to the
// merchant; on failure the buyer is back on the card list.
func (m *Machine) Pay(ctx context.Context) (payments.Receipt, error) {
	m.mu.Lock()
	if m.state != StatePayInstrument {
		m.mu.Unlock()
		return payments.Receipt{}, ErrWrongState
	}
	card, ok := m.session.Selected()
	if !ok {
		m.mu.Unlock()
		return payments.Receipt{}, checkout.ErrNoInstrument
	}
	email, amount := m.session.Email, m.session.AmountString()
	m.mu.Unlock()

	if !m.move([]State{StatePayInstrument}, StateProcessing, func() { m.notice = ""; m.lastErr = nil }) {
		return payments.Receipt{}, ErrWrongState
	}

	receipt, err := m.backend.Pay(ctx, email, card.ID, amount)
	if err != nil {
		m.move([]State{StateProcessing}, StatePayInstrument, func() { m.notice = NoticePaymentFailed })
		return payments.Receipt{}, m.fail(err)
	}

	m.move([]State{StateProcessing}, StateDone, func() { m.session = nil })
	m.post(channel.Result{
		TransactionID: receipt.TransactionID,
		Last4:         receipt.Last4,
		CardBrand:     receipt.CardBrand,
		Amount:        receipt.Amount,
	})
	return receipt, nil
}

// Logout forgets the buyer and returns to Identify.
func (m *Machine) Logout() error {
	ok := m.move([]State{StatePayInstrument, StateEnroll}, StateIdentify, func() {
		m.session.Logout()
		m.hasPasskey = false
		m.notice = ""
		m.lastErr = nil
	})
	if !ok {
		return ErrWrongState
	}
	m.startSilent()
	return nil
}

// Cancel abandons checkout from any view before payment starts.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.session == nil || !m.state.preProcessing() {
		m.mu.Unlock()
		return ErrWrongState
	}
	m.state = StateCancelled
	m.session = nil
	silent, ceremony := m.silent, m.ceremony
	m.mu.Unlock()

	if silent != nil {
		silent.cancel()
	}
	if ceremony != nil {
		ceremony()
	}
	m.post(channel.Cancelled{})
	return nil
}

func (m *Machine) startSilent() {
	m.mu.Lock()
	if m.inFlight || m.base == nil {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	ctx, cancel := context.WithCancel(m.base)
	a := &attempt{cancel: cancel, done: make(chan struct{})}
	m.silent = a
	m.mu.Unlock()

	go m.runSilent(ctx, a)
}

// runSilent offers resident passkeys through autofill. Every failure here
// is swallowed; the buyer simply types an email instead.
func (m *Machine) runSilent(ctx context.Context, a *attempt) {
	defer func() {
		a.cancel()
		m.mu.Lock()
		m.inFlight = false
		if m.silent == a {
			m.silent = nil
		}
		m.mu.Unlock()
		close(a.done)
	}()

	options, sessionID, err := m.backend.LoginOptions(ctx, "")
	if err != nil {
		m.logger.Debug("silent login unavailable", slog.String("error", err.Error()))
		return
	}
	response, err := m.auth.Get(ctx, options, passkey.MediationConditional)
	if err != nil {
		if !errors.Is(err, passkey.ErrCancelled) {
			m.logger.Warn("silent login failed", slog.String("error", err.Error()))
		}
		return
	}
	profile, err := m.backend.LoginVerify(ctx, "", sessionID, response)
	if err != nil {
		m.logger.Warn("silent login rejected", slog.String("error", err.Error()))
		return
	}

	m.move([]State{StateIdentify}, StatePayInstrument, func() {
		m.session.Resolve(profile)
		m.hasPasskey = true
		m.notice = ""
	})
}

// supersede stops the silent login and waits until it has let go of the
// authenticator.
func (m *Machine) supersede(ctx context.Context) error {
	m.mu.Lock()
	a := m.silent
	m.mu.Unlock()
	if a == nil {
		return nil
	}
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginCeremony derives the context for a buyer-initiated ceremony. It ends
// when the caller's ctx does, when the mount goes away, or on Cancel.
func (m *Machine) beginCeremony(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := func() bool { return false }

	m.mu.Lock()
	if m.base != nil {
		stop = context.AfterFunc(m.base, cancel)
	}
	m.ceremony = cancel
	m.mu.Unlock()

	return ctx, func() {
		stop()
		cancel()
		m.mu.Lock()
		m.ceremony = nil
		m.mu.Unlock()
	}
}

func (m *Machine) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight {
		return ErrCeremonyInFlight
	}
	m.inFlight = true
	return nil
}

func (m *Machine) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
}

func (m *Machine) email() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", ErrNotStarted
	}
	return m.session.Email, nil
}

func (m *Machine) require(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNotStarted
	}
	if m.state != s {
		return ErrWrongState
	}
	return nil
}

// fail records err for the view and returns it.
func (m *Machine) fail(err error) error {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("checkout step failed", slog.String("error", err.Error()))
	return err
}

// move switches to next when the current state is one of from (any state
// when from is empty), applying apply under the lock, then reports the new
// height to the merchant.
func (m *Machine) move(from []State, next State, apply func()) bool {
	m.mu.Lock()
	if len(from) > 0 && !slices.Contains(from, m.state) {
		m.mu.Unlock()
		return false
	}
	if apply != nil {
		apply()
	}
	m.state = next
	height := m.heightLocked()
	m.mu.Unlock()

	m.post(channel.Resize{Height: height})
	return true
}

func (m *Machine) heightLocked() int {
	cards := 0
	if m.session != nil && m.session.User != nil {
		cards = len(m.session.User.Instruments)
	}
	return viewHeight(m.state, cards, m.notice != "")
}

func (m *Machine) post(msg channel.Message) {
	if m.emit != nil {
		m.emit(msg)
	}
}
