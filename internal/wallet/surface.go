package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/passwallet/passwallet/internal/channel"
	"github.com/passwallet/passwallet/internal/checkout"
)

// Surface connects a Machine to the merchant page. It trusts whichever
// origin sends the first valid initCheckout and nobody else.
type Surface struct {
	port    *channel.Port
	pin     *channel.Pin
	machine *Machine
	logger  *slog.Logger
}

// NewSurface builds a surface on port. p.Emit is replaced by a poster that
// targets the pinned origin.
func NewSurface(port *channel.Port, p Params) (*Surface, error) {
	s := &Surface{port: port, pin: &channel.Pin{}}
	p.Emit = s.emit
	machine, err := NewMachine(p)
	if err != nil {
		return nil, err
	}
	s.machine = machine
	s.logger = machine.logger.With(slog.String("origin", port.Origin()))
	return s, nil
}

// Machine exposes the state machine to the UI layer.
func (s *Surface) Machine() *Machine { return s.machine }

// Run announces the surface and serves inbound messages until ctx ends or
// the port closes.
func (s *Surface) Run(ctx context.Context) error {
	// the host origin is unknown until the handshake, so ready goes to any
	if err := s.port.Post(channel.Ready{}, channel.AnyOrigin); err != nil {
		return err
	}

	started := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.port.Done():
			return nil
		case frame := <-s.port.Inbox():
			msg, err := s.pin.Accept(frame)
			if err != nil {
				s.logger.Warn("dropping message", slog.String("from", frame.Origin), slog.String("error", err.Error()))
				continue
			}
			init, ok := msg.(channel.InitCheckout)
			if !ok {
				s.logger.Debug("ignoring message", slog.String("type", string(msg.Type())))
				continue
			}
			if started {
				s.logger.Debug("checkout already started")
				continue
			}
			session, err := checkout.New(init)
			if err != nil {
				s.logger.Warn("rejecting checkout data", slog.String("error", err.Error()))
				continue
			}
			started = true
			s.machine.Start(ctx, session)
		}
	}
}

func (s *Surface) emit(msg channel.Message) {
	origin := s.pin.Origin()
	if origin == "" {
		return
	}
	if err := s.port.Post(msg, origin); err != nil {
		s.logger.Error("post to merchant", slog.String("type", string(msg.Type())), slog.String("error", err.Error()))
	}
}

// Opener serves a fresh Surface for every mount. OnOpen, when set, sees
// each surface before it starts.
type Opener struct {
	Params Params
	OnOpen func(*Surface)
}

// Open runs a surface on port until ctx ends or the port closes.
func (o Opener) Open(ctx context.Context, _ string, port *channel.Port) error {
	surface, err := NewSurface(port, o.Params)
	if err != nil {
		return err
	}
	if o.OnOpen != nil {
		o.OnOpen(surface)
	}
	if err := surface.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
