// Package sdk is the merchant-side half of the checkout: it mounts the
// wallet surface into a page container and relays its messages.
package sdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/passwallet/passwallet/internal/channel"
)

const (
	initialHeight    = 60
	heightTransition = "height 0.3s ease"
	checkoutPath     = "/checkout.html"
)

var (
	// ErrNotMounted is returned by Await on a mount that never attached.
	ErrNotMounted = errors.New("checkout not mounted")
	// ErrUnmounted is returned by Await when the mount was torn down before
	// the surface reported an outcome.
	ErrUnmounted = errors.New("checkout unmounted")
)

// Opener starts the wallet surface served at src, talking over port. It
// runs until ctx is cancelled or the port closes.
type Opener interface {
	Open(ctx context.Context, src string, port *channel.Port) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, src string, port *channel.Port) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, src string, port *channel.Port) error {
	return f(ctx, src, port)
}

// Outcome says how a checkout ended.
type Outcome int

const (
	Completed Outcome = iota + 1
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is what the merchant receives once per mount. Payment is set only
// when Outcome is Completed.
type Result struct {
	Outcome Outcome
	Payment channel.Result
}

// SDK mounts checkout surfaces for one merchant page.
type SDK struct {
	WalletOrigin string
	HostOrigin   string
	Opener       Opener
	Logger       *slog.Logger
}

func (s *SDK) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Mount attaches one surface to container and hands it data once the
// surface reports ready. A nil container is logged and yields an inert
// mount.
func (s *SDK) Mount(ctx context.Context, container *Container, data channel.InitCheckout) *Mount {
	logger := s.logger().With(slog.String("component", "sdk"))
	if container == nil {
		logger.Error("checkout container not found")
		return &Mount{inert: true}
	}

	host, surface := channel.Pipe(s.HostOrigin, s.WalletOrigin)
	frame := &Frame{
		Src:        s.WalletOrigin + checkoutPath,
		Transition: heightTransition,
		height:     initialHeight,
	}
	container.Append(frame)

	surfaceCtx, cancel := context.WithCancel(ctx)
	m := &Mount{
		frame:     frame,
		container: container,
		host:      host,
		surface:   surface,
		cancel:    cancel,
		wallet:    channel.StaticPin{Origin: s.WalletOrigin},
		data:      data,
		logger:    logger,
		result:    make(chan Result, 1),
		closed:    make(chan struct{}),
	}

	if s.Opener != nil {
		go func() {
			if err := s.Opener.Open(surfaceCtx, frame.Src, surface); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("wallet surface stopped", slog.String("error", err.Error()))
			}
		}()
	}
	go m.listen(surfaceCtx)
	return m
}

// Mount is one embedded checkout.
type Mount struct {
	inert bool

	frame     *Frame
	container *Container
	host      *channel.Port
	surface   *channel.Port
	cancel    context.CancelFunc
	wallet    channel.StaticPin
	data      channel.InitCheckout
	logger    *slog.Logger

	result    chan Result
	closed    chan struct{}
	closeOnce sync.Once
}

// Frame returns the embedded frame, or nil for an inert mount.
func (m *Mount) Frame() *Frame { return m.frame }

func (m *Mount) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.host.Done():
			return
		case frame := <-m.host.Inbox():
			msg, err := m.wallet.Accept(frame)
			if err != nil {
				m.logger.Warn("ignoring message", slog.String("origin", frame.Origin), slog.String("error", err.Error()))
				continue
			}
			if m.handle(msg) {
				return
			}
		}
	}
}

// handle reacts to one trusted message and reports whether the mount ended.
func (m *Mount) handle(msg channel.Message) bool {
	switch msg := msg.(type) {
	case channel.Ready:
		if err := m.host.Post(m.data, m.wallet.Origin); err != nil {
			m.logger.Error("forward checkout data", slog.String("error", err.Error()))
		}
	case channel.Resize:
		m.frame.setHeight(msg.Height)
	case channel.Result:
		m.deliver(Result{Outcome: Completed, Payment: msg})
		return true
	case channel.Cancelled:
		m.deliver(Result{Outcome: Cancelled})
		return true
	default:
		m.logger.Debug("unhandled message", slog.String("type", string(msg.Type())))
	}
	return false
}

func (m *Mount) deliver(r Result) {
	select {
	case m.result <- r:
	default:
	}
	m.Unmount()
}

// Await blocks until the surface reports an outcome, the mount is torn
// down, or ctx ends. The outcome is delivered once.
func (m *Mount) Await(ctx context.Context) (Result, error) {
	if m.inert {
		return Result{}, ErrNotMounted
	}
	select {
	case r := <-m.result:
		return r, nil
	case <-m.closed:
		select {
		case r := <-m.result:
			return r, nil
		default:
			return Result{}, ErrUnmounted
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Unmount removes the frame and stops the surface. It is safe to call more
// than once and on an inert mount.
func (m *Mount) Unmount() {
	if m.inert {
		return
	}
	m.closeOnce.Do(func() {
		m.container.Remove(m.frame)
		m.cancel()
		m.surface.Close()
		m.host.Close()
		close(m.closed)
	})
}
