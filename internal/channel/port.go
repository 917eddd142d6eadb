package channel

import (
	"errors"
	"sync"
)

// AnyOrigin as a target delivers to whatever origin the peer has.
const AnyOrigin = "*"

var (
	// ErrOriginMismatch rejects a frame from an origin other than the pinned one.
	ErrOriginMismatch = errors.New("message origin does not match pinned origin")
	// ErrNotPinned rejects frames that arrive before the handshake pins an origin.
	ErrNotPinned = errors.New("no origin pinned yet")
)

// Frame is a raw message as received, tagged with the sender's origin.
type Frame struct {
	Origin string
	Data   []byte
}

const inboxSize = 32

// Port is one window's end of a message pair.
type Port struct {
	origin string
	peer   *Port
	inbox  chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

// Pipe connects a host window and a surface window in-process.
func Pipe(hostOrigin, surfaceOrigin string) (host, surface *Port) {
	host = &Port{origin: hostOrigin, inbox: make(chan Frame, inboxSize), done: make(chan struct{})}
	surface = &Port{origin: surfaceOrigin, inbox: make(chan Frame, inboxSize), done: make(chan struct{})}
	host.peer, surface.peer = surface, host
	return host, surface
}

// Origin is this window's own origin.
func (p *Port) Origin() string { return p.origin }

// Post sends msg to the peer window. Like postMessage, a targetOrigin that
// is neither AnyOrigin nor the peer's origin drops the message silently.
func (p *Port) Post(msg Message, targetOrigin string) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if targetOrigin != AnyOrigin && targetOrigin != p.peer.origin {
		return nil
	}
	p.peer.Deliver(Frame{Origin: p.origin, Data: data})
	return nil
}

// Deliver places a frame in this port's inbox as if some window had posted
// it. Frames sent to a closed port are dropped.
func (p *Port) Deliver(frame Frame) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.inbox <- frame:
	case <-p.done:
	}
}

// Inbox yields received frames. It is never closed; watch Done.
func (p *Port) Inbox() <-chan Frame { return p.inbox }

// Done is closed when the port is closed.
func (p *Port) Done() <-chan struct{} { return p.done }

// Close detaches the window. It is safe to call more than once.
func (p *Port) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// StaticPin trusts exactly one configured origin. The host uses it for the
// wallet origin.
type StaticPin struct {
	Origin string
}

// Accept checks the origin before decoding.
func (s StaticPin) Accept(frame Frame) (Message, error) {
	if frame.Origin != s.Origin {
		return nil, ErrOriginMismatch
	}
	return Decode(frame.Data)
}

// Pin binds to the origin of the first valid initCheckout and rejects
// frames from every other origin until Reset. Frames without an origin
// are never accepted.
type Pin struct {
	mu     sync.Mutex
	pinned bool
	origin string
}

// Accept pins on the first initCheckout and enforces the pin afterwards.
func (p *Pin) Accept(frame Frame) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frame.Origin == "" || (p.pinned && frame.Origin != p.origin) {
		return nil, ErrOriginMismatch
	}

	msg, err := Decode(frame.Data)
	if err != nil {
		return nil, err
	}
	if !p.pinned {
		if _, ok := msg.(InitCheckout); !ok {
			return nil, ErrNotPinned
		}
		p.origin = frame.Origin
		p.pinned = true
	}
	return msg, nil
}

// Origin returns the pinned origin, or "" before the handshake.
func (p *Pin) Origin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.origin
}

// Reset forgets the pinned origin for a new mount.
func (p *Pin) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned = false
	p.origin = ""
}
