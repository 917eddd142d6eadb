package sdk

import "sync"

// Frame is the embedded element hosting the wallet surface.
type Frame struct {
	Src        string
	Transition string

	mu     sync.Mutex
	height int
}

// Height is the frame's current visible height in pixels.
func (f *Frame) Height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

func (f *Frame) setHeight(h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

// Container is the merchant page element a checkout mounts into.
type Container struct {
	mu     sync.Mutex
	frames []*Frame
}

// Append attaches f.
func (c *Container) Append(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

// Remove detaches f if present.
func (c *Container) Remove(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.frames {
		if existing == f {
			c.frames = append(c.frames[:i], c.frames[i+1:]...)
			return
		}
	}
}

// Frames lists the attached frames.
func (c *Container) Frames() []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Frame(nil), c.frames...)
}
