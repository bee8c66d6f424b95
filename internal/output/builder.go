// Package output accumulates partial wl_output state into finalized monitors.
//
// The compositor delivers an output's mode, name and done events in any
// order, and events for different outputs may interleave. The builder keeps
// one pending descriptor per protocol object id and only produces an
// immutable Monitor once the terminal done event arrives.
package output

import (
	"errors"
	"fmt"
)

// ErrIncompleteDescriptor is returned when an output reports done before
// ever reporting a usable pixel geometry.
var ErrIncompleteDescriptor = errors.New("output descriptor incomplete")

// Monitor is one finalized physical display.
type Monitor struct {
	Name   string
	Width  int
	Height int

	// PixelCount is Width*Height, precomputed because the layout and
	// compositing paths size everything from it.
	PixelCount int

	// ID is the wl_output protocol object id backing this monitor. The
	// registry owns the object; the monitor only references it.
	ID uint32
}

// ByteLength returns the packed BGR size of this monitor's pixel data.
func (m *Monitor) ByteLength() int {
	return m.PixelCount * 3
}

type descriptor struct {
	name   string
	width  int
	height int
}

// Builder merges out-of-order output notifications, keyed by object id.
type Builder struct {
	pending map[uint32]*descriptor
}

func NewBuilder() *Builder {
	return &Builder{pending: make(map[uint32]*descriptor)}
}

func (b *Builder) get(id uint32) *descriptor {
	d, ok := b.pending[id]
	if !ok {
		d = &descriptor{}
		b.pending[id] = d
	}
	return d
}

// Geometry records the current mode's pixel size for an output. Unknown
// ids create a pending descriptor lazily.
func (b *Builder) Geometry(id uint32, width, height int) {
	d := b.get(id)
	d.width = width
	d.height = height
}

// Name records the output's name. Unknown ids create a pending descriptor
// lazily; arrival order relative to Geometry does not matter.
func (b *Builder) Name(id uint32, name string) {
	b.get(id).name = name
}

// Done finalizes the descriptor for id and removes it from the pending
// set. It fails with ErrIncompleteDescriptor if no positive geometry was
// ever reported. Calling Done twice for the same id is an error, since the
// first call consumed the descriptor.
func (b *Builder) Done(id uint32) (*Monitor, error) {
	d, ok := b.pending[id]
	if !ok {
		return nil, fmt.Errorf("output %d: no pending descriptor: %w", id, ErrIncompleteDescriptor)
	}
	delete(b.pending, id)

	if d.width <= 0 || d.height <= 0 {
		return nil, fmt.Errorf("output %d (%q): no geometry reported: %w", id, d.name, ErrIncompleteDescriptor)
	}

	return &Monitor{
		Name:       d.name,
		Width:      d.width,
		Height:     d.height,
		PixelCount: d.width * d.height,
		ID:         id,
	}, nil
}

// Pending reports how many outputs are still accumulating state.
func (b *Builder) Pending() int {
	return len(b.pending)
}
