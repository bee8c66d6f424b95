package compositor

// Barrier delays the first full compositing pass until every surface
// created during startup has acknowledged its configure handshake.
// Painting earlier would show the compositor an unwritten buffer.
//
// Acknowledged surfaces are tracked as a set, not a counter: a surface
// that configures twice (compositors may resend) must not count twice.
type Barrier struct {
	expected map[uint32]struct{}
	acked    map[uint32]struct{}
	released bool
}

func NewBarrier() *Barrier {
	return &Barrier{
		expected: make(map[uint32]struct{}),
		acked:    make(map[uint32]struct{}),
	}
}

// Add registers a surface the barrier must wait for. After release the
// barrier is done for good; later surfaces are handled individually by
// the caller and Add becomes a no-op.
func (b *Barrier) Add(surface uint32) {
	if b.released {
		return
	}
	b.expected[surface] = struct{}{}
}

// Ack records a configure acknowledgment and reports whether this ack
// released the barrier. The release edge fires exactly once; duplicate
// acks and acks from unknown surfaces never trigger it.
func (b *Barrier) Ack(surface uint32) bool {
	if b.released {
		return false
	}
	if _, ok := b.expected[surface]; !ok {
		return false
	}
	if _, dup := b.acked[surface]; dup {
		return false
	}
	b.acked[surface] = struct{}{}
	if len(b.acked) == len(b.expected) {
		b.released = true
		return true
	}
	return false
}

// Released reports whether the first pass has been triggered.
func (b *Barrier) Released() bool {
	return b.released
}

// Waiting reports how many surfaces have not acknowledged yet.
func (b *Barrier) Waiting() int {
	if b.released {
		return 0
	}
	return len(b.expected) - len(b.acked)
}
