// Package layout owns the shared memory segment and the mapping from
// monitors to contiguous byte regions inside it.
//
// Regions are assigned in monitor arrival order, appended at the tail.
// Once handed out, an offset never moves: tearing a monitor down leaves a
// hole instead of compacting, because compaction would invalidate every
// other monitor's live wl_buffer. A hole is remembered by the departed
// monitor's name and reused if a monitor with that name returns.
package layout

import (
	"errors"
	"fmt"

	"github.com/1broseidon/wlpaper/internal/output"
)

// ErrDuplicateMonitor is returned by Register when a monitor with the
// same name already holds an active region.
var ErrDuplicateMonitor = errors.New("monitor already registered")

// Region is the byte range within the segment holding one monitor's
// packed BGR pixel data (3 bytes per pixel, no stride padding).
type Region struct {
	MonitorName string
	Offset      int
	Length      int
}

// Manager tracks active regions and grows the segment on demand.
type Manager struct {
	segment *Segment
	regions []Region          // active, in arrival order
	free    map[string]Region // holes left by teardown, keyed by prior name
	tail    int               // next append offset; also the required capacity
}

func NewManager() *Manager {
	return &Manager{free: make(map[string]Region)}
}

// Register assigns a region for mon and guarantees the segment can hold
// it. Growth is to exactly the required capacity; the segment is resized
// in place, never recreated, so existing regions stay valid. A resize
// failure means the backing storage cannot grow and is fatal to the
// caller.
func (m *Manager) Register(mon *output.Monitor) (Region, error) {
	if _, ok := m.Lookup(mon.Name); ok {
		return Region{}, fmt.Errorf("monitor %q: %w", mon.Name, ErrDuplicateMonitor)
	}

	length := mon.ByteLength()
	region := Region{MonitorName: mon.Name, Length: length}

	if hole, ok := m.free[mon.Name]; ok && length <= hole.Length {
		// A monitor with this name was torn down earlier; give it back
		// its former offset. A shorter mode leaves the rest of the hole
		// wasted until a full rebuild.
		region.Offset = hole.Offset
		delete(m.free, mon.Name)
	} else {
		region.Offset = m.tail
		m.tail += length
	}

	if err := m.ensureCapacity(); err != nil {
		m.tail = region.Offset
		return Region{}, err
	}

	m.regions = append(m.regions, region)
	return region, nil
}

func (m *Manager) ensureCapacity() error {
	if m.tail == 0 {
		return nil
	}
	if m.segment == nil {
		seg, err := CreateSegment(m.tail)
		if err != nil {
			return fmt.Errorf("creating segment: %w", err)
		}
		m.segment = seg
		return nil
	}
	if m.tail > m.segment.Size() {
		if err := m.segment.Resize(m.tail); err != nil {
			return fmt.Errorf("growing segment: %w", err)
		}
	}
	return nil
}

// Teardown drops the region bookkeeping for name. The segment is not
// compacted and no other offset shifts; the freed range becomes a hole
// reusable only by a monitor of the same name.
func (m *Manager) Teardown(name string) {
	for i, r := range m.regions {
		if r.MonitorName == name {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			m.free[name] = r
			return
		}
	}
}

// Lookup returns the active region for name.
func (m *Manager) Lookup(name string) (Region, bool) {
	for _, r := range m.regions {
		if r.MonitorName == name {
			return r, true
		}
	}
	return Region{}, false
}

// Regions returns the active regions in arrival order.
func (m *Manager) Regions() []Region {
	return m.regions
}

// RequiredCapacity is the byte capacity the segment must provide.
func (m *Manager) RequiredCapacity() int {
	return m.tail
}

// Segment returns the backing segment, or nil before the first Register.
func (m *Manager) Segment() *Segment {
	return m.segment
}

func (m *Manager) Close() error {
	if m.segment == nil {
		return nil
	}
	return m.segment.Close()
}
