package layout

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is the single growable shared memory block backing every
// monitor's pixel region. It is created through memfd_create so the file
// descriptor can be handed to the compositor for its wl_shm pool, and
// mapped locally so the compositing engine can write pixels directly.
//
// Capacity is monotonically non-decreasing. Growing keeps the previous
// contents: the backing file is truncated upward and remapped, so byte
// ranges handed out before the resize stay valid in the new mapping.
type Segment struct {
	fd   int
	size int
	data []byte
}

// CreateSegment allocates a segment of exactly size bytes.
func CreateSegment(size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("segment size must be positive, got %d", size)
	}
	fd, err := unix.MemfdCreate("wlpaper-pool", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	s := &Segment{fd: fd, size: 0}
	if err := s.Resize(size); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Resize grows the segment to exactly size bytes. Shrinking is refused:
// regions already handed out must never observe a capacity smaller than
// their exclusive range.
func (s *Segment) Resize(size int) error {
	if size <= s.size {
		if size == s.size {
			return nil
		}
		return fmt.Errorf("segment cannot shrink from %d to %d", s.size, size)
	}
	if err := unix.Ftruncate(s.fd, int64(size)); err != nil {
		return fmt.Errorf("growing segment to %d bytes: %w", size, err)
	}
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("unmapping old segment: %w", err)
		}
		s.data = nil
	}
	data, err := unix.Mmap(s.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mapping segment of %d bytes: %w", size, err)
	}
	s.data = data
	s.size = size
	return nil
}

// Data returns the current mapping. The slice is invalidated by the next
// Resize; callers must not retain it across one.
func (s *Segment) Data() []byte {
	return s.data
}

// FD returns the backing file descriptor, suitable for wl_shm.create_pool.
func (s *Segment) FD() int {
	return s.fd
}

// Size returns the current capacity in bytes.
func (s *Segment) Size() int {
	return s.size
}

func (s *Segment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return err
		}
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil {
			return err
		}
		s.fd = -1
	}
	return nil
}
