package wayland

import "encoding/binary"

// Wire format: every message starts with the target object id and a
// second word carrying the total size (including the 8-byte header) in
// the upper 16 bits and the opcode in the lower 16. All values are
// little-endian and arguments are padded to 32-bit boundaries.

const headerSize = 8

// message builds one outgoing request.
type message struct {
	buf []byte
}

func newMessage(object uint32, opcode uint16) *message {
	m := &message{buf: make([]byte, headerSize, headerSize+32)}
	binary.LittleEndian.PutUint32(m.buf[0:4], object)
	// Size is patched in finish; stash the opcode now.
	binary.LittleEndian.PutUint32(m.buf[4:8], uint32(opcode))
	return m
}

func (m *message) putUint32(v uint32) {
	m.buf = binary.LittleEndian.AppendUint32(m.buf, v)
}

func (m *message) putInt32(v int32) {
	m.putUint32(uint32(v))
}

// putString writes length (including the null terminator), the bytes, a
// null byte and padding to the next 32-bit boundary.
func (m *message) putString(s string) {
	n := uint32(len(s) + 1)
	m.putUint32(n)
	m.buf = append(m.buf, s...)
	m.buf = append(m.buf, 0)
	for pad := (4 - n%4) % 4; pad > 0; pad-- {
		m.buf = append(m.buf, 0)
	}
}

func (m *message) finish() []byte {
	size := uint32(len(m.buf))
	opcode := binary.LittleEndian.Uint32(m.buf[4:8]) & 0xffff
	binary.LittleEndian.PutUint32(m.buf[4:8], size<<16|opcode)
	return m.buf
}

// reader decodes event arguments from a message body.
type reader struct {
	data []byte
	off  int
	bad  bool
}

func (r *reader) uint32() uint32 {
	if r.off+4 > len(r.data) {
		r.bad = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) int32() int32 {
	return int32(r.uint32())
}

func (r *reader) string() string {
	n := r.uint32()
	if r.bad || n == 0 || r.off+int(n) > len(r.data) {
		r.bad = true
		return ""
	}
	s := string(r.data[r.off : r.off+int(n)-1]) // drop null terminator
	r.off += int(n)
	r.off += int((4 - n%4) % 4)
	return s
}
