// Package wayland is a minimal Wayland client for the handful of
// interfaces a wallpaper daemon needs: the registry, wl_compositor,
// wl_shm, wl_output and the wlr layer shell. It speaks the wire protocol
// directly over the compositor's unix socket; file descriptors travel as
// SCM_RIGHTS ancillary data.
package wayland

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

type kind uint8

const (
	kindNone kind = iota
	kindDisplay
	kindRegistry
	kindCallback
	kindCompositor
	kindShm
	kindShmPool
	kindBuffer
	kindSurface
	kindOutput
	kindLayerShell
	kindLayerSurface
)

const (
	displayID  = 1
	registryID = 2
)

// Client owns the socket connection and the object id table. Requests may
// be issued from any goroutine; events are decoded by Run and delivered
// in order on the Events channel.
type Client struct {
	conn *net.UnixConn
	log  *slog.Logger

	mu     sync.Mutex // guards writes, nextID and kinds
	nextID uint32
	kinds  map[uint32]kind

	events chan Event
}

// Connect dials the compositor socket named by WAYLAND_DISPLAY under
// XDG_RUNTIME_DIR and issues get_registry.
func Connect(logger *slog.Logger) (*Client, error) {
	socket := os.Getenv("WAYLAND_DISPLAY")
	if socket == "" {
		socket = "wayland-0"
	}
	if !filepath.IsAbs(socket) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socket = filepath.Join(runDir, socket)
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socket, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("connecting to wayland socket %s: %w", socket, err)
	}

	c := &Client{
		conn:   conn,
		log:    logger,
		nextID: registryID + 1,
		kinds: map[uint32]kind{
			displayID:  kindDisplay,
			registryID: kindRegistry,
		},
		events: make(chan Event, 64),
	}

	// wl_display.get_registry
	msg := newMessage(displayID, 1)
	msg.putUint32(registryID)
	if err := c.send(msg, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("get_registry: %w", err)
	}

	logger.Debug("wayland connected", "socket", socket)
	return c, nil
}

// Events returns the typed event stream produced by Run.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) newID(k kind) uint32 {
	id := c.nextID
	c.nextID++
	c.kinds[id] = k
	return id
}

func (c *Client) send(m *message, fds []int) error {
	data := m.finish()
	var err error
	if len(fds) > 0 {
		_, _, err = c.conn.WriteMsgUnix(data, unix.UnixRights(fds...), nil)
	} else {
		_, err = c.conn.Write(data)
	}
	return err
}

// request marshals and sends one fd-less request under the lock.
func (c *Client) request(object uint32, opcode uint16, args ...uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := newMessage(object, opcode)
	for _, a := range args {
		m.putUint32(a)
	}
	return c.send(m, nil)
}

// Run reads and routes events until the context is cancelled, the
// connection drops, or the compositor reports a protocol error. Protocol
// errors are fatal: the session state is undefined afterwards.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	for {
		object, opcode, body, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading wayland event: %w", err)
		}
		if err := c.route(ctx, object, opcode, body); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) read() (object uint32, opcode uint16, body []byte, err error) {
	var header [headerSize]byte
	if _, err = io.ReadFull(c.conn, header[:]); err != nil {
		return
	}
	object = binary.LittleEndian.Uint32(header[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(header[4:8])
	size := sizeOpcode >> 16
	opcode = uint16(sizeOpcode & 0xffff)
	if size < headerSize {
		err = fmt.Errorf("invalid message size %d", size)
		return
	}
	if size > headerSize {
		body = make([]byte, size-headerSize)
		_, err = io.ReadFull(c.conn, body)
	}
	return
}

// route is the single dispatch point: object kind plus opcode selects the
// typed event, which is delivered to the daemon's channel.
func (c *Client) route(ctx context.Context, object uint32, opcode uint16, body []byte) error {
	c.mu.Lock()
	k := c.kinds[object]
	c.mu.Unlock()

	r := &reader{data: body}

	switch k {
	case kindDisplay:
		switch opcode {
		case 0: // error
			errObj := r.uint32()
			code := r.uint32()
			msg := r.string()
			return fmt.Errorf("wayland protocol error: object %d, code %d: %s", errObj, code, msg)
		case 1: // delete_id
			id := r.uint32()
			c.mu.Lock()
			delete(c.kinds, id)
			c.mu.Unlock()
		}

	case kindRegistry:
		switch opcode {
		case 0: // global
			name := r.uint32()
			iface := r.string()
			version := r.uint32()
			if r.bad {
				return nil
			}
			return c.deliver(ctx, Global{Name: name, Interface: iface, Version: version})
		case 1: // global_remove
			return c.deliver(ctx, GlobalRemove{Name: r.uint32()})
		}

	case kindOutput:
		switch opcode {
		case 1: // mode
			flags := r.uint32()
			w := r.int32()
			h := r.int32()
			return c.deliver(ctx, OutputMode{Output: object, Flags: flags, Width: w, Height: h})
		case 2: // done
			return c.deliver(ctx, OutputDone{Output: object})
		case 4: // name
			return c.deliver(ctx, OutputName{Output: object, Name: r.string()})
		}

	case kindLayerSurface:
		switch opcode {
		case 0: // configure
			serial := r.uint32()
			w := r.uint32()
			h := r.uint32()
			return c.deliver(ctx, LayerConfigure{Surface: object, Serial: serial, Width: w, Height: h})
		case 1: // closed
			return c.deliver(ctx, LayerClosed{Surface: object})
		}

	case kindShm:
		if opcode == 0 { // format
			return c.deliver(ctx, ShmFormat{Format: r.uint32()})
		}

	case kindBuffer, kindCallback, kindSurface, kindShmPool, kindCompositor, kindLayerShell:
		// release / done / enter-leave: nothing to do for a wallpaper.

	default:
		c.log.Debug("event for unknown object", "object", object, "opcode", opcode)
	}
	return nil
}

func (c *Client) deliver(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
