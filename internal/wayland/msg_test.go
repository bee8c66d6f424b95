package wayland

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"testing"
)

func TestMessage_HeaderPacksSizeAndOpcode(t *testing.T) {
	m := newMessage(7, 3)
	m.putUint32(42)
	data := m.finish()

	if len(data) != 12 {
		t.Fatalf("message length %d, want 12", len(data))
	}
	if id := binary.LittleEndian.Uint32(data[0:4]); id != 7 {
		t.Fatalf("object id %d, want 7", id)
	}
	sizeOpcode := binary.LittleEndian.Uint32(data[4:8])
	if size := sizeOpcode >> 16; size != 12 {
		t.Fatalf("size %d, want 12", size)
	}
	if opcode := sizeOpcode & 0xffff; opcode != 3 {
		t.Fatalf("opcode %d, want 3", opcode)
	}
	if arg := binary.LittleEndian.Uint32(data[8:12]); arg != 42 {
		t.Fatalf("arg %d, want 42", arg)
	}
}

func TestMessage_StringPaddedToWordBoundary(t *testing.T) {
	m := newMessage(2, 0)
	m.putString("wl_shm") // 6 chars + null = 7, padded to 8
	data := m.finish()

	want := append(
		binary.LittleEndian.AppendUint32(nil, 7),
		'w', 'l', '_', 's', 'h', 'm', 0, 0,
	)
	if !bytes.Equal(data[8:], want) {
		t.Fatalf("string encoding = %v, want %v", data[8:], want)
	}
	if len(data)%4 != 0 {
		t.Fatalf("message length %d not word aligned", len(data))
	}
}

func TestReader_StringRoundTrip(t *testing.T) {
	m := newMessage(1, 0)
	m.putUint32(9)
	m.putString("DP-1")
	m.putUint32(4)
	body := m.finish()[headerSize:]

	r := &reader{data: body}
	if v := r.uint32(); v != 9 {
		t.Fatalf("first arg %d, want 9", v)
	}
	if s := r.string(); s != "DP-1" {
		t.Fatalf("string %q, want DP-1", s)
	}
	if v := r.uint32(); v != 4 {
		t.Fatalf("last arg %d, want 4", v)
	}
	if r.bad {
		t.Fatalf("reader flagged bad input")
	}
}

func TestReader_TruncatedInputSetsBad(t *testing.T) {
	r := &reader{data: []byte{1, 2}}
	r.uint32()
	if !r.bad {
		t.Fatalf("expected bad flag on truncated input")
	}
}

func testClient() *Client {
	return &Client{
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		kinds: map[uint32]kind{
			displayID:  kindDisplay,
			registryID: kindRegistry,
			5:          kindOutput,
			9:          kindLayerSurface,
		},
		events: make(chan Event, 8),
	}
}

func TestRoute_GlobalEvent(t *testing.T) {
	c := testClient()

	m := newMessage(registryID, 0)
	m.putUint32(33)
	m.putString(IfaceOutput)
	m.putUint32(4)
	body := m.finish()[headerSize:]

	if err := c.route(context.Background(), registryID, 0, body); err != nil {
		t.Fatalf("route: %v", err)
	}
	ev, ok := (<-c.events).(Global)
	if !ok {
		t.Fatalf("expected Global event")
	}
	if ev.Name != 33 || ev.Interface != IfaceOutput || ev.Version != 4 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRoute_OutputEventsCarryObjectID(t *testing.T) {
	c := testClient()
	ctx := context.Background()

	mode := newMessage(5, 1)
	mode.putUint32(ModeCurrent)
	mode.putInt32(1920)
	mode.putInt32(1080)
	if err := c.route(ctx, 5, 1, mode.finish()[headerSize:]); err != nil {
		t.Fatalf("route mode: %v", err)
	}

	name := newMessage(5, 4)
	name.putString("DP-1")
	if err := c.route(ctx, 5, 4, name.finish()[headerSize:]); err != nil {
		t.Fatalf("route name: %v", err)
	}

	if err := c.route(ctx, 5, 2, nil); err != nil {
		t.Fatalf("route done: %v", err)
	}

	if ev := (<-c.events).(OutputMode); ev.Output != 5 || ev.Width != 1920 || ev.Height != 1080 {
		t.Fatalf("mode event: %+v", ev)
	}
	if ev := (<-c.events).(OutputName); ev.Output != 5 || ev.Name != "DP-1" {
		t.Fatalf("name event: %+v", ev)
	}
	if ev := (<-c.events).(OutputDone); ev.Output != 5 {
		t.Fatalf("done event: %+v", ev)
	}
}

func TestRoute_LayerConfigure(t *testing.T) {
	c := testClient()

	m := newMessage(9, 0)
	m.putUint32(77) // serial
	m.putUint32(1920)
	m.putUint32(1080)
	if err := c.route(context.Background(), 9, 0, m.finish()[headerSize:]); err != nil {
		t.Fatalf("route: %v", err)
	}

	ev := (<-c.events).(LayerConfigure)
	if ev.Surface != 9 || ev.Serial != 77 || ev.Width != 1920 || ev.Height != 1080 {
		t.Fatalf("configure event: %+v", ev)
	}
}

func TestRoute_ProtocolErrorIsFatal(t *testing.T) {
	c := testClient()

	m := newMessage(displayID, 0)
	m.putUint32(5)  // object
	m.putUint32(2)  // code
	m.putString("invalid buffer size")
	if err := c.route(context.Background(), displayID, 0, m.finish()[headerSize:]); err == nil {
		t.Fatalf("expected protocol error to be fatal")
	}
}

func TestRoute_DeleteIDForgetsObject(t *testing.T) {
	c := testClient()

	m := newMessage(displayID, 1)
	m.putUint32(5)
	if err := c.route(context.Background(), displayID, 1, m.finish()[headerSize:]); err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, ok := c.kinds[5]; ok {
		t.Fatalf("object 5 should be forgotten after delete_id")
	}
}
