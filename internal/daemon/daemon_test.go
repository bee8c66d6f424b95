package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/wlpaper/internal/config"
	"github.com/1broseidon/wlpaper/internal/wayland"
)

// fakeConn records every request so tests can assert on the protocol
// traffic the actor generates. Object ids are handed out sequentially
// starting at 100 to keep them apart from event object ids.
type fakeConn struct {
	calls  []string
	nextID uint32
}

func newFakeConn() *fakeConn {
	return &fakeConn{nextID: 100}
}

func (f *fakeConn) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeConn) id() uint32 {
	f.nextID++
	return f.nextID
}

func (f *fakeConn) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeConn) BindCompositor(name, version uint32) (uint32, error) {
	f.record("bind_compositor")
	return f.id(), nil
}

func (f *fakeConn) BindShm(name, version uint32) (uint32, error) {
	f.record("bind_shm")
	return f.id(), nil
}

func (f *fakeConn) BindLayerShell(name, version uint32) (uint32, error) {
	f.record("bind_layer_shell")
	return f.id(), nil
}

func (f *fakeConn) BindOutput(name, version uint32) (uint32, error) {
	f.record("bind_output name=%d", name)
	return f.id(), nil
}

func (f *fakeConn) ReleaseOutput(output uint32) error {
	f.record("release_output %d", output)
	return nil
}

func (f *fakeConn) CreateSurface(compositor uint32) (uint32, error) {
	f.record("create_surface")
	return f.id(), nil
}

func (f *fakeConn) DestroySurface(surface uint32) error {
	f.record("destroy_surface %d", surface)
	return nil
}

func (f *fakeConn) CreatePool(shm uint32, fd int, size int32) (uint32, error) {
	f.record("create_pool size=%d", size)
	return f.id(), nil
}

func (f *fakeConn) ResizePool(pool uint32, size int32) error {
	f.record("resize_pool size=%d", size)
	return nil
}

func (f *fakeConn) CreateBuffer(pool uint32, offset, width, height, stride int32, format uint32) (uint32, error) {
	f.record("create_buffer offset=%d size=%dx%d stride=%d", offset, width, height, stride)
	return f.id(), nil
}

func (f *fakeConn) DestroyBuffer(buffer uint32) error {
	f.record("destroy_buffer %d", buffer)
	return nil
}

func (f *fakeConn) Attach(surface, buffer uint32) error {
	f.record("attach surface=%d buffer=%d", surface, buffer)
	return nil
}

func (f *fakeConn) DamageBuffer(surface uint32) error {
	f.record("damage surface=%d", surface)
	return nil
}

func (f *fakeConn) Commit(surface uint32) error {
	f.record("commit surface=%d", surface)
	return nil
}

func (f *fakeConn) GetLayerSurface(shell, surface, output uint32, namespace string) (uint32, error) {
	f.record("get_layer_surface output=%d ns=%s", output, namespace)
	return f.id(), nil
}

func (f *fakeConn) LayerSetSize(layerSurface, width, height uint32) error {
	f.record("layer_set_size %dx%d", width, height)
	return nil
}

func (f *fakeConn) LayerSetExclusiveZone(layerSurface uint32, zone int32) error {
	f.record("layer_set_exclusive_zone %d", zone)
	return nil
}

func (f *fakeConn) AckConfigure(layerSurface, serial uint32) error {
	f.record("ack_configure surface=%d serial=%d", layerSurface, serial)
	return nil
}

func (f *fakeConn) DestroyLayerSurface(layerSurface uint32) error {
	f.record("destroy_layer_surface %d", layerSurface)
	return nil
}

func testDaemon(t *testing.T) (*Daemon, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := newDaemon(conn, nil, &config.Config{}, "", logger)
	t.Cleanup(func() { d.lm.Close() })
	return d, conn
}

func feed(t *testing.T, d *Daemon, events ...wayland.Event) {
	t.Helper()
	for _, ev := range events {
		if err := d.handle(ev); err != nil {
			t.Fatalf("handle(%T): %v", ev, err)
		}
	}
}

// globals announces the three singletons and returns the wl_output object
// ids the fake handed out for the given registry names.
func announce(t *testing.T, d *Daemon, conn *fakeConn, outputNames ...uint32) []uint32 {
	t.Helper()
	feed(t, d,
		wayland.Global{Name: 1, Interface: wayland.IfaceCompositor, Version: 6},
		wayland.Global{Name: 2, Interface: wayland.IfaceShm, Version: 1},
		wayland.Global{Name: 3, Interface: wayland.IfaceLayerShell, Version: 4},
	)
	ids := make([]uint32, 0, len(outputNames))
	for _, name := range outputNames {
		feed(t, d, wayland.Global{Name: name, Interface: wayland.IfaceOutput, Version: 4})
		ids = append(ids, d.outputGlobals[name])
	}
	return ids
}

func TestHandle_OutOfOrderOutputEventsProduceOneMonitor(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10)
	out := ids[0]

	// Name before mode, interleaved with an unrelated shm format event.
	feed(t, d,
		wayland.OutputName{Output: out, Name: "DP-1"},
		wayland.ShmFormat{Format: wayland.FormatBGR888},
		wayland.OutputMode{Output: out, Flags: wayland.ModeCurrent, Width: 100, Height: 50},
		wayland.OutputDone{Output: out},
	)

	if len(d.monitors) != 1 {
		t.Fatalf("monitor count %d, want 1", len(d.monitors))
	}
	ms := d.monitors[0]
	if ms.mon.Name != "DP-1" || ms.mon.Width != 100 || ms.mon.Height != 50 {
		t.Fatalf("unexpected monitor: %+v", ms.mon)
	}
	if ms.region.Offset != 0 || ms.region.Length != 100*50*3 {
		t.Fatalf("unexpected region: %+v", ms.region)
	}
	if n := conn.count("get_layer_surface"); n != 1 {
		t.Fatalf("layer surface count %d, want 1", n)
	}
	if n := conn.count("create_pool"); n != 1 {
		t.Fatalf("pool count %d, want 1", n)
	}
}

func TestHandle_NonCurrentModeIgnored(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10)
	out := ids[0]

	feed(t, d,
		wayland.OutputMode{Output: out, Flags: 0, Width: 640, Height: 480},
		wayland.OutputMode{Output: out, Flags: wayland.ModeCurrent, Width: 1920, Height: 1080},
		wayland.OutputName{Output: out, Name: "DP-1"},
		wayland.OutputDone{Output: out},
	)

	if d.monitors[0].mon.Width != 1920 {
		t.Fatalf("width %d, want 1920 from the current mode", d.monitors[0].mon.Width)
	}
}

func TestHandle_IncompleteDescriptorSkippedWithoutAbort(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10, 11)

	// First output reports done with no geometry; second is complete.
	feed(t, d,
		wayland.OutputName{Output: ids[0], Name: "ghost"},
		wayland.OutputDone{Output: ids[0]},
		wayland.OutputMode{Output: ids[1], Flags: wayland.ModeCurrent, Width: 800, Height: 600},
		wayland.OutputName{Output: ids[1], Name: "DP-2"},
		wayland.OutputDone{Output: ids[1]},
	)

	if len(d.monitors) != 1 || d.monitors[0].mon.Name != "DP-2" {
		t.Fatalf("expected only DP-2 to survive, got %d monitors", len(d.monitors))
	}
}

func TestHandle_OutputDoneBeforeGlobalsIsDeferred(t *testing.T) {
	d, conn := testDaemon(t)

	// Output global and its done arrive before the layer shell exists.
	feed(t, d,
		wayland.Global{Name: 1, Interface: wayland.IfaceCompositor, Version: 6},
		wayland.Global{Name: 2, Interface: wayland.IfaceShm, Version: 1},
		wayland.Global{Name: 10, Interface: wayland.IfaceOutput, Version: 4},
	)
	out := d.outputGlobals[10]
	feed(t, d,
		wayland.OutputMode{Output: out, Flags: wayland.ModeCurrent, Width: 100, Height: 100},
		wayland.OutputName{Output: out, Name: "DP-1"},
		wayland.OutputDone{Output: out},
	)
	if len(d.monitors) != 0 {
		t.Fatalf("monitor set up before layer shell bound")
	}

	feed(t, d, wayland.Global{Name: 3, Interface: wayland.IfaceLayerShell, Version: 4})
	if len(d.monitors) != 1 {
		t.Fatalf("deferred monitor not set up after layer shell arrived")
	}
	if n := conn.count("get_layer_surface"); n != 1 {
		t.Fatalf("layer surface count %d, want 1", n)
	}
}

func TestHandle_BarrierGatesFirstPaint(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10, 11)

	feed(t, d,
		wayland.OutputMode{Output: ids[0], Flags: wayland.ModeCurrent, Width: 10, Height: 10},
		wayland.OutputName{Output: ids[0], Name: "DP-1"},
		wayland.OutputDone{Output: ids[0]},
		wayland.OutputMode{Output: ids[1], Flags: wayland.ModeCurrent, Width: 20, Height: 10},
		wayland.OutputName{Output: ids[1], Name: "DP-2"},
		wayland.OutputDone{Output: ids[1]},
	)

	ls1 := d.monitors[0].layerSurface
	ls2 := d.monitors[1].layerSurface

	feed(t, d, wayland.LayerConfigure{Surface: ls1, Serial: 1, Width: 10, Height: 10})
	if n := conn.count("create_buffer"); n != 0 {
		t.Fatalf("buffers created before all surfaces configured: %d", n)
	}

	// Duplicate configure for the same surface must not release the barrier.
	feed(t, d, wayland.LayerConfigure{Surface: ls1, Serial: 2, Width: 10, Height: 10})
	if n := conn.count("create_buffer"); n != 0 {
		t.Fatalf("duplicate configure released the barrier")
	}

	feed(t, d, wayland.LayerConfigure{Surface: ls2, Serial: 3, Width: 20, Height: 10})
	if n := conn.count("create_buffer"); n != 2 {
		t.Fatalf("buffer count after full configure %d, want 2", n)
	}
	if n := conn.count("ack_configure"); n != 3 {
		t.Fatalf("every configure must be acked, got %d acks", n)
	}
	if !d.monitors[0].configured || !d.monitors[1].configured {
		t.Fatalf("monitors not marked configured after first pass")
	}
}

func TestHandle_LateMonitorPaintedIndividually(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10)

	feed(t, d,
		wayland.OutputMode{Output: ids[0], Flags: wayland.ModeCurrent, Width: 10, Height: 10},
		wayland.OutputName{Output: ids[0], Name: "DP-1"},
		wayland.OutputDone{Output: ids[0]},
	)
	feed(t, d, wayland.LayerConfigure{Surface: d.monitors[0].layerSurface, Serial: 1})

	// Hotplug after the barrier released.
	feed(t, d, wayland.Global{Name: 11, Interface: wayland.IfaceOutput, Version: 4})
	out := d.outputGlobals[11]
	feed(t, d,
		wayland.OutputMode{Output: out, Flags: wayland.ModeCurrent, Width: 20, Height: 20},
		wayland.OutputName{Output: out, Name: "HDMI-1"},
		wayland.OutputDone{Output: out},
	)
	if n := conn.count("resize_pool"); n != 1 {
		t.Fatalf("pool resize count %d, want 1 after growth", n)
	}

	feed(t, d, wayland.LayerConfigure{Surface: d.monitors[1].layerSurface, Serial: 2})
	if n := conn.count("create_buffer"); n != 2 {
		t.Fatalf("buffer count %d, want 2 after late configure", n)
	}
	if !d.monitors[1].configured {
		t.Fatalf("late monitor not configured")
	}
}

func TestHandle_GlobalRemoveTearsDownMonitor(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10)

	feed(t, d,
		wayland.OutputMode{Output: ids[0], Flags: wayland.ModeCurrent, Width: 10, Height: 10},
		wayland.OutputName{Output: ids[0], Name: "DP-1"},
		wayland.OutputDone{Output: ids[0]},
	)
	feed(t, d, wayland.LayerConfigure{Surface: d.monitors[0].layerSurface, Serial: 1})

	feed(t, d, wayland.GlobalRemove{Name: 10})

	if len(d.monitors) != 0 {
		t.Fatalf("monitor not removed")
	}
	for _, prefix := range []string{"destroy_buffer", "destroy_layer_surface", "destroy_surface", "release_output"} {
		if n := conn.count(prefix); n != 1 {
			t.Fatalf("%s count %d, want 1", prefix, n)
		}
	}
	if _, ok := d.lm.Lookup("DP-1"); ok {
		t.Fatalf("region still active after teardown")
	}
}

func TestHandle_LayerClosedTearsDownMonitor(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10)

	feed(t, d,
		wayland.OutputMode{Output: ids[0], Flags: wayland.ModeCurrent, Width: 10, Height: 10},
		wayland.OutputName{Output: ids[0], Name: "DP-1"},
		wayland.OutputDone{Output: ids[0]},
	)
	feed(t, d, wayland.LayerClosed{Surface: d.monitors[0].layerSurface})

	if len(d.monitors) != 0 {
		t.Fatalf("monitor not removed on layer close")
	}
	if n := conn.count("destroy_layer_surface"); n != 1 {
		t.Fatalf("layer surface not destroyed")
	}
}

func TestReloadAndRepaint_CommitsEveryConfiguredMonitor(t *testing.T) {
	d, conn := testDaemon(t)
	ids := announce(t, d, conn, 10, 11)

	feed(t, d,
		wayland.OutputMode{Output: ids[0], Flags: wayland.ModeCurrent, Width: 10, Height: 10},
		wayland.OutputName{Output: ids[0], Name: "DP-1"},
		wayland.OutputDone{Output: ids[0]},
		wayland.OutputMode{Output: ids[1], Flags: wayland.ModeCurrent, Width: 20, Height: 10},
		wayland.OutputName{Output: ids[1], Name: "DP-2"},
		wayland.OutputDone{Output: ids[1]},
	)
	feed(t, d,
		wayland.LayerConfigure{Surface: d.monitors[0].layerSurface, Serial: 1},
		wayland.LayerConfigure{Surface: d.monitors[1].layerSurface, Serial: 2},
	)

	before := conn.count("commit")
	d.reloadAndRepaint()
	if n := conn.count("commit") - before; n != 2 {
		t.Fatalf("commit count after reload %d, want 2", n)
	}
	if n := conn.count("damage"); n < 2 {
		t.Fatalf("expected damage on reload, got %d", n)
	}
}

func TestDrainReloads_CollapsesBurst(t *testing.T) {
	watch := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		watch <- struct{}{}
	}
	sig := make(chan os.Signal, 2)
	sig <- unix.SIGUSR1
	sig <- unix.SIGUSR1

	drainReloads(watch, sig)

	if len(watch) != 0 || len(sig) != 0 {
		t.Fatalf("burst not drained: watch=%d sig=%d", len(watch), len(sig))
	}
}
