// Package daemon runs the wallpaper daemon's single mutation-owning
// actor. Every piece of mutable state — the descriptor builder, the
// layout manager, the configure barrier, the painter targets — is touched
// only from the actor goroutine, which consumes typed events from the
// protocol dispatch loop and reload triggers from the signal and config
// watchers. No lock is ever held across a blocking wait.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/wlpaper/internal/compositor"
	"github.com/1broseidon/wlpaper/internal/config"
	"github.com/1broseidon/wlpaper/internal/layout"
	"github.com/1broseidon/wlpaper/internal/output"
	"github.com/1broseidon/wlpaper/internal/wayland"
)

// namespace identifies our layer surfaces to the compositor.
const namespace = "wlpaper"

// Conn is the slice of the protocol client the actor drives. The real
// implementation is *wayland.Client.
type Conn interface {
	BindCompositor(name, version uint32) (uint32, error)
	BindShm(name, version uint32) (uint32, error)
	BindLayerShell(name, version uint32) (uint32, error)
	BindOutput(name, version uint32) (uint32, error)
	ReleaseOutput(output uint32) error

	CreateSurface(compositor uint32) (uint32, error)
	DestroySurface(surface uint32) error
	CreatePool(shm uint32, fd int, size int32) (uint32, error)
	ResizePool(pool uint32, size int32) error
	CreateBuffer(pool uint32, offset, width, height, stride int32, format uint32) (uint32, error)
	DestroyBuffer(buffer uint32) error

	Attach(surface, buffer uint32) error
	DamageBuffer(surface uint32) error
	Commit(surface uint32) error

	GetLayerSurface(shell, surface, output uint32, namespace string) (uint32, error)
	LayerSetSize(layerSurface, width, height uint32) error
	LayerSetExclusiveZone(layerSurface uint32, zone int32) error
	AckConfigure(layerSurface, serial uint32) error
	DestroyLayerSurface(layerSurface uint32) error
}

// Options configures a Daemon.
type Options struct {
	// ConfigPath is the resolved config file; empty means run without
	// one (every output gets a black fill).
	ConfigPath string
	Logger     *slog.Logger
}

type monitorState struct {
	mon          *output.Monitor
	region       layout.Region
	surface      uint32
	layerSurface uint32
	buffer       uint32
	configured   bool
}

// Daemon is the actor. All fields are owned by the Run goroutine (or by
// the test driving handle directly); nothing here is safe for concurrent
// use.
type Daemon struct {
	log     *slog.Logger
	conn    Conn
	events  <-chan wayland.Event
	cfg     *config.Config
	cfgPath string

	builder *output.Builder
	lm      *layout.Manager
	barrier *compositor.Barrier
	painter *compositor.Painter

	compositorID uint32
	shmID        uint32
	layerShellID uint32

	poolID   uint32
	poolSize int

	monitors      []*monitorState
	outputGlobals map[uint32]uint32 // registry name -> wl_output object id
	pendingReady  []*output.Monitor // finalized before the globals completed
}

// New connects to the compositor and prepares the actor. The initial
// config load is fail-soft: a broken file logs and starts empty, matching
// reload semantics.
func New(opts Options) (*Daemon, *wayland.Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &config.Config{}
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFromPath(opts.ConfigPath)
		if err != nil {
			logger.Warn("config unusable, starting empty", "error", err)
		} else {
			cfg = loaded
		}
	}

	client, err := wayland.Connect(logger)
	if err != nil {
		return nil, nil, err
	}

	d := newDaemon(client, client.Events(), cfg, opts.ConfigPath, logger)
	return d, client, nil
}

func newDaemon(conn Conn, events <-chan wayland.Event, cfg *config.Config, cfgPath string, logger *slog.Logger) *Daemon {
	return &Daemon{
		log:           logger,
		conn:          conn,
		events:        events,
		cfg:           cfg,
		cfgPath:       cfgPath,
		builder:       output.NewBuilder(),
		lm:            layout.NewManager(),
		barrier:       compositor.NewBarrier(),
		painter:       compositor.NewPainter(logger),
		outputGlobals: make(map[uint32]uint32),
	}
}

// Run drives the actor until ctx is cancelled or a fatal error occurs.
// dispatchErr reports the outcome of the protocol dispatch loop running
// alongside.
func (d *Daemon) Run(ctx context.Context, dispatchErr <-chan error) error {
	defer d.lm.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGUSR1)
	defer signal.Stop(sig)

	var watch <-chan struct{}
	if d.cfgPath != "" {
		ch, err := config.Watch(ctx, d.cfgPath, d.log)
		if err != nil {
			d.log.Warn("cannot watch config file", "path", d.cfgPath, "error", err)
		} else {
			watch = ch
		}
	}

	events := d.events
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-dispatchErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("protocol dispatch: %w", err)
			}
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil // dispatchErr delivers the reason
				continue
			}
			if err := d.handle(ev); err != nil {
				return err
			}
		case <-sig:
			d.log.Info("received SIGUSR1, reloading config")
			drainReloads(watch, sig)
			d.reloadAndRepaint()
		case <-watch:
			drainReloads(watch, sig)
			d.reloadAndRepaint()
		}
	}
}

// drainReloads collapses a burst of queued reload triggers, from either
// source, so one repaint serves them all.
func drainReloads(watch <-chan struct{}, sig <-chan os.Signal) {
	for {
		select {
		case <-watch:
		case <-sig:
		default:
			return
		}
	}
}

// handle applies one protocol event. Only segment growth failures are
// fatal; everything local to a single monitor logs and continues.
func (d *Daemon) handle(ev wayland.Event) error {
	switch ev := ev.(type) {
	case wayland.Global:
		return d.handleGlobal(ev)
	case wayland.GlobalRemove:
		if outputID, ok := d.outputGlobals[ev.Name]; ok {
			delete(d.outputGlobals, ev.Name)
			d.removeOutput(outputID)
		}
	case wayland.OutputMode:
		if ev.Flags&wayland.ModeCurrent != 0 {
			d.builder.Geometry(ev.Output, int(ev.Width), int(ev.Height))
		}
	case wayland.OutputName:
		d.builder.Name(ev.Output, ev.Name)
	case wayland.OutputDone:
		mon, err := d.builder.Done(ev.Output)
		if err != nil {
			d.log.Error("skipping output", "output", ev.Output, "error", err)
			return nil
		}
		if !d.globalsReady() {
			d.pendingReady = append(d.pendingReady, mon)
			return nil
		}
		return d.setupMonitor(mon)
	case wayland.LayerConfigure:
		return d.handleConfigure(ev)
	case wayland.LayerClosed:
		if ms := d.findByLayerSurface(ev.Surface); ms != nil {
			d.log.Info("layer surface closed by compositor", "output", ms.mon.Name)
			d.removeOutput(ms.mon.ID)
		}
	case wayland.ShmFormat:
		d.log.Debug("shm format advertised", "format", fmt.Sprintf("%#x", ev.Format))
	}
	return nil
}

func (d *Daemon) handleGlobal(ev wayland.Global) error {
	var err error
	switch ev.Interface {
	case wayland.IfaceCompositor:
		d.compositorID, err = d.conn.BindCompositor(ev.Name, ev.Version)
	case wayland.IfaceShm:
		d.shmID, err = d.conn.BindShm(ev.Name, ev.Version)
	case wayland.IfaceLayerShell:
		d.layerShellID, err = d.conn.BindLayerShell(ev.Name, ev.Version)
	case wayland.IfaceOutput:
		var id uint32
		id, err = d.conn.BindOutput(ev.Name, ev.Version)
		if err == nil {
			d.outputGlobals[ev.Name] = id
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("binding %s: %w", ev.Interface, err)
	}

	if d.globalsReady() && len(d.pendingReady) > 0 {
		pending := d.pendingReady
		d.pendingReady = nil
		for _, mon := range pending {
			if err := d.setupMonitor(mon); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Daemon) globalsReady() bool {
	return d.compositorID != 0 && d.shmID != 0 && d.layerShellID != 0
}

// setupMonitor registers the monitor's region, grows the pool and creates
// its layer surface. The first paint happens on the configure ack.
func (d *Daemon) setupMonitor(mon *output.Monitor) error {
	region, err := d.lm.Register(mon)
	if err != nil {
		if errors.Is(err, layout.ErrDuplicateMonitor) {
			d.log.Error("cannot register monitor", "output", mon.Name, "error", err)
			return nil
		}
		// The shared segment could not be created or grown; nothing can
		// be painted anymore.
		return fmt.Errorf("segment for %s: %w", mon.Name, err)
	}
	d.log.Info("monitor ready", "output", mon.Name,
		"size", fmt.Sprintf("%dx%d", mon.Width, mon.Height),
		"offset", region.Offset, "length", region.Length)

	if err := d.ensurePool(); err != nil {
		return err
	}

	surface, err := d.conn.CreateSurface(d.compositorID)
	if err != nil {
		return err
	}
	layerSurface, err := d.conn.GetLayerSurface(d.layerShellID, surface, mon.ID, namespace)
	if err != nil {
		return err
	}
	if err := d.conn.LayerSetSize(layerSurface, uint32(mon.Width), uint32(mon.Height)); err != nil {
		return err
	}
	if err := d.conn.LayerSetExclusiveZone(layerSurface, -1); err != nil {
		return err
	}
	if err := d.conn.Commit(surface); err != nil {
		return err
	}

	d.barrier.Add(layerSurface)
	d.monitors = append(d.monitors, &monitorState{
		mon:          mon,
		region:       region,
		surface:      surface,
		layerSurface: layerSurface,
	})
	return nil
}

// ensurePool keeps the wl_shm pool as large as the segment. The pool is
// resized in place, never recreated: existing buffers keep their offsets
// because growth only appends capacity past the previous tail.
func (d *Daemon) ensurePool() error {
	seg := d.lm.Segment()
	if seg == nil {
		return nil
	}
	if d.poolID == 0 {
		id, err := d.conn.CreatePool(d.shmID, seg.FD(), int32(seg.Size()))
		if err != nil {
			return fmt.Errorf("creating shm pool: %w", err)
		}
		d.poolID = id
		d.poolSize = seg.Size()
		return nil
	}
	if seg.Size() > d.poolSize {
		if err := d.conn.ResizePool(d.poolID, int32(seg.Size())); err != nil {
			return fmt.Errorf("resizing shm pool: %w", err)
		}
		d.poolSize = seg.Size()
	}
	return nil
}

func (d *Daemon) handleConfigure(ev wayland.LayerConfigure) error {
	if err := d.conn.AckConfigure(ev.Surface, ev.Serial); err != nil {
		return err
	}

	if d.barrier.Ack(ev.Surface) {
		// Every startup surface has configured: first full pass.
		d.log.Info("all surfaces configured, painting")
		return d.paintAndAttach(d.monitors)
	}

	ms := d.findByLayerSurface(ev.Surface)
	if ms == nil || ms.configured || !d.barrier.Released() {
		// Duplicate configure of a counted surface, or still waiting on
		// the barrier; the ack above is all that was needed.
		return nil
	}

	// A monitor that arrived after the first pass: paint it on its own.
	return d.paintAndAttach([]*monitorState{ms})
}

// paintAndAttach paints the given monitors' regions in arrival order,
// then gives each surface a buffer spanning its region and commits.
func (d *Daemon) paintAndAttach(monitors []*monitorState) error {
	seg := d.lm.Segment()
	if seg == nil {
		return nil
	}

	targets := make([]compositor.Target, 0, len(monitors))
	for _, ms := range monitors {
		targets = append(targets, compositor.Target{
			Monitor: ms.mon,
			Region:  ms.region,
			Pref:    d.cfg.Preference(ms.mon.Name),
		})
	}
	d.painter.PaintAll(targets, seg.Data())

	for _, ms := range monitors {
		if err := d.attachBuffer(ms); err != nil {
			return err
		}
		ms.configured = true
	}
	return nil
}

func (d *Daemon) attachBuffer(ms *monitorState) error {
	if ms.buffer != 0 {
		if err := d.conn.DestroyBuffer(ms.buffer); err != nil {
			return err
		}
		ms.buffer = 0
	}
	buffer, err := d.conn.CreateBuffer(d.poolID,
		int32(ms.region.Offset),
		int32(ms.mon.Width), int32(ms.mon.Height),
		int32(ms.mon.Width*3),
		wayland.FormatBGR888)
	if err != nil {
		return err
	}
	ms.buffer = buffer

	if err := d.conn.Attach(ms.surface, buffer); err != nil {
		return err
	}
	if err := d.conn.DamageBuffer(ms.surface); err != nil {
		return err
	}
	return d.conn.Commit(ms.surface)
}

// reloadAndRepaint re-reads the config and repaints every configured
// monitor. A failed re-read keeps the previous preferences untouched.
func (d *Daemon) reloadAndRepaint() {
	if d.cfgPath != "" {
		cfg, err := config.LoadFromPath(d.cfgPath)
		if err != nil {
			d.log.Error("config reload failed, keeping previous", "error", err)
		} else {
			d.cfg = cfg
		}
	}

	seg := d.lm.Segment()
	if seg == nil {
		return
	}

	targets := make([]compositor.Target, 0, len(d.monitors))
	for _, ms := range d.monitors {
		if !ms.configured {
			continue
		}
		targets = append(targets, compositor.Target{
			Monitor: ms.mon,
			Region:  ms.region,
			Pref:    d.cfg.Preference(ms.mon.Name),
		})
	}
	d.painter.PaintAll(targets, seg.Data())

	for _, ms := range d.monitors {
		if !ms.configured {
			continue
		}
		if err := d.conn.DamageBuffer(ms.surface); err != nil {
			d.log.Error("damage after reload", "output", ms.mon.Name, "error", err)
			continue
		}
		if err := d.conn.Commit(ms.surface); err != nil {
			d.log.Error("commit after reload", "output", ms.mon.Name, "error", err)
		}
	}
}

func (d *Daemon) findByLayerSurface(id uint32) *monitorState {
	for _, ms := range d.monitors {
		if ms.layerSurface == id {
			return ms
		}
	}
	return nil
}

// removeOutput tears one monitor down: protocol objects released, region
// bookkeeping dropped. The segment keeps the hole for a same-name return.
func (d *Daemon) removeOutput(outputID uint32) {
	for i, ms := range d.monitors {
		if ms.mon.ID != outputID {
			continue
		}
		d.log.Info("monitor removed", "output", ms.mon.Name)
		if ms.buffer != 0 {
			if err := d.conn.DestroyBuffer(ms.buffer); err != nil {
				d.log.Error("destroy buffer", "output", ms.mon.Name, "error", err)
			}
		}
		if err := d.conn.DestroyLayerSurface(ms.layerSurface); err != nil {
			d.log.Error("destroy layer surface", "output", ms.mon.Name, "error", err)
		}
		if err := d.conn.DestroySurface(ms.surface); err != nil {
			d.log.Error("destroy surface", "output", ms.mon.Name, "error", err)
		}
		if err := d.conn.ReleaseOutput(ms.mon.ID); err != nil {
			d.log.Error("release output", "output", ms.mon.Name, "error", err)
		}
		d.lm.Teardown(ms.mon.Name)
		d.monitors = append(d.monitors[:i], d.monitors[i+1:]...)
		return
	}
}
