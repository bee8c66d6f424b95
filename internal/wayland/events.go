package wayland

// Event is the closed set of notifications the dispatch loop delivers to
// the daemon. Every wire event that matters is decoded into exactly one
// of these; everything else is dropped at the router.
type Event interface {
	isEvent()
}

// Global announces a registry global.
type Global struct {
	Name      uint32 // registry name, not an object id
	Interface string
	Version   uint32
}

// GlobalRemove withdraws a registry global. For bound outputs this is the
// hot-unplug signal.
type GlobalRemove struct {
	Name uint32
}

// OutputMode carries an output's pixel geometry. Only the current mode
// (Flags&ModeCurrent != 0) is meaningful for layout.
type OutputMode struct {
	Output uint32 // wl_output object id
	Flags  uint32
	Width  int32
	Height int32
}

// ModeCurrent flags the mode currently driving the output.
const ModeCurrent = 0x1

// OutputName carries an output's name (wl_output version 4).
type OutputName struct {
	Output uint32
	Name   string
}

// OutputDone is the terminal marker: the output's preceding properties
// form a consistent snapshot.
type OutputDone struct {
	Output uint32
}

// LayerConfigure is the layer surface configure handshake; it must be
// acknowledged with AckConfigure before drawing is valid.
type LayerConfigure struct {
	Surface uint32 // zwlr_layer_surface_v1 object id
	Serial  uint32
	Width   uint32
	Height  uint32
}

// LayerClosed reports that the compositor destroyed the layer surface.
type LayerClosed struct {
	Surface uint32
}

// ShmFormat advertises one pixel format supported by the compositor.
type ShmFormat struct {
	Format uint32
}

func (Global) isEvent()         {}
func (GlobalRemove) isEvent()   {}
func (OutputMode) isEvent()     {}
func (OutputName) isEvent()     {}
func (OutputDone) isEvent()     {}
func (LayerConfigure) isEvent() {}
func (LayerClosed) isEvent()    {}
func (ShmFormat) isEvent()      {}
