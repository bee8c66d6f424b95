package wayland

import "fmt"

// Interface names announced by the registry.
const (
	IfaceCompositor = "wl_compositor"
	IfaceShm        = "wl_shm"
	IfaceOutput     = "wl_output"
	IfaceLayerShell = "zwlr_layer_shell_v1"
)

// FormatBGR888 is the packed 24-bit format the pool buffers use: blue,
// green, red, one byte each, no padding.
const FormatBGR888 = 0x34324742

// LayerBackground places a layer surface below every other shell layer.
const LayerBackground = 0

// outputBindVersion caps wl_output binds at version 4, the first version
// carrying the name event.
const outputBindVersion = 4

func (c *Client) bind(name uint32, iface string, version uint32, k kind) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID(k)
	m := newMessage(registryID, 0)
	m.putUint32(name)
	m.putString(iface)
	m.putUint32(version)
	m.putUint32(id)
	if err := c.send(m, nil); err != nil {
		return 0, fmt.Errorf("binding %s: %w", iface, err)
	}
	return id, nil
}

// BindCompositor binds the wl_compositor global.
func (c *Client) BindCompositor(name, version uint32) (uint32, error) {
	return c.bind(name, IfaceCompositor, min(version, 4), kindCompositor)
}

// BindShm binds the wl_shm global.
func (c *Client) BindShm(name, version uint32) (uint32, error) {
	return c.bind(name, IfaceShm, min(version, 1), kindShm)
}

// BindLayerShell binds the zwlr_layer_shell_v1 global.
func (c *Client) BindLayerShell(name, version uint32) (uint32, error) {
	return c.bind(name, IfaceLayerShell, min(version, 4), kindLayerShell)
}

// BindOutput binds one wl_output global.
func (c *Client) BindOutput(name, version uint32) (uint32, error) {
	return c.bind(name, IfaceOutput, min(version, outputBindVersion), kindOutput)
}

// ReleaseOutput tells the compositor the client is done with an output.
func (c *Client) ReleaseOutput(output uint32) error {
	return c.request(output, 0)
}

// CreateSurface creates a wl_surface.
func (c *Client) CreateSurface(compositor uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID(kindSurface)
	m := newMessage(compositor, 0)
	m.putUint32(id)
	if err := c.send(m, nil); err != nil {
		return 0, fmt.Errorf("create_surface: %w", err)
	}
	return id, nil
}

// DestroySurface destroys a wl_surface.
func (c *Client) DestroySurface(surface uint32) error {
	return c.request(surface, 0)
}

// CreatePool shares fd with the compositor as a wl_shm_pool of size
// bytes. The fd travels out-of-band as SCM_RIGHTS data.
func (c *Client) CreatePool(shm uint32, fd int, size int32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID(kindShmPool)
	m := newMessage(shm, 0)
	m.putUint32(id)
	m.putInt32(size)
	if err := c.send(m, []int{fd}); err != nil {
		return 0, fmt.Errorf("create_pool: %w", err)
	}
	return id, nil
}

// ResizePool grows the pool. The compositor remaps the already-shared fd;
// existing buffers within the old range stay valid.
func (c *Client) ResizePool(pool uint32, size int32) error {
	m := newMessage(pool, 2)
	m.putInt32(size)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(m, nil)
}

// CreateBuffer carves a wl_buffer out of the pool.
func (c *Client) CreateBuffer(pool uint32, offset, width, height, stride int32, format uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID(kindBuffer)
	m := newMessage(pool, 0)
	m.putUint32(id)
	m.putInt32(offset)
	m.putInt32(width)
	m.putInt32(height)
	m.putInt32(stride)
	m.putUint32(format)
	if err := c.send(m, nil); err != nil {
		return 0, fmt.Errorf("create_buffer: %w", err)
	}
	return id, nil
}

// DestroyBuffer destroys a wl_buffer.
func (c *Client) DestroyBuffer(buffer uint32) error {
	return c.request(buffer, 0)
}

// Attach attaches a buffer to a surface at origin.
func (c *Client) Attach(surface, buffer uint32) error {
	return c.request(surface, 1, buffer, 0, 0)
}

// DamageBuffer marks the whole buffer damaged.
func (c *Client) DamageBuffer(surface uint32) error {
	const maxInt32 = 0x7fffffff
	return c.request(surface, 9, 0, 0, maxInt32, maxInt32)
}

// Commit atomically applies the surface's pending state.
func (c *Client) Commit(surface uint32) error {
	return c.request(surface, 6)
}

// GetLayerSurface wraps a surface in a zwlr_layer_surface_v1 on the given
// output at the background layer.
func (c *Client) GetLayerSurface(shell, surface, output uint32, namespace string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID(kindLayerSurface)
	m := newMessage(shell, 0)
	m.putUint32(id)
	m.putUint32(surface)
	m.putUint32(output)
	m.putUint32(LayerBackground)
	m.putString(namespace)
	if err := c.send(m, nil); err != nil {
		return 0, fmt.Errorf("get_layer_surface: %w", err)
	}
	return id, nil
}

// LayerSetSize requests the surface's size in surface-local coordinates.
func (c *Client) LayerSetSize(layerSurface, width, height uint32) error {
	return c.request(layerSurface, 0, width, height)
}

// LayerSetExclusiveZone with -1 makes the surface ignore every other
// surface's exclusive zone, as a wallpaper should.
func (c *Client) LayerSetExclusiveZone(layerSurface uint32, zone int32) error {
	return c.request(layerSurface, 2, uint32(zone))
}

// AckConfigure acknowledges a configure event.
func (c *Client) AckConfigure(layerSurface, serial uint32) error {
	return c.request(layerSurface, 6, serial)
}

// DestroyLayerSurface destroys a zwlr_layer_surface_v1.
func (c *Client) DestroyLayerSurface(layerSurface uint32) error {
	return c.request(layerSurface, 7)
}
