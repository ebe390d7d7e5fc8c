// Package nmtest provides an in-memory NetworkManager for tests.
package nmtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/osinstall/instconfd/internal/nm"
)

// Client is an in-memory nm.Client.
type Client struct {
	mu sync.Mutex

	DeviceList     []nm.Device
	ConnectionList []nm.Connection
	ActiveList     []nm.ActiveConnection
	Caps           []uint32
	State          uint32

	// Added and Updated record the writes with their flags.
	Added       []nm.Settings
	AddFlags    []uint32
	Updated     []nm.Settings
	UpdateFlags []uint32
	Activated   []string

	// BlockAdd makes AddConnection wait for the context to expire.
	BlockAdd bool

	events chan nm.Event
	nextID int
}

// New returns an empty client.
func New() *Client {
	return &Client{
		State:  nm.ConnectivityFull,
		events: make(chan nm.Event, 64),
	}
}

// Emit queues an event.
func (c *Client) Emit(event nm.Event) {
	c.events <- event
}

// Factory returns a factory yielding c.
func (c *Client) Factory() nm.Factory {
	return func(context.Context) (nm.Client, error) {
		return c, nil
	}
}

// AddDevice registers a device.
func (c *Client) AddDevice(dev nm.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dev.Path == "" {
		c.nextID++
		dev.Path = fmt.Sprintf("/org/freedesktop/NetworkManager/Devices/%d", c.nextID)
	}

	c.DeviceList = append(c.DeviceList, dev)
}

// RemoveDevice unregisters a device and returns its path.
func (c *Client) RemoveDevice(iface string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, dev := range c.DeviceList {
		if dev.Interface == iface {
			c.DeviceList = slices.Delete(c.DeviceList, i, i+1)

			return dev.Path
		}
	}

	return ""
}

// SetDeviceState changes the state of the device.
func (c *Client) SetDeviceState(iface string, state uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, dev := range c.DeviceList {
		if dev.Interface == iface {
			c.DeviceList[i].State = state
		}
	}
}

// AddProfile stores a profile as persistent and returns its path.
func (c *Client) AddProfile(settings nm.Settings, filename string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store(settings, filename)
}

// RemoveProfile drops the profile and returns its path.
func (c *Client) RemoveProfile(uuid string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, conn := range c.ConnectionList {
		if conn.UUID() == uuid {
			c.ConnectionList = slices.Delete(c.ConnectionList, i, i+1)

			return conn.Path
		}
	}

	return ""
}

// Activate marks the profile active on the device.
func (c *Client) Activate(uuid string, iface string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	active := nm.ActiveConnection{
		Path: fmt.Sprintf("/org/freedesktop/NetworkManager/ActiveConnection/%d", c.nextID),
		UUID: uuid,
	}

	for _, conn := range c.ConnectionList {
		if conn.UUID() == uuid {
			active.ID = conn.ID()
			active.Type = conn.Type()
			active.Connection = conn.Path
		}
	}

	for i, dev := range c.DeviceList {
		if dev.Interface == iface {
			c.DeviceList[i].ActiveConnection = active.Path
			active.Devices = append(active.Devices, dev.Path)
		}
	}

	c.ActiveList = append(c.ActiveList, active)

	return active.Path
}

func (c *Client) store(settings nm.Settings, filename string) string {
	c.nextID++
	path := fmt.Sprintf("/org/freedesktop/NetworkManager/Settings/%d", c.nextID)

	if filename == "" {
		filename = "/etc/NetworkManager/system-connections/" + settings.Connection.ID + ".nmconnection"
	}

	c.ConnectionList = append(c.ConnectionList, nm.Connection{
		Path:     path,
		Filename: filename,
		Settings: settings.Clone(),
	})

	return path
}

// Devices returns the devices.
func (c *Client) Devices(_ context.Context) ([]nm.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.DeviceList), nil
}

// Connections returns the profiles.
func (c *Client) Connections(_ context.Context) ([]nm.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ret := make([]nm.Connection, 0, len(c.ConnectionList))
	for _, conn := range c.ConnectionList {
		conn.Settings = conn.Settings.Clone()
		ret = append(ret, conn)
	}

	return ret, nil
}

// ActiveConnections returns the active connections.
func (c *Client) ActiveConnections(_ context.Context) ([]nm.ActiveConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.ActiveList), nil
}

// AddConnection stores a profile.
func (c *Client) AddConnection(ctx context.Context, settings nm.Settings, flags uint32) (*nm.Connection, error) {
	if c.BlockAdd {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Added = append(c.Added, settings.Clone())
	c.AddFlags = append(c.AddFlags, flags)
	c.store(settings, "")

	conn := c.ConnectionList[len(c.ConnectionList)-1]
	conn.Settings = conn.Settings.Clone()

	return &conn, nil
}

// UpdateConnection replaces the stored settings.
func (c *Client) UpdateConnection(_ context.Context, conn *nm.Connection, flags uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, stored := range c.ConnectionList {
		if stored.Path == conn.Path {
			c.ConnectionList[i].Settings = conn.Settings.Clone()
			c.Updated = append(c.Updated, conn.Settings.Clone())
			c.UpdateFlags = append(c.UpdateFlags, flags)

			return nil
		}
	}

	return nm.ErrNotFound
}

// ActivateConnection records the activation.
func (c *Client) ActivateConnection(_ context.Context, conn string, device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Activated = append(c.Activated, conn+"@"+device)

	return nil
}

// Capabilities returns Caps.
func (c *Client) Capabilities(_ context.Context) ([]uint32, error) {
	return c.Caps, nil
}

// Connectivity returns State.
func (c *Client) Connectivity(_ context.Context) (uint32, error) {
	return c.State, nil
}

// Events returns the queued events.
func (c *Client) Events() <-chan nm.Event {
	return c.events
}

// Close does nothing, the client is shared by the test.
func (c *Client) Close() error {
	return nil
}
