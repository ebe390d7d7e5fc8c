package nm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	busName = "org.freedesktop.NetworkManager"

	nmPath       = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	settingsPath = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")

	nmIface           = "org.freedesktop.NetworkManager"
	settingsIface     = "org.freedesktop.NetworkManager.Settings"
	connectionIface   = "org.freedesktop.NetworkManager.Settings.Connection"
	deviceIface       = "org.freedesktop.NetworkManager.Device"
	wiredIface        = "org.freedesktop.NetworkManager.Device.Wired"
	infinibandIface   = "org.freedesktop.NetworkManager.Device.Infiniband"
	activeIface       = "org.freedesktop.NetworkManager.Connection.Active"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// DBusClient is a Client backed by the NetworkManager daemon.
type DBusClient struct {
	conn  *dbus.Conn
	owned bool

	signals chan *dbus.Signal
	events  chan Event
	done    chan struct{}
	once    sync.Once

	active []string
}

// NewDBusClient returns a client on an existing system bus connection, which is left open on Close.
func NewDBusClient(ctx context.Context, conn *dbus.Conn) (*DBusClient, error) {
	c := &DBusClient{
		conn:    conn,
		signals: make(chan *dbus.Signal, 64),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}

	err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Connect opens a private system bus connection and returns a client owning it.
func Connect(ctx context.Context) (Client, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	c, err := NewDBusClient(ctx, conn)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	c.owned = true

	return c, nil
}

func (c *DBusClient) subscribe(ctx context.Context) error {
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchObjectPath(nmPath), dbus.WithMatchInterface(nmIface), dbus.WithMatchMember("DeviceAdded")},
		{dbus.WithMatchObjectPath(nmPath), dbus.WithMatchInterface(nmIface), dbus.WithMatchMember("DeviceRemoved")},
		{dbus.WithMatchObjectPath(nmPath), dbus.WithMatchInterface(propertiesIface), dbus.WithMatchMember("PropertiesChanged")},
		{dbus.WithMatchObjectPath(settingsPath), dbus.WithMatchInterface(settingsIface), dbus.WithMatchMember("NewConnection")},
		{dbus.WithMatchObjectPath(settingsPath), dbus.WithMatchInterface(settingsIface), dbus.WithMatchMember("ConnectionRemoved")},
	}

	for _, match := range matches {
		err := c.conn.AddMatchSignalContext(ctx, match...)
		if err != nil {
			return fmt.Errorf("failed to subscribe to NetworkManager signals: %w", err)
		}
	}

	active, err := c.activePaths(ctx)
	if err != nil {
		return err
	}

	c.active = active

	c.conn.Signal(c.signals)

	go c.dispatch()

	return nil
}

func (c *DBusClient) dispatch() {
	defer close(c.events)

	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}

			for _, event := range c.translate(sig) {
				select {
				case c.events <- event:
				case <-c.done:
					return
				}
			}
		}
	}
}

func (c *DBusClient) translate(sig *dbus.Signal) []Event {
	path := func() string {
		if len(sig.Body) == 0 {
			return ""
		}

		p, _ := sig.Body[0].(dbus.ObjectPath)

		return string(p)
	}

	switch sig.Name {
	case nmIface + ".DeviceAdded":
		return []Event{{Kind: EventDeviceAdded, Path: path()}}
	case nmIface + ".DeviceRemoved":
		return []Event{{Kind: EventDeviceRemoved, Path: path()}}
	case settingsIface + ".NewConnection":
		return []Event{{Kind: EventConnectionAdded, Path: path()}}
	case settingsIface + ".ConnectionRemoved":
		return []Event{{Kind: EventConnectionRemoved, Path: path()}}
	case propertiesChanged:
		if sig.Path != nmPath || len(sig.Body) < 2 {
			return nil
		}

		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		events := []Event{}

		_, ok := changed["Connectivity"]
		if ok {
			events = append(events, Event{Kind: EventConnectivityChanged, Path: string(nmPath)})
		}

		value, ok := changed["ActiveConnections"]
		if !ok {
			return events
		}

		current := pathStrings(value)

		for _, p := range current {
			if !slices.Contains(c.active, p) {
				events = append(events, Event{Kind: EventActiveConnectionAdded, Path: p})
			}
		}

		c.active = current

		return events
	}

	return nil
}

// Events returns the change notifications.
func (c *DBusClient) Events() <-chan Event {
	return c.events
}

// Close stops the notifications and closes an owned connection.
func (c *DBusClient) Close() error {
	var err error

	c.once.Do(func() {
		c.conn.RemoveSignal(c.signals)
		close(c.done)

		if c.owned {
			err = c.conn.Close()
		}
	})

	return err
}

func (c *DBusClient) getAll(ctx context.Context, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	props := map[string]dbus.Variant{}

	err := c.conn.Object(busName, path).CallWithContext(ctx, propertiesIface+".GetAll", 0, iface).Store(&props)
	if err != nil {
		return nil, err
	}

	return props, nil
}

func (c *DBusClient) activePaths(ctx context.Context) ([]string, error) {
	props, err := c.getAll(ctx, nmPath, nmIface)
	if err != nil {
		return nil, fmt.Errorf("failed to query NetworkManager: %w", err)
	}

	return pathStrings(props["ActiveConnections"]), nil
}

// Devices returns every device.
func (c *DBusClient) Devices(ctx context.Context) ([]Device, error) {
	var paths []dbus.ObjectPath

	err := c.conn.Object(busName, nmPath).CallWithContext(ctx, nmIface+".GetDevices", 0).Store(&paths)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	ret := make([]Device, 0, len(paths))

	for _, path := range paths {
		props, err := c.getAll(ctx, path, deviceIface)
		if err != nil {
			// Devices may vanish while listing.
			slog.DebugContext(ctx, "Failed to read device", "path", path, "err", err)

			continue
		}

		dev := Device{
			Path:                 string(path),
			Interface:            variantString(props["Interface"]),
			Driver:               variantString(props["Driver"]),
			HwAddress:            variantString(props["HwAddress"]),
			ActiveConnection:     variantPath(props["ActiveConnection"]),
			AvailableConnections: pathStrings(props["AvailableConnections"]),
		}

		dev.Type, _ = props["DeviceType"].Value().(uint32)
		dev.State, _ = props["State"].Value().(uint32)

		switch dev.Type {
		case DeviceTypeEthernet:
			wired, err := c.getAll(ctx, path, wiredIface)
			if err == nil {
				dev.PermHwAddress = variantString(wired["PermHwAddress"])
				dev.Carrier, _ = wired["Carrier"].Value().(bool)
				dev.S390Subchannels, _ = wired["S390Subchannels"].Value().([]string)
			}

		case DeviceTypeInfiniband:
			ib, err := c.getAll(ctx, path, infinibandIface)
			if err == nil {
				dev.Carrier, _ = ib["Carrier"].Value().(bool)
			}
		}

		ret = append(ret, dev)
	}

	return ret, nil
}

// Connections returns every profile.
func (c *DBusClient) Connections(ctx context.Context) ([]Connection, error) {
	var paths []dbus.ObjectPath

	err := c.conn.Object(busName, settingsPath).CallWithContext(ctx, settingsIface+".ListConnections", 0).Store(&paths)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	ret := make([]Connection, 0, len(paths))

	for _, path := range paths {
		conn, err := c.connection(ctx, path)
		if err != nil {
			slog.DebugContext(ctx, "Failed to read connection", "path", path, "err", err)

			continue
		}

		ret = append(ret, *conn)
	}

	return ret, nil
}

func (c *DBusClient) connection(ctx context.Context, path dbus.ObjectPath) (*Connection, error) {
	var raw SettingsMap

	err := c.conn.Object(busName, path).CallWithContext(ctx, connectionIface+".GetSettings", 0).Store(&raw)
	if err != nil {
		return nil, err
	}

	settings, err := FromDBus(raw)
	if err != nil {
		return nil, err
	}

	props, err := c.getAll(ctx, path, connectionIface)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		Path:     string(path),
		Filename: variantString(props["Filename"]),
		Settings: settings,
	}

	conn.Flags, _ = props["Flags"].Value().(uint32)
	conn.Unsaved, _ = props["Unsaved"].Value().(bool)

	return conn, nil
}

// ActiveConnections returns the activated profiles.
func (c *DBusClient) ActiveConnections(ctx context.Context) ([]ActiveConnection, error) {
	paths, err := c.activePaths(ctx)
	if err != nil {
		return nil, err
	}

	ret := make([]ActiveConnection, 0, len(paths))

	for _, path := range paths {
		props, err := c.getAll(ctx, dbus.ObjectPath(path), activeIface)
		if err != nil {
			slog.DebugContext(ctx, "Failed to read active connection", "path", path, "err", err)

			continue
		}

		ret = append(ret, ActiveConnection{
			Path:       path,
			ID:         variantString(props["Id"]),
			UUID:       variantString(props["Uuid"]),
			Type:       variantString(props["Type"]),
			Connection: variantPath(props["Connection"]),
			Devices:    pathStrings(props["Devices"]),
		})
	}

	return ret, nil
}

// AddConnection adds a profile and returns it as stored by NetworkManager.
func (c *DBusClient) AddConnection(ctx context.Context, settings Settings, flags uint32) (*Connection, error) {
	var (
		path   dbus.ObjectPath
		result map[string]dbus.Variant
	)

	err := c.conn.Object(busName, settingsPath).CallWithContext(ctx, settingsIface+".AddConnection2", 0, ToDBus(settings), flags, map[string]dbus.Variant{}).Store(&path, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to add connection %q: %w", settings.Connection.ID, err)
	}

	return c.connection(ctx, path)
}

// UpdateConnection replaces the stored settings of conn.
func (c *DBusClient) UpdateConnection(ctx context.Context, conn *Connection, flags uint32) error {
	var result map[string]dbus.Variant

	err := c.conn.Object(busName, dbus.ObjectPath(conn.Path)).CallWithContext(ctx, connectionIface+".Update2", 0, ToDBus(conn.Settings), flags, map[string]dbus.Variant{}).Store(&result)
	if err != nil {
		return fmt.Errorf("failed to update connection %q: %w", conn.UUID(), err)
	}

	return nil
}

// ActivateConnection activates the profile at conn on device. An empty device lets
// NetworkManager pick one.
func (c *DBusClient) ActivateConnection(ctx context.Context, conn string, device string) error {
	if device == "" {
		device = "/"
	}

	var active dbus.ObjectPath

	err := c.conn.Object(busName, nmPath).CallWithContext(ctx, nmIface+".ActivateConnection", 0, dbus.ObjectPath(conn), dbus.ObjectPath(device), dbus.ObjectPath("/")).Store(&active)
	if err != nil {
		return fmt.Errorf("failed to activate connection %s: %w", conn, err)
	}

	return nil
}

// Capabilities returns the daemon capabilities.
func (c *DBusClient) Capabilities(ctx context.Context) ([]uint32, error) {
	props, err := c.getAll(ctx, nmPath, nmIface)
	if err != nil {
		return nil, err
	}

	caps, _ := props["Capabilities"].Value().([]uint32)

	return caps, nil
}

// Connectivity returns the last known connectivity state.
func (c *DBusClient) Connectivity(ctx context.Context) (uint32, error) {
	props, err := c.getAll(ctx, nmPath, nmIface)
	if err != nil {
		return ConnectivityUnknown, err
	}

	state, _ := props["Connectivity"].Value().(uint32)

	return state, nil
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)

	return s
}

func variantPath(v dbus.Variant) string {
	p, _ := v.Value().(dbus.ObjectPath)
	if p == "/" {
		return ""
	}

	return string(p)
}

func pathStrings(v dbus.Variant) []string {
	paths, _ := v.Value().([]dbus.ObjectPath)

	ret := make([]string, 0, len(paths))
	for _, p := range paths {
		ret = append(ret, string(p))
	}

	return ret
}
