package nm

import (
	"cmp"
	"context"
	"errors"
	"slices"
)

// Device types.
const (
	DeviceTypeUnknown    uint32 = 0
	DeviceTypeEthernet   uint32 = 1
	DeviceTypeWifi       uint32 = 2
	DeviceTypeInfiniband uint32 = 9
	DeviceTypeBond       uint32 = 10
	DeviceTypeVLAN       uint32 = 11
	DeviceTypeBridge     uint32 = 13
	DeviceTypeTeam       uint32 = 15
)

// Device states.
const (
	DeviceStateUnknown   uint32 = 0
	DeviceStateUnmanaged uint32 = 10
	DeviceStateActivated uint32 = 100
)

// Connectivity states.
const (
	ConnectivityUnknown uint32 = 0
	ConnectivityNone    uint32 = 1
	ConnectivityPortal  uint32 = 2
	ConnectivityLimited uint32 = 3
	ConnectivityFull    uint32 = 4
)

// CapabilityTeam is reported when the team plugin is loaded.
const CapabilityTeam uint32 = 1

// ErrNotFound is returned when an object is not known to NetworkManager.
var ErrNotFound = errors.New("not found")

// Device is a network device managed by NetworkManager.
type Device struct {
	Path          string
	Interface     string
	Type          uint32
	State         uint32
	Driver        string
	HwAddress     string
	PermHwAddress string
	Carrier       bool

	S390Subchannels []string

	// ActiveConnection is empty when nothing is active on the device.
	ActiveConnection     string
	AvailableConnections []string
}

// MAC returns the permanent hardware address, or the current one if unset.
func (d *Device) MAC() string {
	if d.PermHwAddress != "" {
		return d.PermHwAddress
	}

	return d.HwAddress
}

// ActiveConnection is an activated profile.
type ActiveConnection struct {
	Path       string
	ID         string
	UUID       string
	Type       string
	Connection string
	Devices    []string
}

// EventKind identifies a change reported by NetworkManager.
type EventKind int

// Event kinds.
const (
	EventDeviceAdded EventKind = iota
	EventDeviceRemoved
	EventConnectionAdded
	EventConnectionRemoved
	EventActiveConnectionAdded
	EventConnectivityChanged
)

// Event is a change notification. Path is the object path of the subject.
type Event struct {
	Kind EventKind
	Path string
}

// Client is the subset of NetworkManager used by the network service.
type Client interface {
	Devices(ctx context.Context) ([]Device, error)
	Connections(ctx context.Context) ([]Connection, error)
	ActiveConnections(ctx context.Context) ([]ActiveConnection, error)

	AddConnection(ctx context.Context, settings Settings, flags uint32) (*Connection, error)
	UpdateConnection(ctx context.Context, conn *Connection, flags uint32) error
	ActivateConnection(ctx context.Context, conn string, device string) error

	Capabilities(ctx context.Context) ([]uint32, error)
	Connectivity(ctx context.Context) (uint32, error)

	// Events returns a channel of change notifications, closed on Close.
	Events() <-chan Event
	Close() error
}

// Factory opens a new client.
type Factory func(ctx context.Context) (Client, error)

// WithThreadClient runs fn with a dedicated client, closed when fn returns. Worker tasks
// use it so they don't share the service connection.
func WithThreadClient(ctx context.Context, factory Factory, fn func(Client) error) error {
	client, err := factory(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = client.Close() }()

	return fn(client)
}

// DeviceByIface returns the device named iface.
func DeviceByIface(ctx context.Context, client Client, iface string) (*Device, error) {
	devices, err := client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if dev.Interface == iface {
			return &dev, nil
		}
	}

	return nil, ErrNotFound
}

// ConnectionByUUID returns the profile with the given UUID.
func ConnectionByUUID(ctx context.Context, client Client, uuid string) (*Connection, error) {
	conns, err := client.Connections(ctx)
	if err != nil {
		return nil, err
	}

	for _, conn := range conns {
		if conn.UUID() == uuid {
			return &conn, nil
		}
	}

	return nil, ErrNotFound
}

// HasCapability reports whether NetworkManager reports the capability.
func HasCapability(ctx context.Context, client Client, capability uint32) (bool, error) {
	caps, err := client.Capabilities(ctx)
	if err != nil {
		return false, err
	}

	return slices.Contains(caps, capability), nil
}

// PortsOf returns the port profiles of the controller, which is matched by interface name or
// UUID. The result is sorted by interface name.
func PortsOf(conns []Connection, portType string, controller ...string) []Connection {
	ret := []Connection{}

	for _, conn := range conns {
		c := conn.Settings.Connection
		if c.Controller == "" || !slices.Contains(controller, c.Controller) {
			continue
		}

		if portType != "" && c.PortType != "" && c.PortType != portType {
			continue
		}

		ret = append(ret, conn)
	}

	slices.SortStableFunc(ret, func(a, b Connection) int {
		return cmp.Compare(portIface(a), portIface(b))
	})

	return ret
}

func portIface(c Connection) string {
	if c.InterfaceName() != "" {
		return c.InterfaceName()
	}

	if c.Settings.Wired != nil {
		return c.Settings.Wired.MACAddress
	}

	return ""
}
