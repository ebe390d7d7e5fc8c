package nm

import (
	"context"
)

// Snapshot is a consistent view of the NetworkManager objects.
type Snapshot struct {
	Devices     []Device
	Connections []Connection
	Active      []ActiveConnection
}

// TakeSnapshot reads devices, profiles and active connections.
func TakeSnapshot(ctx context.Context, client Client) (*Snapshot, error) {
	devices, err := client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	conns, err := client.Connections(ctx)
	if err != nil {
		return nil, err
	}

	active, err := client.ActiveConnections(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Devices: devices, Connections: conns, Active: active}, nil
}

// Device returns the device named iface, or nil.
func (s *Snapshot) Device(iface string) *Device {
	for i := range s.Devices {
		if s.Devices[i].Interface == iface {
			return &s.Devices[i]
		}
	}

	return nil
}

// DeviceByPath returns the device at path, or nil.
func (s *Snapshot) DeviceByPath(path string) *Device {
	for i := range s.Devices {
		if s.Devices[i].Path == path {
			return &s.Devices[i]
		}
	}

	return nil
}

// Connection returns the profile with the UUID, or nil.
func (s *Snapshot) Connection(uuid string) *Connection {
	for i := range s.Connections {
		if s.Connections[i].UUID() == uuid {
			return &s.Connections[i]
		}
	}

	return nil
}

// ConnectionByPath returns the profile at path, or nil.
func (s *Snapshot) ConnectionByPath(path string) *Connection {
	for i := range s.Connections {
		if s.Connections[i].Path == path {
			return &s.Connections[i]
		}
	}

	return nil
}

// ActiveConnection returns the active connection at path, or nil.
func (s *Snapshot) ActiveConnection(path string) *ActiveConnection {
	for i := range s.Active {
		if s.Active[i].Path == path {
			return &s.Active[i]
		}
	}

	return nil
}

// ActiveProfile returns the profile activated on the device, or nil.
func (s *Snapshot) ActiveProfile(dev *Device) *Connection {
	if dev.ActiveConnection == "" {
		return nil
	}

	active := s.ActiveConnection(dev.ActiveConnection)
	if active == nil {
		return nil
	}

	conn := s.ConnectionByPath(active.Connection)
	if conn == nil {
		conn = s.Connection(active.UUID)
	}

	return conn
}

// AvailableProfiles returns the profiles NetworkManager can activate on the device.
func (s *Snapshot) AvailableProfiles(dev *Device) []Connection {
	ret := []Connection{}

	for _, path := range dev.AvailableConnections {
		conn := s.ConnectionByPath(path)
		if conn != nil {
			ret = append(ret, *conn)
		}
	}

	return ret
}

// ProfilesForIface returns the profiles bound to iface by name, or by the MAC of the device.
func (s *Snapshot) ProfilesForIface(iface string) []Connection {
	dev := s.Device(iface)
	ret := []Connection{}

	for _, conn := range s.Connections {
		if conn.InterfaceName() == iface {
			ret = append(ret, conn)

			continue
		}

		if dev == nil || conn.InterfaceName() != "" || conn.Settings.Wired == nil {
			continue
		}

		if conn.Settings.Wired.MACAddress != "" && equalMAC(conn.Settings.Wired.MACAddress, dev.MAC()) {
			ret = append(ret, conn)
		}
	}

	return ret
}

// IfaceOf returns the interface name of the profile with the UUID.
func (s *Snapshot) IfaceOf(uuid string) string {
	conn := s.Connection(uuid)
	if conn == nil {
		return ""
	}

	if conn.InterfaceName() != "" {
		return conn.InterfaceName()
	}

	if conn.Settings.Wired != nil && conn.Settings.Wired.MACAddress != "" {
		for _, dev := range s.Devices {
			if equalMAC(dev.MAC(), conn.Settings.Wired.MACAddress) {
				return dev.Interface
			}
		}
	}

	return ""
}
