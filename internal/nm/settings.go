// Package nm talks to NetworkManager: connection profiles, devices, kickstart conversion
// and early boot arguments.
package nm

import (
	"maps"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Connection types.
const (
	TypeEthernet   = "802-3-ethernet"
	TypeWifi       = "802-11-wireless"
	TypeInfiniband = "infiniband"
	TypeBond       = "bond"
	TypeTeam       = "team"
	TypeBridge     = "bridge"
	TypeVLAN       = "vlan"
)

// IPv4 and IPv6 methods.
const (
	MethodAuto      = "auto"
	MethodDHCP      = "dhcp"
	MethodManual    = "manual"
	MethodDisabled  = "disabled"
	MethodIgnore    = "ignore"
	MethodLinkLocal = "link-local"
)

// AddrGenModeEUI64 generates IPv6 addresses from the hardware address.
const AddrGenModeEUI64 int32 = 0

// Settings connection flags.
const (
	ConnectionFlagUnsaved     uint32 = 0x1
	ConnectionFlagNMGenerated uint32 = 0x2
	ConnectionFlagVolatile    uint32 = 0x4
	ConnectionFlagExternal    uint32 = 0x8
)

// Flags of AddConnection2 and Update2.
const (
	FlagToDisk           uint32 = 0x1
	FlagInMemory         uint32 = 0x2
	FlagBlockAutoconnect uint32 = 0x20
)

// Address is an IP address with its prefix length.
type Address struct {
	Address string
	Prefix  uint32
}

// ConnectionSettings is the "connection" setting.
type ConnectionSettings struct {
	ID            string
	UUID          string
	Type          string
	InterfaceName string
	Autoconnect   bool
	ReadOnly      bool

	// Controller and PortType are also known as master and slave-type.
	Controller string
	PortType   string

	MultiConnect      int32
	WaitDeviceTimeout int32
}

// WiredSettings is the "802-3-ethernet" setting.
type WiredSettings struct {
	MACAddress      string
	MTU             uint32
	S390Subchannels []string
	S390NetType     string
	S390Options     map[string]string
}

// WirelessSettings is the "802-11-wireless" setting.
type WirelessSettings struct {
	SSID string
	Mode string
}

// InfinibandSettings is the "infiniband" setting.
type InfinibandSettings struct {
	TransportMode string
	MACAddress    string
}

// BondSettings is the "bond" setting.
type BondSettings struct {
	Options map[string]string
}

// TeamSettings is the "team" and "team-port" setting.
type TeamSettings struct {
	Config string
}

// BridgeSettings is the "bridge" setting.
type BridgeSettings struct {
	STP               bool
	Priority          uint32
	ForwardDelay      uint32
	HelloTime         uint32
	MaxAge            uint32
	AgeingTime        uint32
	MulticastSnooping bool
}

// DefaultBridgeSettings returns the NetworkManager bridge defaults.
func DefaultBridgeSettings() BridgeSettings {
	return BridgeSettings{
		STP:               true,
		Priority:          32768,
		ForwardDelay:      15,
		HelloTime:         2,
		MaxAge:            20,
		AgeingTime:        300,
		MulticastSnooping: true,
	}
}

// VLANSettings is the "vlan" setting.
type VLANSettings struct {
	ID     uint32
	Parent string
}

// IPSettings is the "ipv4" or "ipv6" setting.
type IPSettings struct {
	Method        string
	Addresses     []Address
	Gateway       string
	DNS           []string
	DNSSearch     []string
	IgnoreAutoDNS bool
	NeverDefault  bool

	// IPv4 only.
	DHCPVendorClassIdentifier string
	DHCPHostname              string

	// IPv6 only, nil keeps the NetworkManager default.
	AddrGenMode *int32
}

// Settings is a connection profile.
type Settings struct {
	Connection ConnectionSettings
	Wired      *WiredSettings
	Wireless   *WirelessSettings
	Infiniband *InfinibandSettings
	Bond       *BondSettings
	Team       *TeamSettings
	TeamPort   *TeamSettings
	Bridge     *BridgeSettings
	VLAN       *VLANSettings
	IPv4       *IPSettings
	IPv6       *IPSettings

	// raw keeps what the codec doesn't model so an update doesn't drop it.
	raw map[string]map[string]dbus.Variant
}

// IsPort reports whether the profile is a port of a bond, team or bridge.
func (s *Settings) IsPort() bool {
	return s.Connection.Controller != "" || s.Connection.PortType != ""
}

// Clone returns a deep copy.
func (s *Settings) Clone() Settings {
	ret := *s

	if s.Wired != nil {
		w := *s.Wired
		w.S390Subchannels = slices.Clone(w.S390Subchannels)
		w.S390Options = maps.Clone(w.S390Options)
		ret.Wired = &w
	}

	if s.Wireless != nil {
		w := *s.Wireless
		ret.Wireless = &w
	}

	if s.Infiniband != nil {
		ib := *s.Infiniband
		ret.Infiniband = &ib
	}

	if s.Bond != nil {
		ret.Bond = &BondSettings{Options: maps.Clone(s.Bond.Options)}
	}

	if s.Team != nil {
		t := *s.Team
		ret.Team = &t
	}

	if s.TeamPort != nil {
		t := *s.TeamPort
		ret.TeamPort = &t
	}

	if s.Bridge != nil {
		b := *s.Bridge
		ret.Bridge = &b
	}

	if s.VLAN != nil {
		v := *s.VLAN
		ret.VLAN = &v
	}

	ret.IPv4 = s.IPv4.clone()
	ret.IPv6 = s.IPv6.clone()

	if s.raw != nil {
		ret.raw = make(map[string]map[string]dbus.Variant, len(s.raw))
		for name, setting := range s.raw {
			ret.raw[name] = maps.Clone(setting)
		}
	}

	return ret
}

func (ip *IPSettings) clone() *IPSettings {
	if ip == nil {
		return nil
	}

	ret := *ip
	ret.Addresses = slices.Clone(ip.Addresses)
	ret.DNS = slices.Clone(ip.DNS)
	ret.DNSSearch = slices.Clone(ip.DNSSearch)

	if ip.AddrGenMode != nil {
		mode := *ip.AddrGenMode
		ret.AddrGenMode = &mode
	}

	return &ret
}

// EnsureWired returns the wired setting, creating it if needed.
func (s *Settings) EnsureWired() *WiredSettings {
	if s.Wired == nil {
		s.Wired = &WiredSettings{}
	}

	return s.Wired
}

// EnsureIPv4 returns the ipv4 setting, creating it if needed.
func (s *Settings) EnsureIPv4() *IPSettings {
	if s.IPv4 == nil {
		s.IPv4 = &IPSettings{Method: MethodAuto}
	}

	return s.IPv4
}

// EnsureIPv6 returns the ipv6 setting, creating it if needed.
func (s *Settings) EnsureIPv6() *IPSettings {
	if s.IPv6 == nil {
		s.IPv6 = &IPSettings{Method: MethodAuto}
	}

	return s.IPv6
}

// Connection is a profile known to NetworkManager.
type Connection struct {
	Path     string
	Filename string
	Flags    uint32
	Unsaved  bool

	Settings Settings
}

// UUID returns the profile UUID.
func (c *Connection) UUID() string {
	return c.Settings.Connection.UUID
}

// ID returns the profile name.
func (c *Connection) ID() string {
	return c.Settings.Connection.ID
}

// InterfaceName returns the interface the profile is bound to by name.
func (c *Connection) InterfaceName() string {
	return c.Settings.Connection.InterfaceName
}

// Type returns the profile type.
func (c *Connection) Type() string {
	return c.Settings.Connection.Type
}

// IsPersistent reports whether the profile is stored on disk.
func (c *Connection) IsPersistent() bool {
	transient := ConnectionFlagUnsaved | ConnectionFlagNMGenerated | ConnectionFlagVolatile | ConnectionFlagExternal

	return !c.Unsaved && c.Flags&transient == 0
}

// IsInitramfs reports whether the profile was generated by the initramfs.
func (c *Connection) IsInitramfs() bool {
	return strings.HasPrefix(c.Filename, "/run/NetworkManager/")
}
