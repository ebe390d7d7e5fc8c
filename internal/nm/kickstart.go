package nm

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/kickstart"
)

// KickstartOptions describes the device a network command applies to.
type KickstartOptions struct {
	DeviceName string
	DeviceType uint32

	// IfnameValues are the ifname= boot option values.
	IfnameValues []string

	// MACOf returns the permanent MAC of an interface, used for --bindto=mac.
	MACOf func(iface string) string

	// S390 holds the channel settings of the device, nil outside of s390.
	S390 *S390Settings
}

func (o KickstartOptions) mac(iface string) string {
	if o.MACOf == nil {
		return ""
	}

	return o.MACOf(iface)
}

// KickstartUpdate is a network command applied to an existing profile of DeviceName.
type KickstartUpdate struct {
	Data       kickstart.NetworkData
	DeviceName string

	// MAC is the device address, BoundMAC the one an ifname= boot option assigns.
	MAC      string
	BoundMAC string
}

// PendingConnection is a profile to add. Device is the interface to activate it on, empty
// for virtual devices which NetworkManager creates itself.
type PendingConnection struct {
	Settings Settings
	Device   string
}

// DefaultVLANName returns the interface name of a VLAN without --interfacename.
func DefaultVLANName(parent string, vlanID string) string {
	return parent + "." + vlanID
}

// ConnectionsFromKickstart returns the profiles for a network command: the main profile
// first, followed by its ports.
func ConnectionsFromKickstart(data kickstart.NetworkData, opts KickstartOptions) ([]PendingConnection, error) {
	main := newSettings(opts.DeviceName, opts.DeviceName, data.OnBoot)

	err := UpdateIPSettings(&main, data)
	if err != nil {
		return nil, err
	}

	device := opts.DeviceName

	var extra []PendingConnection

	switch {
	case data.VlanID != "":
		vlanID, err := strconv.ParseUint(data.VlanID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid VLAN ID %q: %w", data.VlanID, err)
		}

		iface := data.InterfaceName
		if iface == "" {
			iface = DefaultVLANName(opts.DeviceName, data.VlanID)
		}

		main.Connection.Type = TypeVLAN
		main.Connection.ID = iface
		main.Connection.InterfaceName = iface
		main.VLAN = &VLANSettings{ID: uint32(vlanID), Parent: opts.DeviceName}
		device = ""

		// A VLAN on top of a bond needs the bond itself.
		if data.BondSlaves != "" {
			bond := newSettings(opts.DeviceName, opts.DeviceName, data.OnBoot)
			bond.Connection.Type = TypeBond
			bond.Bond = &BondSettings{Options: parseBondOptions(data.BondOpts)}
			bond.IPv4 = &IPSettings{Method: MethodDisabled}
			bond.IPv6 = &IPSettings{Method: MethodIgnore}
			extra = append(extra, PendingConnection{Settings: bond})
			extra = append(extra, portConnections(opts, data, TypeBond, splitList(data.BondSlaves), nil)...)
		}

	case data.BondSlaves != "":
		main.Connection.Type = TypeBond
		main.Bond = &BondSettings{Options: parseBondOptions(data.BondOpts)}
		device = ""
		extra = portConnections(opts, data, TypeBond, splitList(data.BondSlaves), nil)

	case len(data.TeamSlaves) > 0:
		main.Connection.Type = TypeTeam
		main.Team = &TeamSettings{Config: data.TeamConfig}
		device = ""

		names := make([]string, 0, len(data.TeamSlaves))
		configs := make(map[string]string, len(data.TeamSlaves))

		for _, port := range data.TeamSlaves {
			names = append(names, port.Name)
			configs[port.Name] = port.Config
		}

		extra = portConnections(opts, data, TypeTeam, names, configs)

	case data.BridgeSlaves != "":
		bridge, err := parseBridgeOptions(data.BridgeOpts)
		if err != nil {
			return nil, err
		}

		main.Connection.Type = TypeBridge
		main.Bridge = &bridge
		device = ""
		extra = portConnections(opts, data, TypeBridge, splitList(data.BridgeSlaves), nil)

	case opts.DeviceType == DeviceTypeInfiniband:
		main.Connection.Type = TypeInfiniband
		main.Infiniband = &InfinibandSettings{TransportMode: "datagram"}

	default:
		main.Connection.Type = TypeEthernet
		main.EnsureWired()

		mac, renamed := bootopts.IfnameMAC(opts.IfnameValues, opts.DeviceName)
		if renamed {
			BindConnection(&main, BindToMAC, opts.DeviceName, mac, false)
		} else {
			BindConnection(&main, data.BindTo, opts.DeviceName, opts.mac(opts.DeviceName), true)
		}

		if opts.S390 != nil {
			opts.S390.Apply(main.Wired)
		}
	}

	return append([]PendingConnection{{Settings: main, Device: device}}, extra...), nil
}

func newSettings(id string, iface string, autoconnect bool) Settings {
	return Settings{
		Connection: ConnectionSettings{
			ID:            id,
			UUID:          uuid.NewString(),
			InterfaceName: iface,
			Autoconnect:   autoconnect,
		},
	}
}

func portConnections(opts KickstartOptions, data kickstart.NetworkData, portType string, names []string, configs map[string]string) []PendingConnection {
	ret := make([]PendingConnection, 0, len(names))

	for i, name := range names {
		port := newSettings(fmt.Sprintf("%s port %d", opts.DeviceName, i+1), name, data.OnBoot)
		port.Connection.Type = TypeEthernet
		port.Connection.Controller = opts.DeviceName
		port.Connection.PortType = portType
		port.EnsureWired()

		if portType == TypeTeam {
			port.TeamPort = &TeamSettings{Config: configs[name]}
		}

		BindConnection(&port, data.BindTo, name, opts.mac(name), true)

		ret = append(ret, PendingConnection{Settings: port, Device: name})
	}

	return ret
}

func splitList(value string) []string {
	ret := []string{}

	for _, port := range strings.Split(value, ",") {
		port = strings.TrimSpace(port)
		if port != "" {
			ret = append(ret, port)
		}
	}

	return ret
}

func parseBondOptions(value string) map[string]string {
	ret := map[string]string{}
	if value == "" {
		return ret
	}

	sep := ","
	if strings.Contains(value, ";") {
		sep = ";"
	}

	for _, opt := range strings.Split(value, sep) {
		key, val, ok := strings.Cut(opt, "=")
		if !ok || key == "" {
			slog.Warn("Ignoring invalid bond option", "option", opt)

			continue
		}

		ret[key] = val
	}

	return ret
}

func parseBridgeOptions(value string) (BridgeSettings, error) {
	ret := DefaultBridgeSettings()
	if value == "" {
		return ret, nil
	}

	for _, opt := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return ret, fmt.Errorf("invalid bridge option %q", opt)
		}

		switch key {
		case "stp", "multicast-snooping":
			enabled, err := kickstart.ParseBool(val)
			if err != nil {
				return ret, fmt.Errorf("invalid bridge option %q: %w", opt, err)
			}

			if key == "stp" {
				ret.STP = enabled
			} else {
				ret.MulticastSnooping = enabled
			}

		case "priority", "forward-delay", "hello-time", "max-age", "ageing-time":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return ret, fmt.Errorf("invalid bridge option %q: %w", opt, err)
			}

			*bridgeField(&ret, key) = uint32(n)

		default:
			slog.Warn("Ignoring unknown bridge option", "option", opt)
		}
	}

	return ret, nil
}

func bridgeField(b *BridgeSettings, key string) *uint32 {
	switch key {
	case "priority":
		return &b.Priority
	case "forward-delay":
		return &b.ForwardDelay
	case "hello-time":
		return &b.HelloTime
	case "max-age":
		return &b.MaxAge
	default:
		return &b.AgeingTime
	}
}

// UpdateIPSettings applies the addressing, DNS and MTU options of the command to s.
func UpdateIPSettings(s *Settings, data kickstart.NetworkData) error {
	ipv4 := s.EnsureIPv4()

	switch {
	case data.NoIPv4:
		ipv4.Method = MethodDisabled
	case data.BootProto == "static":
		ipv4.Method = MethodManual
	default:
		ipv4.Method = MethodAuto
	}

	ipv4.Addresses = nil
	ipv4.Gateway = ""

	if ipv4.Method == MethodManual {
		if data.IP == "" {
			return errors.New("static IPv4 configuration requires --ip")
		}

		prefix, err := NetmaskToPrefix(data.Netmask)
		if err != nil {
			return err
		}

		ipv4.Addresses = []Address{{Address: data.IP, Prefix: prefix}}
		ipv4.Gateway = data.Gateway
	}

	ipv4.NeverDefault = data.NoDefRoute
	ipv4.DHCPVendorClassIdentifier = data.DHCPClass
	ipv4.DNSSearch = splitList(data.IPv4DNSSearch)
	ipv4.IgnoreAutoDNS = data.IPv4IgnoreAutoDNS

	ipv6 := s.EnsureIPv6()

	switch {
	case data.NoIPv6:
		ipv6.Method = MethodIgnore
	case data.IPv6 == "" || data.IPv6 == "auto":
		ipv6.Method = MethodAuto
	case data.IPv6 == "dhcp":
		ipv6.Method = MethodDHCP
	default:
		ipv6.Method = MethodManual
	}

	ipv6.Addresses = nil
	ipv6.Gateway = ""

	if ipv6.Method == MethodManual {
		addr, prefixStr, ok := strings.Cut(data.IPv6, "/")

		prefix := uint64(64)
		if ok {
			var err error

			prefix, err = strconv.ParseUint(prefixStr, 10, 8)
			if err != nil || prefix > 128 {
				return fmt.Errorf("invalid IPv6 prefix in %q", data.IPv6)
			}
		}

		if !govalidator.IsIPv6(addr) {
			return fmt.Errorf("invalid IPv6 address %q", addr)
		}

		ipv6.Addresses = []Address{{Address: addr, Prefix: uint32(prefix)}}
		ipv6.Gateway = data.IPv6Gateway
	}

	mode := AddrGenModeEUI64
	ipv6.AddrGenMode = &mode
	ipv6.DNSSearch = splitList(data.IPv6DNSSearch)
	ipv6.IgnoreAutoDNS = data.IPv6IgnoreAutoDNS

	ipv4.DNS = nil
	ipv6.DNS = nil

	for _, server := range splitList(data.Nameserver) {
		switch {
		case govalidator.IsIPv6(server):
			ipv6.DNS = append(ipv6.DNS, server)
		case govalidator.IsIPv4(server):
			ipv4.DNS = append(ipv4.DNS, server)
		default:
			slog.Warn("Ignoring invalid name server", "nameserver", server)
		}
	}

	if data.MTU != "" {
		mtu, err := strconv.ParseUint(data.MTU, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid MTU %q: %w", data.MTU, err)
		}

		s.EnsureWired().MTU = uint32(mtu)
	}

	return nil
}

// NetmaskToPrefix converts a dotted netmask, or a prefix length, to a prefix length.
func NetmaskToPrefix(netmask string) (uint32, error) {
	if netmask == "" {
		return 0, errors.New("static IPv4 configuration requires --netmask")
	}

	n, err := strconv.ParseUint(netmask, 10, 8)
	if err == nil && n <= 32 {
		return uint32(n), nil
	}

	ip := net.ParseIP(netmask).To4()
	if ip == nil {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}

	ones, bits := net.IPMask(ip).Size()
	if bits == 0 {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}

	return uint32(ones), nil //nolint:gosec
}

// PrefixToNetmask converts an IPv4 prefix length to a dotted netmask.
func PrefixToNetmask(prefix uint32) string {
	if prefix > 32 {
		return ""
	}

	return net.IP(net.CIDRMask(int(prefix), 32)).String()
}
