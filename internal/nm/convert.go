package nm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/osinstall/instconfd/internal/kickstart"
)

// KickstartNetworkData returns the network command describing conn, or nil for profiles that
// can't be expressed: ethernet ports and wireless profiles.
func KickstartNetworkData(snap *Snapshot, conn *Connection) *kickstart.NetworkData {
	s := conn.Settings

	switch {
	case s.IsPort() && s.Connection.Type != TypeBond && s.Connection.Type != TypeTeam:
		return nil
	case s.Connection.Type == TypeWifi:
		return nil
	}

	data := kickstart.NewNetworkData()
	data.OnBoot = s.Connection.Autoconnect

	iface := s.Connection.InterfaceName
	if iface == "" {
		iface = snap.IfaceOf(s.Connection.UUID)
	}

	data.Device = iface

	if s.IPv4 != nil {
		switch s.IPv4.Method {
		case MethodDisabled:
			data.NoIPv4 = true
		case MethodAuto:
			data.BootProto = "dhcp"
		case MethodManual:
			data.BootProto = "static"

			if len(s.IPv4.Addresses) > 0 {
				data.IP = s.IPv4.Addresses[0].Address
				data.Netmask = PrefixToNetmask(s.IPv4.Addresses[0].Prefix)
			}

			data.Gateway = s.IPv4.Gateway
		}

		data.Hostname = s.IPv4.DHCPHostname
		data.DHCPClass = s.IPv4.DHCPVendorClassIdentifier
		data.NoDefRoute = s.IPv4.NeverDefault
		data.IPv4DNSSearch = strings.Join(s.IPv4.DNSSearch, ",")
		data.IPv4IgnoreAutoDNS = s.IPv4.IgnoreAutoDNS
	}

	if s.IPv6 != nil {
		switch s.IPv6.Method {
		case MethodIgnore, MethodDisabled:
			data.NoIPv6 = true
		case MethodAuto:
			data.IPv6 = "auto"
		case MethodDHCP:
			data.IPv6 = "dhcp"
		case MethodManual:
			if len(s.IPv6.Addresses) > 0 {
				data.IPv6 = fmt.Sprintf("%s/%d", s.IPv6.Addresses[0].Address, s.IPv6.Addresses[0].Prefix)
			}

			data.IPv6Gateway = s.IPv6.Gateway
		}

		data.IPv6DNSSearch = strings.Join(s.IPv6.DNSSearch, ",")
		data.IPv6IgnoreAutoDNS = s.IPv6.IgnoreAutoDNS
	}

	servers := []string{}
	if s.IPv4 != nil {
		servers = append(servers, s.IPv4.DNS...)
	}

	if s.IPv6 != nil {
		servers = append(servers, s.IPv6.DNS...)
	}

	data.Nameserver = strings.Join(servers, ",")

	if s.Wired != nil && s.Wired.MTU != 0 {
		data.MTU = strconv.FormatUint(uint64(s.Wired.MTU), 10)
	}

	switch s.Connection.Type {
	case TypeVLAN:
		if s.VLAN == nil {
			break
		}

		parent := s.VLAN.Parent
		if uuid.Validate(parent) == nil {
			parent = snap.IfaceOf(parent)
		}

		vlanID := strconv.FormatUint(uint64(s.VLAN.ID), 10)
		if iface != "" && iface != DefaultVLANName(parent, vlanID) {
			data.InterfaceName = iface
		}

		data.VlanID = vlanID
		data.Device = parent

	case TypeBond:
		data.BondSlaves = strings.Join(portNames(snap, TypeBond, iface, s.Connection.UUID), ",")

		if s.Bond != nil {
			opts := []string{}
			for _, key := range slices.Sorted(maps.Keys(s.Bond.Options)) {
				opts = append(opts, key+"="+s.Bond.Options[key])
			}

			data.BondOpts = strings.Join(opts, ",")
		}

	case TypeBridge:
		data.BridgeSlaves = strings.Join(portNames(snap, TypeBridge, iface, s.Connection.UUID), ",")

		if s.Bridge != nil {
			data.BridgeOpts = bridgeOptions(*s.Bridge)
		}

	case TypeTeam:
		for _, port := range PortsOf(snap.Connections, TypeTeam, iface, s.Connection.UUID) {
			name := port.InterfaceName()
			if name == "" {
				continue
			}

			tp := kickstart.TeamPort{Name: name}
			if port.Settings.TeamPort != nil {
				tp.Config = compactJSON(port.Settings.TeamPort.Config)
			}

			data.TeamSlaves = append(data.TeamSlaves, tp)
		}

		if s.Team != nil {
			data.TeamConfig = compactJSON(s.Team.Config)
		}
	}

	return &data
}

func portNames(snap *Snapshot, portType string, controller ...string) []string {
	ret := []string{}

	for _, port := range PortsOf(snap.Connections, portType, controller...) {
		name := port.InterfaceName()
		if name == "" {
			name = snap.IfaceOf(port.UUID())
		}

		if name != "" {
			ret = append(ret, name)
		}
	}

	return ret
}

// bridgeOptions lists the bridge settings which differ from the defaults.
func bridgeOptions(b BridgeSettings) string {
	defaults := DefaultBridgeSettings()
	opts := []string{}

	yesNo := func(v bool) string {
		if v {
			return "yes"
		}

		return "no"
	}

	if b.STP != defaults.STP {
		opts = append(opts, "stp="+yesNo(b.STP))
	}

	numbers := []struct {
		name  string
		value uint32
		def   uint32
	}{
		{"priority", b.Priority, defaults.Priority},
		{"forward-delay", b.ForwardDelay, defaults.ForwardDelay},
		{"hello-time", b.HelloTime, defaults.HelloTime},
		{"max-age", b.MaxAge, defaults.MaxAge},
		{"ageing-time", b.AgeingTime, defaults.AgeingTime},
	}

	for _, n := range numbers {
		if n.value != n.def {
			opts = append(opts, fmt.Sprintf("%s=%d", n.name, n.value))
		}
	}

	if b.MulticastSnooping != defaults.MulticastSnooping {
		opts = append(opts, "multicast-snooping="+yesNo(b.MulticastSnooping))
	}

	return strings.Join(opts, ",")
}

// compactJSON drops the whitespace NetworkManager adds to team configurations.
func compactJSON(config string) string {
	var buf bytes.Buffer

	err := json.Compact(&buf, []byte(config))
	if err != nil {
		return config
	}

	return buf.String()
}
