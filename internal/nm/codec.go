package nm

import (
	"encoding/binary"
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Setting names.
const (
	settingConnection = "connection"
	settingWired      = "802-3-ethernet"
	settingWireless   = "802-11-wireless"
	settingInfiniband = "infiniband"
	settingBond       = "bond"
	settingTeam       = "team"
	settingTeamPort   = "team-port"
	settingBridge     = "bridge"
	settingVLAN       = "vlan"
	settingIPv4       = "ipv4"
	settingIPv6       = "ipv6"
)

// SettingsMap is the D-Bus representation of a connection profile.
type SettingsMap = map[string]map[string]dbus.Variant

// ToDBus encodes the settings for AddConnection2 and Update2.
func ToDBus(s Settings) SettingsMap {
	ret := SettingsMap{}
	for name, setting := range s.raw {
		ret[name] = maps.Clone(setting)
	}

	put := func(name string, values map[string]any) {
		setting, ok := ret[name]
		if !ok {
			setting = map[string]dbus.Variant{}
			ret[name] = setting
		}

		for key, value := range values {
			if value == nil {
				delete(setting, key)

				continue
			}

			setting[key] = dbus.MakeVariant(value)
		}
	}

	c := s.Connection
	put(settingConnection, map[string]any{
		"id":             c.ID,
		"uuid":           c.UUID,
		"type":           c.Type,
		"interface-name": nonEmpty(c.InterfaceName),
		"autoconnect":    c.Autoconnect,
		"read-only":      nil,
		"master":         nil,
		"slave-type":     nil,
		"controller":     nonEmpty(c.Controller),
		"port-type":      nonEmpty(c.PortType),
	})

	if c.MultiConnect != 0 {
		put(settingConnection, map[string]any{"multi-connect": c.MultiConnect})
	}

	if c.WaitDeviceTimeout != 0 {
		put(settingConnection, map[string]any{"wait-device-timeout": c.WaitDeviceTimeout})
	}

	if s.Wired != nil {
		values := map[string]any{
			"mac-address":      macBytes(s.Wired.MACAddress),
			"mtu":              nil,
			"s390-subchannels": nil,
			"s390-nettype":     nonEmpty(s.Wired.S390NetType),
			"s390-options":     nil,
		}

		if s.Wired.MTU != 0 {
			values["mtu"] = s.Wired.MTU
		}

		if len(s.Wired.S390Subchannels) > 0 {
			values["s390-subchannels"] = s.Wired.S390Subchannels
		}

		if len(s.Wired.S390Options) > 0 {
			values["s390-options"] = s.Wired.S390Options
		}

		put(settingWired, values)
	} else {
		delete(ret, settingWired)
	}

	if s.Wireless != nil {
		put(settingWireless, map[string]any{
			"ssid": []byte(s.Wireless.SSID),
			"mode": nonEmpty(s.Wireless.Mode),
		})
	}

	if s.Infiniband != nil {
		put(settingInfiniband, map[string]any{
			"transport-mode": nonEmpty(s.Infiniband.TransportMode),
			"mac-address":    macBytes(s.Infiniband.MACAddress),
		})
	}

	if s.Bond != nil {
		put(settingBond, map[string]any{"options": s.Bond.options()})
	}

	if s.Team != nil {
		put(settingTeam, map[string]any{"config": nonEmpty(s.Team.Config)})
	}

	if s.TeamPort != nil {
		put(settingTeamPort, map[string]any{"config": nonEmpty(s.TeamPort.Config)})
	}

	if s.Bridge != nil {
		put(settingBridge, map[string]any{
			"stp":                s.Bridge.STP,
			"priority":           uint16(s.Bridge.Priority), //nolint:gosec
			"forward-delay":      s.Bridge.ForwardDelay,
			"hello-time":         s.Bridge.HelloTime,
			"max-age":            s.Bridge.MaxAge,
			"ageing-time":        s.Bridge.AgeingTime,
			"multicast-snooping": s.Bridge.MulticastSnooping,
		})
	}

	if s.VLAN != nil {
		put(settingVLAN, map[string]any{
			"id":     s.VLAN.ID,
			"parent": nonEmpty(s.VLAN.Parent),
		})
	}

	if s.IPv4 != nil {
		values := ipValues(s.IPv4)
		values["dns"] = ipv4DNS(s.IPv4.DNS)
		values["dhcp-vendor-class-identifier"] = nonEmpty(s.IPv4.DHCPVendorClassIdentifier)
		values["dhcp-hostname"] = nonEmpty(s.IPv4.DHCPHostname)
		put(settingIPv4, values)
	}

	if s.IPv6 != nil {
		values := ipValues(s.IPv6)
		values["dns"] = ipv6DNS(s.IPv6.DNS)

		if s.IPv6.AddrGenMode != nil {
			values["addr-gen-mode"] = *s.IPv6.AddrGenMode
		}

		put(settingIPv6, values)
	}

	return ret
}

// FromDBus decodes a GetSettings reply.
func FromDBus(m SettingsMap) (Settings, error) {
	s := Settings{raw: SettingsMap{}}
	for name, setting := range m {
		s.raw[name] = maps.Clone(setting)
	}

	con, ok := m[settingConnection]
	if !ok {
		return Settings{}, fmt.Errorf("missing %q setting", settingConnection)
	}

	s.Connection = ConnectionSettings{
		ID:                getString(con, "id"),
		UUID:              getString(con, "uuid"),
		Type:              getString(con, "type"),
		InterfaceName:     getString(con, "interface-name"),
		Autoconnect:       getBool(con, "autoconnect", true),
		ReadOnly:          getBool(con, "read-only", false),
		Controller:        getString(con, "controller", "master"),
		PortType:          getString(con, "port-type", "slave-type"),
		MultiConnect:      getInt32(con, "multi-connect"),
		WaitDeviceTimeout: getInt32(con, "wait-device-timeout"),
	}

	wired, ok := m[settingWired]
	if ok {
		s.Wired = &WiredSettings{
			MACAddress:      getMAC(wired, "mac-address"),
			MTU:             getUint32(wired, "mtu"),
			S390Subchannels: getStrings(wired, "s390-subchannels"),
			S390NetType:     getString(wired, "s390-nettype"),
			S390Options:     getStringMap(wired, "s390-options"),
		}
	}

	wireless, ok := m[settingWireless]
	if ok {
		ssid, _ := wireless["ssid"].Value().([]byte)
		s.Wireless = &WirelessSettings{
			SSID: string(ssid),
			Mode: getString(wireless, "mode"),
		}
	}

	ib, ok := m[settingInfiniband]
	if ok {
		s.Infiniband = &InfinibandSettings{
			TransportMode: getString(ib, "transport-mode"),
			MACAddress:    getMAC(ib, "mac-address"),
		}
	}

	bond, ok := m[settingBond]
	if ok {
		s.Bond = &BondSettings{Options: getStringMap(bond, "options")}
	}

	team, ok := m[settingTeam]
	if ok {
		s.Team = &TeamSettings{Config: getString(team, "config")}
	}

	teamPort, ok := m[settingTeamPort]
	if ok {
		s.TeamPort = &TeamSettings{Config: getString(teamPort, "config")}
	}

	bridge, ok := m[settingBridge]
	if ok {
		defaults := DefaultBridgeSettings()
		s.Bridge = &BridgeSettings{
			STP:               getBool(bridge, "stp", defaults.STP),
			Priority:          getUint32Default(bridge, "priority", defaults.Priority),
			ForwardDelay:      getUint32Default(bridge, "forward-delay", defaults.ForwardDelay),
			HelloTime:         getUint32Default(bridge, "hello-time", defaults.HelloTime),
			MaxAge:            getUint32Default(bridge, "max-age", defaults.MaxAge),
			AgeingTime:        getUint32Default(bridge, "ageing-time", defaults.AgeingTime),
			MulticastSnooping: getBool(bridge, "multicast-snooping", defaults.MulticastSnooping),
		}
	}

	vlan, ok := m[settingVLAN]
	if ok {
		s.VLAN = &VLANSettings{
			ID:     getUint32(vlan, "id"),
			Parent: getString(vlan, "parent"),
		}
	}

	ipv4, ok := m[settingIPv4]
	if ok {
		s.IPv4 = decodeIP(ipv4)
		s.IPv4.DHCPVendorClassIdentifier = getString(ipv4, "dhcp-vendor-class-identifier")
		s.IPv4.DHCPHostname = getString(ipv4, "dhcp-hostname")

		s.IPv4.DNS = getStrings(ipv4, "dns-data")
		if len(s.IPv4.DNS) == 0 {
			dns, _ := ipv4["dns"].Value().([]uint32)
			for _, addr := range dns {
				ip := make(net.IP, 4)
				binary.NativeEndian.PutUint32(ip, addr)
				s.IPv4.DNS = append(s.IPv4.DNS, ip.String())
			}
		}
	}

	ipv6, ok := m[settingIPv6]
	if ok {
		s.IPv6 = decodeIP(ipv6)

		mode, ok := ipv6["addr-gen-mode"].Value().(int32)
		if ok {
			s.IPv6.AddrGenMode = &mode
		}

		s.IPv6.DNS = getStrings(ipv6, "dns-data")
		if len(s.IPv6.DNS) == 0 {
			dns, _ := ipv6["dns"].Value().([][]byte)
			for _, addr := range dns {
				if len(addr) == net.IPv6len {
					s.IPv6.DNS = append(s.IPv6.DNS, net.IP(addr).String())
				}
			}
		}
	}

	return s, nil
}

func (b *BondSettings) options() map[string]string {
	if b.Options == nil {
		return map[string]string{}
	}

	return b.Options
}

func ipValues(ip *IPSettings) map[string]any {
	addresses := make([]map[string]dbus.Variant, 0, len(ip.Addresses))
	for _, addr := range ip.Addresses {
		addresses = append(addresses, map[string]dbus.Variant{
			"address": dbus.MakeVariant(addr.Address),
			"prefix":  dbus.MakeVariant(addr.Prefix),
		})
	}

	values := map[string]any{
		"method":          ip.Method,
		"address-data":    addresses,
		"addresses":       nil,
		"gateway":         nonEmpty(ip.Gateway),
		"dns-data":        nil,
		"dns-search":      nil,
		"ignore-auto-dns": ip.IgnoreAutoDNS,
		"never-default":   ip.NeverDefault,
	}

	if len(ip.DNSSearch) > 0 {
		values["dns-search"] = ip.DNSSearch
	}

	return values
}

func decodeIP(setting map[string]dbus.Variant) *IPSettings {
	ip := &IPSettings{
		Method:        getString(setting, "method"),
		Gateway:       getString(setting, "gateway"),
		DNSSearch:     getStrings(setting, "dns-search"),
		IgnoreAutoDNS: getBool(setting, "ignore-auto-dns", false),
		NeverDefault:  getBool(setting, "never-default", false),
	}

	data, _ := setting["address-data"].Value().([]map[string]dbus.Variant)
	for _, entry := range data {
		addr, _ := entry["address"].Value().(string)
		prefix, _ := entry["prefix"].Value().(uint32)

		if addr != "" {
			ip.Addresses = append(ip.Addresses, Address{Address: addr, Prefix: prefix})
		}
	}

	return ip
}

func ipv4DNS(servers []string) any {
	if len(servers) == 0 {
		return nil
	}

	ret := make([]uint32, 0, len(servers))
	for _, server := range servers {
		ip := net.ParseIP(server).To4()
		if ip == nil {
			continue
		}

		ret = append(ret, binary.NativeEndian.Uint32(ip))
	}

	return ret
}

func ipv6DNS(servers []string) any {
	if len(servers) == 0 {
		return nil
	}

	ret := make([][]byte, 0, len(servers))
	for _, server := range servers {
		ip := net.ParseIP(server)
		if ip == nil || ip.To4() != nil {
			continue
		}

		ret = append(ret, []byte(ip.To16()))
	}

	return ret
}

func nonEmpty(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func macBytes(mac string) any {
	if mac == "" {
		return nil
	}

	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil
	}

	return []byte(hw)
}

func getString(setting map[string]dbus.Variant, keys ...string) string {
	for _, key := range keys {
		value, ok := setting[key].Value().(string)
		if ok && value != "" {
			return value
		}
	}

	return ""
}

func getBool(setting map[string]dbus.Variant, key string, def bool) bool {
	value, ok := setting[key].Value().(bool)
	if !ok {
		return def
	}

	return value
}

func getInt32(setting map[string]dbus.Variant, key string) int32 {
	value, _ := setting[key].Value().(int32)

	return value
}

func getUint32(setting map[string]dbus.Variant, key string) uint32 {
	return getUint32Default(setting, key, 0)
}

func getUint32Default(setting map[string]dbus.Variant, key string, def uint32) uint32 {
	switch value := setting[key].Value().(type) {
	case uint32:
		return value
	case uint16:
		return uint32(value)
	default:
		return def
	}
}

func getStrings(setting map[string]dbus.Variant, key string) []string {
	value, _ := setting[key].Value().([]string)

	return slices.Clone(value)
}

func getStringMap(setting map[string]dbus.Variant, key string) map[string]string {
	value, _ := setting[key].Value().(map[string]string)

	return maps.Clone(value)
}

func getMAC(setting map[string]dbus.Variant, key string) string {
	value, _ := setting[key].Value().([]byte)
	if len(value) == 0 {
		return ""
	}

	return strings.ToUpper(net.HardwareAddr(value).String())
}
