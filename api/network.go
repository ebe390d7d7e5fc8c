package api

// FirewallMode is the requested state of the target's firewall.
type FirewallMode string

// Supported firewall modes.
const (
	FirewallModeDefault           FirewallMode = "default"
	FirewallModeDisabled          FirewallMode = "disabled"
	FirewallModeEnabled           FirewallMode = "enabled"
	FirewallModeUseSystemDefaults FirewallMode = "use-system-defaults"
)

// Firewall holds the firewall configuration of the target system.
type Firewall struct {
	Mode             FirewallMode `json:"mode"              yaml:"mode"`
	EnabledPorts     []string     `json:"enabled_ports"     yaml:"enabled_ports"`
	Trusts           []string     `json:"trusts"            yaml:"trusts"`
	EnabledServices  []string     `json:"enabled_services"  yaml:"enabled_services"`
	DisabledServices []string     `json:"disabled_services" yaml:"disabled_services"`
	Seen             bool         `json:"seen"              yaml:"seen"`
}

// Network holds the network configuration of the target system.
type Network struct {
	Hostname    string   `json:"hostname"     yaml:"hostname"`
	DisableIPv6 bool     `json:"disable_ipv6" yaml:"disable_ipv6"`
	Firewall    Firewall `json:"firewall"     yaml:"firewall"`

	DefaultDeviceSpecification string   `json:"default_device_specification" yaml:"default_device_specification"`
	Bootif                     string   `json:"bootif"                       yaml:"bootif"`
	IfnameOptionValues         []string `json:"ifname_option_values"         yaml:"ifname_option_values"`
}

// DeviceType is a network device type tracked in device configurations.
type DeviceType string

// Supported device types.
const (
	DeviceTypeEthernet   DeviceType = "ethernet"
	DeviceTypeWifi       DeviceType = "wifi"
	DeviceTypeInfiniband DeviceType = "infiniband"
	DeviceTypeBond       DeviceType = "bond"
	DeviceTypeVLAN       DeviceType = "vlan"
	DeviceTypeBridge     DeviceType = "bridge"
	DeviceTypeTeam       DeviceType = "team"
)

// IsVirtual reports whether devices of this type are created from a connection profile.
func (t DeviceType) IsVirtual() bool {
	switch t {
	case DeviceTypeBond, DeviceTypeVLAN, DeviceTypeBridge, DeviceTypeTeam:
		return true
	default:
		return false
	}
}

// DeviceConfiguration binds a device to the connection profile configuring it.
type DeviceConfiguration struct {
	DeviceName     string     `json:"device_name"     yaml:"device_name"`
	ConnectionUUID string     `json:"connection_uuid" yaml:"connection_uuid"`
	DeviceType     DeviceType `json:"device_type"     yaml:"device_type"`
}

// IsZero reports whether the configuration is empty.
func (c DeviceConfiguration) IsZero() bool {
	return c == DeviceConfiguration{}
}

// DeviceConfigurationDiff describes a change of a device configuration. A creation has a
// zero Old, a removal has a zero New.
type DeviceConfigurationDiff struct {
	Old DeviceConfiguration `json:"old" yaml:"old"`
	New DeviceConfiguration `json:"new" yaml:"new"`
}
