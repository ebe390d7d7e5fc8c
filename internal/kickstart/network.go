package kickstart

import (
	"errors"
	"fmt"
	"strings"
)

// TeamPort is a team port with its optional JSON configuration.
type TeamPort struct {
	Name   string
	Config string
}

// NetworkData is one network command.
type NetworkData struct {
	LineNumber int

	BootProto         string `validate:"omitempty,oneof=dhcp bootp static query ibft"`
	DHCPClass         string
	Device            string
	ESSID             string
	Gateway           string `validate:"omitempty,ip"`
	Hostname          string `validate:"omitempty,hostname_rfc1123"`
	IP                string `validate:"omitempty,ipv4"`
	IPv4DNSSearch     string
	IPv6DNSSearch     string
	IPv4IgnoreAutoDNS bool
	IPv6IgnoreAutoDNS bool
	IPv6              string
	IPv6Gateway       string `validate:"omitempty,ipv6"`
	MTU               string `validate:"omitempty,numeric"`
	Nameserver        string
	Netmask           string
	NoDefRoute        bool
	OnBoot            bool
	NoIPv4            bool
	NoIPv6            bool
	Activate          bool
	BondSlaves        string
	BondOpts          string
	VlanID            string `validate:"omitempty,numeric"`
	InterfaceName     string
	TeamSlaves        []TeamPort
	TeamConfig        string
	BridgeSlaves      string
	BridgeOpts        string
	BindTo            string `validate:"omitempty,oneof=mac"`
}

// NewNetworkData returns a network command with the kickstart defaults.
func NewNetworkData() NetworkData {
	return NetworkData{OnBoot: true}
}

func parseNetwork(args []string) (*NetworkData, error) {
	data := NewNetworkData()
	fs := newFlagSet("network")

	fs.StringVar(&data.BootProto, "bootproto", "", "boot protocol")
	fs.StringVar(&data.DHCPClass, "dhcpclass", "", "DHCP vendor class")
	fs.StringVar(&data.Device, "device", "", "device specification")
	fs.StringVar(&data.ESSID, "essid", "", "wireless network")
	fs.StringVar(&data.Gateway, "gateway", "", "IPv4 gateway")
	fs.StringVar(&data.Hostname, "hostname", "", "host name")
	fs.StringVar(&data.IP, "ip", "", "IPv4 address")
	fs.StringVar(&data.IPv4DNSSearch, "ipv4-dns-search", "", "IPv4 DNS search domains")
	fs.StringVar(&data.IPv6DNSSearch, "ipv6-dns-search", "", "IPv6 DNS search domains")
	fs.BoolVar(&data.IPv4IgnoreAutoDNS, "ipv4-ignore-auto-dns", false, "ignore IPv4 DNS from DHCP")
	fs.BoolVar(&data.IPv6IgnoreAutoDNS, "ipv6-ignore-auto-dns", false, "ignore IPv6 DNS from DHCP")
	fs.StringVar(&data.IPv6, "ipv6", "", "IPv6 configuration")
	fs.StringVar(&data.IPv6Gateway, "ipv6gateway", "", "IPv6 gateway")
	fs.StringVar(&data.MTU, "mtu", "", "MTU")
	fs.StringVar(&data.Nameserver, "nameserver", "", "name servers")
	fs.StringVar(&data.Netmask, "netmask", "", "IPv4 netmask")
	fs.BoolVar(&data.NoDefRoute, "nodefroute", false, "never use as default route")
	fs.BoolVar(&data.NoIPv4, "noipv4", false, "disable IPv4")
	fs.BoolVar(&data.NoIPv6, "noipv6", false, "disable IPv6")
	fs.BoolVar(&data.Activate, "activate", false, "activate the device in the installer")
	fs.StringVar(&data.BondSlaves, "bondslaves", "", "bond ports")
	fs.StringVar(&data.BondOpts, "bondopts", "", "bond options")
	fs.StringVar(&data.VlanID, "vlanid", "", "VLAN ID")
	fs.StringVar(&data.InterfaceName, "interfacename", "", "virtual interface name")
	fs.StringVar(&data.TeamConfig, "teamconfig", "", "team configuration")
	fs.StringVar(&data.BridgeSlaves, "bridgeslaves", "", "bridge ports")
	fs.StringVar(&data.BridgeOpts, "bridgeopts", "", "bridge options")
	fs.StringVar(&data.BindTo, "bindto", "", "bind the connection to")

	onBoot := fs.String("onboot", "", "activate on boot")
	teamSlaves := fs.String("teamslaves", "", "team ports")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments %v", fs.Args())
	}

	if fs.Changed("onboot") {
		data.OnBoot, err = ParseBool(*onBoot)
		if err != nil {
			return nil, err
		}
	}

	data.TeamSlaves, err = parseTeamPorts(*teamSlaves)
	if err != nil {
		return nil, err
	}

	if data.BindTo != "" && data.Device == "" {
		return nil, errors.New("--bindto requires --device")
	}

	err = validate.Struct(data)
	if err != nil {
		return nil, fmt.Errorf("invalid network command: %w", err)
	}

	return &data, nil
}

// parseTeamPorts parses p1'{"prio": -10}',p2 into ports.
func parseTeamPorts(value string) ([]TeamPort, error) {
	ports := []TeamPort{}

	for value != "" {
		end := strings.IndexAny(value, ",'")
		if end < 0 {
			end = len(value)
		}

		port := TeamPort{Name: strings.TrimSpace(value[:end])}
		value = value[end:]

		if strings.HasPrefix(value, "'") {
			closing := strings.Index(value[1:], "'")
			if closing < 0 {
				return nil, fmt.Errorf("unterminated team port configuration for %q", port.Name)
			}

			port.Config = value[1 : closing+1]
			value = value[closing+2:]
		}

		value = strings.TrimPrefix(value, ",")

		if port.Name != "" {
			ports = append(ports, port)
		}
	}

	return ports, nil
}

// IsHostnameOnly reports whether the command only sets the host name.
func (n NetworkData) IsHostnameOnly() bool {
	return n.Hostname != "" && n.Device == "" && n.BootProto == "" && n.IP == "" && n.IPv6 == "" &&
		n.ESSID == "" && n.BondSlaves == "" && n.VlanID == "" && n.BridgeSlaves == "" &&
		len(n.TeamSlaves) == 0 && !n.Activate
}

// String renders the command in canonical option order.
func (n NetworkData) String() string {
	var sb strings.Builder

	opt := func(name string, value string) {
		if value != "" {
			sb.WriteString(" --" + name + "=" + value)
		}
	}

	flag := func(name string, set bool) {
		if set {
			sb.WriteString(" --" + name)
		}
	}

	opt("bootproto", n.BootProto)
	opt("dhcpclass", n.DHCPClass)
	opt("device", n.Device)

	if n.ESSID != "" {
		opt("essid", `"`+n.ESSID+`"`)
	}

	opt("gateway", n.Gateway)
	opt("hostname", n.Hostname)
	opt("ip", n.IP)
	opt("ipv4-dns-search", n.IPv4DNSSearch)
	opt("ipv6-dns-search", n.IPv6DNSSearch)
	flag("ipv4-ignore-auto-dns", n.IPv4IgnoreAutoDNS)
	flag("ipv6-ignore-auto-dns", n.IPv6IgnoreAutoDNS)
	opt("ipv6", n.IPv6)
	opt("ipv6gateway", n.IPv6Gateway)
	opt("mtu", n.MTU)
	opt("nameserver", n.Nameserver)
	opt("netmask", n.Netmask)
	flag("nodefroute", n.NoDefRoute)

	if !n.OnBoot {
		sb.WriteString(" --onboot=off")
	}

	flag("noipv4", n.NoIPv4)
	flag("noipv6", n.NoIPv6)
	flag("activate", n.Activate)
	opt("bondslaves", n.BondSlaves)
	opt("bondopts", n.BondOpts)
	opt("vlanid", n.VlanID)
	opt("interfacename", n.InterfaceName)

	if len(n.TeamSlaves) > 0 {
		ports := make([]string, 0, len(n.TeamSlaves))
		for _, port := range n.TeamSlaves {
			if port.Config != "" {
				ports = append(ports, port.Name+"'"+port.Config+"'")
			} else {
				ports = append(ports, port.Name)
			}
		}

		opt("teamslaves", quote(strings.Join(ports, ",")))
	}

	if n.TeamConfig != "" {
		opt("teamconfig", quote(n.TeamConfig))
	}

	opt("bridgeslaves", n.BridgeSlaves)
	opt("bridgeopts", n.BridgeOpts)
	opt("bindto", n.BindTo)

	return "network " + sb.String() + "\n"
}

// NetworkHostnameData returns a hostname only network command.
func NetworkHostnameData(hostname string) NetworkData {
	data := NewNetworkData()
	data.Hostname = hostname

	return data
}
