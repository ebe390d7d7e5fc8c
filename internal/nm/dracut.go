package nm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DracutOptions tunes DracutArguments.
type DracutOptions struct {
	TargetIP string
	Hostname string
	IBFT     bool
	S390     bool
}

// DracutArguments returns the boot arguments bringing up conn on iface in the initramfs of
// the installed system, so it can reach the storage at the target address. The result is
// sorted and free of duplicates.
func DracutArguments(ctx context.Context, snap *Snapshot, conn *Connection, iface string, opts DracutOptions) []string {
	args := []string{}

	switch {
	case opts.IBFT:
		args = append(args, "rd.iscsi.ibft")

	case strings.Contains(opts.TargetIP, ":"):
		arg := ipv6Argument(conn.Settings.IPv6, iface, opts.Hostname)
		if arg == "" {
			slog.ErrorContext(ctx, "No IPv6 configuration found for the target", "uuid", conn.UUID(), "target", opts.TargetIP)
		} else {
			args = append(args, arg)
		}

	case opts.TargetIP != "":
		arg := ipv4Argument(conn.Settings.IPv4, iface, opts.Hostname)
		if arg == "" {
			slog.ErrorContext(ctx, "No IPv4 configuration found for the target", "uuid", conn.UUID(), "target", opts.TargetIP)
		} else {
			args = append(args, arg)
		}
	}

	if conn.Settings.Wired != nil && conn.Settings.Wired.MACAddress != "" {
		args = append(args, fmt.Sprintf("ifname=%s:%s", iface, strings.ToLower(conn.Settings.Wired.MACAddress)))
	}

	if conn.Type() == TypeTeam {
		ports := []string{}

		for _, port := range PortsOf(snap.Connections, TypeTeam, iface, conn.UUID()) {
			if port.InterfaceName() != "" {
				ports = append(ports, port.InterfaceName())
			}
		}

		slices.Sort(ports)
		ports = slices.Compact(ports)
		args = append(args, fmt.Sprintf("team=%s:%s", iface, strings.Join(ports, ",")))
	}

	znetSource := conn

	if conn.Type() == TypeVLAN && conn.Settings.VLAN != nil {
		parent, parentConn := vlanParent(ctx, snap, conn.Settings.VLAN.Parent)
		if parent != "" {
			args = append(args, fmt.Sprintf("vlan=%s:%s", iface, parent))
		} else {
			slog.ErrorContext(ctx, "Can't find the VLAN parent", "uuid", conn.UUID(), "parent", conn.Settings.VLAN.Parent)
		}

		// The parent holds the channel settings of a VLAN.
		if parentConn != nil {
			znetSource = parentConn
		}
	}

	if opts.S390 {
		arg := ZnetArgument(ctx, znetSource.Settings.Wired)
		if arg != "" {
			args = append(args, arg)
		}
	}

	slices.Sort(args)

	return slices.Compact(args)
}

// vlanParent resolves a VLAN parent given by UUID or interface name.
func vlanParent(ctx context.Context, snap *Snapshot, spec string) (string, *Connection) {
	if uuid.Validate(spec) == nil {
		conn := snap.Connection(spec)
		if conn == nil {
			return "", nil
		}

		return snap.IfaceOf(spec), conn
	}

	conns := snap.ProfilesForIface(spec)
	if len(conns) != 1 {
		slog.DebugContext(ctx, "Ambiguous VLAN parent profile", "parent", spec, "count", len(conns))

		return spec, nil
	}

	return spec, &conns[0]
}

func ipv4Argument(ip *IPSettings, iface string, hostname string) string {
	if ip == nil {
		return ""
	}

	switch ip.Method {
	case MethodAuto:
		return fmt.Sprintf("ip=%s:dhcp", iface)

	case MethodManual:
		if len(ip.Addresses) == 0 {
			return ""
		}

		addr := ip.Addresses[0]

		return fmt.Sprintf("ip=%s::%s:%s:%s:%s:none", addr.Address, ip.Gateway, PrefixToNetmask(addr.Prefix), hostname, iface)
	}

	return ""
}

func ipv6Argument(ip *IPSettings, iface string, hostname string) string {
	if ip == nil {
		return ""
	}

	switch ip.Method {
	case MethodAuto:
		return fmt.Sprintf("ip=%s:auto6", iface)

	case MethodDHCP:
		return fmt.Sprintf("ip=%s:dhcp6", iface)

	case MethodManual:
		addr := ""
		if len(ip.Addresses) > 0 {
			addr = fmt.Sprintf("[%s/%d]", ip.Addresses[0].Address, ip.Addresses[0].Prefix)
		}

		gateway := ""
		if ip.Gateway != "" {
			gateway = "[" + ip.Gateway + "]"
		}

		if addr == "" && gateway == "" {
			return ""
		}

		return fmt.Sprintf("ip=%s::%s::%s:%s:none", addr, gateway, hostname, iface)
	}

	return ""
}
