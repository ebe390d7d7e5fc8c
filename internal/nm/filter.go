package nm

import (
	"path/filepath"
	"slices"
	"strings"
)

var supportedDeviceTypes = []uint32{
	DeviceTypeEthernet,
	DeviceTypeWifi,
	DeviceTypeInfiniband,
	DeviceTypeBond,
	DeviceTypeVLAN,
	DeviceTypeBridge,
	DeviceTypeTeam,
}

var supportedConnectionTypes = []string{
	TypeEthernet,
	TypeWifi,
	TypeInfiniband,
	TypeBond,
	TypeVLAN,
	TypeBridge,
	TypeTeam,
}

// Suffixes of VLAN devices created for FCoE, possibly truncated to fit IFNAMSIZ.
var fcoeSuffixes = []string{"-fcoe", "-fco", "-fc", "-f", "-"}

// Filter decides which devices and profiles the installer handles.
type Filter struct {
	// SysfsRoot prefixes /sys when looking for iBFT devices.
	SysfsRoot string
}

// IsSupportedDeviceType reports whether devices of the type are handled.
func IsSupportedDeviceType(deviceType uint32) bool {
	return slices.Contains(supportedDeviceTypes, deviceType)
}

// IsLibvirtDevice reports whether iface is a libvirt bridge.
func IsLibvirtDevice(iface string) bool {
	return strings.HasPrefix(iface, "virbr")
}

// IsFCoEVLANDevice reports whether iface was created for FCoE.
func IsFCoEVLANDevice(iface string) bool {
	for _, suffix := range fcoeSuffixes {
		if strings.HasSuffix(iface, suffix) {
			return true
		}
	}

	return false
}

// IsNBFTDevice reports whether iface was configured from the NVMe boot firmware table.
func IsNBFTDevice(iface string) bool {
	return strings.HasPrefix(iface, "nbft")
}

// IsIBFTDevice reports whether iface was configured from the iSCSI boot firmware table.
func (f Filter) IsIBFTDevice(iface string) bool {
	if strings.HasPrefix(iface, "ibft") {
		return true
	}

	matches, _ := filepath.Glob(filepath.Join(f.SysfsRoot, "/sys/firmware/ibft/ethernet*/device/net", iface))

	return len(matches) > 0
}

// DeviceSupported reports whether the installer configures the device. The reason is set
// when it doesn't.
func (f Filter) DeviceSupported(snap *Snapshot, dev *Device) (bool, string) {
	switch {
	case !IsSupportedDeviceType(dev.Type):
		return false, "unsupported device type"
	case IsLibvirtDevice(dev.Interface):
		return false, "libvirt bridge"
	case IsFCoEVLANDevice(dev.Interface):
		return false, "FCoE VLAN device"
	case f.IsIBFTDevice(dev.Interface):
		return false, "iBFT configured device"
	case IsNBFTDevice(dev.Interface):
		return false, "nBFT configured device"
	}

	active := snap.ActiveProfile(dev)
	if active != nil && active.Settings.Connection.ReadOnly {
		return false, "active connection is read-only"
	}

	return true, ""
}

// ConnectionSupported reports whether the profile is tracked. The reason is set when it isn't.
func (f Filter) ConnectionSupported(conn *Connection) (bool, string) {
	c := conn.Settings.Connection

	switch {
	case !slices.Contains(supportedConnectionTypes, c.Type):
		return false, "unsupported connection type"
	case !conn.IsPersistent():
		return false, "not persistent"
	case c.ReadOnly:
		return false, "read-only"
	case IsLibvirtDevice(c.InterfaceName):
		return false, "libvirt bridge"
	case strings.HasPrefix(c.ID, "iBFT Connection"), c.InterfaceName != "" && f.IsIBFTDevice(c.InterfaceName):
		return false, "iBFT connection"
	case IsNBFTDevice(c.InterfaceName):
		return false, "nBFT connection"
	case conn.IsInitramfs() && (c.ID == "BOOTIF Connection" || c.InterfaceName == "BOOTIF"):
		return false, "BOOTIF connection generated by the initramfs"
	case c.Type == TypeWifi && conn.Settings.IsPort():
		return false, "wireless port"
	case c.Type == TypeEthernet && conn.Settings.IsPort():
		return false, "ethernet port"
	}

	return true, ""
}
