package systemd

var (
	// SystemUnitPath is where packages install systemd units.
	SystemUnitPath = "/usr/lib/systemd/system"

	// AdminUnitPath is where local systemd units live.
	AdminUnitPath = "/etc/systemd/system"

	// NetworkConfigPath is the systemd-networkd configuration directory.
	NetworkConfigPath = "/etc/systemd/network"
)
