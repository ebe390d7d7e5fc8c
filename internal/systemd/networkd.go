package systemd

import (
	"fmt"
)

// LinkFile is a systemd.link file.
type LinkFile struct {
	Name     string
	Contents string
}

// IfnameLinkFile returns the link file keeping the name iface for the device with the
// given MAC address.
// https://www.freedesktop.org/software/systemd/man/latest/systemd.link.html
func IfnameLinkFile(iface string, mac string) LinkFile {
	return LinkFile{
		Name: fmt.Sprintf("10-anaconda-ifname-%s.link", iface),
		Contents: fmt.Sprintf(`[Match]
MACAddress=%s
[Link]
Name=%s
`, mac, iface),
	}
}
