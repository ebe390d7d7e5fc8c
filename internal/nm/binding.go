package nm

import (
	"log/slog"
	"strings"
)

// BindToMAC binds a profile to the hardware address instead of the interface name.
const BindToMAC = "mac"

// BindConnection binds an ethernet profile to iface by name, or to its MAC when bindTo is
// BindToMAC. An exclusive binding clears the other key. It returns false if the MAC is
// needed but unknown.
func BindConnection(s *Settings, bindTo string, iface string, mac string, exclusive bool) bool {
	if bindTo == BindToMAC {
		if mac == "" {
			slog.Warn("Can't bind connection to MAC, the address is unknown", "iface", iface, "uuid", s.Connection.UUID)

			return false
		}

		s.EnsureWired().MACAddress = strings.ToUpper(mac)
		if exclusive {
			s.Connection.InterfaceName = ""
		}

		return true
	}

	s.Connection.InterfaceName = iface
	if exclusive && s.Wired != nil {
		s.Wired.MACAddress = ""
	}

	return true
}

func equalMAC(a string, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
