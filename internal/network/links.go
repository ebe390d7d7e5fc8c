package network

import (
	"slices"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// linksWithCarrier returns the sorted names of the interfaces with carrier.
func linksWithCarrier() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}

	names := []string{}

	for _, link := range links {
		attrs := link.Attrs()
		if attrs.RawFlags&unix.IFF_LOWER_UP != 0 {
			names = append(names, attrs.Name)
		}
	}

	slices.Sort(names)

	return names, nil
}

// defaultRouteLink returns the interface of the IPv4 default route, or an empty string.
func defaultRouteLink() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", err
	}

	for _, route := range routes {
		if route.Dst != nil {
			ones, _ := route.Dst.Mask.Size()
			if ones != 0 || !route.Dst.IP.IsUnspecified() {
				continue
			}
		}

		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			return "", err
		}

		return link.Attrs().Name, nil
	}

	return "", nil
}
