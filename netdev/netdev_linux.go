//go:build linux
// +build linux

package netdev

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// SystemResolver lists interfaces over netlink.
type SystemResolver struct{}

func (SystemResolver) Interfaces() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}
