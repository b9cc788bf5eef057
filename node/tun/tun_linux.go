//go:build linux

package tun

import (
	"fmt"
	"net/netip"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

func waterConfig(opts Options) water.Config {
	return water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: opts.Name,
		},
	}
}

func configureAddress(name string, mtu int, addr netip.Prefix) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to get link %s: %w", name, err)
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("failed to set mtu %d: %w", mtu, err)
	}

	nlAddr, err := netlink.ParseAddr(addr.String())
	if err != nil {
		return fmt.Errorf("failed to parse address %s: %w", addr, err)
	}

	// Replace keeps reconfiguration of a persistent device idempotent
	if err := netlink.AddrReplace(link, nlAddr); err != nil {
		return fmt.Errorf("failed to assign address %s: %w", addr, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}

	return nil
}

// SetupHint is the manual configuration for a device opened without an
// address.
func SetupHint(name string, mtu int) []string {
	return []string{
		fmt.Sprintf("ip link set dev %s mtu %d", name, mtu),
		fmt.Sprintf("ip addr add <local>/<bits> dev %s", name),
		fmt.Sprintf("ip link set dev %s up", name),
	}
}

// ForwardingHint lets the server host route tunnel traffic onwards.
func ForwardingHint() string {
	return "sysctl -w net.ipv4.ip_forward=1"
}

// RouteHint sends traffic for one destination through the tunnel.
func RouteHint(name string) string {
	return fmt.Sprintf("ip route add <destination>/32 dev %s", name)
}
