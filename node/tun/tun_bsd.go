//go:build darwin || freebsd || netbsd

package tun

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/songgao/water"
)

// The kernel picks the utun/tun unit on these platforms so the name hint is
// not used.
func waterConfig(_ Options) water.Config {
	return water.Config{DeviceType: water.TUN}
}

func configureAddress(name string, mtu int, addr netip.Prefix) error {
	ip := addr.Addr().String()
	if err := runCmd("/sbin/ifconfig", name, "mtu", strconv.Itoa(mtu), ip, ip, "up"); err != nil {
		return fmt.Errorf("ifconfig error %v: %w", name, err)
	}
	if err := runCmd("/sbin/route", "-n", "add", "-net", addr.Masked().String(), ip); err != nil {
		return fmt.Errorf("route add error: %w", err)
	}
	return nil
}

func SetupHint(name string, mtu int) []string {
	return []string{
		fmt.Sprintf("ifconfig %s mtu %d <local> <remote> up", name, mtu),
		"route -n add -net <network>/<bits> <local>",
	}
}

func ForwardingHint() string {
	return "sysctl -w net.inet.ip.forwarding=1"
}

func RouteHint(name string) string {
	return fmt.Sprintf("route -n add -host <destination> -interface %s", name)
}
