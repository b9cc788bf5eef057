package relay

import (
	"fmt"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// describePacket summarises a packet for debug logs. Nothing else looks at
// packet contents.
func describePacket(p []byte) string {
	if len(p) == 0 {
		return "empty"
	}

	switch p[0] >> 4 {
	case ipv4.Version:
		h, err := ipv4.ParseHeader(p)
		if err == nil {
			return fmt.Sprintf("ipv4 %s -> %s proto %d", h.Src, h.Dst, h.Protocol)
		}
	case ipv6.Version:
		h, err := ipv6.ParseHeader(p)
		if err == nil {
			return fmt.Sprintf("ipv6 %s -> %s next %d", h.Src, h.Dst, h.NextHeader)
		}
	}
	return "non-ip"
}
