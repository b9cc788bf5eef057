// Package conn sets up the TCP stream that carries frames between the two
// ends of a tunnel.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const (
	Network     = "tcp"
	DefaultPort = 5555
)

var ErrInvalidAddr = errors.New("invalid peer address")

// ParsePeerAddr validates a peer address given as ip, ip:port, host or
// host:port and returns it in host:port form.
func ParsePeerAddr(s string, defaultPort uint16) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddr)
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		if ap.Port() == 0 {
			return "", fmt.Errorf("%w: port 0", ErrInvalidAddr)
		}
		return ap.String(), nil
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return netip.AddrPortFrom(addr, defaultPort).String(), nil
	}

	host, port := s, strconv.Itoa(int(defaultPort))
	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidAddr, s, err)
		}
		host, port = h, p
	}

	if !validHostname(host) {
		return "", fmt.Errorf("%w: bad host %q", ErrInvalidAddr, host)
	}

	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return "", fmt.Errorf("%w: bad port %q", ErrInvalidAddr, port)
	}

	return net.JoinHostPort(host, port), nil
}

func validHostname(h string) bool {
	if h == "" || len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// ListenAddr joins host and port for Listen. An empty host listens on all
// interfaces.
func ListenAddr(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// Dial opens the outbound stream to a peer. A zero timeout waits until ctx
// is done.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, Network, addr)
	if err != nil {
		return nil, err
	}

	if tc, ok := c.(*net.TCPConn); ok {
		// frames are written whole, so don't let Nagle hold them back
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
