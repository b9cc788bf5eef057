//go:build !unix

package conn

import (
	"context"
	"net"
)

func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, Network, addr)
}
