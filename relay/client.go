package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caldog20/tunrelay/node/conn"
	"github.com/caldog20/tunrelay/node/tun"
)

// Client dials a single peer and relays through one tunnel interface. There
// is no reconnect; a failed dial is returned to the caller.
type Client struct {
	Provider    tun.Provider
	Addr        string
	DialTimeout time.Duration
	Options     Options
	Logger      *logrus.Entry
}

func (c *Client) Run(ctx context.Context) error {
	log := c.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"role": "client", "peer": c.Addr})

	dev, err := c.Provider.Open()
	if err != nil {
		return Wrap(ErrInterface, err)
	}

	log.Infof("connecting to %s", c.Addr)
	nc, err := conn.Dial(ctx, c.Addr, c.DialTimeout)
	if err != nil {
		dev.Close()
		return Wrap(ErrDial, err)
	}
	log.Info("connected to peer")

	opts := c.Options
	opts.Logger = log
	sess, err := NewSession(dev, nc, opts)
	if err != nil {
		dev.Close()
		nc.Close()
		return err
	}

	return sess.Run(ctx)
}
