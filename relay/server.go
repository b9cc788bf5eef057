package relay

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/caldog20/tunrelay/node/tun"
)

// Server accepts peers on Listener and relays each one through a freshly
// opened tunnel interface. Only one session runs at a time; connections that
// arrive while a session is active are closed straight away.
type Server struct {
	Provider tun.Provider
	Listener net.Listener
	Options  Options
	// Persist returns to accepting after a session ends instead of
	// returning from Serve.
	Persist bool
	Logger  *logrus.Entry

	active atomic.Bool
}

// Serve runs until the first session ends, or with Persist until ctx is
// done. The listener is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	log := s.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("role", "server")
	defer s.Listener.Close()

	// The interface comes up before the first accept so a missing device is
	// reported before any peer is taken on.
	dev, err := s.Provider.Open()
	if err != nil {
		return Wrap(ErrInterface, err)
	}

	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.acceptLoop(log, conns, acceptErr, done)

	for {
		log.Infof("waiting for peer on %s", s.Listener.Addr())

		var c net.Conn
		select {
		case c = <-conns:
		case err := <-acceptErr:
			dev.Close()
			return Wrap(ErrAccept, err)
		case <-ctx.Done():
			dev.Close()
			return nil
		}

		err := s.runSession(ctx, log, dev, c)
		if !s.Persist || ctx.Err() != nil {
			return err
		}

		if err != nil && !IsDisconnect(err) {
			log.WithError(err).Warn("session ended with error, waiting for next peer")
		}

		dev, err = s.Provider.Open()
		if err != nil {
			return Wrap(ErrInterface, err)
		}
	}
}

func (s *Server) runSession(ctx context.Context, log *logrus.Entry, dev tun.Device, c net.Conn) error {
	peerLog := log.WithField("peer", c.RemoteAddr().String())
	peerLog.Info("peer connected")

	opts := s.Options
	opts.Logger = peerLog
	sess, err := NewSession(dev, c, opts)
	if err != nil {
		s.active.Store(false)
		dev.Close()
		c.Close()
		return err
	}

	defer s.active.Store(false)
	return sess.Run(ctx)
}

func (s *Server) acceptLoop(log *logrus.Entry, conns chan<- net.Conn, acceptErr chan<- error, done <-chan struct{}) {
	for {
		c, err := s.Listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				acceptErr <- err
			}
			return
		}

		// claimed here so a second peer racing the hand-off is rejected too
		if !s.active.CompareAndSwap(false, true) {
			log.Warnf("rejecting %s: a session is already active", c.RemoteAddr())
			c.Close()
			continue
		}

		select {
		case conns <- c:
		case <-done:
			c.Close()
			return
		}
	}
}
