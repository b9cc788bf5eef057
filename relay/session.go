// Package relay moves packets between a tunnel interface and a peer stream.
//
// A Session owns one interface handle and one transport handle. Packets read
// from the interface are sealed, framed and written to the transport; frames
// read from the transport are opened and injected into the interface. The
// first error on either side, a peer disconnect, an idle timeout or an
// explicit Close ends the session and releases both handles exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/caldog20/tunrelay/node/tun"
	"github.com/caldog20/tunrelay/pkg/cipher"
	"github.com/caldog20/tunrelay/pkg/frame"
)

var errHalted = errors.New("session halted")

type Options struct {
	Cipher cipher.Cipher
	Mode   Mode
	// IdleTimeout closes the session when no packet has moved in either
	// direction for this long. Zero disables it.
	IdleTimeout time.Duration
	// MaxFrame bounds the length accepted from the peer. Zero means
	// frame.MaxPacketSize.
	MaxFrame int
	Logger   *logrus.Entry
}

type Stats struct {
	PacketsOut uint64 // interface -> transport
	BytesOut   uint64
	PacketsIn  uint64 // transport -> interface
	BytesIn    uint64
	Dropped    uint64
}

type counters struct {
	packetsOut atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	bytesIn    atomic.Uint64
	dropped    atomic.Uint64
}

type Session struct {
	id     string
	dev    tun.Device
	conn   io.ReadWriteCloser
	cipher cipher.Cipher
	reader *frame.Reader
	sched  scheduler
	idle   time.Duration
	log    *logrus.Entry

	state      atomic.Uint32
	closing    chan struct{}
	closeOnce  sync.Once
	cause      error
	lastActive atomic.Int64
	counters   counters
}

// NewSession binds dev and conn into a session in the Setup state. The
// session takes ownership of both handles.
func NewSession(dev tun.Device, conn io.ReadWriteCloser, opts Options) (*Session, error) {
	if dev == nil || conn == nil {
		return nil, errors.New("session needs both an interface and a transport")
	}
	if opts.Cipher == nil {
		return nil, errors.New("session needs a cipher")
	}

	sched, err := newScheduler(opts.Mode)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Session{
		id:      id,
		dev:     dev,
		conn:    conn,
		cipher:  opts.Cipher,
		reader:  frame.NewReader(conn, opts.MaxFrame),
		sched:   sched,
		idle:    opts.IdleTimeout,
		log:     log.WithField("session", id),
		closing: make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Stats() Stats {
	return Stats{
		PacketsOut: s.counters.packetsOut.Load(),
		BytesOut:   s.counters.bytesOut.Load(),
		PacketsIn:  s.counters.packetsIn.Load(),
		BytesIn:    s.counters.bytesIn.Load(),
		Dropped:    s.counters.dropped.Load(),
	}
}

// Run relays packets until the session closes and returns the reason. A
// session closed through ctx or Close returns nil; a peer disconnect returns
// an error for which IsDisconnect is true.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(uint32(StateSetup), uint32(StateRunning)) {
		return fmt.Errorf("%w: state %s", ErrSessionUsed, s.State())
	}

	s.log.Infof("session running on %s with %s cipher", s.dev.Name(), s.cipher.Name())
	s.touch()

	stop := context.AfterFunc(ctx, func() { s.shutdown(nil) })
	defer stop()

	if s.idle > 0 {
		go s.watchIdle()
	}

	out := newOutbound(s)
	in := newInbound(s)
	defer out.release()
	defer in.release()

	// Once ctx is done any i/o error is a side effect of tearing down, most
	// often the peer closing its end under the same cancellation.
	halt := func(err error) {
		if ctx.Err() != nil {
			err = nil
		}
		s.shutdown(err)
	}

	halt(s.sched.run(ctx, halt, out, in))
	s.state.Store(uint32(StateClosed))

	st := s.Stats()
	s.log.Infof("session closed: out %d packets/%d bytes, in %d packets/%d bytes, dropped %d",
		st.PacketsOut, st.BytesOut, st.PacketsIn, st.BytesIn, st.Dropped)

	return s.cause
}

// Close forces the session to close without waiting for an i/o error.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

// Done is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.closing
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.cause = cause
		prev := State(s.state.Swap(uint32(StateClosing)))
		close(s.closing)

		switch {
		case cause == nil:
			s.log.Info("session closing on request")
		case IsDisconnect(cause):
			s.log.Info("peer disconnected")
		default:
			s.log.WithError(cause).Warn("session closing on error")
		}

		if err := errors.Join(s.dev.Close(), s.conn.Close()); err != nil {
			s.log.WithError(err).Debug("error releasing session handles")
		}

		if prev == StateSetup {
			s.state.Store(uint32(StateClosed))
		}
	})
}

func (s *Session) halted() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) watchIdle() {
	t := time.NewTimer(s.idle)
	defer t.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-t.C:
			elapsed := time.Since(time.Unix(0, s.lastActive.Load()))
			if elapsed >= s.idle {
				s.shutdown(fmt.Errorf("%w: nothing relayed for %s", ErrIdleTimeout, elapsed.Round(time.Millisecond)))
				return
			}
			t.Reset(s.idle - elapsed)
		}
	}
}

func (s *Session) debugPacket(dir string, p []byte) {
	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.Debugf("[%s] %d bytes %s", dir, len(p), describePacket(p))
	}
}
