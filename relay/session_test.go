package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldog20/tunrelay/pkg/cipher"
	"github.com/caldog20/tunrelay/pkg/frame"
)

type pair struct {
	devA, devB   *memDevice
	connA, connB *countingConn
	a, b         *Session
	errA, errB   chan error
	cancel       context.CancelFunc
}

func startPair(t *testing.T, optsA, optsB Options) *pair {
	t.Helper()

	ca, cb := net.Pipe()
	p := &pair{
		devA:  newMemDevice("memA"),
		devB:  newMemDevice("memB"),
		connA: &countingConn{Conn: ca},
		connB: &countingConn{Conn: cb},
		errA:  make(chan error, 1),
		errB:  make(chan error, 1),
	}

	var err error
	p.a, err = NewSession(p.devA, p.connA, optsA)
	require.NoError(t, err)
	p.b, err = NewSession(p.devB, p.connB, optsB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	t.Cleanup(cancel)

	go func() { p.errA <- p.a.Run(ctx) }()
	go func() { p.errB <- p.b.Run(ctx) }()
	return p
}

func TestRelayOrdered(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			p := startPair(t, testOptions(t, mode), testOptions(t, mode))

			// a zero length packet is framed and delivered like any other
			packets := [][]byte{[]byte("p1"), {}, []byte("p2-longer"), bytes.Repeat([]byte{0xAB}, 1400)}
			for _, pkt := range packets {
				p.devA.inject(pkt)
			}
			for _, pkt := range packets {
				assert.Equal(t, pkt, p.devB.next(t))
			}

			p.cancel()
			assert.NoError(t, waitErr(t, p.errA))
			assert.NoError(t, waitErr(t, p.errB))

			st := p.a.Stats()
			assert.Equal(t, uint64(4), st.PacketsOut)
			assert.Equal(t, uint64(2+9+1400), st.BytesOut)
			assert.Equal(t, uint64(4), p.b.Stats().PacketsIn)
		})
	}
}

func TestRelayBidirectional(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			p := startPair(t, testOptions(t, mode), testOptions(t, mode))

			const n = 50
			go func() {
				for i := 0; i < n; i++ {
					p.devA.inject([]byte(fmt.Sprintf("a->b %d", i)))
				}
			}()
			go func() {
				for i := 0; i < n; i++ {
					p.devB.inject([]byte(fmt.Sprintf("b->a %d", i)))
				}
			}()

			for i := 0; i < n; i++ {
				assert.Equal(t, fmt.Sprintf("a->b %d", i), string(p.devB.next(t)))
				assert.Equal(t, fmt.Sprintf("b->a %d", i), string(p.devA.next(t)))
			}

			p.cancel()
			assert.NoError(t, waitErr(t, p.errA))
			assert.NoError(t, waitErr(t, p.errB))
		})
	}
}

func TestRelayAEAD(t *testing.T) {
	key := bytes.Repeat([]byte{7}, cipher.AEADKeySize)

	for _, kind := range []string{cipher.KindXChaCha, cipher.KindAESGCM} {
		for _, mode := range modes {
			t.Run(kind+"/"+string(mode), func(t *testing.T) {
				newOpts := func() Options {
					c, err := cipher.New(kind, key)
					require.NoError(t, err)
					o := testOptions(t, mode)
					o.Cipher = c
					return o
				}
				p := startPair(t, newOpts(), newOpts())

				p.devA.inject([]byte("hello"))
				p.devB.inject([]byte("world"))
				assert.Equal(t, []byte("hello"), p.devB.next(t))
				assert.Equal(t, []byte("world"), p.devA.next(t))

				p.cancel()
				assert.NoError(t, waitErr(t, p.errA))
				assert.NoError(t, waitErr(t, p.errB))
			})
		}
	}
}

func TestRelayWireFormat(t *testing.T) {
	dev := newMemDevice("mem")
	ours, theirs := net.Pipe()
	defer theirs.Close()

	s, err := NewSession(dev, ours, testOptions(t, ModeConcurrent))
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	dev.inject([]byte{0x01, 0x02, 0x03})

	got := make([]byte, 5)
	_, err = io.ReadFull(theirs, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x03, 0x43, 0x40, 0x41}, got)

	// inbound frames are unmasked before they reach the interface
	_, err = theirs.Write([]byte{0x00, 0x02, 0x42 ^ 'h', 0x42 ^ 'i'})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), dev.next(t))

	require.NoError(t, s.Close())
	assert.NoError(t, waitErr(t, errc))
}

func TestRelayPeerDisconnect(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			p := startPair(t, testOptions(t, mode), testOptions(t, mode))

			p.devA.inject([]byte("before"))
			assert.Equal(t, []byte("before"), p.devB.next(t))

			require.NoError(t, p.a.Close())
			assert.NoError(t, waitErr(t, p.errA))

			err := waitErr(t, p.errB)
			require.Error(t, err)
			assert.True(t, IsDisconnect(err), "got %v", err)
			assert.ErrorIs(t, err, frame.ErrShortRead)

			for _, s := range []*Session{p.a, p.b} {
				assert.Equal(t, StateClosed, s.State())
			}
			assert.Equal(t, int32(1), p.devA.closes.Load())
			assert.Equal(t, int32(1), p.devB.closes.Load())
			assert.Equal(t, int32(1), p.connA.closes.Load())
			assert.Equal(t, int32(1), p.connB.closes.Load())

			// nothing is written to a closed session's interface
			_, err = p.devB.Write([]byte("late"))
			assert.Error(t, err)
			assert.Empty(t, p.devB.written)
		})
	}
}

func TestRelayContextCancel(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			p := startPair(t, testOptions(t, mode), testOptions(t, mode))

			p.cancel()
			assert.NoError(t, waitErr(t, p.errA))
			assert.NoError(t, waitErr(t, p.errB))
			assert.True(t, p.devA.isClosed())
			assert.True(t, p.devB.isClosed())

			select {
			case <-p.a.Done():
			default:
				t.Fatal("Done not closed after Run returned")
			}
		})
	}
}

func TestRelayIdleTimeout(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			optsA := testOptions(t, mode)
			optsA.IdleTimeout = 50 * time.Millisecond
			p := startPair(t, optsA, testOptions(t, mode))

			err := waitErr(t, p.errA)
			assert.ErrorIs(t, err, ErrIdleTimeout)

			err = waitErr(t, p.errB)
			assert.True(t, IsDisconnect(err), "got %v", err)
		})
	}
}

func TestRelayIdleTimeoutExtendedByTraffic(t *testing.T) {
	optsA := testOptions(t, ModeConcurrent)
	optsA.IdleTimeout = 200 * time.Millisecond
	p := startPair(t, optsA, testOptions(t, ModeConcurrent))

	for i := 0; i < 6; i++ {
		p.devA.inject([]byte("tick"))
		p.devB.next(t)
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, StateRunning, p.a.State())

	assert.ErrorIs(t, waitErr(t, p.errA), ErrIdleTimeout)
}

func TestRunTwice(t *testing.T) {
	p := startPair(t, testOptions(t, ModeConcurrent), testOptions(t, ModeConcurrent))
	require.Eventually(t, func() bool {
		return p.a.State() == StateRunning
	}, 5*time.Second, 5*time.Millisecond)

	err := p.a.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionUsed)

	p.cancel()
	assert.NoError(t, waitErr(t, p.errA))
	assert.NoError(t, waitErr(t, p.errB))

	err = p.a.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestCloseBeforeRun(t *testing.T) {
	dev := newMemDevice("mem")
	c := &countingConn{Conn: newPipeEnd(t)}

	s, err := NewSession(dev, c, testOptions(t, ModeConcurrent))
	require.NoError(t, err)
	assert.Equal(t, StateSetup, s.State())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), dev.closes.Load())
	assert.Equal(t, int32(1), c.closes.Load())

	assert.ErrorIs(t, s.Run(context.Background()), ErrSessionUsed)
}

func TestRelayDesync(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			dev := newMemDevice("mem")
			ours, theirs := net.Pipe()
			defer theirs.Close()

			opts := testOptions(t, mode)
			opts.MaxFrame = 1500
			s, err := NewSession(dev, ours, opts)
			require.NoError(t, err)

			errc := make(chan error, 1)
			go func() { errc <- s.Run(context.Background()) }()

			var hdr [2]byte
			binary.BigEndian.PutUint16(hdr[:], 9000)
			_, err = theirs.Write(hdr[:])
			require.NoError(t, err)

			err = waitErr(t, errc)
			assert.ErrorIs(t, err, ErrProtocol)
			assert.ErrorIs(t, err, frame.ErrDesync)
			assert.True(t, dev.isClosed())
		})
	}
}

func TestRelayDropsOversizePacket(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			p := startPair(t, testOptions(t, mode), testOptions(t, mode))

			p.devA.inject(make([]byte, frame.MaxPacketSize+1))
			p.devA.inject([]byte("after"))

			assert.Equal(t, []byte("after"), p.devB.next(t))
			assert.Equal(t, uint64(1), p.a.Stats().Dropped)
			assert.Equal(t, StateRunning, p.a.State())

			p.cancel()
			assert.NoError(t, waitErr(t, p.errA))
			assert.NoError(t, waitErr(t, p.errB))
		})
	}
}

func TestRelayMaxSizePacket(t *testing.T) {
	p := startPair(t, testOptions(t, ModeConcurrent), testOptions(t, ModeConcurrent))

	big := bytes.Repeat([]byte{0x5A}, frame.MaxPacketSize)
	p.devA.inject(big)
	assert.Equal(t, big, p.devB.next(t))

	p.cancel()
	assert.NoError(t, waitErr(t, p.errA))
	assert.NoError(t, waitErr(t, p.errB))
}

func TestRelayInterfaceWriteFailure(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			optsB := testOptions(t, mode)
			p := startPair(t, testOptions(t, mode), optsB)
			p.devB.writeErr = errors.New("device gone")

			p.devA.inject([]byte("doomed"))

			err := waitErr(t, p.errB)
			assert.ErrorIs(t, err, ErrInterfaceIO)
			assert.Contains(t, err.Error(), "device gone")
			assert.Equal(t, StateClosed, p.b.State())

			assert.True(t, IsDisconnect(waitErr(t, p.errA)))
		})
	}
}

func TestRelayAuthFailure(t *testing.T) {
	newOpts := func(b byte) Options {
		c, err := cipher.New(cipher.KindXChaCha, bytes.Repeat([]byte{b}, cipher.AEADKeySize))
		require.NoError(t, err)
		o := testOptions(t, ModeConcurrent)
		o.Cipher = c
		return o
	}
	p := startPair(t, newOpts(1), newOpts(2))

	p.devA.inject([]byte("wrong key"))

	err := waitErr(t, p.errB)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, cipher.ErrAuth)
	assert.Empty(t, p.devB.written)
}

func TestNewSessionValidation(t *testing.T) {
	c := newPipeEnd(t)
	dev := newMemDevice("mem")

	_, err := NewSession(nil, c, testOptions(t, ModeConcurrent))
	assert.Error(t, err)

	_, err = NewSession(dev, nil, testOptions(t, ModeConcurrent))
	assert.Error(t, err)

	_, err = NewSession(dev, c, Options{})
	assert.Error(t, err)

	opts := testOptions(t, ModeConcurrent)
	opts.Mode = "roundrobin"
	_, err = NewSession(dev, c, opts)
	assert.Error(t, err)

	opts.Mode = ""
	s, err := NewSession(dev, c, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
}

func TestSessionLogsLifecycle(t *testing.T) {
	logA, hook := testLogger()
	optsA := testOptions(t, ModeConcurrent)
	optsA.Logger = logA
	p := startPair(t, optsA, testOptions(t, ModeConcurrent))

	p.devA.inject([]byte{0x45, 0x00})
	p.devB.next(t)

	p.cancel()
	assert.NoError(t, waitErr(t, p.errA))
	assert.NoError(t, waitErr(t, p.errB))

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
		assert.Equal(t, p.a.ID(), e.Data["session"])
	}
	assert.Contains(t, msgs, "session closing on request")
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "session closed")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Setup", StateSetup.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Closing", StateClosing.String())
	assert.Equal(t, "Closed", StateClosed.String())
}

func newPipeEnd(t *testing.T) net.Conn {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}
