package relay

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/caldog20/tunrelay/node/tun"
	"github.com/caldog20/tunrelay/pkg/cipher"
)

var modes = []Mode{ModeConcurrent, ModeMultiplexed}

// memDevice stands in for a tunnel interface. Packets pushed with inject are
// returned by Read; packets the relay writes show up on written.
type memDevice struct {
	name     string
	inbound  chan []byte
	written  chan []byte
	closed   chan struct{}
	once     sync.Once
	closes   atomic.Int32
	writeErr error
}

func newMemDevice(name string) *memDevice {
	return &memDevice{
		name:    name,
		inbound: make(chan []byte, 64),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (d *memDevice) inject(p []byte) {
	d.inbound <- p
}

func (d *memDevice) Read(b []byte) (int, error) {
	select {
	case p := <-d.inbound:
		return copy(b, p), nil
	case <-d.closed:
		return 0, os.ErrClosed
	}
}

func (d *memDevice) Write(b []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, os.ErrClosed
	default:
	}
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	p := make([]byte, len(b))
	copy(p, b)
	d.written <- p
	return len(b), nil
}

func (d *memDevice) Name() string { return d.name }
func (d *memDevice) MTU() int     { return tun.DefaultMTU }

func (d *memDevice) Close() error {
	d.closes.Add(1)
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *memDevice) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

func (d *memDevice) next(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-d.written:
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: timed out waiting for packet", d.name)
		return nil
	}
}

// countingConn records how often Close is called on the transport.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// memProvider hands out memDevices in order and records them.
type memProvider struct {
	mu      sync.Mutex
	opened  []*memDevice
	openErr error
}

func (p *memProvider) Open() (tun.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	d := newMemDevice("mem" + string(rune('0'+len(p.opened))))
	p.opened = append(p.opened, d)
	return d, nil
}

func (p *memProvider) device(t *testing.T, i int) *memDevice {
	t.Helper()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.opened) > i
	}, 5*time.Second, 5*time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened[i]
}

func (p *memProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opened)
}

func testLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func xorCipher(t *testing.T) cipher.Cipher {
	t.Helper()
	c, err := cipher.NewXOR([]byte{cipher.DefaultXORKey})
	require.NoError(t, err)
	return c
}

func testOptions(t *testing.T, mode Mode) Options {
	log, _ := testLogger()
	return Options{Cipher: xorCipher(t), Mode: mode, Logger: log}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to end")
		return errors.New("timeout")
	}
}
