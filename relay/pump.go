package relay

import (
	"errors"
	"fmt"

	"github.com/caldog20/tunrelay/pkg/frame"
)

// outbound carries packets from the tunnel interface to the peer.
type outbound struct {
	s *Session

	readBuf  *[]byte
	sealBuf  *[]byte
	frameBuf *[]byte
}

func newOutbound(s *Session) *outbound {
	return &outbound{
		s:        s,
		readBuf:  getBuffer(),
		sealBuf:  getBuffer(),
		frameBuf: getBuffer(),
	}
}

func (o *outbound) name() string {
	return "interface->transport"
}

func (o *outbound) receive() ([]byte, error) {
	buf := *o.readBuf
	for {
		n, err := o.s.dev.Read(buf)
		if err != nil {
			return nil, Wrap(ErrInterfaceIO, fmt.Errorf("read: %w", err))
		}
		if n > frame.MaxPacketSize {
			o.s.counters.dropped.Add(1)
			o.s.log.Warnf("[%s] dropping %d byte packet: %s", o.name(), n, frame.ErrPacketTooLarge)
			continue
		}
		return buf[:n], nil
	}
}

func (o *outbound) deliver(p []byte) error {
	sealed, err := o.s.cipher.Seal((*o.sealBuf)[:0], p)
	if err != nil {
		return Wrap(ErrProtocol, fmt.Errorf("seal: %w", err))
	}

	out, err := frame.AppendFrame((*o.frameBuf)[:0], sealed)
	if err != nil {
		// cipher overhead pushed the packet past the frame limit
		o.s.counters.dropped.Add(1)
		o.s.log.Warnf("[%s] dropping %d byte packet: %s", o.name(), len(p), err)
		return nil
	}

	if o.s.halted() {
		return errHalted
	}

	o.s.debugPacket(o.name(), p)
	if _, err := o.s.conn.Write(out); err != nil {
		return Wrap(ErrTransportIO, fmt.Errorf("write: %w", err))
	}

	o.s.counters.packetsOut.Add(1)
	o.s.counters.bytesOut.Add(uint64(len(p)))
	o.s.touch()
	return nil
}

func (o *outbound) release() {
	putBuffer(o.readBuf)
	putBuffer(o.sealBuf)
	putBuffer(o.frameBuf)
}

// inbound carries frames from the peer to the tunnel interface.
type inbound struct {
	s *Session

	frameBuf *[]byte
	openBuf  *[]byte
}

func newInbound(s *Session) *inbound {
	return &inbound{
		s:        s,
		frameBuf: getBuffer(),
		openBuf:  getBuffer(),
	}
}

func (i *inbound) name() string {
	return "transport->interface"
}

func (i *inbound) receive() ([]byte, error) {
	p, err := i.s.reader.ReadFrame(*i.frameBuf)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, frame.ErrShortRead):
		return nil, fmt.Errorf("transport read: %w", err)
	case errors.Is(err, frame.ErrDesync):
		return nil, Wrap(ErrProtocol, err)
	default:
		return nil, Wrap(ErrTransportIO, fmt.Errorf("read: %w", err))
	}
}

func (i *inbound) deliver(p []byte) error {
	plain, err := i.s.cipher.Open((*i.openBuf)[:0], p)
	if err != nil {
		return Wrap(ErrProtocol, fmt.Errorf("open: %w", err))
	}

	if i.s.halted() {
		return errHalted
	}

	i.s.debugPacket(i.name(), plain)
	if _, err := i.s.dev.Write(plain); err != nil {
		return Wrap(ErrInterfaceIO, fmt.Errorf("write: %w", err))
	}

	i.s.counters.packetsIn.Add(1)
	i.s.counters.bytesIn.Add(uint64(len(plain)))
	i.s.touch()
	return nil
}

func (i *inbound) release() {
	putBuffer(i.frameBuf)
	putBuffer(i.openBuf)
}
