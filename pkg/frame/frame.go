// Package frame implements the length-prefixed framing used on the relay
// transport stream.
//
// Every frame is a 2 byte big-endian length followed by exactly that many
// payload bytes. There is no checksum: a corrupted length prefix looks like a
// valid frame and desynchronizes the rest of the stream. Readers can bound the
// accepted length with a limit so that an obviously bogus prefix is reported
// as ErrDesync instead of being trusted.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen     = 2
	MaxPacketSize = 65535
)

var (
	ErrPacketTooLarge = errors.New("packet exceeds maximum frame size")
	ErrShortRead      = errors.New("stream closed before frame was complete")
	ErrDesync         = errors.New("frame length exceeds limit, stream out of sync")
)

// Encode returns a new frame carrying packet.
func Encode(packet []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderLen+len(packet)), packet)
}

// AppendFrame appends the frame for packet to dst and returns the extended slice.
func AppendFrame(dst, packet []byte) ([]byte, error) {
	if len(packet) > MaxPacketSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(packet))
	}

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(packet)))
	return append(dst, packet...), nil
}

type Reader struct {
	r      io.Reader
	limit  int
	header [HeaderLen]byte
}

// NewReader returns a Reader decoding frames from r. A limit of zero or
// above MaxPacketSize means MaxPacketSize.
func NewReader(r io.Reader, limit int) *Reader {
	if limit <= 0 || limit > MaxPacketSize {
		limit = MaxPacketSize
	}
	return &Reader{r: r, limit: limit}
}

func (fr *Reader) Limit() int {
	return fr.limit
}

// ReadFrame blocks until one whole frame has been read and returns its payload.
// The payload is read into buf when it has enough capacity.
func (fr *Reader) ReadFrame(buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, classify(err)
	}

	length := int(binary.BigEndian.Uint16(fr.header[:]))
	if length > fr.limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrDesync, length, fr.limit)
	}

	if cap(buf) < length {
		buf = make([]byte, length)
	}
	buf = buf[:length]

	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, classify(err)
	}

	return buf, nil
}

func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	return err
}
