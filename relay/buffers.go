package relay

import (
	"sync"

	"github.com/caldog20/tunrelay/pkg/frame"
)

// BufferSize fits the largest frame plus one byte so that an oversized
// interface read is detected instead of silently truncated.
const BufferSize = frame.HeaderLen + frame.MaxPacketSize + 1

var buffers = sync.Pool{New: newBuffer}

func newBuffer() interface{} {
	b := make([]byte, BufferSize)
	return &b
}

func getBuffer() *[]byte {
	return buffers.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	clear(*b)
	buffers.Put(b)
}
