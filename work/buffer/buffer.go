package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// DefaultCopySize is the relay copy buffer size.
const DefaultCopySize = 32 * 1024

// BufferPool hands out reusable copy buffers of at least bufferSize bytes.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool returns a pool whose buffers start at bufferSize bytes
// (DefaultCopySize when bufferSize <= 0).
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultCopySize
	}
	return &BufferPool{
		bufferSize: bufferSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get returns a buffer whose B slice has length bufferSize, ready for
// io.CopyBuffer.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, bp.bufferSize)
	}
	buf.B = buf.B[:bp.bufferSize]
	return buf
}

// Put resets buf and hands it back for reuse.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}
