package proxy

import (
	"io"
	"sync"
)

// BufferPool provides reusable byte buffers for socket reads and the
// tunnel relay, avoiding a fresh allocation per read.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool handing out buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get retrieves a buffer from the pool.
func (bp *BufferPool) Get() []byte {
	return *(bp.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers of the wrong size are
// dropped so the pool stays uniform.
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) != bp.size {
		return
	}
	buf = buf[:bp.size]
	bp.pool.Put(&buf)
}

// Size returns the buffer size this pool hands out.
func (bp *BufferPool) Size() int {
	return bp.size
}

// copyBuffer copies from src to dst using a pooled buffer until EOF or
// error, returning the number of bytes copied.
func (bp *BufferPool) copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := bp.Get()
	defer bp.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}
