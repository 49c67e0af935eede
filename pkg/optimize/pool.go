package optimize

import (
	"bytes"
	"sync"
)

// BytePool is a pool of fixed-size byte slices
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a slice of exactly Size bytes. Its contents are undefined.
func (p *BytePool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put returns a byte slice to the pool. Slices smaller than Size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

func (p *BytePool) Size() int { return p.size }

// BufferPool recycles bytes.Buffers. A buffer that grew past maxRetained is
// dropped instead of pinning that memory in the pool.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

func NewBufferPool(maxRetained int) *BufferPool {
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || (p.maxRetained > 0 && buf.Cap() > p.maxRetained) {
		return
	}
	p.pool.Put(buf)
}
