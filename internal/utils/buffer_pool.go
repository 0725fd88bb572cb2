package utils

import (
	"bytes"
	"io"
	"sync"
)

// BufferPool hands out fixed-size copy buffers for draining response bodies
// and archive files into memory.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of copy buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Drain reads r to EOF with a pooled copy buffer. sizeHint, when positive,
// pre-sizes the result.
func (p *BufferPool) Drain(r io.Reader, sizeHint int64) ([]byte, error) {
	bp := p.pool.Get().(*[]byte)
	defer p.pool.Put(bp)
	buf := (*bp)[:p.size]

	var out bytes.Buffer
	if sizeHint > 0 {
		out.Grow(int(sizeHint))
	}
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// DefaultBufferPool uses 32KB copy buffers.
var DefaultBufferPool = NewBufferPool(32 * 1024)
