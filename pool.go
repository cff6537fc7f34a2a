package dmp

import (
	"sync"
)

// bufferPool hands out reusable I/O buffers in a few fixed size classes.
//
// Callers get the smallest class that fits the request, sliced down to the
// requested length. Buffers come back dirty; callers that need zeroes must
// clear them.
type bufferPool struct {
	pools []*sync.Pool
	sizes []int
}

// newBufferPool creates a pool with size classes matching common block
// request sizes:
//   - 512B: a single sector
//   - 4KB: a page / filesystem block
//   - 64KB: typical readahead chunk
//   - 128KB: MaxIOSize
//   - 1MB: large sequential transfers
func newBufferPool() *bufferPool {
	sizes := []int{
		512,
		4 * 1024,
		64 * 1024,
		MaxIOSize,
		1024 * 1024,
	}

	pools := make([]*sync.Pool, len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return &bufferPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a buffer of length size. Requests above the largest class
// are allocated directly and never pooled.
func (p *bufferPool) Get(size int) []byte {
	for i, classSize := range p.sizes {
		if size <= classSize {
			bufPtr := p.pools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the class matching its capacity
func (p *bufferPool) Put(buf []byte) {
	capacity := cap(buf)
	for i, size := range p.sizes {
		if capacity == size {
			full := buf[:capacity]
			p.pools[i].Put(&full)
			return
		}
	}
}

// ioBuffers is shared by write-zeroes dispatch and callers generating I/O
var ioBuffers = newBufferPool()

// GetBuffer takes a buffer from the shared pool
func GetBuffer(size int) []byte {
	return ioBuffers.Get(size)
}

// PutBuffer returns a buffer to the shared pool
func PutBuffer(buf []byte) {
	ioBuffers.Put(buf)
}
