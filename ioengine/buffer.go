package ioengine

import "sync"

// BufferPool owns a fixed set of read buffers; a read operation borrows one
// for the lifetime of the operation and returns it via Release.
type BufferPool struct {
	pageSize int
	maxPages int
	pool     sync.Pool
}

// NewBufferPool creates a pool of buffers sized pageSize*maxPages, the
// largest single node record the pool can serve without a Corruption error.
func NewBufferPool(pageSize, maxPages int) *BufferPool {
	bp := &BufferPool{pageSize: pageSize, maxPages: maxPages}
	bp.pool.New = func() interface{} {
		return make([]byte, pageSize*maxPages)
	}
	return bp
}

// MaxBytes is the largest read this pool can service.
func (bp *BufferPool) MaxBytes() int { return bp.pageSize * bp.maxPages }

// Get borrows a buffer sized for n pages, trimmed to pageSize*n.
func (bp *BufferPool) Get(pages int) ([]byte, bool) {
	if pages > bp.maxPages {
		return nil, false
	}
	buf := bp.pool.Get().([]byte)
	return buf[:bp.pageSize*pages], true
}

// Release returns a buffer obtained from Get back to the pool.
func (bp *BufferPool) Release(buf []byte) {
	full := buf[:cap(buf)]
	bp.pool.Put(full) //nolint:staticcheck // pool entries are reused, not retained past Put
}
