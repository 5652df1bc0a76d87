// Package ioengine implements the Async I/O Executor: a single
// I/O thread that submits reads and writes against a chunkpool.Pool,
// enforces the write-ordering/drain discipline, and dispatches completions
// to receivers. Per re-architecture guidance, the
// template/polymorphic Sender/Receiver expression trees of the source are
// modeled here as a small sum type with one initiate() and one complete()
// per variant.
package ioengine

import "github.com/chainforge/execd/chunkpool"

// Kind distinguishes the four operation variants named in .
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindScatter
	KindWakeup
)

// Result is the outcome of a completed operation.
type Result struct {
	Data []byte // populated for reads; the registered buffer, valid until Release is called
	Err  error
}

// ScatterResult is the outcome of a scatter read: one Result per requested
// offset, in request order.
type ScatterResult struct {
	Results []Result
	Err     error
}

// readRequest is the internal descriptor for a single node read.
type readRequest struct {
	offset chunkpool.VirtualOffset
	pages  uint16
	done   chan Result
}

// writeRequest is the internal descriptor for a single chunk-bounded write.
// Writes are always issued against a specific chunk and never straddle a
// chunk boundary.
type writeRequest struct {
	chunkID ChunkTarget
	offset  uint64
	data    []byte
	done    chan error
}

// ChunkTarget identifies which chunk (and hence which frontier) a write
// belongs to.
type ChunkTarget = chunkpool.ChunkID

// wakeupRequest lets a worker-pool goroutine hop back onto the I/O thread to
// invoke a receiver: such operations defer their final receiver invocation
// back onto the I/O thread via a threadsafe wakeup.
type wakeupRequest struct {
	fn func()
}
