package ioengine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/xlog"
)

// Executor is the Async I/O Executor of . A single dedicated
// goroutine ("the I/O thread") owns write ordering and dispatches
// completions; reads may run in parallel up to a configurable backpressure
// limit and are free to complete out of order. Cancellation does not exist
// at this layer; Shutdown only waits
// for in-flight work via WaitUntilDone.
type Executor struct {
	pool *chunkpool.Pool
	bufs *BufferPool

	writeCh  chan writeRequest
	wakeupCh chan wakeupRequest

	readSem *semaphore.Weighted

	wg       sync.WaitGroup
	writerWG sync.WaitGroup

	closeOnce sync.Once
	closeCh   chan struct{}

	log xlog.Logger
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithMaxConcurrentReads sets the read backpressure limit.
func WithMaxConcurrentReads(n int64) Option {
	return func(e *Executor) { e.readSem = semaphore.NewWeighted(n) }
}

// WithWriteQueueDepth sizes the dedicated write submission queue; // requires it be "sized >= the maximum number of in-flight write buffers".
func WithWriteQueueDepth(depth int) Option {
	return func(e *Executor) { e.writeCh = make(chan writeRequest, depth) }
}

// NewExecutor starts the I/O thread and returns a ready Executor.
func NewExecutor(pool *chunkpool.Pool, bufs *BufferPool, opts ...Option) *Executor {
	e := &Executor{
		pool:     pool,
		bufs:     bufs,
		writeCh:  make(chan writeRequest, 64),
		wakeupCh: make(chan wakeupRequest, 256),
		readSem:  semaphore.NewWeighted(64),
		closeCh:  make(chan struct{}),
		log:      xlog.New("component", "ioengine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.writerWG.Add(1)
	go e.writeLoop()
	return e
}

// writeLoop is the single-threaded "I/O thread": it drains writeCh in
// submission order and enforces the drain barrier by never starting write
// N+1 until write N has been fully acknowledged by the device.
func (e *Executor) writeLoop() {
	defer e.writerWG.Done()
	for {
		select {
		case req, ok := <-e.writeCh:
			if !ok {
				return
			}
			e.performWrite(req)
		case wr := <-e.wakeupCh:
			wr.fn()
		case <-e.closeCh:
			// Drain whatever remains before exiting so WaitUntilDone's callers
			// observe a consistent state.
			e.drainRemaining()
			return
		}
	}
}

func (e *Executor) drainRemaining() {
	for {
		select {
		case req, ok := <-e.writeCh:
			if !ok {
				return
			}
			e.performWrite(req)
		default:
			return
		}
	}
}

func (e *Executor) performWrite(req writeRequest) {
	dev, err := e.pool.DeviceOf(req.chunkID)
	if err == nil {
		phys, perr := e.pool.PhysicalOffsetOf(chunkpool.VirtualOffset{ChunkID: req.chunkID, ByteOffset: req.offset})
		if perr != nil {
			err = perr
		} else {
			_, err = dev.WriteAt(req.data, int64(phys.Offset))
			if err == nil {
				err = dev.Sync()
			}
		}
	}
	if err != nil {
		e.log.Error("write failed", "chunk", req.chunkID, "offset", req.offset, "err", err)
	}
	req.done <- err
	close(req.done)
}

// SubmitWrite enqueues a chunk-bounded write and returns a channel that
// receives the single completion error. The caller must not submit another
// write to the same chunk until this one completes if it depends on
// ordering; the executor itself always processes writeCh in FIFO order,
// giving cross-chunk writes the same drain guarantee.
func (e *Executor) SubmitWrite(chunkID chunkpool.ChunkID, offset uint64, data []byte) <-chan error {
	e.wg.Add(1)
	done := make(chan error, 1)
	go func() {
		defer e.wg.Done()
		select {
		case e.writeCh <- writeRequest{chunkID: chunkID, offset: offset, data: data, done: done}:
		case <-e.closeCh:
			done <- fmt.Errorf("ioengine: executor is shutting down")
		}
	}()
	return done
}

// SubmitRead issues an async read for a node at the given virtual offset.
// Reads of already-written data may be freely reordered and run in parallel
//; backpressure is enforced by readSem.
func (e *Executor) SubmitRead(ctx context.Context, off chunkpool.VirtualOffset) <-chan Result {
	out := make(chan Result, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.readSem.Acquire(ctx, 1); err != nil {
			out <- Result{Err: err}
			return
		}
		defer e.readSem.Release(1)
		out <- e.performRead(off)
	}()
	return out
}

func (e *Executor) performRead(off chunkpool.VirtualOffset) Result {
	buf, ok := e.bufs.Get(int(off.SparePages))
	if !ok {
		return Result{Err: fmt.Errorf("ioengine: corruption: spare pages %d exceeds registered buffer capacity", off.SparePages)}
	}
	dev, err := e.pool.DeviceOf(off.ChunkID)
	if err != nil {
		e.bufs.Release(buf)
		return Result{Err: err}
	}
	phys, err := e.pool.PhysicalOffsetOf(off)
	if err != nil {
		e.bufs.Release(buf)
		return Result{Err: err}
	}
	if _, err := dev.ReadAt(buf, int64(phys.Offset)); err != nil {
		e.bufs.Release(buf)
		return Result{Err: err}
	}
	return Result{Data: buf}
}

// SubmitScatterRead issues many reads concurrently and collects all results,
// matching "scatter reads" support.
func (e *Executor) SubmitScatterRead(ctx context.Context, offs []chunkpool.VirtualOffset) <-chan ScatterResult {
	out := make(chan ScatterResult, 1)
	go func() {
		chans := make([]<-chan Result, len(offs))
		for i, off := range offs {
			chans[i] = e.SubmitRead(ctx, off)
		}
		results := make([]Result, len(offs))
		for i, ch := range chans {
			results[i] = <-ch
		}
		out <- ScatterResult{Results: results}
	}()
	return out
}

// Wakeup schedules fn to run on the I/O thread, the mechanism by which a
// worker-pool goroutine hands a completed compute-plus-read task's final
// receiver invocation back to the single thread that owns upper-layer state.
func (e *Executor) Wakeup(fn func()) {
	select {
	case e.wakeupCh <- wakeupRequest{fn: fn}:
	case <-e.closeCh:
	}
}

// ReleaseBuffer returns a read's borrowed buffer to the pool once the caller
// is done with the decoded node.
func (e *Executor) ReleaseBuffer(buf []byte) { e.bufs.Release(buf) }

// WaitUntilDone blocks until every submitted I/O has completed. I/O errors
// are expected to have already propagated to their respective result
// channels; this call only waits, it does not collect or retry errors.
func (e *Executor) WaitUntilDone() {
	e.wg.Wait()
}

// Shutdown waits for in-flight I/O and stops the I/O thread. There is no
// per-operation cancel; this is the only teardown path.
func (e *Executor) Shutdown() {
	e.WaitUntilDone()
	e.closeOnce.Do(func() { close(e.closeCh) })
	e.writerWG.Wait()
}
