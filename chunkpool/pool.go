package chunkpool

import (
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	"github.com/chainforge/execd/xlog"
)

// Mode selects how Open treats existing backing files.
type Mode int

const (
	// Truncate zeroes the header and every chunk; used for a fresh DB.
	Truncate Mode = iota
	// OpenExisting recovers the freelist and latest-root pointer from the
	// front header instead of reinitializing it.
	OpenExisting
)

// Device is one backing block device or regular file, split into equal-size
// chunks and mapped into memory for zero-copy reads of already-written data.
type Device struct {
	Path     string
	file     *os.File
	lock     *flock.Flock
	mapping  mmap.MMap
	Capacity uint64 // total bytes
	Chunks   uint32 // Capacity / chunkCapacity, rounded down
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(d.mapping) {
		return 0, fmt.Errorf("chunkpool: read past end of device %s", d.Path)
	}
	return copy(p, d.mapping[off:off+int64(len(p))]), nil
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(d.mapping) {
		return 0, fmt.Errorf("chunkpool: write past end of device %s", d.Path)
	}
	return copy(d.mapping[off:off+int64(len(p))], p), nil
}

func (d *Device) Sync() error { return d.mapping.Flush() }

func (d *Device) Close() error {
	err := d.mapping.Unmap()
	if cerr := d.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
	return err
}

// Pool owns the set of backing devices and the two circular freelists (fast,
// slow) plus the free-chunk list.
//
// The freelist and write frontiers are modified only by the
// single upsert/compaction thread; Pool itself does not attempt to be safe
// for concurrent writers, only for one writer plus many concurrent readers
// of already-committed chunks (the mutex below guards bookkeeping fields
// touched incidentally by a read-only statesync Pool, not the hot path).
type Pool struct {
	mu sync.Mutex

	devices       []*Device
	chunkCapacity uint64

	header     FrontHeader
	generation uint64

	// touchedChunks accumulates the chunk IDs relocated or freed during the
	// in-progress compaction cycle, used for logging/diagnostics; a roaring
	// bitmap is a natural fit for a sparse 20-bit chunk-id membership set.
	touchedChunks *roaring.Bitmap

	log xlog.Logger
}

// DefaultChunkCapacity is the typical 2 GiB chunk size.
const DefaultChunkCapacity = 2 << 30

// Open partitions paths into fixed-size chunks and recovers or initializes
// the front header.
func Open(paths []string, mode Mode, chunkCapacity uint64, deviceCapacityBytes uint64) (*Pool, error) {
	if chunkCapacity == 0 {
		chunkCapacity = DefaultChunkCapacity
	}
	p := &Pool{
		chunkCapacity: chunkCapacity,
		touchedChunks: roaring.New(),
		log:           xlog.New("component", "chunkpool"),
	}

	for _, path := range paths {
		dev, err := openDevice(path, deviceCapacityBytes, mode == Truncate)
		if err != nil {
			return nil, fmt.Errorf("chunkpool: open device %s: %w", path, err)
		}
		dev.Chunks = uint32(dev.Capacity / chunkCapacity)
		p.devices = append(p.devices, dev)
	}

	if len(p.devices) == 0 {
		return nil, fmt.Errorf("chunkpool: at least one backing device is required")
	}

	switch mode {
	case Truncate:
		total := p.totalChunks()
		if total < 2 {
			return nil, fmt.Errorf("chunkpool: device capacity too small for even one free chunk")
		}
		p.header = FrontHeader{
			FreeHead: 1,
			FreeTail: ChunkID(total - 1),
		}
		// Chunk 0 is reserved for the replicated front header; every other
		// chunk starts out on the free list, chained head-to-tail so
		// AllocateFromFree/RemoveFromList can walk it one link at a time.
		if err := p.initFreeChain(1, ChunkID(total-1)); err != nil {
			return nil, err
		}
		p.generation = 1
		if err := p.writeHeader(); err != nil {
			return nil, err
		}
	case OpenExisting:
		hdr, gen, err := p.recoverHeader()
		if err != nil {
			return nil, fmt.Errorf("chunkpool: recover header: %w", err)
		}
		p.header = hdr
		p.generation = gen
	}

	p.log.Info("storage pool opened", "devices", len(p.devices), "chunk_capacity", chunkCapacity, "mode", mode)
	return p, nil
}

func openDevice(path string, capacity uint64, truncate bool) (*Device, error) {
	flags := os.O_RDWR | os.O_CREATE
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	if !locked {
		f.Close()
		return nil, fmt.Errorf("device %s is already locked by another process", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if truncate || fi.Size() < int64(capacity) {
		if err := f.Truncate(int64(capacity)); err != nil {
			f.Close()
			return nil, err
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Device{Path: path, file: f, lock: lk, mapping: m, Capacity: capacity}, nil
}

func (p *Pool) totalChunks() uint32 {
	var total uint32
	for _, d := range p.devices {
		total += d.Chunks
	}
	return total
}

// locateChunk maps a global chunk ID to the device that owns it
// and the device-local chunk index, by walking devices in registration
// order (device 0 first). This keeps ChunkID a flat global namespace while
// supporting multiple backing devices of possibly different sizes.
func (p *Pool) locateChunk(id ChunkID) (dev *Device, localIndex uint32, err error) {
	remaining := uint32(id)
	for _, d := range p.devices {
		if remaining < d.Chunks {
			return d, remaining, nil
		}
		remaining -= d.Chunks
	}
	return nil, 0, fmt.Errorf("chunkpool: chunk id %d out of range", id)
}

// DeviceOf returns the physical device backing a chunk.
func (p *Pool) DeviceOf(id ChunkID) (*Device, error) {
	d, _, err := p.locateChunk(id)
	return d, err
}

// PhysicalOffsetOf resolves a virtual offset to a physical device offset.
func (p *Pool) PhysicalOffsetOf(v VirtualOffset) (PhysicalOffset, error) {
	dev, local, err := p.locateChunk(v.ChunkID)
	if err != nil {
		return PhysicalOffset{}, err
	}
	devIndex := -1
	for i, d := range p.devices {
		if d == dev {
			devIndex = i
			break
		}
	}
	return PhysicalOffset{
		DeviceIndex: devIndex,
		Offset:      uint64(local)*p.chunkCapacity + v.ByteOffset,
	}, nil
}

// ChunkCapacity returns the fixed chunk size in bytes.
func (p *Pool) ChunkCapacity() uint64 { return p.chunkCapacity }

// FreeListEnd returns the tail of the free list, i.e. the next chunk that
// will be handed out by an allocation.
func (p *Pool) FreeListEnd() ChunkID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header.FreeTail
}

func (p *Pool) readChunkHeader(id ChunkID) (ChunkHeader, error) {
	dev, local, err := p.locateChunk(id)
	if err != nil {
		return ChunkHeader{}, err
	}
	buf := make([]byte, ChunkHeaderSize)
	if _, err := dev.ReadAt(buf, int64(local)*int64(p.chunkCapacity)); err != nil {
		return ChunkHeader{}, err
	}
	return DecodeChunkHeader(buf)
}

// initFreeChain writes the per-chunk linkage records for a freshly truncated
// device's initial free list, chunk first through chunk last inclusive, each
// pointing at its neighbors so the free list is walkable from the very first
// AllocateFromFree call.
func (p *Pool) initFreeChain(first, last ChunkID) error {
	for id := first; id <= last; id++ {
		h := ChunkHeader{ListID: ListFree}
		if id > first {
			h.PrevChunk = id - 1
		}
		if id < last {
			h.NextChunk = id + 1
		}
		if err := p.writeChunkHeader(id, h); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) writeChunkHeader(id ChunkID, h ChunkHeader) error {
	dev, local, err := p.locateChunk(id)
	if err != nil {
		return err
	}
	_, err = dev.WriteAt(h.Encode(), int64(local)*int64(p.chunkCapacity))
	return err
}

// AllocateFromFree pops the tail of the free list for use by a writer that
// needs a fresh chunk.
func (p *Pool) AllocateFromFree() (ChunkID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.header.FreeTail
	if id == 0 {
		return 0, fmt.Errorf("chunkpool: free list exhausted")
	}
	hdr, err := p.readChunkHeader(id)
	if err != nil {
		return 0, err
	}
	p.header.FreeTail = hdr.PrevChunk
	if p.header.FreeTail == 0 {
		p.header.FreeHead = 0
	}
	p.touchedChunks.Add(uint32(id))
	return id, nil
}

// AppendToList links chunk id onto the head of the named list (fast or
// slow), used by the writer when a node write opens a fresh chunk.
func (p *Pool) AppendToList(list ListID, id ChunkID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var head *ChunkID
	switch list {
	case ListFast:
		head = &p.header.FastHead
	case ListSlow:
		head = &p.header.SlowHead
	default:
		return fmt.Errorf("chunkpool: cannot append to list %d", list)
	}

	newHdr := ChunkHeader{ListID: list, NextChunk: *head}
	if err := p.writeChunkHeader(id, newHdr); err != nil {
		return err
	}
	if *head != 0 {
		oldHeadHdr, err := p.readChunkHeader(*head)
		if err != nil {
			return err
		}
		oldHeadHdr.PrevChunk = id
		if err := p.writeChunkHeader(*head, oldHeadHdr); err != nil {
			return err
		}
	} else {
		switch list {
		case ListFast:
			p.header.FastTail = id
		case ListSlow:
			p.header.SlowTail = id
		}
	}
	*head = id
	return nil
}

// RemoveFromList unlinks a chunk from whichever list it currently belongs to
// and returns it to the tail of the free list, used by the compactor once a
// chunk's live nodes have all been relocated.
func (p *Pool) RemoveFromList(id ChunkID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hdr, err := p.readChunkHeader(id)
	if err != nil {
		return err
	}

	if hdr.PrevChunk != 0 {
		prevHdr, err := p.readChunkHeader(hdr.PrevChunk)
		if err != nil {
			return err
		}
		prevHdr.NextChunk = hdr.NextChunk
		if err := p.writeChunkHeader(hdr.PrevChunk, prevHdr); err != nil {
			return err
		}
	}
	if hdr.NextChunk != 0 {
		nextHdr, err := p.readChunkHeader(hdr.NextChunk)
		if err != nil {
			return err
		}
		nextHdr.PrevChunk = hdr.PrevChunk
		if err := p.writeChunkHeader(hdr.NextChunk, nextHdr); err != nil {
			return err
		}
	}
	p.fixupListEnds(id, hdr)

	freeHdr := ChunkHeader{ListID: ListFree, PrevChunk: p.header.FreeTail}
	if err := p.writeChunkHeader(id, freeHdr); err != nil {
		return err
	}
	if p.header.FreeTail != 0 {
		tailHdr, err := p.readChunkHeader(p.header.FreeTail)
		if err != nil {
			return err
		}
		tailHdr.NextChunk = id
		if err := p.writeChunkHeader(p.header.FreeTail, tailHdr); err != nil {
			return err
		}
	} else {
		p.header.FreeHead = id
	}
	p.header.FreeTail = id
	p.touchedChunks.Add(uint32(id))
	return nil
}

func (p *Pool) fixupListEnds(id ChunkID, hdr ChunkHeader) {
	switch hdr.ListID {
	case ListFast:
		if p.header.FastHead == id {
			p.header.FastHead = hdr.NextChunk
		}
		if p.header.FastTail == id {
			p.header.FastTail = hdr.PrevChunk
		}
	case ListSlow:
		if p.header.SlowHead == id {
			p.header.SlowHead = hdr.NextChunk
		}
		if p.header.SlowTail == id {
			p.header.SlowTail = hdr.PrevChunk
		}
	}
}

// CommitHeader persists the current latest root, frontiers and list heads to
// the front header, alternating between the two replicas and bumping the
// generation counter. This is the single final, fully-draining write of an
// upsert.
func (p *Pool) CommitHeader(root VirtualOffset, fastFrontier, slowFrontier VirtualOffset) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.header.LatestRoot = root
	p.header.FastFrontier = fastFrontier
	p.header.SlowFrontier = slowFrontier
	p.generation++
	p.header.Generation = p.generation

	dev := p.devices[0]
	replica := int64(p.generation % 2)
	buf := p.header.Encode()
	if _, err := dev.WriteAt(buf, replica*FrontHeaderSize); err != nil {
		return err
	}
	if err := dev.Sync(); err != nil {
		return err
	}
	p.touchedChunks.Clear()
	return nil
}

func (p *Pool) writeHeader() error {
	dev := p.devices[0]
	buf := p.header.Encode()
	if _, err := dev.WriteAt(buf, 0); err != nil {
		return err
	}
	if _, err := dev.WriteAt(buf, FrontHeaderSize); err != nil {
		return err
	}
	return dev.Sync()
}

func (p *Pool) recoverHeader() (FrontHeader, uint64, error) {
	dev := p.devices[0]
	var best FrontHeader
	var bestGen uint64 = ^uint64(0)
	found := false
	for replica := 0; replica < 2; replica++ {
		buf := make([]byte, FrontHeaderSize)
		if _, err := dev.ReadAt(buf, int64(replica*FrontHeaderSize)); err != nil {
			continue
		}
		hdr, err := DecodeFrontHeader(buf)
		if err != nil {
			continue
		}
		if !found || hdr.Generation > bestGen {
			best, bestGen, found = hdr, hdr.Generation, true
		}
	}
	if !found {
		return FrontHeader{}, 0, fmt.Errorf("chunkpool: no valid front header replica")
	}
	return best, bestGen, nil
}

// LatestRoot returns the most recently committed root virtual offset.
func (p *Pool) LatestRoot() VirtualOffset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header.LatestRoot
}

// Close unmaps and unlocks every backing device.
func (p *Pool) Close() error {
	var first error
	for _, d := range p.devices {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
