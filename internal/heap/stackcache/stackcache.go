// Package stackcache defines the handle-keyed stack-trace store the
// diagnostic engine reads provenance from, plus an in-memory
// implementation used by the harness, the snapshot loader and the tests.
//
// The real store lives in the instrumented process and is owned and
// synchronized by the agent that captured the stacks; the engine only
// performs read-only lookups by handle. A missing or zero handle means
// "no stack available" and is never an error.
package stackcache

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
)

// Cache is the read side of the store. Frames are target-process code
// addresses in call order; n is the true captured frame count, which may
// exceed len(frames) if the store itself truncates.
type Cache interface {
	Lookup(id uint32) (frames []uint64, n int, ok bool)
}

// Depot is an in-memory Cache with hash-based deduplication: identical
// stacks share one entry and one handle. Safe for concurrent use.
type Depot struct {
	mu     sync.RWMutex
	byID   map[uint32][]uint64
	byHash map[uint64]uint32
	nextID uint32
}

// NewDepot creates an empty depot. Handle 0 is reserved to mean "no
// stack" and is never issued.
func NewDepot() *Depot {
	return &Depot{
		byID:   make(map[uint32][]uint64),
		byHash: make(map[uint64]uint32),
		nextID: 1,
	}
}

// Save stores a stack and returns its handle, reusing the existing handle
// when an identical stack was saved before. Empty stacks map to handle 0.
func (d *Depot) Save(frames []uint64) uint32 {
	if len(frames) == 0 {
		return 0
	}
	h := hashFrames(frames)

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byHash[h]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	stored := make([]uint64, len(frames))
	copy(stored, frames)
	d.byID[id] = stored
	d.byHash[h] = id
	return id
}

// Insert stores a stack under a caller-chosen handle, as when rebuilding
// a depot from a process snapshot. Handle 0 is ignored.
func (d *Depot) Insert(id uint32, frames []uint64) {
	if id == 0 {
		return
	}
	stored := make([]uint64, len(frames))
	copy(stored, frames)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[id] = stored
	if id >= d.nextID {
		d.nextID = id + 1
	}
}

// Lookup implements Cache.
func (d *Depot) Lookup(id uint32) ([]uint64, int, bool) {
	if id == 0 {
		return nil, 0, false
	}
	d.mu.RLock()
	frames, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}
	return frames, len(frames), true
}

// Len returns the number of unique stacks stored.
func (d *Depot) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// hashFrames computes an FNV-1a hash over the frame addresses. FNV is
// fast and collides rarely enough for deduplication of call stacks.
func hashFrames(frames []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range frames {
		binary.LittleEndian.PutUint64(buf[:], pc)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
