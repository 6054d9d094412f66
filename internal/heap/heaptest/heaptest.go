// Package heaptest builds fake instrumented heaps for tests and demos.
//
// It plays the allocator's role from the analysis engine's point of
// view: it maps segments, carves blocks, keeps the shadow table in
// lock-step, and drives the alloc -> quarantine transitions, so tests can
// stage exactly the memory states the classifier has to diagnose.
package heaptest

import (
	"time"

	"github.com/kolkov/heapdiag/internal/config"
	"github.com/kolkov/heapdiag/internal/heap/block"
	"github.com/kolkov/heapdiag/internal/heap/memview"
	"github.com/kolkov/heapdiag/internal/heap/shadow"
	"github.com/kolkov/heapdiag/internal/heap/stackcache"
)

// Heap bundles a fake address space with its shadow table and stack
// depot.
type Heap struct {
	Space  *memview.Space
	Shadow *shadow.Shadow
	Depot  *stackcache.Depot
	Config config.Config

	// Clock stands in for the wall clock on free transitions; tests
	// advance it by hand.
	Clock func() time.Time
}

// NewHeap creates an empty fake heap with the default policy.
func NewHeap() *Heap {
	cfg := config.Default()
	return &Heap{
		Space:  memview.NewSpace(),
		Shadow: shadow.New(cfg.ShadowRatioLog),
		Depot:  stackcache.NewDepot(),
		Config: cfg,
		Clock:  time.Now,
	}
}

// SampleStack is an arbitrary frame sequence used as provenance for fake
// blocks.
var SampleStack = []uint64{0x401000, 0x401234, 0x40ABCD}

// FakeBlock is one staged allocation.
type FakeBlock struct {
	heap *Heap
	Info block.Info
}

// AllocateArena maps a zero-filled segment at base and covers it with
// reserved shadow, like a fresh allocator reservation.
func (h *Heap) AllocateArena(base, size uint64) bool {
	if !h.Space.AddSegment(base, size) {
		return false
	}
	return h.Shadow.Cover(base, size, shadow.MarkerReserved)
}

// NewBlock carves a block with the given body size at base, writes its
// header and trailer, poisons shadow, and records an allocation stack.
// base must lie inside a previously allocated arena.
func (h *Heap) NewBlock(base, bodySize uint64, nested bool) (*FakeBlock, bool) {
	granule := h.Shadow.GranuleSize()
	layout, ok := block.PlanLayout(granule, granule, bodySize, 0, 0)
	if !ok {
		return nil, false
	}
	info, ok := block.Initialize(layout, base, nested, h.Space)
	if !ok {
		return nil, false
	}
	info.Header.AllocStack = h.Depot.Save(SampleStack)
	info.Trailer.AllocTID = 1
	if !block.WriteHeader(h.Space, info.HeaderAddr, &info.Header) ||
		!block.WriteTrailer(h.Space, info.TrailerAddr, &info.Trailer) {
		return nil, false
	}
	h.Shadow.PoisonAllocatedBlock(info)
	return &FakeBlock{heap: h, Info: info}, true
}

// NewBlockWithStacks carves a block using explicit provenance.
func (h *Heap) NewBlockWithStacks(base, bodySize uint64, nested bool, allocStack []uint64, allocTID uint32) (*FakeBlock, bool) {
	fb, ok := h.NewBlock(base, bodySize, nested)
	if !ok {
		return nil, false
	}
	fb.Info.Header.AllocStack = h.Depot.Save(allocStack)
	fb.Info.Trailer.AllocTID = allocTID
	if !block.WriteHeader(h.Space, fb.Info.HeaderAddr, &fb.Info.Header) ||
		!block.WriteTrailer(h.Space, fb.Info.TrailerAddr, &fb.Info.Trailer) {
		return nil, false
	}
	return fb, true
}

// MarkAsQuarantined drives the free transition: free stack and thread id
// recorded, body flood-filled (unless the block shelters live nested
// children), shadow body granules flipped to freed.
func (fb *FakeBlock) MarkAsQuarantined(freeStack []uint64, freeTID uint32, fill bool) bool {
	handle := fb.heap.Depot.Save(freeStack)
	if !block.MarkFreed(fb.heap.Space, &fb.Info, handle, freeTID, fb.heap.Clock(), fill) {
		return false
	}
	fb.heap.Shadow.MarkBlockAsFreed(fb.Info)
	return true
}

// CorruptHeaderMagic flips the header magic in place, leaving the rest
// of the header (checksum included) as originally written.
func (fb *FakeBlock) CorruptHeaderMagic() bool {
	bad := ^block.HeaderMagic
	return fb.heap.Space.Write(fb.Info.HeaderAddr, []byte{
		byte(bad), byte(bad >> 8), byte(bad >> 16), byte(bad >> 24),
	})
}

// RestoreHeaderMagic undoes CorruptHeaderMagic.
func (fb *FakeBlock) RestoreHeaderMagic() bool {
	good := block.HeaderMagic
	return fb.heap.Space.Write(fb.Info.HeaderAddr, []byte{
		byte(good), byte(good >> 8), byte(good >> 16), byte(good >> 24),
	})
}

// WriteBody stores bytes into the block body, as application code would.
func (fb *FakeBlock) WriteBody(off uint64, data []byte) bool {
	if off+uint64(len(data)) > fb.Info.BodySize {
		return false
	}
	return fb.heap.Space.Write(fb.Info.BodyAddr+off, data)
}
