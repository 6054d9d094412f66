package errorinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapdiag/internal/heap/block"
	"github.com/kolkov/heapdiag/internal/heap/heaptest"
)

const arenaBase = 0x10000

// stage builds a fake heap with one arena and a classifier over it.
func stage(t *testing.T) (*heaptest.Heap, *Classifier) {
	t.Helper()
	h := heaptest.NewHeap()
	require.True(t, h.AllocateArena(arenaBase, 0x4000))
	return h, NewClassifier(h.Space, h.Shadow, h.Config, nil)
}

func classify(t *testing.T, h *heaptest.Heap, c *Classifier, loc uint64) (ErrorInfo, bool) {
	t.Helper()
	info := ErrorInfo{Location: loc}
	ok := c.GetBadAccessInformation(h.Depot, &info)
	return info, ok
}

// TestLiveBodyIsNotAnError verifies that in-bounds access to a live
// allocation reports nothing.
func TestLiveBodyIsNotAnError(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)

	for _, off := range []uint64{0, 50, 99} {
		_, reported := classify(t, h, c, fb.Info.BodyAddr+off)
		assert.False(t, reported, "body offset %d", off)
	}
}

// TestUncoveredAddressIsNotReported verifies that an address shadow
// memory knows nothing about yields no report at all.
func TestUncoveredAddressIsNotReported(t *testing.T) {
	h, c := stage(t)
	_, reported := classify(t, h, c, 0x9000000)
	assert.False(t, reported)
}

func TestBufferUnderflow(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)

	info, reported := classify(t, h, c, fb.Info.BodyAddr-1)
	require.True(t, reported)
	assert.Equal(t, BufferUnderflow, info.ErrorType)
	assert.Equal(t, fb.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	assert.EqualValues(t, 100, info.BlockInfo.UserSize)
	assert.Equal(t, block.Allocated, info.BlockInfo.State)
	assert.Equal(t, heaptest.SampleStack, info.BlockInfo.AllocStack.Frames)
	assert.True(t, info.BlockInfo.FreeStack.Empty(), "a live block has no free provenance")
}

func TestBufferOverflow(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)

	// First byte past the body, and deep into the right redzone.
	for _, loc := range []uint64{
		fb.Info.BodyAddr + fb.Info.BodySize,
		fb.Info.BlockEnd() - 1,
	} {
		info, reported := classify(t, h, c, loc)
		require.True(t, reported, "loc %#x", loc)
		assert.Equal(t, BufferOverflow, info.ErrorType, "loc %#x", loc)
		assert.Equal(t, fb.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	}
}

func TestUseAfterFree(t *testing.T) {
	h, c := stage(t)
	t0 := time.UnixMilli(1_700_000_000_000)
	h.Clock = func() time.Time { return t0 }
	c.SetClock(func() time.Time { return t0.Add(250 * time.Millisecond) })

	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)
	freeStack := []uint64{0x500000, 0x500100}
	require.True(t, fb.MarkAsQuarantined(freeStack, 7, true))

	info, reported := classify(t, h, c, fb.Info.BodyAddr+10)
	require.True(t, reported)
	assert.Equal(t, UseAfterFree, info.ErrorType)
	assert.Equal(t, block.Quarantined, info.BlockInfo.State)
	assert.EqualValues(t, 7, info.BlockInfo.FreeTID)
	assert.Equal(t, freeStack, info.BlockInfo.FreeStack.Frames)
	assert.EqualValues(t, 250, info.BlockInfo.MillisecondsSinceFree)
}

// TestTimeSinceFreeNeverNegative verifies that a wall clock that moved
// backwards reports zero rather than wrapping.
func TestTimeSinceFreeNeverNegative(t *testing.T) {
	h, c := stage(t)
	t0 := time.UnixMilli(1_700_000_000_000)
	h.Clock = func() time.Time { return t0 }
	c.SetClock(func() time.Time { return t0.Add(-time.Hour) })

	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)
	require.True(t, fb.MarkAsQuarantined(heaptest.SampleStack, 1, true))

	info, reported := classify(t, h, c, fb.Info.BodyAddr)
	require.True(t, reported)
	assert.Zero(t, info.BlockInfo.MillisecondsSinceFree)
}

// TestWildAccess verifies that reserved-but-uncarved memory classifies
// as a wild access with no block summary.
func TestWildAccess(t *testing.T) {
	h, c := stage(t)

	info, reported := classify(t, h, c, arenaBase+0x2000)
	require.True(t, reported)
	assert.Equal(t, WildAccess, info.ErrorType)
	assert.Zero(t, info.BlockInfo.HeaderAddr)
}

// TestSnapshotEmbedded verifies that every report carries the raw shadow
// window and the page-residency bits.
func TestSnapshotEmbedded(t *testing.T) {
	h, c := stage(t)

	info, reported := classify(t, h, c, arenaBase+0x2000)
	require.True(t, reported)
	assert.Len(t, info.ShadowMemory, int(h.Config.ShadowWindowBytes))
	assert.Len(t, info.PageBits, int(h.Config.PageBitsWindowBytes))
	assert.Zero(t, info.ShadowIndex%h.Config.ShadowWindowBytes, "window start aligned to its size")
	assert.Equal(t, (arenaBase+0x2000)/h.Config.PageSize/8, info.PageBitsIndex)
}

// TestCorruptChecksum verifies that a header whose checksum no longer
// matches yields a corrupt-block report with a full summary (the extents
// still parse).
func TestCorruptChecksum(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)
	// Flip the heap-type byte without rewriting the checksum.
	b, _ := h.Space.ReadByte(fb.Info.HeaderAddr + 6)
	require.True(t, h.Space.WriteByte(fb.Info.HeaderAddr+6, b^0xFF))

	info, reported := classify(t, h, c, fb.Info.BodyAddr-1)
	require.True(t, reported)
	assert.Equal(t, CorruptBlock, info.ErrorType)
	assert.Equal(t, fb.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	assert.Equal(t, block.DataIsCorrupt, info.BlockInfo.Analysis.HeaderState)
}

// TestCorruptMagic verifies the harder case: the magic itself is gone,
// so no extent may be trusted, yet the classifier still pins the header
// address and never crashes.
func TestCorruptMagic(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)
	require.True(t, fb.CorruptHeaderMagic())

	info, reported := classify(t, h, c, fb.Info.BodyAddr-1)
	require.True(t, reported)
	assert.Equal(t, CorruptBlock, info.ErrorType)
	assert.Equal(t, fb.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	assert.Equal(t, block.DataIsCorrupt, info.BlockInfo.Analysis.HeaderState)
	assert.True(t, info.BlockInfo.AllocStack.Empty(), "no field of an untrusted header is dereferenced")
}

// nestedPair carves an inner block inside the body of an outer one.
func nestedPair(t *testing.T, h *heaptest.Heap) (outer, inner *heaptest.FakeBlock) {
	t.Helper()
	outer, ok := h.NewBlock(arenaBase, 512, false)
	require.True(t, ok)
	inner, ok = h.NewBlock(outer.Info.BodyAddr, 64, true)
	require.True(t, ok)
	require.Less(t, inner.Info.BlockEnd(), outer.Info.BodyAddr+outer.Info.BodySize)
	return outer, inner
}

// TestNestedInnerFreeWins: the inner block was freed on its own, so a
// use-after-free in its body reports the inner block's provenance even
// after the outer block is freed too.
func TestNestedInnerFreeWins(t *testing.T) {
	h, c := stage(t)
	outer, inner := nestedPair(t, h)

	innerFree := []uint64{0x600000, 0x600200}
	outerFree := []uint64{0x700000}
	require.True(t, inner.MarkAsQuarantined(innerFree, 3, true))

	info, reported := classify(t, h, c, inner.Info.BodyAddr+5)
	require.True(t, reported)
	assert.Equal(t, UseAfterFree, info.ErrorType)
	assert.Equal(t, inner.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	assert.Equal(t, innerFree, info.BlockInfo.FreeStack.Frames)

	// Freeing the enclosing block afterwards must not steal the report:
	// the inner free context is the more precise one.
	require.True(t, outer.MarkAsQuarantined(outerFree, 9, false))
	info, reported = classify(t, h, c, inner.Info.BodyAddr+5)
	require.True(t, reported)
	assert.Equal(t, UseAfterFree, info.ErrorType)
	assert.Equal(t, inner.Info.HeaderAddr, info.BlockInfo.HeaderAddr)
	assert.Equal(t, innerFree, info.BlockInfo.FreeStack.Frames, "inner provenance must win")
	assert.EqualValues(t, 3, info.BlockInfo.FreeTID)
}

// TestNestedBorrowsOuterFreeContext: the inner block was never freed on
// its own; when the outer block is freed, a hit inside the inner body is
// a use-after-free explained by the outer free.
func TestNestedBorrowsOuterFreeContext(t *testing.T) {
	h, c := stage(t)
	outer, inner := nestedPair(t, h)

	outerFree := []uint64{0x700000, 0x700100}
	require.True(t, outer.MarkAsQuarantined(outerFree, 9, false))

	info, reported := classify(t, h, c, inner.Info.BodyAddr+5)
	require.True(t, reported)
	assert.Equal(t, UseAfterFree, info.ErrorType)
	assert.Equal(t, inner.Info.HeaderAddr, info.BlockInfo.HeaderAddr, "the inner block is still the subject")
	assert.Equal(t, heaptest.SampleStack, info.BlockInfo.AllocStack.Frames)
	assert.Equal(t, outerFree, info.BlockInfo.FreeStack.Frames, "free context borrowed from the enclosing block")
	assert.EqualValues(t, 9, info.BlockInfo.FreeTID)
}

// TestNestedSiblingScan: an overflow past a nested block resolves to the
// enclosing block, not the sibling whose extent ends before the fault.
func TestNestedSiblingScan(t *testing.T) {
	h, c := stage(t)
	outer, inner := nestedPair(t, h)

	// An address in the outer body past the inner block's extent.
	loc := inner.Info.BlockEnd() + 8
	require.Less(t, loc, outer.Info.BodyAddr+outer.Info.BodySize)
	require.True(t, outer.MarkAsQuarantined([]uint64{0x700000}, 9, false))

	info, reported := classify(t, h, c, loc)
	require.True(t, reported)
	assert.Equal(t, UseAfterFree, info.ErrorType)
	assert.Equal(t, outer.Info.HeaderAddr, info.BlockInfo.HeaderAddr,
		"the scan must skip the sibling and land on the enclosing block")
}

func TestCheckFree(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)

	check := func(loc uint64) (ErrorInfo, bool) {
		info := ErrorInfo{Location: loc}
		return info, c.CheckFree(h.Depot, &info)
	}

	_, reported := check(fb.Info.BodyAddr)
	assert.False(t, reported, "freeing a live body pointer is legitimate")

	info, reported := check(fb.Info.BodyAddr + 10)
	require.True(t, reported)
	assert.Equal(t, InvalidAddress, info.ErrorType, "freeing an interior pointer")

	info, reported = check(0x9000000)
	require.True(t, reported)
	assert.Equal(t, InvalidAddress, info.ErrorType, "freeing an untracked address")

	require.True(t, fb.MarkAsQuarantined(heaptest.SampleStack, 2, true))
	info, reported = check(fb.Info.BodyAddr)
	require.True(t, reported)
	assert.Equal(t, DoubleFree, info.ErrorType)
	assert.Equal(t, block.Quarantined, info.BlockInfo.State)
}

func TestCheckFreeCorruptHeader(t *testing.T) {
	h, c := stage(t)
	fb, ok := h.NewBlock(arenaBase, 100, false)
	require.True(t, ok)
	b, _ := h.Space.ReadByte(fb.Info.HeaderAddr + 6)
	require.True(t, h.Space.WriteByte(fb.Info.HeaderAddr+6, b^0xFF))

	info := ErrorInfo{Location: fb.Info.BodyAddr}
	require.True(t, c.CheckFree(h.Depot, &info))
	assert.Equal(t, CorruptBlock, info.ErrorType)
}
