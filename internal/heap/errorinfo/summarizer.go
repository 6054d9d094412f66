package errorinfo

import (
	"github.com/kolkov/heapdiag/internal/heap/block"
	"github.com/kolkov/heapdiag/internal/heap/stackcache"
)

// GetBlockInfo fills dst with the bounded summary of one located block:
// sizes, state, thread ids, truncated stacks and time since free. The
// heap-type tag passes through uninterpreted.
func (c *Classifier) GetBlockInfo(cache stackcache.Cache, bi block.Info, dst *BlockInfo) {
	*dst = BlockInfo{
		HeaderAddr: bi.HeaderAddr,
		UserSize:   bi.BodySize,
		State:      bi.Header.State,
		HeapType:   bi.Header.HeapType,
		Analysis:   block.Analyze(c.space, &bi),
		AllocTID:   bi.Trailer.AllocTID,
		AllocStack: c.lookupStack(cache, bi.Header.AllocStack),
	}
	if bi.Header.State == block.Allocated {
		return
	}
	dst.FreeTID = bi.Trailer.FreeTID
	dst.FreeStack = c.lookupStack(cache, bi.Header.FreeStack)
	if bi.Trailer.FreeTimeMS != 0 {
		dst.MillisecondsSinceFree = c.millisecondsSince(bi.Trailer.FreeTimeMS)
	}
}

// lookupStack fetches a stack by handle and truncates it to the
// configured frame cap, preserving the true count. A missing or zero
// handle yields an empty stack, never an error.
func (c *Classifier) lookupStack(cache stackcache.Cache, id uint32) Stack {
	if cache == nil || id == 0 {
		return Stack{}
	}
	frames, n, ok := cache.Lookup(id)
	if !ok {
		return Stack{}
	}
	if len(frames) > c.cfg.MaxStackFrames {
		frames = frames[:c.cfg.MaxStackFrames]
	}
	out := make([]uint64, len(frames))
	copy(out, frames)
	return Stack{Frames: out, TrueCount: n}
}

// GetCorruptRange summarizes a contiguous corrupted region. It walks the
// shadow table across [base, base+length) counting every block start it
// sees, and details at most the configured cap of them. Callers needing
// more detail must request additional ranges; this bound keeps report
// size proportional to corruption severity, not heap size.
func (c *Classifier) GetCorruptRange(cache stackcache.Cache, base, length uint64, dst *CorruptRange) {
	*dst = CorruptRange{Address: base, Length: length}
	granule := c.shadow.GranuleSize()
	for addr := base &^ (granule - 1); addr < base+length; addr += granule {
		m, ok := c.shadow.MarkerAt(addr)
		if !ok || !m.IsBlockStart() {
			continue
		}
		dst.BlockCount++
		if len(dst.Blocks) >= c.cfg.MaxBlocksPerRange {
			continue
		}
		var summary BlockInfo
		if bi, ok := block.ReadInfo(c.space, addr); ok {
			c.GetBlockInfo(cache, bi, &summary)
		} else {
			// Header too corrupt to yield an extent: best-effort entry
			// with unknown sentinels rather than a skipped block.
			summary.HeaderAddr = addr
			summary.Analysis.BlockState = block.DataIsCorrupt
			summary.Analysis.HeaderState = block.DataIsCorrupt
		}
		dst.Blocks = append(dst.Blocks, summary)
	}
}

// ScanHeap walks every shadow-covered segment looking for blocks whose
// integrity checks fail, groups contiguous corrupt blocks into ranges,
// and records the totals in info. It returns true when any corruption
// was found. The per-range detail cap applies; the counts are exact.
func (c *Classifier) ScanHeap(cache stackcache.Cache, info *ErrorInfo) bool {
	granule := c.shadow.GranuleSize()
	for _, seg := range c.space.Segments() {
		var rangeStart, rangeEnd uint64
		flush := func() {
			if rangeEnd == 0 {
				return
			}
			var cr CorruptRange
			c.GetCorruptRange(cache, rangeStart, rangeEnd-rangeStart, &cr)
			info.CorruptRanges = append(info.CorruptRanges, cr)
			info.CorruptRangeCount++
			info.CorruptBlockCount += cr.BlockCount
			rangeStart, rangeEnd = 0, 0
		}
		for addr := seg.Base &^ (granule - 1); addr < seg.End(); addr += granule {
			m, ok := c.shadow.MarkerAt(addr)
			if !ok || !m.IsBlockStart() {
				continue
			}
			bi, ok := block.ReadInfo(c.space, addr)
			corrupt := !ok
			if ok {
				a := block.Analyze(c.space, &bi)
				corrupt = a.BlockState == block.DataIsCorrupt
			}
			if !corrupt {
				flush()
				continue
			}
			end := addr + granule
			if ok {
				end = bi.BlockEnd()
			}
			if rangeEnd == 0 {
				rangeStart = addr
			}
			rangeEnd = end
		}
		flush()
	}
	info.HeapIsCorrupt = info.CorruptRangeCount > 0
	if info.HeapIsCorrupt && info.ErrorType == NoError {
		info.ErrorType = CorruptHeap
	}
	return info.HeapIsCorrupt
}
