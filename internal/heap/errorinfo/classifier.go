package errorinfo

import (
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/heapdiag/internal/config"
	"github.com/kolkov/heapdiag/internal/heap/block"
	"github.com/kolkov/heapdiag/internal/heap/memview"
	"github.com/kolkov/heapdiag/internal/heap/shadow"
	"github.com/kolkov/heapdiag/internal/heap/stackcache"
)

// Classifier inspects one target address space through its shadow table.
// It holds no locks and mutates nothing in the target: it is invoked once
// per fault, after the faulting thread has stopped, and all of its reads
// are defensive because other threads may still be running.
type Classifier struct {
	space  *memview.Space
	shadow *shadow.Shadow
	cfg    config.Config
	log    *zap.Logger

	// now is the clock used for milliseconds-since-free; injectable so
	// tests can pin it.
	now func() time.Time
}

// NewClassifier creates a classifier over the given space and shadow
// table. A nil logger disables logging.
func NewClassifier(space *memview.Space, sh *shadow.Shadow, cfg config.Config, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		space:  space,
		shadow: sh,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// GetBadAccessInformation classifies the access at info.Location and
// fills in the rest of info. It returns false when there is nothing to
// report: the address is live in-bounds data, or shadow memory knows
// nothing about the region at all.
//
// The walk is total by construction. Every scan is bounded by the
// configured search radius, every memory read is bounds-checked, and a
// header that fails validation stops deeper inspection of that block
// instead of being dereferenced.
func (c *Classifier) GetBadAccessInformation(cache stackcache.Cache, info *ErrorInfo) bool {
	loc := info.Location
	defer c.snapshot(info)

	marker, covered := c.shadow.MarkerAt(loc)
	switch {
	case !covered:
		// Not under shadow at all: nothing to say about this address.
		c.log.Debug("address not covered by shadow", zap.Uint64("location", loc))
		return false
	case c.shadow.IsAccessible(loc):
		// Live user data, in bounds. Not an error.
		return false
	case marker == shadow.MarkerMemory || marker == shadow.MarkerInvalid ||
		marker == shadow.MarkerReserved:
		// Covered but unrelated to any carved block.
		info.ErrorType = WildAccess
		return true
	}

	bi, ok := c.findContainingBlock(loc)
	if !ok {
		// The scan ran out of radius, or the header the markers pointed
		// at did not check out well enough to locate an extent.
		info.ErrorType = c.classifyUnresolved(loc)
		if info.ErrorType == CorruptBlock {
			c.fillCorruptHeader(cache, loc, info)
		}
		return true
	}

	if block.ValidateHeader(c.space, &bi) == block.DataIsCorrupt {
		info.ErrorType = CorruptBlock
		c.GetBlockInfo(cache, bi, &info.BlockInfo)
		return true
	}

	kind := c.kindForBlock(loc, &bi)
	if kind == NoError {
		// In-bounds access to an allocated block: check whether an
		// enclosing quarantined block explains it instead.
		outer, found := c.quarantinedAncestor(&bi)
		if !found {
			return false
		}
		// The inner block is live but sits inside freed memory; the
		// outer block's free context is the one that explains the
		// access.
		info.ErrorType = UseAfterFree
		c.GetBlockInfo(cache, bi, &info.BlockInfo)
		c.borrowFreeContext(cache, &outer, &info.BlockInfo)
		return true
	}

	info.ErrorType = kind
	c.GetBlockInfo(cache, bi, &info.BlockInfo)

	if kind == UseAfterFree && info.BlockInfo.FreeStack.Empty() {
		// The inner block was never independently freed (its free
		// provenance is empty) so the freeing context lives on an
		// enclosing quarantined block.
		if outer, found := c.quarantinedAncestor(&bi); found {
			c.borrowFreeContext(cache, &outer, &info.BlockInfo)
		}
	}
	return true
}

// kindForBlock relates the faulting address to a located block.
func (c *Classifier) kindForBlock(loc uint64, bi *block.Info) BadAccessKind {
	switch {
	case loc < bi.BodyAddr:
		return BufferUnderflow
	case loc >= bi.BodyAddr+bi.BodySize:
		return BufferOverflow
	case bi.Header.State == block.Quarantined || bi.Header.State == block.Freed:
		return UseAfterFree
	default:
		return NoError
	}
}

// findContainingBlock scans backward through shadow memory from loc for
// the innermost block whose extent contains loc. Nested blocks are found
// first because their start markers sit between loc and the enclosing
// header. The scan is bounded by the configured search radius; block
// starts whose headers do not validate far enough to yield an extent are
// skipped (the scan continues looking for an enclosing block).
func (c *Classifier) findContainingBlock(loc uint64) (block.Info, bool) {
	granule := c.shadow.GranuleSize()
	addr := loc &^ (granule - 1)
	for i := uint64(0); i <= c.cfg.SearchRadius; i++ {
		m, ok := c.shadow.MarkerAt(addr)
		if !ok || m == shadow.MarkerMemory || m == shadow.MarkerInvalid {
			// Walked off the tracked heap.
			return block.Info{}, false
		}
		if m.IsBlockStart() {
			if bi, ok := block.ReadInfo(c.space, addr); ok && bi.ContainsAddr(loc) {
				return bi, true
			}
			// Either a corrupt header or a sibling nested block that
			// ends before loc; keep scanning left for the enclosing
			// block.
		}
		if addr < granule {
			break
		}
		addr -= granule
	}
	return block.Info{}, false
}

// classifyUnresolved picks the most specific kind still supportable when
// no containing block could be located: a block-start marker with an
// unreadable header is corruption evidence, anything else is unknown.
func (c *Classifier) classifyUnresolved(loc uint64) BadAccessKind {
	granule := c.shadow.GranuleSize()
	addr := loc &^ (granule - 1)
	for i := uint64(0); i <= c.cfg.SearchRadius; i++ {
		m, ok := c.shadow.MarkerAt(addr)
		if !ok {
			break
		}
		if m.IsBlockStart() {
			return CorruptBlock
		}
		if addr < granule {
			break
		}
		addr -= granule
	}
	return UnknownBadAccess
}

// fillCorruptHeader produces the best-effort summary for a block start
// whose header failed validation: fields the header cannot vouch for stay
// at their unknown sentinels rather than being dereferenced.
func (c *Classifier) fillCorruptHeader(cache stackcache.Cache, loc uint64, info *ErrorInfo) {
	granule := c.shadow.GranuleSize()
	addr := loc &^ (granule - 1)
	for i := uint64(0); i <= c.cfg.SearchRadius; i++ {
		m, ok := c.shadow.MarkerAt(addr)
		if !ok {
			return
		}
		if m.IsBlockStart() {
			info.BlockInfo.HeaderAddr = addr
			info.BlockInfo.Analysis.BlockState = block.DataIsCorrupt
			info.BlockInfo.Analysis.HeaderState = block.DataIsCorrupt
			return
		}
		if addr < granule {
			return
		}
		addr -= granule
	}
}

// quarantinedAncestor walks outward from a nested block looking for the
// nearest enclosing block that has been freed. The walk re-runs the
// bounded backward scan from just below the nested block's header.
func (c *Classifier) quarantinedAncestor(bi *block.Info) (block.Info, bool) {
	if !bi.Header.Nested {
		return block.Info{}, false
	}
	granule := c.shadow.GranuleSize()
	cur := *bi
	// Nesting depth is bounded by the search radius as well; in practice
	// it is one or two levels.
	for depth := 0; depth < 8; depth++ {
		if cur.HeaderAddr < granule {
			return block.Info{}, false
		}
		outer, ok := c.findContainingBlock(cur.HeaderAddr - 1)
		if !ok {
			return block.Info{}, false
		}
		if outer.Header.State == block.Quarantined || outer.Header.State == block.Freed {
			return outer, true
		}
		if !outer.Header.Nested {
			return block.Info{}, false
		}
		cur = outer
	}
	return block.Info{}, false
}

// borrowFreeContext copies the free provenance of an enclosing block into
// a summary whose own block was never independently freed.
func (c *Classifier) borrowFreeContext(cache stackcache.Cache, outer *block.Info, dst *BlockInfo) {
	dst.FreeTID = outer.Trailer.FreeTID
	dst.FreeStack = c.lookupStack(cache, outer.Header.FreeStack)
	if outer.Trailer.FreeTimeMS != 0 {
		dst.MillisecondsSinceFree = c.millisecondsSince(outer.Trailer.FreeTimeMS)
	}
}

// CheckFree classifies a free request before the allocator honors it.
// It returns false when the free is legitimate; otherwise it fills info
// with a DoubleFree, InvalidAddress or CorruptBlock report.
func (c *Classifier) CheckFree(cache stackcache.Cache, info *ErrorInfo) bool {
	loc := info.Location
	m, covered := c.shadow.MarkerAt(loc)
	if !covered {
		info.ErrorType = InvalidAddress
		return true
	}

	// A free must target the body address of a carved block: its granule
	// is addressable (live) or freed (double free), with a block header
	// within scan range.
	bi, ok := c.findContainingBlock(loc)
	if !ok {
		if m.IsBlockStart() {
			info.ErrorType = CorruptBlock
			c.fillCorruptHeader(cache, loc, info)
		} else {
			info.ErrorType = InvalidAddress
		}
		return true
	}
	if block.ValidateHeader(c.space, &bi) == block.DataIsCorrupt {
		info.ErrorType = CorruptBlock
		c.GetBlockInfo(cache, bi, &info.BlockInfo)
		return true
	}
	if loc != bi.BodyAddr {
		info.ErrorType = InvalidAddress
		c.GetBlockInfo(cache, bi, &info.BlockInfo)
		return true
	}
	if bi.Header.State != block.Allocated {
		info.ErrorType = DoubleFree
		c.GetBlockInfo(cache, bi, &info.BlockInfo)
		return true
	}
	return false
}

// snapshot embeds the raw shadow window and page-residency bits around
// the faulting location into the report.
func (c *Classifier) snapshot(info *ErrorInfo) {
	info.ShadowIndex, info.ShadowMemory = c.shadow.Snapshot(info.Location, c.cfg.ShadowWindowBytes)
	info.PageBitsIndex = info.Location / c.cfg.PageSize / 8
	info.PageBits = c.space.PageBits(info.PageBitsIndex, c.cfg.PageBitsWindowBytes, c.cfg.PageSize)
}

// millisecondsSince converts a quarantine timestamp to the advisory
// time-since-free figure. A clock that moved backwards reports zero.
func (c *Classifier) millisecondsSince(freeTimeMS uint64) uint64 {
	now := uint64(c.now().UnixMilli())
	if now <= freeTimeMS {
		return 0
	}
	return now - freeTimeMS
}
