package shadow

import (
	"github.com/kolkov/heapdiag/internal/heap/memview"
)

// Marker is a one-byte shadow code covering one granule of address space.
type Marker byte

// Shadow marker values. Addressable granules use the 0x00..0x07 range
// directly; everything else is a distinguished high value.
const (
	// MarkerAddressable marks a granule whose bytes are all live user data.
	MarkerAddressable Marker = 0x00

	// MarkerMemory marks memory that has been returned to the OS.
	MarkerMemory Marker = 0xF1

	// MarkerInvalid marks address space the engine never tracked.
	MarkerInvalid Marker = 0xF2

	// MarkerLeftRedzone covers block headers and left redzone padding.
	MarkerLeftRedzone Marker = 0xFA

	// MarkerRightRedzone covers trailers and right redzone padding.
	MarkerRightRedzone Marker = 0xFB

	// MarkerReserved covers memory bulk-reserved by the allocator but not
	// yet carved into blocks.
	MarkerReserved Marker = 0xFC

	// MarkerFreed covers the body of a quarantined or freed block.
	MarkerFreed Marker = 0xFD

	// MarkerBlockStart tags the first granule of a top-level block header.
	MarkerBlockStart Marker = 0xE0

	// MarkerNestedBlockStart tags the first granule of a block allocated
	// inside another block's body.
	MarkerNestedBlockStart Marker = 0xE8

	// blockStartMask selects the block-start marker family.
	blockStartMask Marker = 0xF0

	// nestedBit distinguishes nested from top-level block starts.
	nestedBit Marker = 0x08
)

// IsAddressable reports whether the marker describes (fully or partially)
// live user data.
func (m Marker) IsAddressable() bool {
	return m <= 0x07
}

// IsBlockStart reports whether the marker tags the first granule of a
// block header, nested or not.
func (m Marker) IsBlockStart() bool {
	return m&blockStartMask == MarkerBlockStart
}

// IsNestedBlockStart reports whether the marker tags a nested block start.
func (m Marker) IsNestedBlockStart() bool {
	return m.IsBlockStart() && m&nestedBit != 0
}

// IsRedzone reports whether the marker covers redzone padding, including
// the header granules of a block.
func (m Marker) IsRedzone() bool {
	return m == MarkerLeftRedzone || m == MarkerRightRedzone || m.IsBlockStart()
}

// Shadow is the side table. It reuses memview.Space for its storage, in
// shadow coordinates: shadow byte i covers real addresses
// [i<<RatioLog, (i+1)<<RatioLog).
type Shadow struct {
	ratioLog uint
	table    *memview.Space
}

// New creates an empty shadow table with the given granule ratio
// (granule size = 1 << ratioLog bytes).
func New(ratioLog uint) *Shadow {
	return &Shadow{ratioLog: ratioLog, table: memview.NewSpace()}
}

// RatioLog returns the log2 of the granule size.
func (s *Shadow) RatioLog() uint {
	return s.ratioLog
}

// GranuleSize returns the number of real bytes covered by one shadow byte.
func (s *Shadow) GranuleSize() uint64 {
	return 1 << s.ratioLog
}

// Index returns the shadow byte index covering addr.
func (s *Shadow) Index(addr uint64) uint64 {
	return addr >> s.ratioLog
}

// Cover extends the table over [addr, addr+size), initialized to the given
// marker. Returns false if the range is already (partially) covered.
func (s *Shadow) Cover(addr, size uint64, m Marker) bool {
	if size == 0 {
		return false
	}
	lo := s.Index(addr)
	hi := s.Index(addr+size-1) + 1
	data := make([]byte, hi-lo)
	for i := range data {
		data[i] = byte(m)
	}
	return s.table.AddSegmentData(lo, data)
}

// CoverData installs raw marker bytes starting at the given shadow-space
// index, as when rebuilding a table from a process snapshot. Returns
// false on overlap with existing coverage.
func (s *Shadow) CoverData(index uint64, data []byte) bool {
	return s.table.AddSegmentData(index, data)
}

// MarkerAt returns the shadow marker covering addr. The second result is
// false when the address is outside the covered range; callers must treat
// that as "nothing known", never as an error.
func (s *Shadow) MarkerAt(addr uint64) (Marker, bool) {
	b, ok := s.table.ReadByte(s.Index(addr))
	return Marker(b), ok
}

// IsAccessible reports whether addr points at live user data according to
// the table. Addresses outside the covered range are not accessible.
func (s *Shadow) IsAccessible(addr uint64) bool {
	m, ok := s.MarkerAt(addr)
	if !ok || !m.IsAddressable() {
		return false
	}
	if m == MarkerAddressable {
		return true
	}
	return addr&(s.GranuleSize()-1) < uint64(m)
}

// Poison marks every granule touched by [addr, addr+size) with the given
// marker. Granules outside the covered range are skipped, not faulted on.
func (s *Shadow) Poison(addr, size uint64, m Marker) {
	if size == 0 {
		return
	}
	lo := s.Index(addr)
	hi := s.Index(addr + size - 1)
	for i := lo; i <= hi; i++ {
		s.table.WriteByte(i, byte(m))
	}
}

// Unpoison marks [addr, addr+size) as addressable, encoding a partial
// count in the final granule when size is not granule aligned.
func (s *Shadow) Unpoison(addr, size uint64) {
	if size == 0 {
		return
	}
	lo := s.Index(addr)
	hi := s.Index(addr + size - 1)
	for i := lo; i <= hi; i++ {
		s.table.WriteByte(i, byte(MarkerAddressable))
	}
	if tail := (addr + size) & (s.GranuleSize() - 1); tail != 0 {
		s.table.WriteByte(hi, byte(tail))
	}
}

// SetMarker sets the marker of the single granule containing addr.
func (s *Shadow) SetMarker(addr uint64, m Marker) {
	s.table.WriteByte(s.Index(addr), byte(m))
}

// Snapshot copies a fixed window of raw shadow bytes around addr for crash
// reporting. The window is aligned down to its own size; uncovered shadow
// indices read as MarkerInvalid. It returns the absolute shadow index of
// the first byte of the window.
func (s *Shadow) Snapshot(addr, windowBytes uint64) (uint64, []byte) {
	if windowBytes == 0 {
		return 0, nil
	}
	start := s.Index(addr) &^ (windowBytes - 1)
	out := make([]byte, windowBytes)
	for i := uint64(0); i < windowBytes; i++ {
		b, ok := s.table.ReadByte(start + i)
		if !ok {
			b = byte(MarkerInvalid)
		}
		out[i] = b
	}
	return start, out
}
