// Package memview provides read-mostly, bounds-checked views over a target
// address space.
//
// The analysis engine never dereferences raw pointers. Instead, the target
// process memory (or a snapshot of it) is modelled as a Space: a sorted set
// of non-overlapping byte segments addressed by 64-bit virtual addresses.
// Every read is an explicit, checked operation that reports "not mapped"
// instead of faulting, which is what allows the classifier to walk
// adversarial, possibly torn memory safely.
package memview

import "sort"

// Segment is a contiguous mapped region of the target address space.
type Segment struct {
	Base uint64
	Data []byte
}

// End returns the first address past the segment.
func (s *Segment) End() uint64 {
	return s.Base + uint64(len(s.Data))
}

// Space is a sparse address space assembled from non-overlapping segments.
//
// Segments are kept sorted by base address so that lookups are a binary
// search. A Space owns its segment data; callers that need the allocator
// side of the contract (the test harness, the snapshot loader) mutate it
// through WriteByte/Write, while the analysis side only reads.
//
// Space has no locking of its own. The classifier runs single-threaded
// relative to its own invocation and all reads are defensive, so torn
// writes by a live target degrade to corruption evidence, never to a
// crash of the tool.
type Space struct {
	segments []Segment
}

// NewSpace creates an empty address space.
func NewSpace() *Space {
	return &Space{}
}

// AddSegment maps a zero-filled region of the given length at base.
// Overlapping an existing segment returns false and maps nothing.
func (s *Space) AddSegment(base, length uint64) bool {
	if length == 0 || base+length < base {
		return false
	}
	return s.AddSegmentData(base, make([]byte, length))
}

// AddSegmentData maps the given bytes at base. The Space takes ownership
// of data. Overlapping an existing segment returns false.
func (s *Space) AddSegmentData(base uint64, data []byte) bool {
	if len(data) == 0 || base+uint64(len(data)) < base {
		return false
	}
	end := base + uint64(len(data))
	for i := range s.segments {
		seg := &s.segments[i]
		if base < seg.End() && seg.Base < end {
			return false
		}
	}
	s.segments = append(s.segments, Segment{Base: base, Data: data})
	sort.Slice(s.segments, func(i, j int) bool {
		return s.segments[i].Base < s.segments[j].Base
	})
	return true
}

// RemoveSegment unmaps the segment starting exactly at base.
func (s *Space) RemoveSegment(base uint64) bool {
	for i := range s.segments {
		if s.segments[i].Base == base {
			s.segments = append(s.segments[:i], s.segments[i+1:]...)
			return true
		}
	}
	return false
}

// find returns the segment containing addr, or nil.
func (s *Space) find(addr uint64) *Segment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].End() > addr
	})
	if i == len(s.segments) {
		return nil
	}
	seg := &s.segments[i]
	if addr < seg.Base {
		return nil
	}
	return seg
}

// Contains reports whether addr is mapped.
func (s *Space) Contains(addr uint64) bool {
	return s.find(addr) != nil
}

// ReadByte reads one byte. The second result is false when addr is not
// mapped.
func (s *Space) ReadByte(addr uint64) (byte, bool) {
	seg := s.find(addr)
	if seg == nil {
		return 0, false
	}
	return seg.Data[addr-seg.Base], true
}

// Read fills buf from addr. It fails (returning false, buf untouched past
// the mapped prefix) if any byte of the range is unmapped.
func (s *Space) Read(addr uint64, buf []byte) bool {
	seg := s.find(addr)
	if seg == nil {
		return false
	}
	off := addr - seg.Base
	if off+uint64(len(buf)) > uint64(len(seg.Data)) {
		return false
	}
	copy(buf, seg.Data[off:])
	return true
}

// Bytes returns a copy of n bytes starting at addr, or nil/false if the
// range is not fully mapped.
func (s *Space) Bytes(addr, n uint64) ([]byte, bool) {
	if n == 0 || addr+n < addr {
		return nil, false
	}
	buf := make([]byte, n)
	if !s.Read(addr, buf) {
		return nil, false
	}
	return buf, true
}

// WriteByte stores one byte, failing if addr is not mapped.
func (s *Space) WriteByte(addr uint64, b byte) bool {
	seg := s.find(addr)
	if seg == nil {
		return false
	}
	seg.Data[addr-seg.Base] = b
	return true
}

// Write stores buf at addr, failing without side effects if the range is
// not fully mapped.
func (s *Space) Write(addr uint64, buf []byte) bool {
	seg := s.find(addr)
	if seg == nil {
		return false
	}
	off := addr - seg.Base
	if off+uint64(len(buf)) > uint64(len(seg.Data)) {
		return false
	}
	copy(seg.Data[off:], buf)
	return true
}

// Fill stores n copies of b starting at addr.
func (s *Space) Fill(addr, n uint64, b byte) bool {
	seg := s.find(addr)
	if seg == nil {
		return false
	}
	off := addr - seg.Base
	if off+n > uint64(len(seg.Data)) {
		return false
	}
	for i := uint64(0); i < n; i++ {
		seg.Data[off+i] = b
	}
	return true
}

// Segments returns the mapped segments in address order. The returned
// slice aliases internal state and must not be mutated.
func (s *Space) Segments() []Segment {
	return s.segments
}

// PageBit reports whether the page of the given size containing addr is
// resident (fully or partially mapped).
func (s *Space) PageBit(addr, pageSize uint64) bool {
	if pageSize == 0 {
		return false
	}
	page := addr / pageSize * pageSize
	for i := range s.segments {
		seg := &s.segments[i]
		if page < seg.End() && seg.Base < page+pageSize {
			return true
		}
	}
	return false
}

// PageBits packs page residency into a bitmap window. The window starts at
// byte index startByte of the process-wide page bitmap (bit i of byte j
// covers page j*8+i) and spans n bytes.
func (s *Space) PageBits(startByte, n, pageSize uint64) []byte {
	out := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		for bit := uint64(0); bit < 8; bit++ {
			page := (startByte+i)*8 + bit
			if s.PageBit(page*pageSize, pageSize) {
				out[i] |= 1 << bit
			}
		}
	}
	return out
}
