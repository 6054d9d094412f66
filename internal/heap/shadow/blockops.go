package shadow

import "github.com/kolkov/heapdiag/internal/heap/block"

// PoisonAllocatedBlock marks a freshly carved block in the table: a
// block-start marker on the first header granule, left redzone over the
// rest of the header, addressable body (with a partial count in the last
// granule when the body size is not granule aligned), and right redzone
// over the trailer region.
func (s *Shadow) PoisonAllocatedBlock(bi block.Info) {
	start := MarkerBlockStart
	if bi.Header.Nested {
		start = MarkerNestedBlockStart
	}
	s.Poison(bi.HeaderAddr, bi.BodyAddr-bi.HeaderAddr, MarkerLeftRedzone)
	s.SetMarker(bi.HeaderAddr, start)
	s.Unpoison(bi.BodyAddr, bi.BodySize)
	bodyEnd := bi.BodyAddr + bi.BodySize
	s.Poison(bodyEnd, bi.BlockEnd()-bodyEnd, MarkerRightRedzone)
	// A body whose size is not granule aligned shares its last granule
	// with the right redzone; the partial-count marker written by
	// Unpoison must win there.
	if tail := bodyEnd & (s.GranuleSize() - 1); tail != 0 {
		s.SetMarker(bodyEnd-1, Marker(tail))
	}
}

// MarkBlockAsFreed flips the body of a quarantined block to the freed
// marker while preserving the structural markers: the block's own start
// marker, its redzones, and the start markers and redzones of any nested
// blocks inside the body. Preserving nested structure is what lets the
// classifier resolve a use-after-free inside an already freed outer block
// to the inner block's own provenance.
func (s *Shadow) MarkBlockAsFreed(bi block.Info) {
	lo := s.Index(bi.HeaderAddr)
	hi := s.Index(bi.BlockEnd() - 1)
	for i := lo; i <= hi; i++ {
		m, ok := s.table.ReadByte(i)
		if !ok {
			continue
		}
		if Marker(m).IsAddressable() {
			s.table.WriteByte(i, byte(MarkerFreed))
		}
	}
}
