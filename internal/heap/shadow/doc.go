// Package shadow implements the shadow-memory side table used by the heap
// diagnostic engine.
//
// Shadow memory mirrors the addressable state of the target heap at a fixed
// reduction ratio: one marker byte describes one granule (a power-of-two
// span, 8 bytes by default) of real address space. The allocator keeps the
// table in lock-step with the heap as blocks are carved, freed and reused;
// the classifier only ever reads it.
//
// Marker encoding:
//   - 0x00..0x07: addressable. Zero means the whole granule is live user
//     data; a value k in 1..7 means only the first k bytes are live (the
//     tail of a body whose size is not granule aligned).
//   - 0xE0 family: block-start markers. The first granule of every block
//     header carries one, with a bit distinguishing nested blocks. These
//     are what the classifier's backward scan looks for.
//   - 0xFA/0xFB: left/right redzone.
//   - 0xFD: freed body bytes (quarantined memory).
//   - 0xFC: reserved by the allocator but not yet subdivided.
//   - 0xF1: returned to the operating system.
//   - 0xF2: invalid / never tracked.
//
// The table itself has no concurrency model: callers serialize writes to
// overlapping ranges, exactly as the allocator already must for the heap
// bytes the table mirrors.
package shadow
