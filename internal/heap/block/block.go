// Package block defines the in-memory layout of instrumented heap blocks
// and the validation model for their headers and trailers.
//
// Every allocation the engine knows about is carved as:
//
//	[ header | left redzone pad ][ body ][ right redzone pad | trailer ]
//
// The header prefixes the block with a magic constant, the block state,
// the body size, the redzone extents and the stack handles that record
// allocation/free provenance. The trailer at the very end of the block
// carries the thread ids and the free timestamp. Both carry integrity
// sentinels (magic, checksum) so that an inspector walking corrupt memory
// can tell a trustworthy header from garbage before dereferencing any of
// its fields.
package block

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/kolkov/heapdiag/internal/heap/memview"
)

// State is the lifecycle state recorded in a block header. It is the
// single source of truth for allocated/quarantined/freed; shadow memory
// must agree with it, and a disagreement is corruption evidence.
type State uint8

const (
	// Allocated marks a live block owned by the application.
	Allocated State = iota
	// Quarantined marks a freed block still held back from reuse.
	Quarantined
	// Freed marks a block whose memory has been released for reuse.
	// The state is terminal: once freed memory is recycled the header is
	// rewritten, never transitioned back.
	Freed
)

// String returns the fixed report spelling of the state.
func (s State) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case Quarantined:
		return "quarantined"
	case Freed:
		return "freed"
	default:
		return "(unknown)"
	}
}

// HeapType is an opaque tag identifying which heap implementation a block
// came from. The classifier passes it through without interpreting it.
type HeapType uint8

// Known heap tags. UnknownHeap is the zero value.
const (
	UnknownHeap HeapType = iota
	WinHeap
	CtMallocHeap
	PartitionHeap
	LargeBlockHeap
)

// String returns the fixed report spelling of the heap tag.
func (h HeapType) String() string {
	switch h {
	case WinHeap:
		return "WinHeap"
	case CtMallocHeap:
		return "CtMallocHeap"
	case PartitionHeap:
		return "PartitionHeap"
	case LargeBlockHeap:
		return "LargeBlockHeap"
	default:
		return "UnknownHeap"
	}
}

// Wire format constants.
const (
	// HeaderMagic is the sentinel every trustworthy header starts with.
	HeaderMagic uint32 = 0x03CA80E7

	// TrailerMagic is the sentinel at the start of every trailer.
	TrailerMagic uint32 = 0x7A1E4A5C

	// HeaderSize is the serialized header size in bytes.
	HeaderSize = 32

	// TrailerSize is the serialized trailer size in bytes.
	TrailerSize = 24

	// FloodFillByte fills the body of quarantined blocks. A quarantined
	// body that no longer holds this pattern was written after free.
	FloodFillByte = 0xFD

	// flagNested marks a block allocated inside another block's body.
	flagNested = 1 << 0

	// flagFloodFilled records that the body was flood-filled at free time.
	// Blocks with live nested children are quarantined without filling so
	// the children's headers survive for later provenance lookups.
	flagFloodFilled = 1 << 1

	// maxSaneExtent bounds the redzone/body sizes a header read back from
	// possibly corrupt memory is allowed to claim.
	maxSaneExtent = 1 << 31
)

// Header is the decoded form of a block header.
//
// Serialized little-endian layout (32 bytes):
//
//	 0  magic        uint32
//	 4  state        uint8
//	 5  flags        uint8
//	 6  heap type    uint8
//	 7  reserved     uint8
//	 8  body size    uint32
//	12  left extent  uint32  (header + left redzone bytes)
//	16  right extent uint32  (right redzone + trailer bytes)
//	20  alloc stack  uint32  (stack cache handle, 0 = none)
//	24  free stack   uint32  (stack cache handle, 0 = none)
//	28  checksum     uint32  (FNV-1a over bytes 0..27 with this field zero)
type Header struct {
	Magic       uint32
	State       State
	Nested      bool
	FloodFilled bool
	HeapType    HeapType
	BodySize    uint32
	LeftExtent  uint32
	RightExtent uint32
	AllocStack  uint32
	FreeStack   uint32
	Checksum    uint32
}

// Trailer is the decoded form of a block trailer.
//
// Serialized little-endian layout (24 bytes):
//
//	 0  magic           uint32
//	 4  alloc thread id uint32
//	 8  free thread id  uint32
//	12  reserved        uint32
//	16  free timestamp  uint64  (unix milliseconds, 0 until freed)
type Trailer struct {
	Magic      uint32
	AllocTID   uint32
	FreeTID    uint32
	FreeTimeMS uint64
}

// Layout is the pure result of planning a block: the total size and the
// offsets of each component relative to the block start.
type Layout struct {
	BlockSize     uint64
	HeaderSize    uint64
	BodyOffset    uint64
	BodySize      uint64
	TrailerOffset uint64
	TrailerSize   uint64
}

// PlanLayout computes the layout of a block for the given alignment ratios
// and redzone extras. It is deterministic and side-effect free, and fails
// only when the requested sizes overflow.
//
// headerRatio and trailerRatio are the alignments of the header and
// trailer regions (typically the shadow granule size); leftExtra and
// rightExtra request additional redzone padding beyond the mandatory
// header/trailer records.
func PlanLayout(headerRatio, trailerRatio, bodySize, leftExtra, rightExtra uint64) (Layout, bool) {
	if headerRatio == 0 || trailerRatio == 0 || headerRatio&(headerRatio-1) != 0 ||
		trailerRatio&(trailerRatio-1) != 0 {
		return Layout{}, false
	}
	headerSize, ok := roundUp(HeaderSize+leftExtra, headerRatio)
	if !ok {
		return Layout{}, false
	}
	trailerRegion, ok := roundUp(TrailerSize+rightExtra, trailerRatio)
	if !ok {
		return Layout{}, false
	}
	total := headerSize + bodySize + trailerRegion
	if total < bodySize {
		return Layout{}, false
	}
	// The block end must land on a trailer-ratio boundary so the trailer
	// region absorbs the body's alignment slack.
	total, ok = roundUp(total, trailerRatio)
	if !ok {
		return Layout{}, false
	}
	if total >= maxSaneExtent {
		return Layout{}, false
	}
	return Layout{
		BlockSize:     total,
		HeaderSize:    headerSize,
		BodyOffset:    headerSize,
		BodySize:      bodySize,
		TrailerOffset: total - TrailerSize,
		TrailerSize:   total - headerSize - bodySize,
	}, true
}

func roundUp(v, align uint64) (uint64, bool) {
	sum := v + align - 1
	if sum < v {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// Info is the derived view of one block: never persisted, recomputed from
// a validated header plus the known layout each time a block is inspected.
type Info struct {
	HeaderAddr  uint64
	BodyAddr    uint64
	BodySize    uint64
	TrailerAddr uint64
	BlockSize   uint64
	Header      Header
	Trailer     Trailer
}

// BlockEnd returns the first address past the block.
func (bi *Info) BlockEnd() uint64 {
	return bi.HeaderAddr + bi.BlockSize
}

// ContainsAddr reports whether addr falls inside the block extent.
func (bi *Info) ContainsAddr(addr uint64) bool {
	return addr >= bi.HeaderAddr && addr < bi.BlockEnd()
}

// Initialize writes a fresh header and trailer for a block of the given
// layout at base, and returns the derived Info. nested signals that the
// block lives inside the body of an enclosing block, which matters later
// for nested use-after-free resolution. It fails if the block extent is
// not fully mapped.
func Initialize(layout Layout, base uint64, nested bool, space *memview.Space) (Info, bool) {
	if layout.BlockSize == 0 || !space.Contains(base) ||
		!space.Contains(base+layout.BlockSize-1) {
		return Info{}, false
	}
	hdr := Header{
		Magic:       HeaderMagic,
		State:       Allocated,
		Nested:      nested,
		BodySize:    uint32(layout.BodySize),
		LeftExtent:  uint32(layout.HeaderSize),
		RightExtent: uint32(layout.BlockSize - layout.HeaderSize - layout.BodySize),
	}
	trl := Trailer{Magic: TrailerMagic}
	info := Info{
		HeaderAddr:  base,
		BodyAddr:    base + layout.BodyOffset,
		BodySize:    layout.BodySize,
		TrailerAddr: base + layout.BlockSize - TrailerSize,
		BlockSize:   layout.BlockSize,
		Header:      hdr,
		Trailer:     trl,
	}
	if !WriteHeader(space, base, &hdr) {
		return Info{}, false
	}
	if !WriteTrailer(space, info.TrailerAddr, &trl) {
		return Info{}, false
	}
	return info, true
}

// WriteHeader serializes hdr at addr, computing the checksum field.
func WriteHeader(space *memview.Space, addr uint64, hdr *Header) bool {
	buf := encodeHeader(hdr, 0)
	hdr.Checksum = headerChecksum(buf)
	binary.LittleEndian.PutUint32(buf[28:], hdr.Checksum)
	return space.Write(addr, buf)
}

// WriteTrailer serializes trl at addr.
func WriteTrailer(space *memview.Space, addr uint64, trl *Trailer) bool {
	buf := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint32(buf[0:], trl.Magic)
	binary.LittleEndian.PutUint32(buf[4:], trl.AllocTID)
	binary.LittleEndian.PutUint32(buf[8:], trl.FreeTID)
	binary.LittleEndian.PutUint64(buf[16:], trl.FreeTimeMS)
	return space.Write(addr, buf)
}

func encodeHeader(hdr *Header, checksum uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], hdr.Magic)
	buf[4] = byte(hdr.State)
	if hdr.Nested {
		buf[5] |= flagNested
	}
	if hdr.FloodFilled {
		buf[5] |= flagFloodFilled
	}
	buf[6] = byte(hdr.HeapType)
	binary.LittleEndian.PutUint32(buf[8:], hdr.BodySize)
	binary.LittleEndian.PutUint32(buf[12:], hdr.LeftExtent)
	binary.LittleEndian.PutUint32(buf[16:], hdr.RightExtent)
	binary.LittleEndian.PutUint32(buf[20:], hdr.AllocStack)
	binary.LittleEndian.PutUint32(buf[24:], hdr.FreeStack)
	binary.LittleEndian.PutUint32(buf[28:], checksum)
	return buf
}

// headerChecksum hashes the serialized header with its checksum field
// zeroed. FNV-1a keeps the sentinel cheap and dependency-free.
func headerChecksum(buf []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(buf[:28])
	var zero [4]byte
	_, _ = h.Write(zero[:])
	return h.Sum32()
}

// ReadHeader decodes the header at addr without judging its integrity.
// It fails only when the header bytes are not mapped.
func ReadHeader(space *memview.Space, addr uint64) (Header, bool) {
	buf, ok := space.Bytes(addr, HeaderSize)
	if !ok {
		return Header{}, false
	}
	return Header{
		Magic:       binary.LittleEndian.Uint32(buf[0:]),
		State:       State(buf[4]),
		Nested:      buf[5]&flagNested != 0,
		FloodFilled: buf[5]&flagFloodFilled != 0,
		HeapType:    HeapType(buf[6]),
		BodySize:    binary.LittleEndian.Uint32(buf[8:]),
		LeftExtent:  binary.LittleEndian.Uint32(buf[12:]),
		RightExtent: binary.LittleEndian.Uint32(buf[16:]),
		AllocStack:  binary.LittleEndian.Uint32(buf[20:]),
		FreeStack:   binary.LittleEndian.Uint32(buf[24:]),
		Checksum:    binary.LittleEndian.Uint32(buf[28:]),
	}, true
}

// ReadTrailer decodes the trailer at addr.
func ReadTrailer(space *memview.Space, addr uint64) (Trailer, bool) {
	buf, ok := space.Bytes(addr, TrailerSize)
	if !ok {
		return Trailer{}, false
	}
	return Trailer{
		Magic:      binary.LittleEndian.Uint32(buf[0:]),
		AllocTID:   binary.LittleEndian.Uint32(buf[4:]),
		FreeTID:    binary.LittleEndian.Uint32(buf[8:]),
		FreeTimeMS: binary.LittleEndian.Uint64(buf[16:]),
	}, true
}

// ReadInfo reconstructs the derived Info for the block whose header sits
// at headerAddr. The header magic must check out and the extents it claims
// must be sane and mapped; anything else fails, because a corrupt header
// must never be used to chase body or trailer addresses.
func ReadInfo(space *memview.Space, headerAddr uint64) (Info, bool) {
	hdr, ok := ReadHeader(space, headerAddr)
	if !ok || hdr.Magic != HeaderMagic {
		return Info{}, false
	}
	if hdr.LeftExtent < HeaderSize || uint64(hdr.LeftExtent) >= maxSaneExtent ||
		uint64(hdr.RightExtent) < TrailerSize || uint64(hdr.RightExtent) >= maxSaneExtent ||
		uint64(hdr.BodySize) >= maxSaneExtent {
		return Info{}, false
	}
	total := uint64(hdr.LeftExtent) + uint64(hdr.BodySize) + uint64(hdr.RightExtent)
	if !space.Contains(headerAddr) || !space.Contains(headerAddr+total-1) {
		return Info{}, false
	}
	info := Info{
		HeaderAddr:  headerAddr,
		BodyAddr:    headerAddr + uint64(hdr.LeftExtent),
		BodySize:    uint64(hdr.BodySize),
		TrailerAddr: headerAddr + total - TrailerSize,
		BlockSize:   total,
		Header:      hdr,
	}
	if trl, ok := ReadTrailer(space, info.TrailerAddr); ok {
		info.Trailer = trl
	}
	return info, true
}

// MarkFreed transitions a block to the quarantined state: records the free
// stack handle, thread id and timestamp, rewrites header and trailer, and
// optionally flood-fills the body so that writes into quarantined memory
// become detectable. Callers quarantining a block with live nested
// children pass fill=false so the children's headers survive. The shadow
// table is the caller's responsibility.
func MarkFreed(space *memview.Space, info *Info, freeStack, freeTID uint32, now time.Time, fill bool) bool {
	info.Header.State = Quarantined
	info.Header.FreeStack = freeStack
	info.Header.FloodFilled = fill
	info.Trailer.FreeTID = freeTID
	info.Trailer.FreeTimeMS = uint64(now.UnixMilli())
	if !WriteHeader(space, info.HeaderAddr, &info.Header) {
		return false
	}
	if !WriteTrailer(space, info.TrailerAddr, &info.Trailer) {
		return false
	}
	if !fill {
		return true
	}
	return space.Fill(info.BodyAddr, info.BodySize, FloodFillByte)
}
