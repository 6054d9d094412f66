package errorinfo

import (
	"github.com/kolkov/heapdiag/internal/heap/block"
)

// BadAccessKind is the classification outcome for one analyzed access.
// The kinds are mutually exclusive; NoError means the address was
// in-bounds live data and no violation occurred.
type BadAccessKind uint8

const (
	// NoError means the access was legitimate.
	NoError BadAccessKind = iota
	// UseAfterFree is an access inside the body of a freed block.
	UseAfterFree
	// BufferUnderflow is an access below a block's body.
	BufferUnderflow
	// BufferOverflow is an access at or past a block's body end.
	BufferOverflow
	// DoubleFree is a free of an already freed block.
	DoubleFree
	// InvalidAddress is a heap operation on a non-block address.
	InvalidAddress
	// WildAccess is an access unrelated to any tracked allocation.
	WildAccess
	// UnknownBadAccess is a violation the scan could not attribute.
	UnknownBadAccess
	// CorruptBlock is an access implicating a block with a bad header.
	CorruptBlock
	// CorruptHeap marks broader corruption found by a heap scan.
	CorruptHeap
)

// String returns the fixed report spelling of the kind.
func (k BadAccessKind) String() string {
	switch k {
	case UseAfterFree:
		return "use-after-free"
	case BufferUnderflow:
		return "heap-buffer-underflow"
	case BufferOverflow:
		return "heap-buffer-overflow"
	case DoubleFree:
		return "double-free"
	case InvalidAddress:
		return "invalid-address"
	case WildAccess:
		return "wild-access"
	case UnknownBadAccess:
		return "unknown-bad-access"
	case CorruptBlock:
		return "corrupt-block"
	case CorruptHeap:
		return "corrupt-heap"
	default:
		return "no-error"
	}
}

// AccessMode says whether the faulting instruction was reading or
// writing. Unknown is the zero value for traps that do not say.
type AccessMode uint8

const (
	// AccessUnknown means the trap did not identify the direction.
	AccessUnknown AccessMode = iota
	// AccessRead is a load.
	AccessRead
	// AccessWrite is a store.
	AccessWrite
)

// String returns the fixed report spelling of the mode.
func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Stack is a bounded stack trace: at most cap(Frames) frames are kept,
// while TrueCount preserves how many the store actually captured so a
// report can say "N of M frames shown".
type Stack struct {
	Frames    []uint64
	TrueCount int
}

// Empty reports whether no stack was available.
func (s *Stack) Empty() bool {
	return len(s.Frames) == 0 && s.TrueCount == 0
}

// BlockInfo is the report-facing, bounded summary of one block. It is
// created fresh per classification call and has no persistent identity.
type BlockInfo struct {
	HeaderAddr uint64
	UserSize   uint64
	State      block.State
	HeapType   block.HeapType
	Analysis   block.Analysis

	AllocTID   uint32
	FreeTID    uint32
	AllocStack Stack
	FreeStack  Stack

	// MillisecondsSinceFree is advisory telemetry measured from the
	// block's quarantine timestamp; zero for live blocks.
	MillisecondsSinceFree uint64
}

// CorruptRange summarizes a contiguous corrupted region. BlockCount is
// the true number of blocks found in the region; Blocks details at most
// the configured cap of them, because full detail on a large corrupt heap
// would be unbounded.
type CorruptRange struct {
	Address    uint64
	Length     uint64
	BlockCount int
	Blocks     []BlockInfo
}

// ErrorInfo is the top-level analysis result: constructed once per fault,
// handed to the report populator, then discarded.
type ErrorInfo struct {
	// Location is the faulting address. Set by the caller.
	Location uint64

	// CrashStackID is the handle of the faulting thread's stack in the
	// stack store. Set by the caller when known.
	CrashStackID uint32

	BlockInfo BlockInfo
	ErrorType BadAccessKind

	// AccessMode and AccessSize come from the trap information and are
	// passed through to the report.
	AccessMode AccessMode
	AccessSize uint64

	// ShadowIndex and ShadowMemory snapshot the raw shadow bytes around
	// the fault; PageBitsIndex and PageBits snapshot page residency.
	ShadowIndex   uint64
	ShadowMemory  []byte
	PageBitsIndex uint64
	PageBits      []byte

	HeapIsCorrupt     bool
	CorruptRangeCount int
	CorruptBlockCount int
	CorruptRanges     []CorruptRange
}
