package errorinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBadAccessKindStrings pins the report spellings of every kind; the
// crash pipeline matches on these exact strings.
func TestBadAccessKindStrings(t *testing.T) {
	spellings := map[BadAccessKind]string{
		NoError:          "no-error",
		UseAfterFree:     "use-after-free",
		BufferUnderflow:  "heap-buffer-underflow",
		BufferOverflow:   "heap-buffer-overflow",
		DoubleFree:       "double-free",
		InvalidAddress:   "invalid-address",
		WildAccess:       "wild-access",
		UnknownBadAccess: "unknown-bad-access",
		CorruptBlock:     "corrupt-block",
		CorruptHeap:      "corrupt-heap",
	}
	for kind, want := range spellings {
		assert.Equal(t, want, kind.String())
	}
}

func TestAccessModeStrings(t *testing.T) {
	assert.Equal(t, "unknown", AccessUnknown.String())
	assert.Equal(t, "read", AccessRead.String())
	assert.Equal(t, "write", AccessWrite.String())
}

func TestStackEmpty(t *testing.T) {
	var s Stack
	assert.True(t, s.Empty())
	s = Stack{Frames: []uint64{1}, TrueCount: 1}
	assert.False(t, s.Empty())
}
