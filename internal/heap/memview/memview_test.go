package memview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSegmentRejectsOverlap(t *testing.T) {
	s := NewSpace()
	require.True(t, s.AddSegment(0x1000, 0x100))
	assert.False(t, s.AddSegment(0x1080, 0x100), "overlapping tail")
	assert.False(t, s.AddSegment(0x0F80, 0x100), "overlapping head")
	assert.False(t, s.AddSegment(0x1000, 0x100), "exact duplicate")
	assert.True(t, s.AddSegment(0x1100, 0x100), "adjacent is fine")
	assert.False(t, s.AddSegment(0x2000, 0), "empty segment")
}

func TestReadWriteAcrossSegments(t *testing.T) {
	s := NewSpace()
	require.True(t, s.AddSegmentData(0x1000, []byte{1, 2, 3, 4}))
	require.True(t, s.AddSegment(0x3000, 8))

	b, ok := s.ReadByte(0x1002)
	require.True(t, ok)
	assert.EqualValues(t, 3, b)

	_, ok = s.ReadByte(0x1004)
	assert.False(t, ok, "one past the segment end")
	_, ok = s.ReadByte(0x2000)
	assert.False(t, ok, "the gap between segments")

	require.True(t, s.Write(0x3002, []byte{0xAA, 0xBB}))
	got, ok := s.Bytes(0x3000, 8)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0xAA, 0xBB, 0, 0, 0, 0}, got)

	// A multi-byte read never silently crosses into unmapped space.
	assert.False(t, s.Read(0x1002, make([]byte, 8)))
	assert.False(t, s.Write(0x3006, []byte{1, 2, 3}))
}

func TestFill(t *testing.T) {
	s := NewSpace()
	require.True(t, s.AddSegment(0x100, 16))
	require.True(t, s.Fill(0x104, 4, 0xFD))

	got, _ := s.Bytes(0x100, 16)
	assert.Equal(t, []byte{
		0, 0, 0, 0, 0xFD, 0xFD, 0xFD, 0xFD,
		0, 0, 0, 0, 0, 0, 0, 0,
	}, got)
	assert.False(t, s.Fill(0x10E, 4, 1), "fill past the segment end")
}

func TestRemoveSegment(t *testing.T) {
	s := NewSpace()
	require.True(t, s.AddSegment(0x1000, 0x100))
	require.True(t, s.AddSegment(0x2000, 0x100))

	assert.False(t, s.RemoveSegment(0x1001), "removal requires the exact base")
	require.True(t, s.RemoveSegment(0x1000))
	assert.False(t, s.Contains(0x1000))
	assert.True(t, s.Contains(0x2000))
}

func TestSegmentsSorted(t *testing.T) {
	s := NewSpace()
	require.True(t, s.AddSegment(0x3000, 8))
	require.True(t, s.AddSegment(0x1000, 8))
	require.True(t, s.AddSegment(0x2000, 8))

	var bases []uint64
	for _, seg := range s.Segments() {
		bases = append(bases, seg.Base)
	}
	assert.Equal(t, []uint64{0x1000, 0x2000, 0x3000}, bases)
}

func TestPageBits(t *testing.T) {
	s := NewSpace()
	const pageSize = 4096
	// Map pages 1 and 9 (partially).
	require.True(t, s.AddSegment(1*pageSize, pageSize))
	require.True(t, s.AddSegment(9*pageSize+100, 10))

	assert.False(t, s.PageBit(0, pageSize))
	assert.True(t, s.PageBit(1*pageSize, pageSize))
	assert.True(t, s.PageBit(1*pageSize+123, pageSize), "any address within the page")
	assert.True(t, s.PageBit(9*pageSize, pageSize), "partially mapped page is resident")

	bits := s.PageBits(0, 2, pageSize)
	assert.Equal(t, []byte{1 << 1, 1 << 1}, bits)
}
