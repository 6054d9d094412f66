package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapdiag/internal/config"
	"github.com/kolkov/heapdiag/internal/heap/shadow"
)

func writeSnapshot(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSnapshot(t *testing.T) {
	segment := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	shadowSeg := base64.StdEncoding.EncodeToString([]byte{0xF2, 0xFD})
	body := fmt.Sprintf(`
segments:
  - base: 0x1000
    data: %s
shadow:
  ratio_log: 3
  segments:
    - base: 0x200
      data: %s
stacks:
  - id: 7
    frames: [0x401000, 0x401234]
`, segment, shadowSeg)

	space, sh, depot, err := loadSnapshot(writeSnapshot(t, body), config.Default())
	require.NoError(t, err)

	b, ok := space.ReadByte(0x1002)
	require.True(t, ok)
	assert.EqualValues(t, 3, b)

	// Shadow segment base is a shadow-space index: index 0x200 covers
	// real address 0x1000 at ratio 3.
	m, ok := sh.MarkerAt(0x1000)
	require.True(t, ok)
	assert.Equal(t, shadow.MarkerInvalid, m)
	m, ok = sh.MarkerAt(0x1008)
	require.True(t, ok)
	assert.Equal(t, shadow.MarkerFreed, m)

	frames, n, ok := depot.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, []uint64{0x401000, 0x401234}, frames)
	assert.Equal(t, 2, n)
}

func TestLoadSnapshotDefaultsRatio(t *testing.T) {
	body := fmt.Sprintf("segments:\n  - base: 0x1000\n    data: %s\n",
		base64.StdEncoding.EncodeToString(make([]byte, 8)))
	_, sh, _, err := loadSnapshot(writeSnapshot(t, body), config.Default())
	require.NoError(t, err)
	assert.Equal(t, config.Default().ShadowRatioLog, sh.RatioLog())
}

func TestLoadSnapshotRejectsBadBase64(t *testing.T) {
	body := "segments:\n  - base: 0x1000\n    data: '!!!not base64!!!'\n"
	_, _, _, err := loadSnapshot(writeSnapshot(t, body), config.Default())
	assert.Error(t, err)
}

func TestLoadSnapshotRejectsOverlap(t *testing.T) {
	seg := base64.StdEncoding.EncodeToString(make([]byte, 16))
	body := fmt.Sprintf(`
segments:
  - base: 0x1000
    data: %s
  - base: 0x1008
    data: %s
`, seg, seg)
	_, _, _, err := loadSnapshot(writeSnapshot(t, body), config.Default())
	assert.ErrorContains(t, err, "overlaps")
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	_, _, _, err := loadSnapshot(filepath.Join(t.TempDir(), "nope.yaml"), config.Default())
	assert.Error(t, err)
}
