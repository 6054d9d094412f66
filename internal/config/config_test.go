package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search_radius: 512\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 512, cfg.SearchRadius)
	assert.Equal(t, Default().MaxStackFrames, cfg.MaxStackFrames, "absent fields keep their defaults")
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shadow_window_bytes: 65\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "shadow_window_bytes")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"zero ratio", func(c *Config) { c.ShadowRatioLog = 0 }, "shadow_ratio_log"},
		{"huge ratio", func(c *Config) { c.ShadowRatioLog = 13 }, "shadow_ratio_log"},
		{"zero radius", func(c *Config) { c.SearchRadius = 0 }, "search_radius"},
		{"zero frames", func(c *Config) { c.MaxStackFrames = 0 }, "max_stack_frames"},
		{"zero blocks", func(c *Config) { c.MaxBlocksPerRange = 0 }, "max_blocks_per_range"},
		{"odd window", func(c *Config) { c.ShadowWindowBytes = 48 }, "shadow_window_bytes"},
		{"odd page", func(c *Config) { c.PageSize = 1000 }, "page_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.msg)
		})
	}
}
