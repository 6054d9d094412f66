// Package config holds the analysis policy knobs.
//
// The classification algorithm itself is fixed; what varies between
// deployments is how far scans are allowed to walk and how much detail a
// report may carry. Those bounds are configuration, loaded from YAML,
// with defaults that match the sizes the crash pipeline expects.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config bounds every scan and report the engine produces. All scans are
// structurally bounded by these values, which is why the engine needs no
// timeout or cancellation concept.
type Config struct {
	// ShadowRatioLog is the log2 of the shadow granule size in bytes.
	ShadowRatioLog uint `yaml:"shadow_ratio_log"`

	// SearchRadius is the maximum number of granules a backward scan may
	// walk looking for a block start before giving up.
	SearchRadius uint64 `yaml:"search_radius"`

	// MaxStackFrames caps the frames copied into a report per stack. The
	// true frame count is still reported alongside.
	MaxStackFrames int `yaml:"max_stack_frames"`

	// MaxBlocksPerRange caps the detailed block summaries per corrupt
	// range. Blocks beyond the cap are counted but not detailed.
	MaxBlocksPerRange int `yaml:"max_blocks_per_range"`

	// ShadowWindowBytes is the size of the raw shadow snapshot embedded
	// in a report. Must be a power of two.
	ShadowWindowBytes uint64 `yaml:"shadow_window_bytes"`

	// PageBitsWindowBytes is the size of the page-residency snapshot.
	PageBitsWindowBytes uint64 `yaml:"page_bits_window_bytes"`

	// PageSize is the target process page size.
	PageSize uint64 `yaml:"page_size"`
}

// Default returns the production policy.
func Default() Config {
	return Config{
		ShadowRatioLog:      3,
		SearchRadius:        256,
		MaxStackFrames:      63,
		MaxBlocksPerRange:   20,
		ShadowWindowBytes:   64,
		PageBitsWindowBytes: 3,
		PageSize:            4096,
	}
}

// Load reads a YAML policy file, applying defaults for absent fields.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the scanner cannot bound itself with.
func (c Config) Validate() error {
	if c.ShadowRatioLog == 0 || c.ShadowRatioLog > 12 {
		return fmt.Errorf("shadow_ratio_log %d out of range [1,12]", c.ShadowRatioLog)
	}
	if c.SearchRadius == 0 {
		return fmt.Errorf("search_radius must be positive")
	}
	if c.MaxStackFrames <= 0 {
		return fmt.Errorf("max_stack_frames must be positive")
	}
	if c.MaxBlocksPerRange <= 0 {
		return fmt.Errorf("max_blocks_per_range must be positive")
	}
	if c.ShadowWindowBytes == 0 || c.ShadowWindowBytes&(c.ShadowWindowBytes-1) != 0 {
		return fmt.Errorf("shadow_window_bytes %d must be a power of two", c.ShadowWindowBytes)
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size %d must be a power of two", c.PageSize)
	}
	return nil
}
