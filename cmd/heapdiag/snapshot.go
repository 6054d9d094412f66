package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/heapdiag/internal/config"
	"github.com/kolkov/heapdiag/internal/heap/memview"
	"github.com/kolkov/heapdiag/internal/heap/shadow"
	"github.com/kolkov/heapdiag/internal/heap/stackcache"
)

// snapshotFile is the YAML schema of a captured process snapshot.
//
//	segments:
//	  - base: 0x20000
//	    data: <base64>
//	shadow:
//	  ratio_log: 3
//	  segments:
//	    - base: 0x4000        # shadow-space index, not a real address
//	      data: <base64>
//	stacks:
//	  - id: 1
//	    frames: [0x401000, 0x401234]
type snapshotFile struct {
	Segments []snapshotSegment `yaml:"segments"`
	Shadow   snapshotShadow    `yaml:"shadow"`
	Stacks   []snapshotStack   `yaml:"stacks"`
}

type snapshotSegment struct {
	Base uint64 `yaml:"base"`
	Data string `yaml:"data"`
}

type snapshotShadow struct {
	RatioLog uint              `yaml:"ratio_log"`
	Segments []snapshotSegment `yaml:"segments"`
}

type snapshotStack struct {
	ID     uint32   `yaml:"id"`
	Frames []uint64 `yaml:"frames"`
}

// loadSnapshot reconstructs the address space, shadow table and stack
// depot from a snapshot file.
func loadSnapshot(path string, cfg config.Config) (*memview.Space, *shadow.Shadow, *stackcache.Depot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap snapshotFile
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}

	space := memview.NewSpace()
	for _, seg := range snap.Segments {
		raw, err := base64.StdEncoding.DecodeString(seg.Data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("segment %#x: %w", seg.Base, err)
		}
		if !space.AddSegmentData(seg.Base, raw) {
			return nil, nil, nil, fmt.Errorf("segment %#x overlaps an earlier segment", seg.Base)
		}
	}

	ratioLog := snap.Shadow.RatioLog
	if ratioLog == 0 {
		ratioLog = cfg.ShadowRatioLog
	}
	sh := shadow.New(ratioLog)
	for _, seg := range snap.Shadow.Segments {
		raw, err := base64.StdEncoding.DecodeString(seg.Data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("shadow segment %#x: %w", seg.Base, err)
		}
		if !sh.CoverData(seg.Base, raw) {
			return nil, nil, nil, fmt.Errorf("shadow segment %#x overlaps an earlier segment", seg.Base)
		}
	}

	depot := stackcache.NewDepot()
	for _, st := range snap.Stacks {
		depot.Insert(st.ID, st.Frames)
	}
	return space, sh, depot, nil
}
