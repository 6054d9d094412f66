package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/heapdiag/diag"
)

var (
	faultFlag      string
	modeFlag       string
	accessSizeFlag uint64
	crashStackFlag uint32
	withScanFlag   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <snapshot.yaml>",
	Short: "Classify a bad access in a heap snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fault, err := parseAddress(faultFlag)
		if err != nil {
			return err
		}
		mode, err := parseMode(modeFlag)
		if err != nil {
			return err
		}
		cfg, err := loadPolicy()
		if err != nil {
			return err
		}
		space, sh, depot, err := loadSnapshot(args[0], cfg)
		if err != nil {
			return err
		}
		logger.Debug("snapshot loaded",
			zap.String("path", args[0]),
			zap.Int("segments", len(space.Segments())),
			zap.Int("stacks", depot.Len()))

		a := diag.New(space, sh, depot, diag.Options{Config: &cfg, Logger: logger})
		info, ok := a.Analyze(fault, mode, accessSizeFlag)
		if !ok {
			logger.Info("no violation at address", zap.Uint64("fault", fault))
			fmt.Println("no error")
			return nil
		}
		info.CrashStackID = crashStackFlag
		if withScanFlag {
			a.ScanHeap(info)
		}
		out, err := a.ReportJSON(info)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <snapshot.yaml>",
	Short: "Run a heap-wide corruption scan over a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPolicy()
		if err != nil {
			return err
		}
		space, sh, depot, err := loadSnapshot(args[0], cfg)
		if err != nil {
			return err
		}
		a := diag.New(space, sh, depot, diag.Options{Config: &cfg, Logger: logger})
		info, corrupt := a.ScanHeap(nil)
		if !corrupt {
			logger.Info("heap is clean")
			fmt.Println("heap is clean")
			return nil
		}
		out, err := a.ReportJSON(info)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

// parseAddress accepts decimal or 0x-prefixed hex.
func parseAddress(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("--fault is required")
	}
	v, err := strconv.ParseUint(strings.ToLower(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad fault address %q: %w", s, err)
	}
	return v, nil
}

func parseMode(s string) (diag.AccessMode, error) {
	switch s {
	case "read":
		return diag.AccessRead, nil
	case "write":
		return diag.AccessWrite, nil
	case "", "unknown":
		return diag.AccessUnknown, nil
	default:
		return diag.AccessUnknown, fmt.Errorf("bad access mode %q (want read, write or unknown)", s)
	}
}

func init() {
	analyzeCmd.Flags().StringVar(&faultFlag, "fault", "", "faulting address (hex or decimal)")
	analyzeCmd.Flags().StringVar(&modeFlag, "mode", "unknown", "access mode: read, write or unknown")
	analyzeCmd.Flags().Uint64Var(&accessSizeFlag, "access-size", 0, "access size in bytes")
	analyzeCmd.Flags().Uint32Var(&crashStackFlag, "crash-stack-id", 0, "stack handle of the faulting thread")
	analyzeCmd.Flags().BoolVar(&withScanFlag, "scan", false, "also run the heap-wide corruption scan")
}
