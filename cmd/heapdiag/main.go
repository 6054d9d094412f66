// Package main implements the heapdiag CLI.
//
// heapdiag analyzes heap snapshots captured from instrumented processes
// and prints structured crash reports:
//
//	heapdiag analyze snapshot.yaml --fault 0x20040 --mode write
//	heapdiag scan snapshot.yaml
//	heapdiag version
//
// A snapshot file carries the mapped memory segments, the shadow table
// and the captured stack traces of the target process at the time of the
// fault; see snapshot.go for the format.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kolkov/heapdiag/diag"
	"github.com/kolkov/heapdiag/internal/config"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "heapdiag",
	Short: "heapdiag - heap corruption and memory-error diagnostics",
	Long: `heapdiag classifies memory-safety violations in instrumented heaps.

Given a process snapshot (memory segments, shadow table, stack store) and
a faulting address, it determines whether the fault was a use-after-free,
a buffer overflow or underflow, a double free, a wild access or heap
corruption, reconstructs the implicated blocks' allocation history, and
emits a structured report for the crash-analysis pipeline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := diag.GetInfo()
		fmt.Printf("heapdiag %s (report format %s)\n", info.Version, info.ReportFormat)
	},
}

// loadPolicy reads the analysis policy, falling back to defaults when no
// config file was given.
func loadPolicy() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "analysis policy YAML file")
	rootCmd.AddCommand(analyzeCmd, scanCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
