package diag

import (
	"go.uber.org/zap"

	"github.com/kolkov/heapdiag/internal/config"
	"github.com/kolkov/heapdiag/internal/heap/crashdata"
	"github.com/kolkov/heapdiag/internal/heap/errorinfo"
	"github.com/kolkov/heapdiag/internal/heap/memview"
	"github.com/kolkov/heapdiag/internal/heap/report"
	"github.com/kolkov/heapdiag/internal/heap/shadow"
	"github.com/kolkov/heapdiag/internal/heap/stackcache"
)

// AccessMode re-exports the access direction of the faulting instruction.
type AccessMode = errorinfo.AccessMode

// Access directions.
const (
	AccessUnknown = errorinfo.AccessUnknown
	AccessRead    = errorinfo.AccessRead
	AccessWrite   = errorinfo.AccessWrite
)

// Options tunes an Analyzer. Zero values select the production policy.
type Options struct {
	// Config overrides the analysis policy bounds (scan radius, report
	// caps). Nil selects config.Default().
	Config *config.Config

	// Logger receives debug tracing of scans. Nil disables logging.
	Logger *zap.Logger
}

// Analyzer is the assembled diagnostic engine for one target process.
// It is read-only with respect to the target and safe to reuse across
// faults; it is not safe for concurrent Analyze calls on the same
// instance.
type Analyzer struct {
	classifier *errorinfo.Classifier
	cache      stackcache.Cache
}

// New assembles an analyzer over a target address space, its shadow
// table, and the stack store captured by the instrumentation agent.
func New(space *memview.Space, sh *shadow.Shadow, cache stackcache.Cache, opts Options) *Analyzer {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return &Analyzer{
		classifier: errorinfo.NewClassifier(space, sh, cfg, opts.Logger),
		cache:      cache,
	}
}

// Analyze classifies the access at location. It returns the populated
// ErrorInfo and true when there is something to report; false means the
// address was live in-bounds data or entirely untracked.
func (a *Analyzer) Analyze(location uint64, mode AccessMode, accessSize uint64) (*errorinfo.ErrorInfo, bool) {
	info := &errorinfo.ErrorInfo{
		Location:   location,
		AccessMode: mode,
		AccessSize: accessSize,
	}
	if !a.classifier.GetBadAccessInformation(a.cache, info) {
		return nil, false
	}
	return info, true
}

// AnalyzeFree classifies a free request before the allocator honors it,
// catching double frees and frees of non-block addresses.
func (a *Analyzer) AnalyzeFree(location uint64) (*errorinfo.ErrorInfo, bool) {
	info := &errorinfo.ErrorInfo{Location: location}
	if !a.classifier.CheckFree(a.cache, info) {
		return nil, false
	}
	return info, true
}

// ScanHeap runs the heap-wide corruption scan and folds the findings
// into info (allocating one when nil is passed). It returns the info and
// whether any corruption was found.
func (a *Analyzer) ScanHeap(info *errorinfo.ErrorInfo) (*errorinfo.ErrorInfo, bool) {
	if info == nil {
		info = &errorinfo.ErrorInfo{}
	}
	corrupt := a.classifier.ScanHeap(a.cache, info)
	return info, corrupt
}

// Classifier exposes the underlying classifier for callers that need
// finer-grained control (the test harness, the CLI).
func (a *Analyzer) Classifier() *errorinfo.Classifier {
	return a.classifier
}

// ReportJSON renders an analysis result into the stable report text.
func (a *Analyzer) ReportJSON(info *errorinfo.ErrorInfo) (string, error) {
	return crashdata.ToJSON(true, report.PopulateErrorInfo(info))
}
