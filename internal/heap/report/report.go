// Package report populates crash-data trees from analysis results.
//
// The mapping is pure and deterministic: the same ErrorInfo always yields
// the same tree, and the tree renders to the same bytes. Conditional
// fields (free provenance, corrupt-range detail) are omitted entirely
// when not applicable, so the presence of a field is itself meaningful to
// the pipeline; fields that are present but unjudgeable render their
// "(unknown)" sentinel instead of breaking the structure.
package report

import (
	"github.com/kolkov/heapdiag/internal/heap/block"
	"github.com/kolkov/heapdiag/internal/heap/crashdata"
	"github.com/kolkov/heapdiag/internal/heap/errorinfo"
)

// PopulateBlockInfo renders one block summary into a dictionary node.
func PopulateBlockInfo(bi *errorinfo.BlockInfo) *crashdata.Value {
	d := crashdata.NewDict().
		Add("header", crashdata.Address(bi.HeaderAddr)).
		Add("user-size", crashdata.Integer(bi.UserSize)).
		Add("state", crashdata.String(bi.State.String())).
		Add("heap-type", crashdata.String(bi.HeapType.String())).
		Add("analysis", populateAnalysis(&bi.Analysis)).
		Add("alloc-thread-id", crashdata.Integer(uint64(bi.AllocTID))).
		Add("alloc-stack", populateStack(&bi.AllocStack))

	// Free provenance exists only once a block has been freed; a live
	// block's report must not carry zero placeholders for it.
	if bi.State != block.Allocated || bi.FreeTID != 0 || !bi.FreeStack.Empty() {
		d.Add("free-thread-id", crashdata.Integer(uint64(bi.FreeTID)))
		d.Add("free-stack", populateStack(&bi.FreeStack))
		d.Add("milliseconds-since-free", crashdata.Integer(bi.MillisecondsSinceFree))
	}
	return d
}

func populateAnalysis(a *block.Analysis) *crashdata.Value {
	return crashdata.NewDict().
		Add("block", crashdata.String(a.BlockState.String())).
		Add("header", crashdata.String(a.HeaderState.String())).
		Add("body", crashdata.String(a.BodyState.String())).
		Add("trailer", crashdata.String(a.TrailerState.String()))
}

func populateStack(s *errorinfo.Stack) *crashdata.Value {
	l := crashdata.NewList()
	for _, pc := range s.Frames {
		l.Append(crashdata.Address(pc))
	}
	return l
}

// PopulateCorruptBlockRange renders one corrupt-range summary. The
// block-count field carries the true total even when the blocks list is
// capped.
func PopulateCorruptBlockRange(r *errorinfo.CorruptRange) *crashdata.Value {
	blocks := crashdata.NewList()
	for i := range r.Blocks {
		blocks.Append(PopulateBlockInfo(&r.Blocks[i]))
	}
	return crashdata.NewDict().
		Add("address", crashdata.Address(r.Address)).
		Add("length", crashdata.Integer(r.Length)).
		Add("block-count", crashdata.Integer(uint64(r.BlockCount))).
		Add("blocks", blocks)
}

// PopulateErrorInfo renders the full analysis result. This is the report
// the crash pipeline ingests; its field grammar is stable.
func PopulateErrorInfo(info *errorinfo.ErrorInfo) *crashdata.Value {
	d := crashdata.NewDict().
		Add("location", crashdata.Address(info.Location)).
		Add("crash-stack-id", crashdata.Integer(uint64(info.CrashStackID))).
		Add("block-info", PopulateBlockInfo(&info.BlockInfo)).
		Add("error-type", crashdata.String(info.ErrorType.String())).
		Add("access-mode", crashdata.String(info.AccessMode.String())).
		Add("access-size", crashdata.Integer(info.AccessSize)).
		Add("shadow-memory-index", crashdata.Integer(info.ShadowIndex)).
		Add("shadow-memory", crashdata.Blob(info.ShadowMemory)).
		Add("page-bits-index", crashdata.Integer(info.PageBitsIndex)).
		Add("page-bits", crashdata.Blob(info.PageBits)).
		Add("heap-is-corrupt", crashdata.Integer(boolBit(info.HeapIsCorrupt))).
		Add("corrupt-range-count", crashdata.Integer(uint64(info.CorruptRangeCount))).
		Add("corrupt-block-count", crashdata.Integer(uint64(info.CorruptBlockCount)))

	if len(info.CorruptRanges) > 0 {
		ranges := crashdata.NewList()
		for i := range info.CorruptRanges {
			ranges.Append(PopulateCorruptBlockRange(&info.CorruptRanges[i]))
		}
		d.Add("corrupt-ranges", ranges)
	}
	return d
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
