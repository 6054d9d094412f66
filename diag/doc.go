// Package diag provides the public API of the heap diagnostic engine.
//
// The engine answers one question: given a faulting address inside an
// instrumented process, what memory-safety violation does it represent?
// It classifies use-after-free, buffer overflow and underflow, double
// free, wild accesses and heap corruption, reconstructs the allocation
// and free provenance of the implicated blocks, and renders the findings
// as a stable structured report for a crash-analysis pipeline.
//
// # Quick start
//
// The engine operates on three inputs the instrumentation agent supplies:
// the target address space (a memview.Space of mapped segments), the
// shadow table mirroring it, and the stack store holding captured traces.
//
//	a := diag.New(space, shadowTable, depot, diag.Options{})
//	info, ok := a.Analyze(faultAddr, diag.AccessRead, 4)
//	if ok {
//		json, _ := a.ReportJSON(info)
//		fmt.Println(json)
//	}
//
// Analyze returns false when there is nothing to report: the address is
// live in-bounds data, or outside anything the engine tracks.
//
// # Guarantees
//
// Analysis is total. It runs in a process whose heap may be arbitrarily
// corrupt, so every scan is structurally bounded and every read is
// bounds-checked; malformed memory degrades the classification, it never
// crashes or hangs the analyzer. Reports are deterministic: the same
// inputs produce byte-identical output.
package diag
