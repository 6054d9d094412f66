// Package errorinfo classifies bad memory accesses and summarizes the
// implicated blocks for crash reporting.
//
// The entry point is Classifier.GetBadAccessInformation: given a faulting
// address it consults shadow memory, walks backward (within a fixed
// radius) to the nearest block header, validates that header, and decides
// which memory-safety violation the access represents. Corrupt input is
// the expected case here, not the exceptional one: every walk is bounded,
// every read goes through a checked view, and any inconsistency degrades
// to the most specific classification still supportable instead of
// failing.
//
// The summarizer half converts located blocks (or whole corrupt regions)
// into bounded report structures: stacks are truncated to a fixed frame
// cap with the true count preserved, and a corrupt range details at most
// a fixed number of blocks however many it contains.
package errorinfo
