package diag

import "golang.org/x/mod/semver"

// Version information for the heap diagnostic engine.
const (
	// Version is the current engine version.
	Version = "v0.1.0"

	// ReportFormatVersion is the version of the structured report
	// grammar. Consumers pin against this, not against Version.
	ReportFormatVersion = "v1.0.0"
)

// Info provides runtime information about the engine.
type Info struct {
	// Version is the engine version string.
	Version string

	// ReportFormat is the report grammar version string.
	ReportFormat string
}

// GetInfo returns information about the engine.
func GetInfo() Info {
	return Info{
		Version:      Version,
		ReportFormat: ReportFormatVersion,
	}
}

// ReportFormatCompatible reports whether a consumer built against the
// given report grammar version can ingest this engine's reports: same
// major version, and the consumer's minor not ahead of ours.
func ReportFormatCompatible(consumer string) bool {
	if !semver.IsValid(consumer) {
		return false
	}
	if semver.Major(consumer) != semver.Major(ReportFormatVersion) {
		return false
	}
	return semver.Compare(consumer, ReportFormatVersion) <= 0
}
